package repomanager

import (
	"context"
	"database/sql"

	"github.com/nexuschat/nexus/internal/dbx"
	"github.com/nexuschat/nexus/internal/server/repositories/attachments"
	"github.com/nexuschat/nexus/internal/server/repositories/conversations"
	"github.com/nexuschat/nexus/internal/server/repositories/messages"
	"github.com/nexuschat/nexus/internal/server/repositories/otps"
	"github.com/nexuschat/nexus/internal/server/repositories/refreshtokens"
	"github.com/nexuschat/nexus/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so a service picks
// either the pool or the current transaction per call.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	OTPs(db dbx.DBTX) otps.Repository
	Conversations(db dbx.DBTX) conversations.Repository
	Messages(db dbx.DBTX) messages.Repository
	Attachments(db dbx.DBTX) attachments.Repository
}
