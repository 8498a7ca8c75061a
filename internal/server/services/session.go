package services

import (
	"context"
	"errors"

	"github.com/nexuschat/nexus/internal/common"
	"github.com/nexuschat/nexus/internal/dbx"
	"github.com/nexuschat/nexus/internal/server/auth"
	"github.com/nexuschat/nexus/internal/server/config"
	"github.com/nexuschat/nexus/internal/server/models"
	"github.com/nexuschat/nexus/internal/server/repositories/repomanager"
)

// SessionResolver turns a bearer access token into the user it was issued
// to. Every failure is common.ErrorUnauthorized.
type SessionResolver struct {
	db          dbx.Transactor
	repomanager repomanager.RepositoryManager
	jwtSecret   []byte
	opts        options
}

func NewSessionResolver(db dbx.Transactor, m repomanager.RepositoryManager, cfg *config.Config, opts ...Option) *SessionResolver {
	return &SessionResolver{
		db:          db,
		repomanager: m,
		jwtSecret:   []byte(cfg.SecretKey),
		opts:        newOptions(opts),
	}
}

func (r *SessionResolver) Resolve(ctx context.Context, accessToken string) (*models.User, error) {
	subject, err := auth.GetSubjectFromToken(accessToken, r.jwtSecret, r.opts.now())
	if err != nil {
		return nil, common.ErrorUnauthorized
	}

	userID, err := models.ParseUserID(subject)
	if err != nil {
		return nil, common.ErrorUnauthorized
	}

	user, err := r.repomanager.Users(r.db.Conn()).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, internalError(ctx, r.opts.log, "resolve session", err)
	}
	return user, nil
}
