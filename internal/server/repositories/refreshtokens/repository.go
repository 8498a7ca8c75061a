// Package refreshtokens declares the server-side repository contract for
// managing refresh tokens in persistent storage.
package refreshtokens

import (
	"context"
	"time"

	"github.com/nexuschat/nexus/internal/server/models"
)

// Repository stores refresh tokens by their SHA-256 hash. Revocation is
// one-way: no method sets is_revoked back to false.
type Repository interface {
	// Create stores a new active token hash for userID.
	Create(ctx context.Context, userID models.UserID, tokenHash string, expiresAt time.Time) error

	// RevokeActive revokes tokenHash iff it is still active at now and
	// returns its owner. Returns common.ErrorNotFound when the token is
	// unknown, already revoked or expired. Of two concurrent callers at
	// most one succeeds.
	RevokeActive(ctx context.Context, tokenHash string, now time.Time) (models.UserID, error)

	// RevokeAllForUser revokes every active token of userID and reports how
	// many rows changed.
	RevokeAllForUser(ctx context.Context, userID models.UserID) (int64, error)

	// Find returns the row for tokenHash regardless of its state.
	Find(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
}
