// Package conversations persists chat threads owned by a user.
package conversations

import (
	"context"
	"time"

	"github.com/nexuschat/nexus/internal/server/models"
)

type Repository interface {
	// Create inserts c and fills in ID and timestamps.
	Create(ctx context.Context, c *models.Conversation) error
	// ListByUser returns userID's conversations, most recently updated first.
	ListByUser(ctx context.Context, userID models.UserID) ([]*models.Conversation, error)
	// GetOwned returns common.ErrorNotFound unless id exists and belongs to userID.
	GetOwned(ctx context.Context, id string, userID models.UserID) (*models.Conversation, error)
	Touch(ctx context.Context, id string, at time.Time) error
	// Delete removes an owned conversation; messages and attachments cascade.
	Delete(ctx context.Context, id string, userID models.UserID) error
}
