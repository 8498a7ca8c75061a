// Package attachments stores metadata of files uploaded into conversations.
package attachments

import (
	"context"

	"github.com/nexuschat/nexus/internal/server/models"
)

type Repository interface {
	// Create inserts a and fills in ID and CreatedAt.
	Create(ctx context.Context, a *models.Attachment) error
	// GetOwned returns common.ErrorNotFound unless id exists and belongs to userID.
	GetOwned(ctx context.Context, id string, userID models.UserID) (*models.Attachment, error)
	ListByConversation(ctx context.Context, conversationID string) ([]*models.Attachment, error)
}
