// Package messages persists the turns of a conversation.
package messages

import (
	"context"

	"github.com/nexuschat/nexus/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, m *models.Message) error
	// ListByConversation returns all messages oldest first.
	ListByConversation(ctx context.Context, conversationID string) ([]*models.Message, error)
	// Recent returns at most limit of the newest messages, oldest first.
	Recent(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)
}
