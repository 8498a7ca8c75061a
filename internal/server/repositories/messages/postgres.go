package messages

import (
	"context"
	"fmt"
	"slices"

	"github.com/nexuschat/nexus/internal/dbx"
	"github.com/nexuschat/nexus/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, m *models.Message) error {
	query := `
		INSERT INTO messages (conversation_id, role, content, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	if err := r.db.QueryRowContext(ctx, query, m.ConversationID, string(m.Role), m.Content, m.CreatedAt).Scan(&m.ID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByConversation(ctx context.Context, conversationID string) ([]*models.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, created_at FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
	`
	return r.query(ctx, query, conversationID)
}

func (r *PostgresRepository) Recent(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, created_at FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	result, err := r.query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	slices.Reverse(result)
	return result, nil
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*models.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select messages: %w", err)
	}
	defer rows.Close()

	var result []*models.Message
	for rows.Next() {
		var (
			item models.Message
			role string
		)
		if err := rows.Scan(&item.ID, &item.ConversationID, &role, &item.Content, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.Role = models.MessageRole(role)
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
