package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nexuschat/nexus/internal/common"
	"github.com/nexuschat/nexus/internal/dbx"
	"github.com/nexuschat/nexus/internal/server/models"
)

// PostgresRepository implements attachment metadata storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, a *models.Attachment) error {
	query := `
		INSERT INTO attachments (conversation_id, user_id, file_name, content_type, storage_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		a.ConversationID, a.UserID, a.FileName, a.ContentType, a.StorageKey,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetOwned returns the attachment row used to authorize and build presigned URLs.
func (r *PostgresRepository) GetOwned(ctx context.Context, id string, userID models.UserID) (*models.Attachment, error) {
	query := `
		SELECT id, conversation_id, user_id, file_name, content_type, storage_key, created_at
		FROM attachments
		WHERE id = $1 AND user_id = $2
	`
	a := &models.Attachment{}
	err := r.db.QueryRowContext(ctx, query, id, userID).
		Scan(&a.ID, &a.ConversationID, &a.UserID, &a.FileName, &a.ContentType, &a.StorageKey, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) ListByConversation(ctx context.Context, conversationID string) ([]*models.Attachment, error) {
	query := `
		SELECT id, conversation_id, user_id, file_name, content_type, storage_key, created_at
		FROM attachments
		WHERE conversation_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to select attachments: %w", err)
	}
	defer rows.Close()

	var result []*models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.ID, &a.ConversationID, &a.UserID, &a.FileName, &a.ContentType, &a.StorageKey, &a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
