package otps

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nexuschat/nexus/internal/common"
	"github.com/nexuschat/nexus/internal/dbx"
	"github.com/nexuschat/nexus/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) LockEmail(ctx context.Context, email string) error {
	query := `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

	if _, err := r.db.ExecContext(ctx, query, email); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) HasPending(ctx context.Context, email string, now time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM otp_verifications
			WHERE email = $1 AND is_used = FALSE AND expires_at > $2
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, email, now).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) Create(ctx context.Context, otp *models.OTPVerification) error {
	query := `
		INSERT INTO otp_verifications (email, otp_code, hashed_password, purpose, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	var hashed sql.NullString
	if otp.HashedPassword != nil {
		hashed = sql.NullString{String: *otp.HashedPassword, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query,
		otp.Email, otp.Code, hashed, string(otp.Purpose), otp.CreatedAt, otp.ExpiresAt,
	).Scan(&otp.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Consume(ctx context.Context, email, code string, purpose models.OTPPurpose, now time.Time) (*models.OTPVerification, error) {
	query := `
		UPDATE otp_verifications
		SET is_used = TRUE
		WHERE id = (
			SELECT id FROM otp_verifications
			WHERE email = $1 AND otp_code = $2 AND purpose = $3
			  AND is_used = FALSE AND expires_at > $4
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE
		) AND is_used = FALSE
		RETURNING id, email, otp_code, hashed_password, purpose, created_at, expires_at, is_used
	`
	otp := &models.OTPVerification{}
	var (
		hashed sql.NullString
		p      string
	)
	err := r.db.QueryRowContext(ctx, query, email, code, string(purpose), now).
		Scan(&otp.ID, &otp.Email, &otp.Code, &hashed, &p, &otp.CreatedAt, &otp.ExpiresAt, &otp.IsUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if hashed.Valid {
		otp.HashedPassword = &hashed.String
	}
	otp.Purpose = models.OTPPurpose(p)
	return otp, nil
}

func (r *PostgresRepository) DeleteUsedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM otp_verifications
		WHERE is_used = TRUE AND created_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
