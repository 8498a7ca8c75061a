// Package otps stores emailed verification codes.
package otps

import (
	"context"
	"time"

	"github.com/nexuschat/nexus/internal/server/models"
)

type Repository interface {
	// LockEmail serializes OTP issuance per email until the surrounding
	// transaction ends. Must run inside a transaction.
	LockEmail(ctx context.Context, email string) error

	// HasPending reports whether an unused code that is still valid at now
	// exists for email, whatever its purpose.
	HasPending(ctx context.Context, email string, now time.Time) (bool, error)

	// Create persists otp and fills in its ID.
	Create(ctx context.Context, otp *models.OTPVerification) error

	// Consume marks the newest unused, unexpired record matching email, code
	// and purpose as used and returns it. common.ErrorNotFound when none
	// matches.
	Consume(ctx context.Context, email, code string, purpose models.OTPPurpose, now time.Time) (*models.OTPVerification, error)

	// DeleteUsedBefore removes used records created before cutoff.
	DeleteUsedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
