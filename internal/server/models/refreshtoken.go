package models

import "time"

// RefreshToken is the stored side of a refresh token. Only the SHA-256 of
// the token is kept.
type RefreshToken struct {
	ID        string
	UserID    UserID
	TokenHash string
	ExpiresAt time.Time
	IsRevoked bool
	CreatedAt time.Time
}
