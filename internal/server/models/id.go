// Package models defines server-side data models persisted in the database.
package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// UserID identifies a user. It is parsed from strings only at the edges
// (token subject, SQL scan) and formatted back with String.
type UserID struct {
	uuid.UUID
}

// NewUserID returns a fresh random id.
func NewUserID() UserID {
	return UserID{uuid.New()}
}

// ParseUserID parses the canonical textual form.
func ParseUserID(s string) (UserID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, fmt.Errorf("parse user id: %w", err)
	}
	return UserID{u}, nil
}

func (id UserID) IsZero() bool {
	return id.UUID == uuid.Nil
}

// Value and Scan delegate to uuid so UserID can be passed to and scanned
// from database/sql directly.
func (id UserID) Value() (driver.Value, error) {
	return id.UUID.Value()
}

func (id *UserID) Scan(src any) error {
	return id.UUID.Scan(src)
}
