package models

import "time"

type User struct {
	ID             UserID
	Email          string
	HashedPassword string
	CreatedAt      time.Time
}
