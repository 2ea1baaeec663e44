package domain

import "time"

// User is an authenticated account. Holdings and trades reference it by ID.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
