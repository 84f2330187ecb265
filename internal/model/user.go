// Package model defines domain entities for the application.
package model

import "time"

// Field limits enforced by the users table.
const (
	MaxUsernameLength = 50
	MaxEmailLength    = 100
)

// User is a registered account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	ProfileImage *string   `json:"profile_image,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewUser holds the columns supplied on registration.
// ID and CreatedAt are assigned by the database.
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	ProfileImage *string
}
