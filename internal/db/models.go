package db

import (
	"time"

	"github.com/google/uuid"
)

// User is a Spotify account that has logged in, with its latest tokens.
type User struct {
	ID             uuid.UUID
	SpotifyUserID  string
	DisplayName    *string // nullable
	Followers      int
	AccessToken    string
	RefreshToken   string
	TokenExpiresIn int // seconds, as reported at login
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Session represents an authenticated web session.
type Session struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
	CreatedAt    time.Time
	ExpiresAt    time.Time
}
