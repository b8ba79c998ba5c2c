package db

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository handles user database operations.
type UserRepository struct {
	pool *pgxpool.Pool
}

// Upsert creates the user or refreshes its profile and tokens, keyed by
// Spotify user id. The stored id and timestamps are written back to user.
func (r *UserRepository) Upsert(ctx context.Context, user *User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	query := `
		INSERT INTO users (id, spotify_user_id, display_name, followers,
			access_token, refresh_token, token_expires_in, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (spotify_user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			followers = EXCLUDED.followers,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_in = EXCLUDED.token_expires_in,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err := r.pool.QueryRow(ctx, query,
		user.ID,
		user.SpotifyUserID,
		user.DisplayName,
		user.Followers,
		user.AccessToken,
		user.RefreshToken,
		user.TokenExpiresIn,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "upserting user")
	}
	return nil
}

// Get retrieves a user by ID.
func (r *UserRepository) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.getWhere(ctx, "id = $1", id)
}

// GetBySpotifyID retrieves a user by Spotify user id.
func (r *UserRepository) GetBySpotifyID(ctx context.Context, spotifyUserID string) (*User, error) {
	return r.getWhere(ctx, "spotify_user_id = $1", spotifyUserID)
}

func (r *UserRepository) getWhere(ctx context.Context, cond string, arg any) (*User, error) {
	query := `
		SELECT id, spotify_user_id, display_name, followers, access_token,
			refresh_token, token_expires_in, created_at, updated_at
		FROM users
		WHERE ` + cond
	var user User
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.SpotifyUserID,
		&user.DisplayName,
		&user.Followers,
		&user.AccessToken,
		&user.RefreshToken,
		&user.TokenExpiresIn,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying user")
	}
	return &user, nil
}
