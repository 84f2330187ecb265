package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/credvault/credvault/internal/model"
)

// InsertUser stores a new user and returns its id.
// Returns ErrDuplicateUser when the email (or username, when unique) is taken.
func (r *Repository) InsertUser(ctx context.Context, user model.NewUser) (int64, error) {
	query := `
		INSERT INTO users (username, email, password, profile_image)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRow(ctx, query,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.ProfileImage,
	).Scan(&id)
	if err != nil {
		return 0, translate("insert user", err)
	}

	return id, nil
}

// FindByEmail retrieves a user, including the password hash, by exact email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `
		SELECT id, username, email, password, profile_image, created_at
		FROM users
		WHERE email = $1
	`

	var user model.User
	err := r.db.QueryRow(ctx, query, email).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.ProfileImage,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, translate("find user by email", err)
	}

	return &user, nil
}

// ExistsByEmail reports whether a user with this exact email exists.
func (r *Repository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, email).Scan(&exists); err != nil {
		return false, translate("check email", err)
	}

	return exists, nil
}

// UpdatePassword replaces the password hash for email and returns the
// number of rows changed (0 when no such user).
func (r *Repository) UpdatePassword(ctx context.Context, email, passwordHash string) (int64, error) {
	query := `
		UPDATE users
		SET password = $1
		WHERE email = $2
	`

	tag, err := r.db.Exec(ctx, query, passwordHash, email)
	if err != nil {
		return 0, translate("update password", err)
	}

	return tag.RowsAffected(), nil
}
