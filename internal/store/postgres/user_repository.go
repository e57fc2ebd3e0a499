// Copyright 2026 The Warehouse Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pypi/warehouse/internal/accounts"
)

// UserRepository implements accounts.UserRepository
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *accounts.User) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO users (id, username, email, email_verified, is_frozen, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`,
		user.ID, user.Username, user.Email, user.EmailVerified, user.IsFrozen, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// AddCredentials adds a password credential for a user
func (r *UserRepository) AddCredentials(ctx context.Context, credentials *accounts.Credentials) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO user_credentials (user_id, password_hash, updated_at)
		VALUES ($1, $2, NOW())
	`, credentials.UserID, credentials.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to add credentials: %w", err)
	}
	return nil
}

const userColumns = `
	id, username, email, email_verified, is_frozen,
	failed_login_attempts, locked_until, created_at, updated_at`

func scanUser(row pgx.Row) (*accounts.User, error) {
	var u accounts.User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.EmailVerified, &u.IsFrozen,
		&u.FailedLoginAttempts, &u.LockedUntil, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*accounts.User, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, accounts.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetByUsername retrieves a user by username
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*accounts.User, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	user, err := scanUser(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, accounts.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// Update updates user information
func (r *UserRepository) Update(ctx context.Context, user *accounts.User) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE users SET email = $2, email_verified = $3, is_frozen = $4, updated_at = NOW()
		WHERE id = $1
	`, user.ID, user.Email, user.EmailVerified, user.IsFrozen)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return accounts.ErrUserNotFound
	}
	return nil
}

// UpdateLockout updates user lockout status
func (r *UserRepository) UpdateLockout(ctx context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE users SET failed_login_attempts = $2, locked_until = $3, updated_at = NOW()
		WHERE id = $1
	`, userID, failedAttempts, lockedUntil)
	if err != nil {
		return fmt.Errorf("failed to update lockout: %w", err)
	}
	if result.RowsAffected() == 0 {
		return accounts.ErrUserNotFound
	}
	return nil
}

// GetCredentials retrieves user credentials
func (r *UserRepository) GetCredentials(ctx context.Context, userID string) (*accounts.Credentials, error) {
	var c accounts.Credentials
	err := r.db.pool.QueryRow(ctx, `
		SELECT user_id, password_hash, updated_at FROM user_credentials WHERE user_id = $1
	`, userID).Scan(&c.UserID, &c.PasswordHash, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, accounts.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	return &c, nil
}

// UpdatePassword updates user password
func (r *UserRepository) UpdatePassword(ctx context.Context, userID string, passwordHash string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE user_credentials SET password_hash = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if result.RowsAffected() == 0 {
		return accounts.ErrUserNotFound
	}
	return nil
}
