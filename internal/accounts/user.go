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

package accounts

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrWeakPassword       = errors.New("password does not meet security requirements")
	ErrAccountLocked      = errors.New("account is locked")
	ErrAccountFrozen      = errors.New("account is frozen")
)

// User represents a registered account
type User struct {
	ID            string
	Username      string
	Email         string
	EmailVerified bool

	// IsFrozen is an administrative hold; frozen accounts cannot
	// authenticate through any mechanism.
	IsFrozen bool

	FailedLoginAttempts int
	LockedUntil         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Credentials represents a user's password credential
type Credentials struct {
	UserID       string
	PasswordHash string
	UpdatedAt    time.Time
}

// UserRepository defines the interface for user persistence
type UserRepository interface {
	// Create creates a new user
	Create(ctx context.Context, user *User) error

	// AddCredentials adds a password credential for a user
	AddCredentials(ctx context.Context, credentials *Credentials) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id string) (*User, error)

	// GetByUsername retrieves a user by username
	GetByUsername(ctx context.Context, username string) (*User, error)

	// Update updates user information
	Update(ctx context.Context, user *User) error

	// UpdateLockout updates user lockout status
	UpdateLockout(ctx context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error

	// GetCredentials retrieves user credentials
	GetCredentials(ctx context.Context, userID string) (*Credentials, error)

	// UpdatePassword updates user password
	UpdatePassword(ctx context.Context, userID string, passwordHash string) error
}
