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
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/pypi/warehouse/internal/audit"
)

// usernamePattern mirrors the registration rules: alphanumeric ends, with
// dots, hyphens and underscores allowed in between.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9._-]*[a-zA-Z0-9])?$`)

// Service provides account-related business logic
type Service struct {
	repo               UserRepository
	hasher             *PasswordHasher
	auditLogger        audit.Logger
	lockoutMaxAttempts int
	lockoutDuration    time.Duration
}

// NewService creates a new accounts service
func NewService(
	repo UserRepository,
	hasher *PasswordHasher,
	auditLogger audit.Logger,
	lockoutMaxAttempts int,
	lockoutDuration time.Duration,
) *Service {
	return &Service{
		repo:               repo,
		hasher:             hasher,
		auditLogger:        auditLogger,
		lockoutMaxAttempts: lockoutMaxAttempts,
		lockoutDuration:    lockoutDuration,
	}
}

// Register creates a new account with a password credential
func (s *Service) Register(ctx context.Context, username, email, password string) (*User, error) {
	if !usernamePattern.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	if !isStrongPassword(password) {
		return nil, ErrWeakPassword
	}

	existing, err := s.repo.GetByUsername(ctx, username)
	if err == nil && existing != nil {
		return nil, ErrUserAlreadyExists
	}

	user := &User{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     email,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.repo.AddCredentials(ctx, &Credentials{UserID: user.ID, PasswordHash: passwordHash}); err != nil {
		return nil, fmt.Errorf("failed to add credentials: %w", err)
	}

	return user, nil
}

// Authenticate authenticates a user with username and password
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			Resource: username,
			Metadata: map[string]any{audit.AttrReason: "user_not_found"},
		})
		return nil, ErrInvalidCredentials
	}

	if user.IsFrozen {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{audit.AttrReason: "account_frozen"},
		})
		return nil, ErrAccountFrozen
	}

	if user.LockedUntil != nil && user.LockedUntil.After(time.Now()) {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{audit.AttrReason: "locked_out"},
		})
		return nil, ErrAccountLocked
	}

	credentials, err := s.repo.GetCredentials(ctx, user.ID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	valid, err := s.hasher.Verify(password, credentials.PasswordHash)
	if err != nil || !valid {
		newAttempts := user.FailedLoginAttempts + 1
		var newLockedUntil *time.Time

		if newAttempts >= s.lockoutMaxAttempts {
			until := time.Now().Add(s.lockoutDuration)
			newLockedUntil = &until
			s.auditLogger.Log(ctx, audit.Event{
				Type:     audit.TypeUserLocked,
				ActorID:  user.ID,
				Resource: "login",
				Metadata: map[string]any{audit.AttrAttempts: newAttempts},
			})
		}

		_ = s.repo.UpdateLockout(ctx, user.ID, newAttempts, newLockedUntil)

		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{
				audit.AttrReason:   "invalid_password",
				audit.AttrAttempts: newAttempts,
			},
		})

		return nil, ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		_ = s.repo.UpdateLockout(ctx, user.ID, 0, nil)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLoginSuccess,
		ActorID:  user.ID,
		Resource: "login",
	})

	return user, nil
}

// GetUser retrieves a user by ID
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// GetByUsername retrieves a user by username
func (s *Service) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.repo.GetByUsername(ctx, username)
}

// ChangePassword changes a user's password after verifying the old one
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	credentials, err := s.repo.GetCredentials(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	valid, err := s.hasher.Verify(oldPassword, credentials.PasswordHash)
	if err != nil || !valid {
		return ErrInvalidCredentials
	}

	if !isStrongPassword(newPassword) {
		return ErrWeakPassword
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.repo.UpdatePassword(ctx, userID, newHash)
}

func isStrongPassword(password string) bool {
	return len(password) >= 8
}
