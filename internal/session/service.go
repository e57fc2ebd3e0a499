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

package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/pypi/warehouse/internal/audit"
)

// sessionIDBytes gives 256 bits of entropy per session id.
const sessionIDBytes = 32

// Service provides session lifecycle logic
type Service struct {
	repo        Repository
	auditLogger audit.Logger
	lifetime    time.Duration
	idleTimeout time.Duration
}

// NewService creates a new session service
func NewService(repo Repository, auditLogger audit.Logger, lifetime, idleTimeout time.Duration) *Service {
	return &Service{
		repo:        repo,
		auditLogger: auditLogger,
		lifetime:    lifetime,
		idleTimeout: idleTimeout,
	}
}

// Create starts a session for an authenticated user
func (s *Service) Create(ctx context.Context, userID, ipAddress, userAgent string) (*Session, error) {
	raw := make([]byte, sessionIDBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	now := time.Now()
	session := &Session{
		ID:         base64.RawURLEncoding.EncodeToString(raw),
		UserID:     userID,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		ExpiresAt:  now.Add(s.lifetime),
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// Validate resolves a session id to a live session, advancing last-seen.
// Expired and idle sessions are destroyed on sight.
func (s *Service) Validate(ctx context.Context, sessionID string) (*Session, error) {
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	if session.IsExpired() || session.IsIdle(s.idleTimeout) {
		_ = s.repo.Delete(ctx, sessionID)
		return nil, ErrSessionExpired
	}

	session.LastSeenAt = time.Now()
	_ = s.repo.Update(ctx, session)
	return session, nil
}

// Destroy ends a session
func (s *Service) Destroy(ctx context.Context, sessionID string) error {
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil // already gone
	}
	if err := s.repo.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:    audit.TypeLogout,
		ActorID: session.UserID,
	})
	return nil
}

// DestroyAll ends all of a user's sessions
func (s *Service) DestroyAll(ctx context.Context, userID string) error {
	return s.repo.DeleteByUserID(ctx, userID)
}

// Cleanup removes expired sessions; run periodically
func (s *Service) Cleanup(ctx context.Context) error {
	return s.repo.DeleteExpired(ctx)
}
