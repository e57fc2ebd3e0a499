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

package macaroons

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gopkg.in/macaroon.v2"

	"github.com/pypi/warehouse/internal/audit"
	"github.com/pypi/warehouse/internal/caveats"
)

// TokenPrefix fronts every issued token so malformed or foreign credentials
// can be rejected before any deserialization work.
const TokenPrefix = "pypi-"

// rootKeyLen is the length of a record's HMAC root key.
const rootKeyLen = 32

// CreateOptions carries the owner and optional extras for a new token.
// Exactly one of UserID / OIDCPublisherID must be set.
type CreateOptions struct {
	UserID          string
	OIDCPublisherID string

	// Additional is stored verbatim on the record; publisher exchanges use
	// it to snapshot the signed claims.
	Additional map[string]any
}

// Service is the sole reader/writer of persisted macaroon records and the
// trust boundary between raw bearer-token bytes and the database.
type Service struct {
	repo        Repository
	registry    *caveats.Registry
	verifier    *Verifier
	auditLogger audit.Logger
}

// NewService creates a new macaroon service.
func NewService(repo Repository, registry *caveats.Registry, auditLogger audit.Logger) *Service {
	return &Service{
		repo:        repo,
		registry:    registry,
		verifier:    NewVerifier(registry),
		auditLogger: auditLogger,
	}
}

// CreateMacaroon mints a new API token: persists a record with a fresh
// 32-byte root key, chains every scope caveat into the token signature, and
// returns the serialized bearer token exactly once. The raw key is stored;
// the derived token string never is.
func (s *Service) CreateMacaroon(
	ctx context.Context,
	location string,
	description string,
	scopes []caveats.Caveat,
	opts CreateOptions,
) (string, *Macaroon, error) {
	if (opts.UserID == "") == (opts.OIDCPublisherID == "") {
		return "", nil, errors.New(
			"macaroons must be scoped to exactly one of a user or an OIDC publisher",
		)
	}
	for _, c := range scopes {
		if c == nil {
			return "", nil, errors.New("scopes must be a list of caveats")
		}
	}

	key := make([]byte, rootKeyLen)
	if _, err := rand.Read(key); err != nil {
		return "", nil, fmt.Errorf("generating root key: %w", err)
	}

	serialized := make([]json.RawMessage, 0, len(scopes))
	for _, c := range scopes {
		data, err := caveats.Serialize(c)
		if err != nil {
			return "", nil, err
		}
		serialized = append(serialized, data)
	}

	rec := &Macaroon{
		ID:                uuid.NewString(),
		Description:       description,
		Created:           time.Now(),
		PermissionsCaveat: legacyPermissions(scopes),
		Caveats:           serialized,
		Additional:        opts.Additional,
		Key:               key,
	}
	if opts.UserID != "" {
		rec.UserID = &opts.UserID
	} else {
		rec.OIDCPublisherID = &opts.OIDCPublisherID
	}

	// The record goes in first so the identifier is durable before any
	// token bearing it exists.
	if err := s.repo.Create(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("persisting macaroon: %w", err)
	}

	m, err := macaroon.New(key, []byte(rec.ID), location, macaroon.V2)
	if err != nil {
		return "", nil, fmt.Errorf("constructing macaroon: %w", err)
	}
	for _, data := range serialized {
		if err := m.AddFirstPartyCaveat(data); err != nil {
			return "", nil, fmt.Errorf("chaining caveat: %w", err)
		}
	}

	bin, err := m.MarshalBinary()
	if err != nil {
		return "", nil, fmt.Errorf("serializing macaroon: %w", err)
	}
	token := TokenPrefix + base64.RawURLEncoding.EncodeToString(bin)

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeMacaroonCreated,
		ActorID:  opts.UserID,
		Resource: rec.ID,
		Metadata: map[string]any{"description": description},
	})

	return token, rec, nil
}

// FindMacaroon returns the persisted record by id, or ErrMacaroonNotFound.
func (s *Service) FindMacaroon(ctx context.Context, id string) (*Macaroon, error) {
	return s.repo.GetByID(ctx, id)
}

// FindFromRaw resolves a raw bearer token to its persisted record. Every
// failure mode collapses to ErrInvalidMacaroon.
func (s *Service) FindFromRaw(ctx context.Context, rawToken string) (*Macaroon, error) {
	m, err := decodeToken(rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed or nonexistent macaroon", ErrInvalidMacaroon)
	}

	// A crafted token can carry arbitrary identifier bytes; reject anything
	// that is not valid UTF-8 before it reaches the database.
	id := m.Id()
	if !utf8.Valid(id) {
		return nil, fmt.Errorf("%w: malformed or nonexistent macaroon", ErrInvalidMacaroon)
	}

	rec, err := s.repo.GetByID(ctx, string(id))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed or nonexistent macaroon", ErrInvalidMacaroon)
	}
	return rec, nil
}

// FindUserID is the best-effort variant of FindFromRaw used on the hot path
// of every request's auth attempt: a garbage or foreign token means "no
// identity", never an error, so everything is swallowed into "". Records
// with no associated user (publisher-issued) also yield "".
func (s *Service) FindUserID(ctx context.Context, rawToken string) string {
	rec, err := s.FindFromRaw(ctx, rawToken)
	if err != nil || rec.UserID == nil {
		return ""
	}
	return *rec.UserID
}

// Verify checks a raw token against a request/context/permission triple.
// The record lookup is where revocation takes effect: a deleted record
// fails here even though the token's signature is still cryptographically
// valid. On success the record's last_used timestamp is advanced.
func (s *Service) Verify(
	ctx context.Context,
	rawToken string,
	req *caveats.Request,
	authContext any,
	permission string,
) error {
	m, err := decodeToken(rawToken)
	if err != nil {
		return fmt.Errorf("%w: malformed or nonexistent macaroon", ErrInvalidMacaroon)
	}
	id := m.Id()
	if !utf8.Valid(id) {
		return fmt.Errorf("%w: malformed or nonexistent macaroon", ErrInvalidMacaroon)
	}

	rec, err := s.repo.GetByID(ctx, string(id))
	if err != nil {
		return fmt.Errorf("%w: deleted or nonexistent macaroon", ErrInvalidMacaroon)
	}

	result := s.verifier.Verify(m, rec.Key, req, authContext, permission)
	if !result.Allowed {
		return fmt.Errorf("%w: %s", ErrInvalidMacaroon, result.Detail)
	}

	if err := s.repo.UpdateLastUsed(ctx, rec.ID, time.Now()); err != nil {
		// Last-used is advisory; a failed update must not fail an
		// otherwise valid request.
		return nil
	}
	return nil
}

// DeleteMacaroon revokes a token by destroying its record. Idempotent.
func (s *Service) DeleteMacaroon(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting macaroon: %w", err)
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeMacaroonDeleted,
		Resource: id,
	})
	return nil
}

// GetMacaroonByDescription backs the UI's "does this description already
// exist" check; descriptions are unique per user.
func (s *Service) GetMacaroonByDescription(
	ctx context.Context, userID, description string,
) (*Macaroon, error) {
	return s.repo.GetByUserAndDescription(ctx, userID, description)
}

// ListMacaroons returns a user's records, newest first.
func (s *Service) ListMacaroons(ctx context.Context, userID string) ([]*Macaroon, error) {
	return s.repo.ListByUser(ctx, userID)
}

// decodeToken strips the token prefix and reconstructs the cryptographic
// macaroon object.
func decodeToken(rawToken string) (*macaroon.Macaroon, error) {
	encoded, ok := strings.CutPrefix(rawToken, TokenPrefix)
	if !ok {
		return nil, errors.New("missing token prefix")
	}
	bin, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	var m macaroon.Macaroon
	if err := m.UnmarshalBinary(bin); err != nil {
		return nil, fmt.Errorf("deserializing token: %w", err)
	}
	return &m, nil
}

// legacyPermissions derives the display-only scope summary stored on the
// record: project names accumulated from name restrictions, or the literal
// "user" when a user restriction is present.
func legacyPermissions(scopes []caveats.Caveat) map[string]any {
	projects := []string{}
	for _, c := range scopes {
		switch cav := c.(type) {
		case caveats.RequestUser:
			return map[string]any{"permissions": "user", "version": 1}
		case caveats.ProjectNames:
			projects = append(projects, cav.Names...)
		}
	}
	return map[string]any{
		"permissions": map[string]any{"projects": projects},
		"version":     1,
	}
}
