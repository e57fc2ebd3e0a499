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

package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pypi/warehouse/internal/audit"
	"github.com/pypi/warehouse/internal/caveats"
	"github.com/pypi/warehouse/internal/macaroons"
)

const githubIssuer = "https://token.actions.githubusercontent.com"

// MockPublisherRepository is a simple in-memory implementation of
// PublisherRepository
type MockPublisherRepository struct {
	publishers map[string]*Publisher
	projects   map[string][]string
}

func NewMockPublisherRepository() *MockPublisherRepository {
	return &MockPublisherRepository{
		publishers: make(map[string]*Publisher),
		projects:   make(map[string][]string),
	}
}

func (m *MockPublisherRepository) Create(_ context.Context, p *Publisher) error {
	m.publishers[p.ID] = p
	return nil
}

func (m *MockPublisherRepository) GetByID(_ context.Context, id string) (*Publisher, error) {
	p, ok := m.publishers[id]
	if !ok {
		return nil, ErrPublisherNotFound
	}
	return p, nil
}

func (m *MockPublisherRepository) FindByClaims(_ context.Context, issuer, repository, workflow, environment string) (*Publisher, error) {
	for _, p := range m.publishers {
		if p.Issuer == issuer && p.Repository == repository && p.Workflow == workflow &&
			(p.Environment == "" || p.Environment == environment) {
			return p, nil
		}
	}
	return nil, ErrPublisherNotFound
}

func (m *MockPublisherRepository) ListProjectIDs(_ context.Context, publisherID string) ([]string, error) {
	return m.projects[publisherID], nil
}

func (m *MockPublisherRepository) AddProject(_ context.Context, publisherID, projectID string) error {
	m.projects[publisherID] = append(m.projects[publisherID], projectID)
	return nil
}

// MockMacaroonRepository is a minimal in-memory macaroons.Repository
type MockMacaroonRepository struct {
	records map[string]*macaroons.Macaroon
}

func NewMockMacaroonRepository() *MockMacaroonRepository {
	return &MockMacaroonRepository{records: make(map[string]*macaroons.Macaroon)}
}

func (m *MockMacaroonRepository) Create(_ context.Context, rec *macaroons.Macaroon) error {
	m.records[rec.ID] = rec
	return nil
}

func (m *MockMacaroonRepository) GetByID(_ context.Context, id string) (*macaroons.Macaroon, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, macaroons.ErrMacaroonNotFound
	}
	return rec, nil
}

func (m *MockMacaroonRepository) GetByUserAndDescription(_ context.Context, _, _ string) (*macaroons.Macaroon, error) {
	return nil, macaroons.ErrMacaroonNotFound
}

func (m *MockMacaroonRepository) ListByUser(_ context.Context, _ string) ([]*macaroons.Macaroon, error) {
	return nil, nil
}

func (m *MockMacaroonRepository) UpdateLastUsed(_ context.Context, id string, at time.Time) error {
	if rec, ok := m.records[id]; ok {
		rec.LastUsed = &at
	}
	return nil
}

func (m *MockMacaroonRepository) Delete(_ context.Context, id string) error {
	delete(m.records, id)
	return nil
}

type exchangeFixture struct {
	service    *Service
	publishers *MockPublisherRepository
	macaroons  *macaroons.Service
	signingKey *rsa.PrivateKey
}

func newExchangeFixture(t *testing.T) *exchangeFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	publishers := NewMockPublisherRepository()
	macaroonSvc := macaroons.NewService(
		NewMockMacaroonRepository(), caveats.NewRegistry(), audit.NewSlogLogger())

	keyfunc := func(_ *jwt.Token) (any, error) { return &key.PublicKey, nil }
	svc := NewService(publishers, macaroonSvc, keyfunc, "pypi", "https://pypi.org",
		15*time.Minute, audit.NewSlogLogger())

	return &exchangeFixture{
		service:    svc,
		publishers: publishers,
		macaroons:  macaroonSvc,
		signingKey: key,
	}
}

func (f *exchangeFixture) signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(5 * time.Minute).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(f.signingKey)
	require.NoError(t, err)
	return signed
}

func registerPublisher(t *testing.T, f *exchangeFixture, projectIDs ...string) *Publisher {
	t.Helper()
	p := &Publisher{
		ID:         "pub-1",
		Issuer:     githubIssuer,
		Repository: "org/repo",
		Workflow:   "release.yml",
	}
	require.NoError(t, f.publishers.Create(context.Background(), p))
	for _, id := range projectIDs {
		require.NoError(t, f.publishers.AddProject(context.Background(), p.ID, id))
	}
	return p
}

// TestPurpose: Validates the happy-path exchange: a well-signed identity
// token from a registered publisher yields a short-lived, publisher-scoped
// API token.
// Scope: Unit Test
// Expected: pypi- prefixed token whose record is publisher-owned, carries
// three scope caveats, and snapshots the signed claims.
func TestOIDC_Service_ExchangeToken(t *testing.T) {
	f := newExchangeFixture(t)
	publisher := registerPublisher(t, f, "p-1", "p-2")

	raw := f.signToken(t, jwt.MapClaims{
		"iss":        githubIssuer,
		"aud":        "pypi",
		"repository": "org/repo",
		"workflow":   "release.yml",
	})

	token, rec, err := f.service.ExchangeToken(context.Background(), raw)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, macaroons.TokenPrefix))
	require.NotNil(t, rec.OIDCPublisherID)
	assert.Equal(t, publisher.ID, *rec.OIDCPublisherID)
	assert.Nil(t, rec.UserID)
	assert.True(t, strings.HasPrefix(rec.Description, "OpenID token: org/repo"))
	assert.Len(t, rec.Caveats, 3)
	assert.Equal(t, "org/repo", rec.Additional["repository"])

	// The minted token verifies for the publisher against a bound project
	// and fails for an unbound one.
	identity, err := f.service.IdentityFor(context.Background(), publisher.ID)
	require.NoError(t, err)
	req := &caveats.Request{Publisher: identity}

	err = f.macaroons.Verify(context.Background(), token, req, boundProject{}, "upload")
	assert.NoError(t, err)
	err = f.macaroons.Verify(context.Background(), token, req, unboundProject{}, "upload")
	assert.Error(t, err)
}

type boundProject struct{}

func (boundProject) ProjectID() string      { return "p-1" }
func (boundProject) NormalizedName() string { return "bound" }

type unboundProject struct{}

func (unboundProject) ProjectID() string      { return "p-9" }
func (unboundProject) NormalizedName() string { return "unbound" }

// TestPurpose: Validates that exchange fails closed for bad signatures,
// wrong audiences, missing claims, and unregistered publishers.
// Scope: Unit Test
// Security: The exchange endpoint is unauthenticated by design; the token is
// the only credential.
// Expected: ErrInvalidToken or ErrPublisherNotFound per failure mode.
func TestOIDC_Service_ExchangeToken_Rejections(t *testing.T) {
	f := newExchangeFixture(t)
	registerPublisher(t, f, "p-1")

	t.Run("wrong audience", func(t *testing.T) {
		raw := f.signToken(t, jwt.MapClaims{
			"iss": githubIssuer, "aud": "not-pypi",
			"repository": "org/repo", "workflow": "release.yml",
		})
		_, _, err := f.service.ExchangeToken(context.Background(), raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired token", func(t *testing.T) {
		raw := f.signToken(t, jwt.MapClaims{
			"iss": githubIssuer, "aud": "pypi",
			"repository": "org/repo", "workflow": "release.yml",
			"exp": time.Now().Add(-time.Minute).Unix(),
		})
		_, _, err := f.service.ExchangeToken(context.Background(), raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("bad signature", func(t *testing.T) {
		otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"iss": githubIssuer, "aud": "pypi",
			"repository": "org/repo", "workflow": "release.yml",
			"exp": time.Now().Add(5 * time.Minute).Unix(),
		})
		raw, err := token.SignedString(otherKey)
		require.NoError(t, err)
		_, _, err = f.service.ExchangeToken(context.Background(), raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing identity claims", func(t *testing.T) {
		raw := f.signToken(t, jwt.MapClaims{"iss": githubIssuer, "aud": "pypi"})
		_, _, err := f.service.ExchangeToken(context.Background(), raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unregistered publisher", func(t *testing.T) {
		raw := f.signToken(t, jwt.MapClaims{
			"iss": githubIssuer, "aud": "pypi",
			"repository": "someone-else/repo", "workflow": "release.yml",
		})
		_, _, err := f.service.ExchangeToken(context.Background(), raw)
		assert.ErrorIs(t, err, ErrPublisherNotFound)
	})
}
