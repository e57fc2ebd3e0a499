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

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pypi/warehouse/internal/accounts"
	"github.com/pypi/warehouse/internal/audit"
	"github.com/pypi/warehouse/internal/caveats"
	"github.com/pypi/warehouse/internal/macaroons"
	"github.com/pypi/warehouse/internal/oidc"
)

// In-memory repositories shared by the policy tests.

type memUserRepo struct {
	users       map[string]*accounts.User
	credentials map[string]*accounts.Credentials
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{
		users:       make(map[string]*accounts.User),
		credentials: make(map[string]*accounts.Credentials),
	}
}

func (m *memUserRepo) Create(_ context.Context, u *accounts.User) error {
	m.users[u.ID] = u
	return nil
}

func (m *memUserRepo) AddCredentials(_ context.Context, c *accounts.Credentials) error {
	m.credentials[c.UserID] = c
	return nil
}

func (m *memUserRepo) GetByID(_ context.Context, id string) (*accounts.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, accounts.ErrUserNotFound
	}
	return u, nil
}

func (m *memUserRepo) GetByUsername(_ context.Context, username string) (*accounts.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, accounts.ErrUserNotFound
}

func (m *memUserRepo) Update(_ context.Context, u *accounts.User) error {
	m.users[u.ID] = u
	return nil
}

func (m *memUserRepo) UpdateLockout(_ context.Context, userID string, attempts int, lockedUntil *time.Time) error {
	if u, ok := m.users[userID]; ok {
		u.FailedLoginAttempts = attempts
		u.LockedUntil = lockedUntil
	}
	return nil
}

func (m *memUserRepo) GetCredentials(_ context.Context, userID string) (*accounts.Credentials, error) {
	c, ok := m.credentials[userID]
	if !ok {
		return nil, accounts.ErrUserNotFound
	}
	return c, nil
}

func (m *memUserRepo) UpdatePassword(_ context.Context, userID, hash string) error {
	if c, ok := m.credentials[userID]; ok {
		c.PasswordHash = hash
	}
	return nil
}

type memMacaroonRepo struct {
	records map[string]*macaroons.Macaroon
}

func newMemMacaroonRepo() *memMacaroonRepo {
	return &memMacaroonRepo{records: make(map[string]*macaroons.Macaroon)}
}

func (m *memMacaroonRepo) Create(_ context.Context, rec *macaroons.Macaroon) error {
	m.records[rec.ID] = rec
	return nil
}

func (m *memMacaroonRepo) GetByID(_ context.Context, id string) (*macaroons.Macaroon, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, macaroons.ErrMacaroonNotFound
	}
	return rec, nil
}

func (m *memMacaroonRepo) GetByUserAndDescription(_ context.Context, _, _ string) (*macaroons.Macaroon, error) {
	return nil, macaroons.ErrMacaroonNotFound
}

func (m *memMacaroonRepo) ListByUser(_ context.Context, _ string) ([]*macaroons.Macaroon, error) {
	return nil, nil
}

func (m *memMacaroonRepo) UpdateLastUsed(_ context.Context, id string, at time.Time) error {
	if rec, ok := m.records[id]; ok {
		rec.LastUsed = &at
	}
	return nil
}

func (m *memMacaroonRepo) Delete(_ context.Context, id string) error {
	delete(m.records, id)
	return nil
}

type memPublisherRepo struct {
	publishers map[string]*oidc.Publisher
	projects   map[string][]string
}

func newMemPublisherRepo() *memPublisherRepo {
	return &memPublisherRepo{
		publishers: make(map[string]*oidc.Publisher),
		projects:   make(map[string][]string),
	}
}

func (m *memPublisherRepo) Create(_ context.Context, p *oidc.Publisher) error {
	m.publishers[p.ID] = p
	return nil
}

func (m *memPublisherRepo) GetByID(_ context.Context, id string) (*oidc.Publisher, error) {
	p, ok := m.publishers[id]
	if !ok {
		return nil, oidc.ErrPublisherNotFound
	}
	return p, nil
}

func (m *memPublisherRepo) FindByClaims(_ context.Context, issuer, repository, workflow, environment string) (*oidc.Publisher, error) {
	for _, p := range m.publishers {
		if p.Issuer == issuer && p.Repository == repository && p.Workflow == workflow {
			return p, nil
		}
	}
	return nil, oidc.ErrPublisherNotFound
}

func (m *memPublisherRepo) ListProjectIDs(_ context.Context, publisherID string) ([]string, error) {
	return m.projects[publisherID], nil
}

func (m *memPublisherRepo) AddProject(_ context.Context, publisherID, projectID string) error {
	m.projects[publisherID] = append(m.projects[publisherID], projectID)
	return nil
}

type testProject struct {
	id   string
	name string
}

func (p testProject) ProjectID() string      { return p.id }
func (p testProject) NormalizedName() string { return p.name }

type policyFixture struct {
	policy    *MacaroonSecurityPolicy
	users     *accounts.Service
	macaroons *macaroons.Service
	user      *accounts.User
}

func newPolicyFixture(t *testing.T) *policyFixture {
	t.Helper()
	auditLogger := audit.NewSlogLogger()

	userRepo := newMemUserRepo()
	users := accounts.NewService(userRepo, accounts.NewPasswordHasher(65536, 3, 4, 16, 32),
		auditLogger, 5, 5*time.Minute)
	user, err := users.Register(context.Background(), "alice", "alice@example.com", "SecurePassword123")
	require.NoError(t, err)

	macaroonSvc := macaroons.NewService(newMemMacaroonRepo(), caveats.NewRegistry(), auditLogger)
	publisherSvc := oidc.NewService(newMemPublisherRepo(), macaroonSvc, nil, "pypi",
		"https://pypi.org", 15*time.Minute, auditLogger)

	return &policyFixture{
		policy:    NewMacaroonSecurityPolicy(macaroonSvc, users, publisherSvc),
		users:     users,
		macaroons: macaroonSvc,
		user:      user,
	}
}

func tokenRequest(token string) *http.Request {
	r := httptest.NewRequest("POST", "/legacy/", nil)
	r.Header.Set("Authorization", "token "+token)
	return r
}

// TestPurpose: Validates identity resolution for the API token policy.
// Scope: Unit Test
// Expected: A valid user token resolves to its owner; garbage and foreign
// credentials resolve to no identity without erroring.
func TestAuth_MacaroonPolicy_Identity(t *testing.T) {
	f := newPolicyFixture(t)
	ctx := context.Background()

	token, rec, err := f.macaroons.CreateMacaroon(ctx, "https://pypi.org", "ci token",
		[]caveats.Caveat{caveats.ProjectNames{Names: []string{"foo"}}},
		macaroons.CreateOptions{UserID: f.user.ID})
	require.NoError(t, err)

	identity, err := f.policy.Identity(ctx, tokenRequest(token))
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, f.user.ID, identity.User.ID)
	require.NotNil(t, identity.Macaroon)
	assert.Equal(t, rec.ID, identity.Macaroon.ID)

	identity, err = f.policy.Identity(ctx, tokenRequest("pypi-garbage"))
	require.NoError(t, err)
	assert.Nil(t, identity)

	identity, err = f.policy.Identity(ctx, httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Nil(t, identity)
}

// TestPurpose: Validates that the API token permission allow-list runs
// before token verification.
// Scope: Unit Test
// Security: A cryptographically valid token must not authorize non-upload
// operations.
// Expected: invalid_permission denial naming the requested permission.
func TestAuth_MacaroonPolicy_Permits_AllowList(t *testing.T) {
	f := newPolicyFixture(t)
	ctx := context.Background()

	token, _, err := f.macaroons.CreateMacaroon(ctx, "https://pypi.org", "ci token", nil,
		macaroons.CreateOptions{UserID: f.user.ID})
	require.NoError(t, err)

	r := tokenRequest(token)
	identity, err := f.policy.Identity(ctx, r)
	require.NoError(t, err)

	decision := f.policy.Permits(ctx, r, identity, nil, "manage:project")
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonInvalidPermission, decision.Reason)
	assert.Equal(t, "API tokens are not valid for permission: manage:project!", decision.Detail)
}

// TestPurpose: Validates upload authorization end to end through the policy:
// scope caveats decide per-project access.
// Scope: Unit Test
// Expected: Allowed for an in-scope project; denied with the caveat's reason
// for an out-of-scope one.
func TestAuth_MacaroonPolicy_Permits_Upload(t *testing.T) {
	f := newPolicyFixture(t)
	ctx := context.Background()

	token, _, err := f.macaroons.CreateMacaroon(ctx, "https://pypi.org", "ci token",
		[]caveats.Caveat{caveats.ProjectNames{Names: []string{"foo"}}},
		macaroons.CreateOptions{UserID: f.user.ID})
	require.NoError(t, err)

	r := tokenRequest(token)
	identity, err := f.policy.Identity(ctx, r)
	require.NoError(t, err)

	decision := f.policy.Permits(ctx, r, identity, testProject{id: "p-1", name: "foo"}, "upload")
	assert.True(t, decision.Allowed)

	decision = f.policy.Permits(ctx, r, identity, testProject{id: "p-2", name: "bar"}, "upload")
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Detail, "project-scoped token is not valid for project: bar")
}

// TestPurpose: Validates multi-policy composition: first resolving policy
// owns the request, unauthenticated requests are denied, and the middleware
// stamps cache-variance headers.
// Scope: Unit Test
// Expected: Token requests dispatch to the token policy; no identity means
// a no_identity denial; responses vary on Authorization and Cookie.
func TestAuth_MultiPolicy(t *testing.T) {
	f := newPolicyFixture(t)
	ctx := context.Background()
	multi := NewMultiSecurityPolicy(f.policy)

	token, _, err := f.macaroons.CreateMacaroon(ctx, "https://pypi.org", "ci token", nil,
		macaroons.CreateOptions{UserID: f.user.ID})
	require.NoError(t, err)

	t.Run("dispatches to resolving policy", func(t *testing.T) {
		r := tokenRequest(token)
		identity, err := multi.Identity(ctx, r)
		require.NoError(t, err)
		require.NotNil(t, identity)

		decision := multi.Permits(ctx, r, identity, nil, "upload")
		assert.True(t, decision.Allowed)
	})

	t.Run("no identity is denied", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/legacy/", nil)
		decision := multi.Permits(ctx, r, nil, nil, "upload")
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonNoIdentity, decision.Reason)
	})

	t.Run("permits rejects an identity the request did not resolve", func(t *testing.T) {
		r := tokenRequest(token)
		identity, err := multi.Identity(ctx, r)
		require.NoError(t, err)
		require.NotNil(t, identity)
		cachedCtx := WithIdentity(ctx, identity)

		decision := multi.Permits(cachedCtx, r, identity, nil, "upload")
		assert.True(t, decision.Allowed, "the cached identity itself must pass the guard")

		foreign, err := multi.Identity(ctx, r)
		require.NoError(t, err)
		decision = multi.Permits(cachedCtx, r, foreign, nil, "upload")
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonNoIdentity, decision.Reason)
	})

	t.Run("middleware sets vary and context identity", func(t *testing.T) {
		var got *Identity
		handler := multi.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = IdentityFromContext(r.Context())
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, tokenRequest(token))

		assert.ElementsMatch(t, []string{"Authorization", "Cookie"}, w.Header().Values("Vary"))
		require.NotNil(t, got)
		assert.Equal(t, f.user.ID, got.User.ID)
	})
}
