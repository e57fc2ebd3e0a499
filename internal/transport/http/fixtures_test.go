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

package http

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pypi/warehouse/internal/accounts"
	"github.com/pypi/warehouse/internal/audit"
	"github.com/pypi/warehouse/internal/auth"
	"github.com/pypi/warehouse/internal/caveats"
	"github.com/pypi/warehouse/internal/macaroons"
	"github.com/pypi/warehouse/internal/oidc"
	"github.com/pypi/warehouse/internal/packaging"
	"github.com/pypi/warehouse/internal/session"
)

// In-memory repositories backing the handler tests.

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*accounts.User
	creds map[string]*accounts.Credentials
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{
		users: map[string]*accounts.User{},
		creds: map[string]*accounts.Credentials{},
	}
}

func (r *memUserRepo) Create(_ context.Context, user *accounts.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == user.Username {
			return accounts.ErrUserAlreadyExists
		}
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) AddCredentials(_ context.Context, c *accounts.Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.creds[c.UserID] = &cp
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*accounts.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, accounts.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) GetByUsername(_ context.Context, username string) (*accounts.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, accounts.ErrUserNotFound
}

func (r *memUserRepo) Update(_ context.Context, user *accounts.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) UpdateLockout(_ context.Context, userID string, attempts int, lockedUntil *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return accounts.ErrUserNotFound
	}
	u.FailedLoginAttempts = attempts
	u.LockedUntil = lockedUntil
	return nil
}

func (r *memUserRepo) GetCredentials(_ context.Context, userID string) (*accounts.Credentials, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[userID]
	if !ok {
		return nil, accounts.ErrUserNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memUserRepo) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[userID]
	if !ok {
		return accounts.ErrUserNotFound
	}
	c.PasswordHash = passwordHash
	return nil
}

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: map[string]*session.Session{}}
}

func (r *memSessionRepo) Create(_ context.Context, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *memSessionRepo) Get(_ context.Context, id string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) Update(_ context.Context, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *memSessionRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *memSessionRepo) DeleteByUserID(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
		}
	}
	return nil
}

func (r *memSessionRepo) DeleteExpired(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.IsExpired() {
			delete(r.sessions, id)
		}
	}
	return nil
}

type memMacaroonRepo struct {
	mu      sync.Mutex
	records map[string]*macaroons.Macaroon
}

func newMemMacaroonRepo() *memMacaroonRepo {
	return &memMacaroonRepo{records: map[string]*macaroons.Macaroon{}}
}

func (r *memMacaroonRepo) Create(_ context.Context, m *macaroons.Macaroon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.records[m.ID] = &cp
	return nil
}

func (r *memMacaroonRepo) GetByID(_ context.Context, id string) (*macaroons.Macaroon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.records[id]
	if !ok {
		return nil, macaroons.ErrMacaroonNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *memMacaroonRepo) GetByUserAndDescription(_ context.Context, userID, description string) (*macaroons.Macaroon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.records {
		if m.UserID != nil && *m.UserID == userID && m.Description == description {
			cp := *m
			return &cp, nil
		}
	}
	return nil, macaroons.ErrMacaroonNotFound
}

func (r *memMacaroonRepo) ListByUser(_ context.Context, userID string) ([]*macaroons.Macaroon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*macaroons.Macaroon
	for _, m := range r.records {
		if m.UserID != nil && *m.UserID == userID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out, nil
}

func (r *memMacaroonRepo) UpdateLastUsed(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.records[id]
	if !ok {
		return macaroons.ErrMacaroonNotFound
	}
	m.LastUsed = &at
	return nil
}

func (r *memMacaroonRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	return nil
}

type memProjectRepo struct {
	mu       sync.Mutex
	projects map[string]*packaging.Project
}

func newMemProjectRepo() *memProjectRepo {
	return &memProjectRepo{projects: map[string]*packaging.Project{}}
}

func (r *memProjectRepo) Create(_ context.Context, p *packaging.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.projects[p.ID] = &cp
	return nil
}

func (r *memProjectRepo) GetByID(_ context.Context, id string) (*packaging.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, packaging.ErrProjectNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memProjectRepo) GetByNormalizedName(_ context.Context, normalized string) (*packaging.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.projects {
		if p.Normalized == normalized {
			cp := *p
			return &cp, nil
		}
	}
	return nil, packaging.ErrProjectNotFound
}

type memRoleRepo struct {
	mu    sync.Mutex
	roles map[string]*packaging.Role
}

func newMemRoleRepo() *memRoleRepo {
	return &memRoleRepo{roles: map[string]*packaging.Role{}}
}

func (r *memRoleRepo) Create(_ context.Context, role *packaging.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *role
	r.roles[role.ID] = &cp
	return nil
}

func (r *memRoleRepo) Get(_ context.Context, userID, projectID string) (*packaging.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range r.roles {
		if role.UserID == userID && role.ProjectID == projectID {
			cp := *role
			return &cp, nil
		}
	}
	return nil, packaging.ErrRoleNotFound
}

func (r *memRoleRepo) ListByProject(_ context.Context, projectID string) ([]*packaging.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*packaging.Role
	for _, role := range r.roles {
		if role.ProjectID == projectID {
			cp := *role
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRoleRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.roles, id)
	return nil
}

type memPublisherRepo struct {
	mu         sync.Mutex
	publishers map[string]*oidc.Publisher
	projects   map[string][]string
}

func newMemPublisherRepo() *memPublisherRepo {
	return &memPublisherRepo{
		publishers: map[string]*oidc.Publisher{},
		projects:   map[string][]string{},
	}
}

func (r *memPublisherRepo) Create(_ context.Context, p *oidc.Publisher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.publishers[p.ID] = &cp
	return nil
}

func (r *memPublisherRepo) GetByID(_ context.Context, id string) (*oidc.Publisher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.publishers[id]
	if !ok {
		return nil, oidc.ErrPublisherNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memPublisherRepo) FindByClaims(_ context.Context, issuer, repository, workflow, environment string) (*oidc.Publisher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.publishers {
		if p.Issuer == issuer && p.Repository == repository && p.Workflow == workflow &&
			(p.Environment == "" || p.Environment == environment) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, oidc.ErrPublisherNotFound
}

func (r *memPublisherRepo) ListProjectIDs(_ context.Context, publisherID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.projects[publisherID]...), nil
}

func (r *memPublisherRepo) AddProject(_ context.Context, publisherID, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects[publisherID] = append(r.projects[publisherID], projectID)
	return nil
}

// handlerFixture wires real services over in-memory repositories.
type handlerFixture struct {
	handler    *Handler
	router     http.Handler
	users      *accounts.Service
	sessions   *session.Service
	macaroons  *macaroons.Service
	projects   *packaging.Service
	publishers *memPublisherRepo
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	auditLogger := audit.NewSlogLogger()

	userService := accounts.NewService(
		newMemUserRepo(), accounts.NewPasswordHasher(19456, 2, 1, 16, 32), auditLogger, 5, 15*time.Minute,
	)
	sessionService := session.NewService(
		newMemSessionRepo(), auditLogger, 24*time.Hour, time.Hour,
	)
	macaroonService := macaroons.NewService(
		newMemMacaroonRepo(), caveats.NewRegistry(), auditLogger,
	)
	projectService := packaging.NewService(newMemProjectRepo(), newMemRoleRepo())

	publisherRepo := newMemPublisherRepo()
	oidcService := oidc.NewService(
		publisherRepo,
		macaroonService,
		func(*jwt.Token) (any, error) { return nil, jwt.ErrTokenUnverifiable },
		"pypi",
		"https://pypi.org",
		15*time.Minute,
		auditLogger,
	)

	cookieName := "warehouse_session"
	policy := auth.NewMultiSecurityPolicy(
		auth.NewSessionSecurityPolicy(sessionService, userService, projectService, cookieName),
		auth.NewBasicAuthSecurityPolicy(userService),
		auth.NewMacaroonSecurityPolicy(macaroonService, userService, oidcService),
	)

	h := NewHandler(
		userService,
		sessionService,
		macaroonService,
		projectService,
		oidcService,
		policy,
		auditLogger,
		SessionConfig{
			CookieName:     cookieName,
			CookiePath:     "/",
			CookieSecure:   true,
			CookieHTTPOnly: true,
			CookieSameSite: http.SameSiteLaxMode,
		},
		"https://pypi.org",
	)

	return &handlerFixture{
		handler:    h,
		router:     NewRouter(h, NewRateLimiter(1000, 1000)),
		users:      userService,
		sessions:   sessionService,
		macaroons:  macaroonService,
		projects:   projectService,
		publishers: publisherRepo,
	}
}
