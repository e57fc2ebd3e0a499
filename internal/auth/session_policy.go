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
	"fmt"
	"net/http"

	"github.com/pypi/warehouse/internal/accounts"
	"github.com/pypi/warehouse/internal/caveats"
	"github.com/pypi/warehouse/internal/packaging"
	"github.com/pypi/warehouse/internal/session"
)

// SessionSecurityPolicy authenticates requests carrying a session cookie
type SessionSecurityPolicy struct {
	sessions   *session.Service
	users      *accounts.Service
	projects   *packaging.Service
	cookieName string
}

// NewSessionSecurityPolicy creates the browser session policy
func NewSessionSecurityPolicy(
	sessions *session.Service,
	users *accounts.Service,
	projects *packaging.Service,
	cookieName string,
) *SessionSecurityPolicy {
	return &SessionSecurityPolicy{
		sessions:   sessions,
		users:      users,
		projects:   projects,
		cookieName: cookieName,
	}
}

// Identity resolves the session cookie to its user
func (p *SessionSecurityPolicy) Identity(ctx context.Context, r *http.Request) (*Identity, error) {
	cookie, err := r.Cookie(p.cookieName)
	if err != nil {
		return nil, nil
	}

	sess, err := p.sessions.Validate(ctx, cookie.Value)
	if err != nil {
		return nil, nil
	}

	user, err := p.users.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, nil
	}
	return &Identity{User: user}, nil
}

// Permits authorizes an operation for a session-backed user. Uploads are
// excluded: they must present an API token.
func (p *SessionSecurityPolicy) Permits(
	ctx context.Context,
	_ *http.Request,
	identity *Identity,
	authContext any,
	permission string,
) Decision {
	if identity == nil || identity.User == nil {
		return Deny(ReasonNoIdentity, "authentication required")
	}
	if permission == "upload" {
		return Deny(ReasonInvalidPermission, "uploads require an API token")
	}

	// Project-scoped operations consult the user's role on the project.
	if project, ok := authContext.(caveats.Project); ok {
		allowed, err := p.projects.HasPermission(ctx, identity.User.ID, project.ProjectID(), permission)
		if err != nil || !allowed {
			return Deny(ReasonInvalidPermission,
				fmt.Sprintf("user has no %s permission on project %s", permission, project.NormalizedName()))
		}
	}
	return Allow
}
