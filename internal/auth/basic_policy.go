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

	"github.com/pypi/warehouse/internal/accounts"
)

// BasicAuthSecurityPolicy authenticates username/password basic auth. The
// __token__ sentinel is explicitly not handled here; those requests belong
// to the API token policy.
type BasicAuthSecurityPolicy struct {
	users *accounts.Service
}

// NewBasicAuthSecurityPolicy creates the password basic auth policy
func NewBasicAuthSecurityPolicy(users *accounts.Service) *BasicAuthSecurityPolicy {
	return &BasicAuthSecurityPolicy{users: users}
}

// Identity authenticates the basic auth credentials against the account
// store. Bad credentials yield no identity; the accounts service has already
// counted the failure toward lockout.
func (p *BasicAuthSecurityPolicy) Identity(ctx context.Context, r *http.Request) (*Identity, error) {
	username, password, ok := r.BasicAuth()
	if !ok || username == BasicAuthTokenUsername {
		return nil, nil
	}

	user, err := p.users.Authenticate(ctx, username, password)
	if err != nil {
		return nil, nil
	}
	return &Identity{User: user}, nil
}

// Permits rejects everything: password basic auth identifies a user for
// informational endpoints but authorizes no write operation. Uploads in
// particular were moved to API tokens.
func (p *BasicAuthSecurityPolicy) Permits(
	_ context.Context,
	_ *http.Request,
	_ *Identity,
	_ any,
	permission string,
) Decision {
	if permission == "upload" {
		return Deny(ReasonInvalidPermission,
			"username/password uploads are no longer supported, use an API token")
	}
	return Deny(ReasonInvalidPermission, "basic auth does not authorize this operation")
}
