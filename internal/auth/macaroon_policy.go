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
	"github.com/pypi/warehouse/internal/macaroons"
	"github.com/pypi/warehouse/internal/oidc"
)

// macaroonPermissions is the closed set of operations an API token may ever
// authorize, regardless of its caveats. Everything else needs a session.
var macaroonPermissions = map[string]bool{
	"upload": true,
}

// MacaroonSecurityPolicy authenticates requests bearing API tokens
type MacaroonSecurityPolicy struct {
	macaroons  *macaroons.Service
	users      *accounts.Service
	publishers *oidc.Service
}

// NewMacaroonSecurityPolicy creates the API token policy
func NewMacaroonSecurityPolicy(
	macaroonSvc *macaroons.Service,
	users *accounts.Service,
	publishers *oidc.Service,
) *MacaroonSecurityPolicy {
	return &MacaroonSecurityPolicy{
		macaroons:  macaroonSvc,
		users:      users,
		publishers: publishers,
	}
}

// Identity resolves the bearer token to its owning user or publisher. A
// request without a token is simply not ours; a token that does not resolve
// yields no identity rather than an error, so a later policy may still
// apply.
func (p *MacaroonSecurityPolicy) Identity(ctx context.Context, r *http.Request) (*Identity, error) {
	raw, ok := ExtractToken(r)
	if !ok {
		return nil, nil
	}

	rec, err := p.macaroons.FindFromRaw(ctx, raw)
	if err != nil {
		return nil, nil
	}

	if rec.UserID != nil {
		user, err := p.users.GetUser(ctx, *rec.UserID)
		if err != nil {
			return nil, nil
		}
		return &Identity{User: user, Macaroon: rec}, nil
	}

	if rec.OIDCPublisherID != nil {
		pubIdentity, err := p.publishers.IdentityFor(ctx, *rec.OIDCPublisherID)
		if err != nil {
			return nil, nil
		}
		return &Identity{
			PublisherID:         pubIdentity.PublisherID,
			PublisherProjectIDs: pubIdentity.ProjectIDs,
			Macaroon:            rec,
		}, nil
	}

	return nil, nil
}

// Permits authorizes one operation with the presented token. The permission
// allow-list runs before cryptographic verification: a perfectly valid token
// still cannot, say, change a password.
func (p *MacaroonSecurityPolicy) Permits(
	ctx context.Context,
	r *http.Request,
	identity *Identity,
	authContext any,
	permission string,
) Decision {
	if !macaroonPermissions[permission] {
		return Deny(ReasonInvalidPermission,
			fmt.Sprintf("API tokens are not valid for permission: %s!", permission))
	}

	raw, ok := ExtractToken(r)
	if !ok {
		return Deny(macaroons.ReasonInvalidAPIToken, "missing API token")
	}

	if err := p.macaroons.Verify(ctx, raw, identity.Request(), authContext, permission); err != nil {
		return Deny(macaroons.ReasonInvalidAPIToken, err.Error())
	}
	return Allow
}
