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

// Package auth decides who a request is and what it may do. Identity
// resolution and permission checks are split so that "who are you" is
// computed once per request while "may you do X" runs per operation.
package auth

import (
	"context"
	"net/http"

	"github.com/pypi/warehouse/internal/accounts"
	"github.com/pypi/warehouse/internal/caveats"
	"github.com/pypi/warehouse/internal/macaroons"
)

// Reason codes carried on denials
const (
	ReasonInvalidPermission = "invalid_permission"
	ReasonNoIdentity        = "no_identity"
)

// Decision is the outcome of a permission check
type Decision struct {
	Allowed bool
	Reason  string
	Detail  string
}

// Allow is the affirmative decision.
var Allow = Decision{Allowed: true}

// Deny builds a denial with a machine reason and human detail
func Deny(reason, detail string) Decision {
	return Decision{Reason: reason, Detail: detail}
}

// Identity is who a request resolved to: exactly one of User or Publisher is
// set. Macaroon is non-nil when the identity came from an API token.
type Identity struct {
	User *accounts.User

	// PublisherID and PublisherProjectIDs describe an OIDC publisher
	// identity.
	PublisherID         string
	PublisherProjectIDs []string

	Macaroon *macaroons.Macaroon

	// policy is the sub-policy that produced this identity; set by
	// MultiSecurityPolicy so Permits dispatches back to it.
	policy SecurityPolicy
}

// Request converts the identity into the view caveat predicates inspect.
func (i *Identity) Request() *caveats.Request {
	if i == nil {
		return &caveats.Request{}
	}
	req := &caveats.Request{}
	if i.User != nil {
		macaroonID := ""
		if i.Macaroon != nil {
			macaroonID = i.Macaroon.ID
		}
		req.User = &caveats.UserIdentity{UserID: i.User.ID, MacaroonID: macaroonID}
	}
	if i.PublisherID != "" {
		req.Publisher = &caveats.PublisherIdentity{
			PublisherID: i.PublisherID,
			ProjectIDs:  i.PublisherProjectIDs,
		}
	}
	return req
}

// SecurityPolicy resolves request identity and authorizes operations.
// Identity returns (nil, nil) when the policy simply does not apply to the
// request; errors are reserved for requests the policy owns but must reject.
type SecurityPolicy interface {
	Identity(ctx context.Context, r *http.Request) (*Identity, error)
	Permits(ctx context.Context, r *http.Request, identity *Identity, authContext any, permission string) Decision
}

type contextKey string

const identityContextKey contextKey = "auth.identity"

// WithIdentity stores a resolved identity on the context
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext returns the request's resolved identity, if any
func IdentityFromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(identityContextKey).(*Identity)
	return identity
}
