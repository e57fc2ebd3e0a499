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
)

// MultiSecurityPolicy tries a list of policies in order. The first one to
// produce an identity owns the request: its Permits decides every operation,
// so a request authenticated by token can never be re-judged under session
// rules.
type MultiSecurityPolicy struct {
	policies []SecurityPolicy
}

// NewMultiSecurityPolicy composes policies; order is precedence
func NewMultiSecurityPolicy(policies ...SecurityPolicy) *MultiSecurityPolicy {
	return &MultiSecurityPolicy{policies: policies}
}

// Identity returns the first identity any sub-policy resolves
func (m *MultiSecurityPolicy) Identity(ctx context.Context, r *http.Request) (*Identity, error) {
	for _, p := range m.policies {
		identity, err := p.Identity(ctx, r)
		if err != nil {
			return nil, err
		}
		if identity != nil {
			identity.policy = p
			return identity, nil
		}
	}
	return nil, nil
}

// Permits dispatches to the policy that produced the identity. The identity
// being judged must be the one cached on the request context; judging any
// other principal's identity is a confused-deputy bug, not a denial to
// negotiate.
func (m *MultiSecurityPolicy) Permits(
	ctx context.Context,
	r *http.Request,
	identity *Identity,
	authContext any,
	permission string,
) Decision {
	if identity == nil || identity.policy == nil {
		return Deny(ReasonNoIdentity, "authentication required")
	}
	if cached := IdentityFromContext(ctx); cached != nil && cached != identity {
		return Deny(ReasonNoIdentity, "identity does not match the authenticated request")
	}
	return identity.policy.Permits(ctx, r, identity, authContext, permission)
}

// Middleware resolves the request identity once, stores it on the context,
// and marks the response as varying on credentials so caches never serve one
// principal's response to another.
func (m *MultiSecurityPolicy) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Authorization")
		w.Header().Add("Vary", "Cookie")

		identity, err := m.Identity(r.Context(), r)
		if err == nil && identity != nil {
			r = r.WithContext(WithIdentity(r.Context(), identity))
		}
		next.ServeHTTP(w, r)
	})
}
