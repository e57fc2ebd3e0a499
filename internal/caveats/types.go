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

package caveats

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// timeNow is swapped out by tests that pin the verification clock.
var timeNow = time.Now

// Expiration restricts a token to a validity window. The lower bound is
// inclusive, the upper bound exclusive. Both ends fail with the same message
// so callers cannot probe the window boundaries.
type Expiration struct {
	ExpiresAt int64
	NotBefore int64
}

func (Expiration) Tag() Tag { return TagExpiration }

func (c Expiration) fields() []any { return []any{c.ExpiresAt, c.NotBefore} }

func (c Expiration) Verify(_ *Request, _ any, _ string) error {
	now := timeNow().Unix()
	if c.NotBefore <= now && now < c.ExpiresAt {
		return nil
	}
	return errors.New("token is expired")
}

// ProjectNames restricts a token to projects identified by normalized name.
type ProjectNames struct {
	Names []string
}

func (ProjectNames) Tag() Tag { return TagProjectNames }

func (c ProjectNames) fields() []any { return []any{c.Names} }

func (c ProjectNames) Verify(_ *Request, context any, _ string) error {
	project, ok := context.(Project)
	if !ok {
		return errors.New("project-scoped token used outside of a project context")
	}
	if !slices.Contains(c.Names, project.NormalizedName()) {
		return fmt.Errorf(
			"project-scoped token is not valid for project: %s",
			project.NormalizedName(),
		)
	}
	return nil
}

// ProjectIDs restricts a token to projects identified by their stable id.
// Names can be released and reused; ids cannot, which makes this the
// stronger restriction for newly issued tokens.
type ProjectIDs struct {
	IDs []string
}

func (ProjectIDs) Tag() Tag { return TagProjectIDs }

func (c ProjectIDs) fields() []any { return []any{c.IDs} }

func (c ProjectIDs) Verify(_ *Request, context any, _ string) error {
	project, ok := context.(Project)
	if !ok {
		return errors.New("project-scoped token used outside of a project context")
	}
	if !slices.Contains(c.IDs, project.ProjectID()) {
		return fmt.Errorf(
			"project-scoped token is not valid for project: %s",
			project.NormalizedName(),
		)
	}
	return nil
}

// RequestUser restricts a token to requests whose identity is the named
// user, resolved through the same token being verified.
type RequestUser struct {
	UserID string
}

func (RequestUser) Tag() Tag { return TagRequestUser }

func (c RequestUser) fields() []any { return []any{c.UserID} }

func (c RequestUser) Verify(req *Request, _ any, _ string) error {
	if req == nil || req.User == nil {
		return errors.New("token with user restriction without a user")
	}
	if req.User.MacaroonID == "" {
		return errors.New("token with user restriction without a macaroon")
	}
	if req.User.UserID != c.UserID {
		return errors.New("current user does not match user restriction in token")
	}
	return nil
}

// OIDCPublisher restricts a token to requests made by the named OIDC
// publisher against one of its registered projects. Claims is a legacy
// field kept for wire compatibility; it is never consulted during
// verification.
type OIDCPublisher struct {
	PublisherID string
	Claims      map[string]any
}

func (OIDCPublisher) Tag() Tag { return TagOIDCPublisher }

func (c OIDCPublisher) fields() []any { return []any{c.PublisherID, c.Claims} }

func (c OIDCPublisher) Verify(req *Request, context any, _ string) error {
	if req == nil || req.Publisher == nil {
		return errors.New("OIDC scoped token used outside of an OIDC identified request")
	}
	if req.Publisher.PublisherID != c.PublisherID {
		return errors.New("current OIDC publisher does not match publisher restriction in token")
	}
	project, ok := context.(Project)
	if !ok {
		return errors.New("OIDC scoped token used outside of a project context")
	}
	if !slices.Contains(req.Publisher.ProjectIDs, project.ProjectID()) {
		return fmt.Errorf(
			"OIDC scoped token is not valid for project '%s'",
			project.NormalizedName(),
		)
	}
	return nil
}
