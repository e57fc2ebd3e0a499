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

// Package caveats defines the restrictions that can be embedded in an API
// token and the versioned wire format they are serialized with. A caveat can
// only narrow what an otherwise valid token authorizes, never widen it:
// verification is a logical AND across every embedded caveat plus signature
// validity.
package caveats

// Tag identifies a caveat variant on the wire. Tags are permanent API
// surface: once a tag has shipped it is frozen forever and must never be
// reused, and a variant's fields may only be appended to (with defaults),
// never removed or reordered.
type Tag int

const (
	TagExpiration    Tag = 0
	TagProjectNames  Tag = 1
	TagProjectIDs    Tag = 2
	TagRequestUser   Tag = 3
	TagOIDCPublisher Tag = 4
)

// Caveat is one restriction embedded in an API token. The set of variants is
// closed; all implementations live in this package.
type Caveat interface {
	// Tag returns the variant's wire tag.
	Tag() Tag

	// Verify reports whether the restriction is satisfied for the given
	// request view, authorization context, and requested permission. A nil
	// return means satisfied; a non-nil error carries the human-readable
	// denial reason.
	Verify(req *Request, context any, permission string) error

	// fields returns the ordered field tuple that follows the tag on the
	// wire.
	fields() []any
}

// Request is the slice of per-request state that caveat predicates inspect:
// the identity the request resolved to, if any.
type Request struct {
	User      *UserIdentity
	Publisher *PublisherIdentity
}

// UserIdentity describes a request identified as a user.
type UserIdentity struct {
	UserID string

	// MacaroonID is the id of the API token that produced this identity.
	// It is empty when the identity came from a session or basic auth.
	MacaroonID string
}

// PublisherIdentity describes a request identified as an OIDC publisher.
type PublisherIdentity struct {
	PublisherID string

	// ProjectIDs are the ids of the projects registered to the publisher.
	ProjectIDs []string
}

// Project is implemented by authorization context values that represent a
// package project.
type Project interface {
	ProjectID() string
	NormalizedName() string
}

// Subject supplies the current authenticated user to the legacy caveat
// adapter. The pre-array "user" permissions shape carries no explicit user
// id, so adaptation needs the caller to say who the request is for; a nil
// Subject makes adaptation of that shape fail.
type Subject struct {
	UserID string
}
