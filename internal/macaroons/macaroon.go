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

// Package macaroons issues, verifies, and revokes the HMAC-chained bearer
// tokens ("API tokens") used to authenticate uploads. The persisted record,
// not the token's caveat bytes, is the root of trust: deleting the record
// revokes the token no matter how valid its signature still is.
package macaroons

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Domain errors
var (
	// ErrInvalidMacaroon normalizes every way a raw token can be unusable:
	// malformed prefix or encoding, undecodable identifier, deleted or
	// never-issued record, failed signature or caveat. Callers get one
	// thing to catch and cannot tell "never valid" from "revoked".
	ErrInvalidMacaroon = errors.New("invalid API token")

	// ErrMacaroonNotFound is returned by repositories for lookups of
	// records that do not exist.
	ErrMacaroonNotFound = errors.New("macaroon not found")
)

// Macaroon is the persisted record backing one issued API token. The raw
// bearer token is derived from Key at issuance and never stored.
type Macaroon struct {
	// ID is a server-generated uuid, used as the token's on-the-wire
	// identifier.
	ID string

	// Exactly one of UserID / OIDCPublisherID is set; the database
	// enforces this with a check constraint.
	UserID          *string
	OIDCPublisherID *string

	// Description is a human label, unique per (user, description).
	Description string

	Created  time.Time
	LastUsed *time.Time

	// PermissionsCaveat is a denormalized scope summary kept for UI
	// display only. It is never an authorization input.
	PermissionsCaveat map[string]any

	// Caveats records what was embedded at issuance. Holders can append
	// further caveats to the bearer token without the server ever seeing
	// them, so this list must never be treated as exhaustive; only the
	// cryptographic verification over the presented token is
	// authoritative.
	Caveats []json.RawMessage

	// Additional holds free-form structured data; for publisher-issued
	// tokens it snapshots the signed claims from the exchange.
	Additional map[string]any

	// Key is the 32-byte HMAC root key. Generated at creation, never
	// transmitted.
	Key []byte
}

// Repository is the persistence interface for macaroon records. The service
// is the only writer.
type Repository interface {
	// Create inserts the record. The caller supplies the id.
	Create(ctx context.Context, m *Macaroon) error

	// GetByID returns the record or ErrMacaroonNotFound.
	GetByID(ctx context.Context, id string) (*Macaroon, error)

	// GetByUserAndDescription returns a user's record with the given
	// description, or ErrMacaroonNotFound.
	GetByUserAndDescription(ctx context.Context, userID, description string) (*Macaroon, error)

	// ListByUser returns all of a user's records, newest first.
	ListByUser(ctx context.Context, userID string) ([]*Macaroon, error)

	// UpdateLastUsed records a successful verification. Last writer wins.
	UpdateLastUsed(ctx context.Context, id string, at time.Time) error

	// Delete hard-deletes the record. Deleting a nonexistent id is a
	// no-op.
	Delete(ctx context.Context, id string) error
}
