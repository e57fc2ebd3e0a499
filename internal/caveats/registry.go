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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDeserialization is wrapped by every failure to decode a serialized
// caveat: non-array payloads, empty arrays, unknown tags, missing required
// fields, type-invalid fields, and unadaptable legacy shapes.
var ErrDeserialization = errors.New("caveat deserialization failed")

// decodeFunc reconstructs a variant from the field tuple that followed its
// tag. Missing trailing fields must be resolved to the variant's defaults.
type decodeFunc func(fields []json.RawMessage) (Caveat, error)

type definition struct {
	name   string
	decode decodeFunc
}

// Registry maps wire tags to caveat variants. It is constructed explicitly
// at process start; there is no import-time registration.
type Registry struct {
	defs map[Tag]definition
}

// NewRegistry returns a registry with every shipped caveat variant
// registered.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[Tag]definition)}
	r.Register(TagExpiration, "expiration", decodeExpiration)
	r.Register(TagProjectNames, "project-names", decodeProjectNames)
	r.Register(TagProjectIDs, "project-ids", decodeProjectIDs)
	r.Register(TagRequestUser, "request-user", decodeRequestUser)
	r.Register(TagOIDCPublisher, "oidc-publisher", decodeOIDCPublisher)
	return r
}

// Register adds a variant under the given tag. Registering a tag twice is a
// programming error and panics immediately rather than surfacing at request
// time.
func (r *Registry) Register(tag Tag, name string, decode decodeFunc) {
	if existing, ok := r.defs[tag]; ok {
		panic(fmt.Sprintf(
			"caveat tag %d already registered as %q, cannot register %q",
			tag, existing.name, name,
		))
	}
	r.defs[tag] = definition{name: name, decode: decode}
}

// Serialize produces the canonical wire form of a caveat: a JSON array
// [tag, field0, field1, ...] with no extraneous whitespace and sorted object
// keys. The bytes are HMAC-chained into the token signature, so the encoding
// must be deterministic.
func Serialize(c Caveat) ([]byte, error) {
	arr := append([]any{int(c.Tag())}, c.fields()...)
	data, err := json.Marshal(arr)
	if err != nil {
		return nil, fmt.Errorf("serializing caveat: %w", err)
	}
	return data, nil
}

// Deserialize decodes one serialized caveat. Inputs in the historical object
// format are first rewritten by the legacy adapter; subject supplies the
// current user for the legacy "user" permissions shape and may be nil.
func (r *Registry) Deserialize(data []byte, subject *Subject) (Caveat, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		adapted, err := adaptLegacy(trimmed, subject)
		if err != nil {
			return nil, err
		}
		trimmed = adapted
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: caveat must be an array", ErrDeserialization)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: caveat array cannot be empty", ErrDeserialization)
	}

	var tag int
	if err := json.Unmarshal(raw[0], &tag); err != nil {
		return nil, fmt.Errorf("%w: caveat tag must be an integer", ErrDeserialization)
	}

	def, ok := r.defs[Tag(tag)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown caveat tag %d", ErrDeserialization, tag)
	}
	return def.decode(raw[1:])
}

// Field accessors. Each returns ErrDeserialization-wrapped errors so codec
// failures stay in one family.

func requireField(fields []json.RawMessage, i int, name string) (json.RawMessage, error) {
	if i >= len(fields) {
		return nil, fmt.Errorf("%w: missing required field %q", ErrDeserialization, name)
	}
	return fields[i], nil
}

func fieldInt64(fields []json.RawMessage, i int, name string) (int64, error) {
	raw, err := requireField(fields, i, name)
	if err != nil {
		return 0, err
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%w: field %q must be an integer", ErrDeserialization, name)
	}
	return v, nil
}

func fieldString(fields []json.RawMessage, i int, name string) (string, error) {
	raw, err := requireField(fields, i, name)
	if err != nil {
		return "", err
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("%w: field %q must be a string", ErrDeserialization, name)
	}
	return v, nil
}

func fieldStrings(fields []json.RawMessage, i int, name string) ([]string, error) {
	raw, err := requireField(fields, i, name)
	if err != nil {
		return nil, err
	}
	var v []string
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: field %q must be a list of strings", ErrDeserialization, name)
	}
	return v, nil
}

// optionalObject reads a trailing object field, returning nil when the field
// is absent or null.
func optionalObject(fields []json.RawMessage, i int, name string) (map[string]any, error) {
	if i >= len(fields) {
		return nil, nil
	}
	if string(bytes.TrimSpace(fields[i])) == "null" {
		return nil, nil
	}
	var v map[string]any
	if err := json.Unmarshal(fields[i], &v); err != nil {
		return nil, fmt.Errorf("%w: field %q must be an object", ErrDeserialization, name)
	}
	return v, nil
}

func decodeExpiration(fields []json.RawMessage) (Caveat, error) {
	expiresAt, err := fieldInt64(fields, 0, "expires_at")
	if err != nil {
		return nil, err
	}
	notBefore, err := fieldInt64(fields, 1, "not_before")
	if err != nil {
		return nil, err
	}
	return Expiration{ExpiresAt: expiresAt, NotBefore: notBefore}, nil
}

func decodeProjectNames(fields []json.RawMessage) (Caveat, error) {
	names, err := fieldStrings(fields, 0, "normalized_names")
	if err != nil {
		return nil, err
	}
	return ProjectNames{Names: names}, nil
}

func decodeProjectIDs(fields []json.RawMessage) (Caveat, error) {
	ids, err := fieldStrings(fields, 0, "project_ids")
	if err != nil {
		return nil, err
	}
	return ProjectIDs{IDs: ids}, nil
}

func decodeRequestUser(fields []json.RawMessage) (Caveat, error) {
	userID, err := fieldString(fields, 0, "user_id")
	if err != nil {
		return nil, err
	}
	return RequestUser{UserID: userID}, nil
}

func decodeOIDCPublisher(fields []json.RawMessage) (Caveat, error) {
	publisherID, err := fieldString(fields, 0, "oidc_publisher_id")
	if err != nil {
		return nil, err
	}
	claims, err := optionalObject(fields, 1, "oidc_claims")
	if err != nil {
		return nil, err
	}
	return OIDCPublisher{PublisherID: publisherID, Claims: claims}, nil
}
