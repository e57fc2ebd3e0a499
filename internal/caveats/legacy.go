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
	"encoding/json"
	"fmt"
)

// Tokens issued before the tagged-array format carried caveats as JSON
// objects in one of three shapes: a "V1" shape keyed by a permissions field,
// an expiry shape keyed by exp/nbf, and a project-ids shape. Those tokens
// are still in circulation, so the adapter rewrites each shape into the
// corresponding tagged array before normal decoding proceeds.

func adaptLegacy(data []byte, subject *Subject) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("%w: malformed legacy caveat", ErrDeserialization)
	}

	if permissions, ok := obj["permissions"]; ok {
		return adaptV1Permissions(permissions, subject)
	}

	if exp, ok := obj["exp"]; ok {
		nbf, ok := obj["nbf"]
		if !ok {
			return nil, fmt.Errorf(
				"%w: legacy expiry caveat is missing nbf", ErrDeserialization,
			)
		}
		return json.Marshal([]json.RawMessage{
			mustMarshal(int(TagExpiration)), exp, nbf,
		})
	}

	if ids, ok := obj["project_ids"]; ok {
		return json.Marshal([]json.RawMessage{
			mustMarshal(int(TagProjectIDs)), ids,
		})
	}

	return nil, fmt.Errorf("%w: unrecognized legacy caveat", ErrDeserialization)
}

// adaptV1Permissions handles the oldest shape. The permissions field is
// either the literal string "user" or an object with a projects list. The
// "user" form carries no user id of its own, so it can only be adapted when
// the caller supplied the request's authenticated user.
func adaptV1Permissions(permissions json.RawMessage, subject *Subject) ([]byte, error) {
	var literal string
	if err := json.Unmarshal(permissions, &literal); err == nil {
		if literal != "user" {
			return nil, fmt.Errorf(
				"%w: unknown legacy permissions %q", ErrDeserialization, literal,
			)
		}
		if subject == nil || subject.UserID == "" {
			return nil, fmt.Errorf(
				"%w: legacy user caveat without an authenticated user",
				ErrDeserialization,
			)
		}
		return json.Marshal([]any{int(TagRequestUser), subject.UserID})
	}

	var scoped struct {
		Projects []string `json:"projects"`
	}
	if err := json.Unmarshal(permissions, &scoped); err != nil || scoped.Projects == nil {
		return nil, fmt.Errorf(
			"%w: legacy permissions caveat without projects", ErrDeserialization,
		)
	}
	return json.Marshal([]any{int(TagProjectNames), scoped.Projects})
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
