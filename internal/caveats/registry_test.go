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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that every registered caveat variant survives a
// serialize/deserialize round trip unchanged.
// Scope: Unit Test
// Expected: deserialize(serialize(c)) == c for each variant.
func TestCaveats_Codec_RoundTrip(t *testing.T) {
	registry := NewRegistry()

	cases := []struct {
		name   string
		caveat Caveat
	}{
		{"expiration", Expiration{ExpiresAt: 1700000000, NotBefore: 1690000000}},
		{"project names", ProjectNames{Names: []string{"foo", "bar"}}},
		{"project ids", ProjectIDs{IDs: []string{"306cca25-f128-4d0e-9528-3f6344c3c914"}}},
		{"request user", RequestUser{UserID: "ad9e1f8a-07ab-4f55-8bd3-9c5f2b4a8a10"}},
		{"oidc publisher", OIDCPublisher{PublisherID: "pub-1"}},
		{
			"oidc publisher with claims",
			OIDCPublisher{PublisherID: "pub-1", Claims: map[string]any{"ref": "refs/heads/main"}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Serialize(tc.caveat)
			require.NoError(t, err)

			decoded, err := registry.Deserialize(data, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.caveat, decoded)
		})
	}
}

// The serialized form is HMAC-chained into token signatures, so the bytes
// must be byte-for-byte deterministic.
func TestCaveats_Codec_CanonicalEncoding(t *testing.T) {
	data, err := Serialize(Expiration{ExpiresAt: 200, NotBefore: 100})
	require.NoError(t, err)
	assert.Equal(t, `[0,200,100]`, string(data))

	data, err = Serialize(ProjectNames{Names: []string{"foo"}})
	require.NoError(t, err)
	assert.Equal(t, `[1,["foo"]]`, string(data))
}

// Trailing fields appended to a shipped variant resolve to their defaults
// when an older serialization omits them.
func TestCaveats_Codec_OmittedTrailingFieldDefaults(t *testing.T) {
	registry := NewRegistry()

	decoded, err := registry.Deserialize([]byte(`[4,"pub-1"]`), nil)
	require.NoError(t, err)
	assert.Equal(t, OIDCPublisher{PublisherID: "pub-1"}, decoded)

	decoded, err = registry.Deserialize([]byte(`[4,"pub-1",null]`), nil)
	require.NoError(t, err)
	assert.Equal(t, OIDCPublisher{PublisherID: "pub-1"}, decoded)
}

func TestCaveats_Codec_DeserializeFailures(t *testing.T) {
	registry := NewRegistry()

	cases := []struct {
		name string
		data string
	}{
		{"not an array", `"notanarray"`},
		{"number payload", `42`},
		{"empty array", `[]`},
		{"non-integer tag", `["zero",1,2]`},
		{"unknown tag", `[99,"field"]`},
		{"missing required field", `[0,1700000000]`},
		{"type-invalid field", `[1,"not-a-list"]`},
		{"type-invalid id list", `[2,[1,2,3]]`},
		{"garbage", `not json at all`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := registry.Deserialize([]byte(tc.data), nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDeserialization)
		})
	}
}

// TestPurpose: Validates tag immutability — a tag can be bound to exactly
// one variant for the life of the process.
// Scope: Unit Test
// Expected: Re-registering a tag panics at registration time, not at use
// time.
func TestCaveats_Registry_DuplicateTagPanics(t *testing.T) {
	registry := NewRegistry()

	require.Panics(t, func() {
		registry.Register(TagExpiration, "expiration-again", decodeExpiration)
	})
}

func TestCaveats_Registry_NextFreeTagRegisters(t *testing.T) {
	registry := NewRegistry()

	require.NotPanics(t, func() {
		registry.Register(Tag(5), "future-variant", func(fields []json.RawMessage) (Caveat, error) {
			return Expiration{}, nil
		})
	})
}
