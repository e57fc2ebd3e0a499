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
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestPurpose: Validates token extraction from both accepted transports and
// their agreement on whitespace handling.
// Scope: Unit Test
// Expected: "token <raw>" headers and __token__ basic auth yield identical
// bytes; anything else yields no token.
func TestAuth_ExtractToken(t *testing.T) {
	t.Run("token scheme", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/legacy/", nil)
		r.Header.Set("Authorization", "token pypi-abc123")
		token, ok := ExtractToken(r)
		assert.True(t, ok)
		assert.Equal(t, "pypi-abc123", token)
	})

	t.Run("scheme is case-insensitive", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/legacy/", nil)
		r.Header.Set("Authorization", "Token pypi-abc123")
		token, ok := ExtractToken(r)
		assert.True(t, ok)
		assert.Equal(t, "pypi-abc123", token)
	})

	t.Run("bearer scheme", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/legacy/", nil)
		r.Header.Set("Authorization", "Bearer pypi-abc123")
		token, ok := ExtractToken(r)
		assert.True(t, ok)
		assert.Equal(t, "pypi-abc123", token)
	})

	t.Run("surrounding whitespace stripped", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/legacy/", nil)
		r.Header.Set("Authorization", "token   pypi-abc123  ")
		token, ok := ExtractToken(r)
		assert.True(t, ok)
		assert.Equal(t, "pypi-abc123", token)
	})

	t.Run("basic auth sentinel", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/legacy/", nil)
		r.SetBasicAuth("__token__", " pypi-abc123 ")
		token, ok := ExtractToken(r)
		assert.True(t, ok)
		assert.Equal(t, "pypi-abc123", token)
	})

	t.Run("basic auth with real username is not a token", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/legacy/", nil)
		r.SetBasicAuth("alice", "hunter22")
		_, ok := ExtractToken(r)
		assert.False(t, ok)
	})

	t.Run("unknown scheme", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/legacy/", nil)
		r.Header.Set("Authorization", "Digest abc")
		_, ok := ExtractToken(r)
		assert.False(t, ok)
	})

	t.Run("empty token", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/legacy/", nil)
		r.Header.Set("Authorization", "token    ")
		_, ok := ExtractToken(r)
		assert.False(t, ok)
	})

	t.Run("no credentials", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/legacy/", nil)
		_, ok := ExtractToken(r)
		assert.False(t, ok)
	})
}
