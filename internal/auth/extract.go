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
	"net/http"
	"strings"
)

// BasicAuthTokenUsername is the sentinel username upload clients send when
// the basic-auth password is really an API token.
const BasicAuthTokenUsername = "__token__"

// ExtractToken pulls a raw API token out of a request. Two transports are
// accepted: an Authorization header of the form "token <raw>" (scheme
// case-insensitive, also accepting "bearer"), and HTTP basic auth with the
// __token__ sentinel username. Surrounding whitespace on the token is
// stripped in both paths so the two transports agree on the same bytes.
func ExtractToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header != "" {
		scheme, rest, found := strings.Cut(header, " ")
		if found {
			switch strings.ToLower(scheme) {
			case "token", "bearer":
				token := strings.TrimSpace(rest)
				if token != "" {
					return token, true
				}
				return "", false
			}
		}
	}

	username, password, ok := r.BasicAuth()
	if ok && username == BasicAuthTokenUsername {
		token := strings.TrimSpace(password)
		if token != "" {
			return token, true
		}
	}
	return "", false
}
