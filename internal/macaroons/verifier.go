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

package macaroons

import (
	"strings"

	"gopkg.in/macaroon.v2"

	"github.com/pypi/warehouse/internal/caveats"
)

// ReasonInvalidAPIToken is the machine reason code carried by every
// signature- or caveat-level denial.
const ReasonInvalidAPIToken = "invalid_api_token"

// Result is the outcome of verifying one token against one request. It is
// valid only for the instant of the call: expiration caveats read the clock
// and revocation must take effect on the next request, so results are never
// cached.
type Result struct {
	Allowed bool
	Reason  string
	Detail  string
}

func allowed(detail string) Result {
	return Result{Allowed: true, Detail: detail}
}

func denied(detail string) Result {
	return Result{Reason: ReasonInvalidAPIToken, Detail: detail}
}

// verifyState is the tri-state the signature-check adapter reduces the
// underlying library's behavior to.
type verifyState int

const (
	verifyOK verifyState = iota
	verifySignatureInvalid
	verifyCaveatRejected
	verifyUnknown
)

// Verifier decides allow/deny for a deserialized token given its root key
// and the request/context/permission triple. It is a pure function over its
// inputs and the clock.
type Verifier struct {
	registry *caveats.Registry
}

func NewVerifier(registry *caveats.Registry) *Verifier {
	return &Verifier{registry: registry}
}

// Verify runs cryptographic signature validation and per-caveat predicate
// evaluation in a single pass: the macaroon library calls back once per
// chained caveat, and any unsatisfied predicate fails the overall check
// while its reason is collected for the denial detail.
func (v *Verifier) Verify(
	m *macaroon.Macaroon,
	key []byte,
	req *caveats.Request,
	context any,
	permission string,
) Result {
	var failures []string

	check := func(condition string) error {
		caveat, err := v.registry.Deserialize([]byte(condition), subjectFor(req))
		if err != nil {
			failures = append(failures, "malformed macaroon")
			return err
		}
		if err := caveat.Verify(req, context, permission); err != nil {
			failures = append(failures, err.Error())
			return err
		}
		return nil
	}

	switch v.checkSignature(m, key, check) {
	case verifyOK:
		return allowed("signature and caveats OK")
	case verifyCaveatRejected:
		return denied(strings.Join(failures, ", "))
	case verifySignatureInvalid:
		// Caveat detail beats the generic signature message when both are
		// available.
		if len(failures) > 0 {
			return denied(strings.Join(failures, ", "))
		}
		return denied("signatures do not match")
	default:
		return denied("unknown error")
	}
}

// checkSignature isolates the library workaround in one place: the typed
// verification error, caveat rejections surfaced through the check
// callback, and the library's occasional panic on malformed macaroons all
// collapse into one tri-state.
func (v *Verifier) checkSignature(
	m *macaroon.Macaroon,
	key []byte,
	check func(condition string) error,
) (state verifyState) {
	defer func() {
		if r := recover(); r != nil {
			state = verifyUnknown
		}
	}()

	var sawCaveatFailure bool
	wrapped := func(condition string) error {
		err := check(condition)
		if err != nil {
			sawCaveatFailure = true
		}
		return err
	}

	err := m.Verify(key, wrapped, nil)
	switch {
	case err == nil:
		return verifyOK
	case sawCaveatFailure:
		return verifyCaveatRejected
	default:
		return verifySignatureInvalid
	}
}

// subjectFor exposes the request's authenticated user to the legacy caveat
// adapter.
func subjectFor(req *caveats.Request) *caveats.Subject {
	if req == nil || req.User == nil {
		return nil
	}
	return &caveats.Subject{UserID: req.User.UserID}
}
