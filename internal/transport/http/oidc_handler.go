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

package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pypi/warehouse/internal/audit"
	"github.com/pypi/warehouse/internal/observability/logger"
)

// MintTokenRequest carries a signed identity token from a CI provider.
type MintTokenRequest struct {
	Token string `json:"token"`
}

// MintToken exchanges a trusted publisher's identity token for a short-lived
// API token. Failures are deliberately uniform: a CI job probing this
// endpoint learns nothing about which part of the exchange failed.
func (h *Handler) MintToken(w http.ResponseWriter, r *http.Request) {
	var req MintTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	token, rec, err := h.oidcService.ExchangeToken(r.Context(), req.Token)
	if err != nil {
		slog.InfoContext(r.Context(), "identity token exchange rejected",
			logger.RemoteAddr(r.RemoteAddr),
			logger.Error(err),
		)
		respondError(w, http.StatusUnprocessableEntity, "invalid publisher token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"token":      token,
		"expires_in": 900,
		"token_id":   rec.ID,
	})
}

// DiscloseTokenRequest reports a token observed in a public location.
type DiscloseTokenRequest struct {
	Token  string `json:"token"`
	Origin string `json:"origin"`
}

// DiscloseToken handles leaked-credential reports: any token that has been
// publicly observed is revoked on sight, no authentication required. The
// response never confirms whether the token was live.
func (h *Handler) DiscloseToken(w http.ResponseWriter, r *http.Request) {
	var req DiscloseTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.macaroonService.FindFromRaw(r.Context(), req.Token)
	if err != nil {
		// Unknown or already-revoked tokens get the same answer as live ones.
		respondJSON(w, http.StatusOK, map[string]string{"status": "processed"})
		return
	}

	if err := h.macaroonService.DeleteMacaroon(r.Context(), rec.ID); err != nil {
		slog.ErrorContext(r.Context(), "failed to revoke disclosed token",
			logger.MacaroonID(rec.ID),
			logger.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "failed to process report")
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeTokenDisclosed,
		Resource:  rec.ID,
		IPAddress: getIPAddress(r),
		Metadata:  map[string]any{"origin": req.Origin},
	})

	respondJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}
