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
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pypi/warehouse/internal/caveats"
	"github.com/pypi/warehouse/internal/macaroons"
	"github.com/pypi/warehouse/internal/observability/logger"
)

// CreateTokenRequest represents API token creation data. Scope is either
// "user" for an account-wide token or a list of project names.
type CreateTokenRequest struct {
	Description string   `json:"description"`
	Scope       string   `json:"scope"`
	Projects    []string `json:"projects"`
	ExpiresIn   string   `json:"expires_in,omitempty"`
}

// TokenResponse is the record view returned by list and create. The bearer
// token itself appears only in the create response.
type TokenResponse struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Permissions map[string]any `json:"permissions"`
	Created     time.Time      `json:"created"`
	LastUsed    *time.Time     `json:"last_used,omitempty"`
}

// ListTokens returns the current user's API tokens, newest first.
func (h *Handler) ListTokens(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	records, err := h.macaroonService.ListMacaroons(r.Context(), userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list tokens",
			logger.UserID(userID),
			logger.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "failed to list tokens")
		return
	}

	tokens := make([]TokenResponse, 0, len(records))
	for _, rec := range records {
		tokens = append(tokens, tokenResponse(rec))
	}

	respondJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

// CreateToken mints a new API token for the current user. The serialized
// token is returned exactly once; only its record survives.
func (h *Handler) CreateToken(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	var req CreateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Description == "" {
		respondError(w, http.StatusBadRequest, "description is required")
		return
	}

	// Descriptions are unique per user so the token list stays navigable.
	if _, err := h.macaroonService.GetMacaroonByDescription(r.Context(), userID, req.Description); err == nil {
		respondError(w, http.StatusConflict, "API token name already in use")
		return
	}

	scopes, err := h.tokenScopes(r, userID, req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, rec, err := h.macaroonService.CreateMacaroon(
		r.Context(),
		h.tokenLocation,
		req.Description,
		scopes,
		macaroons.CreateOptions{UserID: userID},
	)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create token",
			logger.UserID(userID),
			logger.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	resp := map[string]any{
		"token":       token,
		"id":          rec.ID,
		"description": rec.Description,
		"permissions": rec.PermissionsCaveat,
		"created":     rec.Created,
	}
	respondJSON(w, http.StatusCreated, resp)
}

// DeleteToken revokes an API token owned by the current user.
func (h *Handler) DeleteToken(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())
	tokenID := chi.URLParam(r, "tokenID")

	rec, err := h.macaroonService.FindMacaroon(r.Context(), tokenID)
	if err != nil {
		respondError(w, http.StatusNotFound, "token not found")
		return
	}
	// Revocation is owner-only; a 404 avoids confirming the id exists.
	if rec.UserID == nil || *rec.UserID != userID {
		respondError(w, http.StatusNotFound, "token not found")
		return
	}

	if err := h.macaroonService.DeleteMacaroon(r.Context(), tokenID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "token revoked",
	})
}

// tokenScopes translates the request's scope selection into caveats.
func (h *Handler) tokenScopes(r *http.Request, userID string, req CreateTokenRequest) ([]caveats.Caveat, error) {
	var scopes []caveats.Caveat

	switch req.Scope {
	case "user":
		scopes = append(scopes, caveats.RequestUser{UserID: userID})
	case "projects":
		if len(req.Projects) == 0 {
			return nil, errors.New("project-scoped tokens require at least one project")
		}
		names := make([]string, 0, len(req.Projects))
		ids := make([]string, 0, len(req.Projects))
		for _, name := range req.Projects {
			project, err := h.packagingService.GetProject(r.Context(), name)
			if err != nil {
				return nil, errors.New("unknown project: " + name)
			}
			ok, err := h.packagingService.HasPermission(r.Context(), userID, project.ID, "upload")
			if err != nil || !ok {
				return nil, errors.New("not a collaborator on project: " + name)
			}
			names = append(names, project.Normalized)
			ids = append(ids, project.ID)
		}
		scopes = append(scopes, caveats.ProjectNames{Names: names}, caveats.ProjectIDs{IDs: ids})
	default:
		return nil, errors.New("scope must be \"user\" or \"projects\"")
	}

	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			return nil, errors.New("expires_in must be a positive duration")
		}
		now := time.Now()
		scopes = append(scopes, caveats.Expiration{
			NotBefore: now.Unix(),
			ExpiresAt: now.Add(d).Unix(),
		})
	}

	return scopes, nil
}

func tokenResponse(rec *macaroons.Macaroon) TokenResponse {
	return TokenResponse{
		ID:          rec.ID,
		Description: rec.Description,
		Permissions: rec.PermissionsCaveat,
		Created:     rec.Created,
		LastUsed:    rec.LastUsed,
	}
}
