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
	"net/http"

	"github.com/pypi/warehouse/internal/audit"
	"github.com/pypi/warehouse/internal/auth"
	"github.com/pypi/warehouse/internal/packaging"
)

// maxUploadBytes caps distribution upload size.
const maxUploadBytes = 100 << 20

// Upload accepts a distribution file for an existing project. The request
// must carry an identity resolved by the security policy middleware, and
// that identity must hold the upload permission on the named project.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="pypi"`)
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	name := r.FormValue("name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "missing project name")
		return
	}

	project, err := h.packagingService.GetProject(r.Context(), name)
	if err != nil {
		if err == packaging.ErrProjectNotFound {
			respondError(w, http.StatusNotFound, "project does not exist")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to look up project")
		return
	}

	decision := h.policy.Permits(r.Context(), r, identity, project, "upload")
	if !decision.Allowed {
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:      audit.TypeUploadRejected,
			ActorID:   actorID(identity),
			Resource:  project.Normalized,
			IPAddress: getIPAddress(r),
			Metadata: map[string]any{
				audit.AttrReason: decision.Reason,
				"detail":         decision.Detail,
			},
		})
		respondError(w, http.StatusForbidden, decision.Detail)
		return
	}

	file, header, err := r.FormFile("content")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing distribution file")
		return
	}
	defer file.Close()

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeUploadAccepted,
		ActorID:   actorID(identity),
		Resource:  project.Normalized,
		IPAddress: getIPAddress(r),
		Metadata:  map[string]any{"filename": header.Filename},
	})

	respondJSON(w, http.StatusOK, map[string]any{
		"project":  project.Normalized,
		"filename": header.Filename,
	})
}

func actorID(identity *auth.Identity) string {
	if identity.User != nil {
		return identity.User.ID
	}
	return identity.PublisherID
}
