// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// ClientAuthenticator extracts the acting identity and pushing client id
// from HTTP requests. Implementations validate auth (e.g. JWT) and never
// trust identity fields from the payload.
type ClientAuthenticator interface {
	GetActor(r *http.Request) (Actor, error)
	GetClientID(r *http.Request) (string, error)
}

// HTTPHandlers exposes the push API over HTTP.
type HTTPHandlers struct {
	service       *Service
	authenticator ClientAuthenticator
	policy        SyncPolicy
	logger        *slog.Logger
}

// NewHTTPHandlers creates handlers bound to one service and the process's
// sync policy.
func NewHTTPHandlers(service *Service, authenticator ClientAuthenticator, policy SyncPolicy, logger *slog.Logger) *HTTPHandlers {
	return &HTTPHandlers{
		service:       service,
		authenticator: authenticator,
		policy:        policy,
		logger:        logger,
	}
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusResponse reports service health and configuration.
type StatusResponse struct {
	Status        string   `json:"status"`
	AppName       string   `json:"app_name"`
	Authorization string   `json:"authorization"`
	Tables        []string `json:"tables"`
}

// HandlePush processes one push batch.
func (h *HTTPHandlers) HandlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}

	actor, err := h.authenticator.GetActor(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}
	clientID, err := h.authenticator.GetClientID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse push request")
		return
	}
	if req.ClientID == "" {
		req.ClientID = clientID
	} else if req.ClientID != clientID {
		h.writeError(w, http.StatusForbidden, "client_mismatch", "client_id does not match credentials")
		return
	}

	policy := h.policy
	// Connected clients that relay writes onward ask for the effective
	// write set back.
	if r.URL.Query().Get("collect_changes") == "true" {
		policy.CollectChanges = true
	}

	resp, err := h.service.ProcessPush(r.Context(), actor, policy, &req)
	if err != nil {
		var ce *ConflictError
		var de *DependencyError
		var pe *PolicyDeniedError
		switch {
		case errors.As(err, &ce):
			h.writeError(w, http.StatusConflict, "sync_conflict", err.Error())
		case errors.As(err, &de):
			h.writeError(w, http.StatusUnprocessableEntity, "sync_dependency_missing", err.Error())
		case errors.As(err, &pe):
			h.writeError(w, http.StatusForbidden, "sync_policy_denied", err.Error())
		case errors.Is(err, ErrMissingClientID):
			h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			h.logger.Error("Failed to process push", "error", err, "client_id", clientID)
			h.writeError(w, http.StatusInternalServerError, "push_failed", "Failed to process push")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode push response", "error", err, "client_id", clientID)
	}
}

// HandleStatus reports service status.
func (h *HTTPHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET method is allowed")
		return
	}
	tables := make([]string, 0, len(TableOrder))
	for _, t := range TableOrder {
		tables = append(tables, string(t))
	}
	resp := StatusResponse{
		Status:        "healthy",
		AppName:       h.service.Config().AppName,
		Authorization: h.service.Config().Authorization.String(),
		Tables:        tables,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode status response", "error", err)
	}
}

func (h *HTTPHandlers) writeError(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: errCode, Message: message}); err != nil {
		h.logger.Error("Failed to encode error response", "error", err)
	}
}
