package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wardendesk/api/internal/auth"
	"github.com/wardendesk/api/internal/credentials"
	"github.com/wardendesk/api/internal/db"
)

// ConnectionHandlers handles service connection management and the
// provider authorization handshake.
type ConnectionHandlers struct {
	store   *credentials.Store
	queries *db.Queries
}

// NewConnectionHandlers creates a new connection handlers instance
func NewConnectionHandlers(store *credentials.Store, queries *db.Queries) *ConnectionHandlers {
	return &ConnectionHandlers{store: store, queries: queries}
}

// AuthorizeRequest is the request to begin a provider authorization
type AuthorizeRequest struct {
	AgentID string   `json:"agent_id"`
	Scopes  []string `json:"scopes,omitempty"`
}

// AuthorizeResponse carries the provider URL the owner must visit
type AuthorizeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	RequestID        string `json:"request_id"`
}

// StartAuthorization begins the authorization handshake for an agent
func (h *ConnectionHandlers) StartAuthorization(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	var req AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid request body"), nil)
		return
	}
	if req.AgentID == "" {
		WriteError(w, http.StatusBadRequest, fmt.Errorf("agent_id is required"), nil)
		return
	}

	// The agent must exist and belong to the caller
	if _, err := h.queries.GetAgent(r.Context(), req.AgentID, userID); err != nil {
		WriteStoreError(w, err)
		return
	}

	authURL, connReq, err := h.store.StartAuthorization(r.Context(), req.AgentID, userID, req.Scopes)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteSuccess(w, AuthorizeResponse{
		AuthorizationURL: authURL,
		RequestID:        connReq.ID,
	}, http.StatusCreated)
}

// AuthorizationCallback handles the provider redirect. The state token is
// the only credential here; the handshake record it names is consumed
// exactly once.
func (h *ConnectionHandlers) AuthorizationCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		if state != "" {
			_ = h.store.RejectAuthorization(r.Context(), state)
		}
		WriteError(w, http.StatusBadRequest, fmt.Errorf("provider denied authorization: %s", errParam), nil)
		return
	}

	if state == "" || code == "" {
		WriteError(w, http.StatusBadRequest, fmt.Errorf("state and code are required"), nil)
		return
	}

	conn, err := h.store.CompleteAuthorization(r.Context(), state, code)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteSuccess(w, conn, http.StatusCreated)
}

// ListConnections lists the caller's connections across all states
func (h *ConnectionHandlers) ListConnections(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	conns, err := h.store.List(r.Context(), userID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteSuccess(w, conns, http.StatusOK)
}

// GetConnection returns one of the caller's connections
func (h *ConnectionHandlers) GetConnection(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	conn, err := h.queries.GetConnection(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteSuccess(w, conn, http.StatusOK)
}

// RevokeConnection revokes one of the caller's connections. Irreversible;
// agents lose delegated access immediately.
func (h *ConnectionHandlers) RevokeConnection(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	if err := h.store.Revoke(r.Context(), mux.Vars(r)["id"], userID); err != nil {
		WriteStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
