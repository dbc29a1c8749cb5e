package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wardendesk/api/internal/auth"
	"github.com/wardendesk/api/internal/db"
)

// AgentHandlers handles agent registration and credential management
type AgentHandlers struct {
	queries *db.Queries
	keys    *auth.AgentKeyManager
}

// NewAgentHandlers creates a new agent handlers instance
func NewAgentHandlers(queries *db.Queries, keys *auth.AgentKeyManager) *AgentHandlers {
	return &AgentHandlers{queries: queries, keys: keys}
}

// CreateAgentRequest is the request to register an agent
type CreateAgentRequest struct {
	Name string `json:"name"`
}

// AgentCredentialResponse carries the one-time plaintext credential.
// The key is shown exactly once; only its hash is stored.
type AgentCredentialResponse struct {
	Agent *db.Agent `json:"agent"`
	Key   string    `json:"key"`
}

// CreateAgent registers a new agent and issues its credential
func (h *AgentHandlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	var req CreateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid request body"), nil)
		return
	}
	if req.Name == "" {
		WriteError(w, http.StatusBadRequest, fmt.Errorf("agent name is required"), nil)
		return
	}

	key, keyHash, keyPrefix, err := auth.GenerateAgentKey()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Errorf("failed to generate agent key"), nil)
		return
	}

	agent := &db.Agent{
		UserID:    userID,
		Name:      req.Name,
		IsActive:  true,
		KeyHash:   keyHash,
		KeyPrefix: keyPrefix,
	}

	if err := h.queries.CreateAgent(r.Context(), agent); err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteSuccess(w, AgentCredentialResponse{Agent: agent, Key: key}, http.StatusCreated)
}

// ListAgents lists the caller's agents
func (h *AgentHandlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	agents, err := h.queries.ListAgents(r.Context(), userID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteSuccess(w, agents, http.StatusOK)
}

// GetAgent returns one of the caller's agents
func (h *AgentHandlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	agent, err := h.queries.GetAgent(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteSuccess(w, agent, http.StatusOK)
}

// RotateAgentKey replaces an agent's credential. The previous key stops
// verifying immediately; the new key is returned once.
func (h *AgentHandlers) RotateAgentKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	agentID := mux.Vars(r)["id"]

	key, err := h.keys.Rotate(r.Context(), agentID, userID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	agent, err := h.queries.GetAgent(r.Context(), agentID, userID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteSuccess(w, AgentCredentialResponse{Agent: agent, Key: key}, http.StatusOK)
}

// SetAgentActiveRequest toggles an agent's active flag
type SetAgentActiveRequest struct {
	IsActive bool `json:"is_active"`
}

// SetAgentActive enables or disables an agent. Disabled agents fail
// authentication even with a valid key.
func (h *AgentHandlers) SetAgentActive(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	var req SetAgentActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid request body"), nil)
		return
	}

	agentID := mux.Vars(r)["id"]
	if err := h.queries.SetAgentActive(r.Context(), agentID, userID, req.IsActive); err != nil {
		WriteStoreError(w, err)
		return
	}

	agent, err := h.queries.GetAgent(r.Context(), agentID, userID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteSuccess(w, agent, http.StatusOK)
}

// DeleteAgent deletes one of the caller's agents
func (h *AgentHandlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	if err := h.queries.DeleteAgent(r.Context(), mux.Vars(r)["id"], userID); err != nil {
		WriteStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
