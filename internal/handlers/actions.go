package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wardendesk/api/internal/auth"
	"github.com/wardendesk/api/internal/credentials"
	"github.com/wardendesk/api/internal/governance"
	"github.com/wardendesk/api/internal/logging"
)

// ActionHandlers is the agent-facing surface: evaluate an intended action,
// poll a held approval, and obtain delegated credentials.
type ActionHandlers struct {
	facade *governance.Facade
	ledger *governance.Ledger
	store  *credentials.Store
	events *EventHub
	logger *logging.Logger
}

// NewActionHandlers creates a new action handlers instance
func NewActionHandlers(facade *governance.Facade, ledger *governance.Ledger, store *credentials.Store, events *EventHub, logger *logging.Logger) *ActionHandlers {
	return &ActionHandlers{facade: facade, ledger: ledger, store: store, events: events, logger: logger}
}

// EvaluateRequest is an agent's intended action
type EvaluateRequest struct {
	ActionType string                 `json:"action_type"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Provider   string                 `json:"provider,omitempty"`
}

// Evaluate runs an intended action through the caller's rules. The decision
// either permits the action immediately or names the approval holding it.
func (h *ActionHandlers) Evaluate(w http.ResponseWriter, r *http.Request) {
	agent, ok := auth.GetAgentFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid request body"), nil)
		return
	}
	if req.ActionType == "" {
		WriteError(w, http.StatusBadRequest, fmt.Errorf("action_type is required"), nil)
		return
	}

	decision, err := h.facade.EvaluateAndMaybeHold(r.Context(), agent.ID, agent.UserID, req.ActionType, req.Payload, req.Provider)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	if !decision.Proceed {
		approval, err := h.ledger.Get(r.Context(), decision.ApprovalID, agent.UserID)
		if err == nil {
			h.events.Publish(agent.UserID, ApprovalEvent{
				Type:       "approval.created",
				ApprovalID: approval.ID,
				Approval:   approval,
			})
		}
	}

	WriteSuccess(w, decision, http.StatusOK)
}

// GetApprovalStatus lets an agent poll an approval it created
func (h *ActionHandlers) GetApprovalStatus(w http.ResponseWriter, r *http.Request) {
	agent, ok := auth.GetAgentFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	approval, err := h.ledger.GetForAgent(r.Context(), mux.Vars(r)["id"], agent.ID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"approval_id": approval.ID,
		"status":      approval.Status,
		"expires_at":  approval.ExpiresAt,
		"resolved_at": approval.ResolvedAt,
	}, http.StatusOK)
}

// GetToken hands an agent a live delegated token for its active connection
// to the named provider.
func (h *ActionHandlers) GetToken(w http.ResponseWriter, r *http.Request) {
	agent, ok := auth.GetAgentFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	provider := mux.Vars(r)["provider"]
	token, err := h.store.GetConnection(r.Context(), agent.ID, provider)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	// The access token travels in the response body only; the struct's
	// json tags keep it out of any logged serialization.
	WriteSuccess(w, map[string]interface{}{
		"connection_id": token.ConnectionID,
		"access_token":  token.Token,
		"expires_at":    token.ExpiresAt,
		"scopes":        token.Scopes,
		"account_email": token.AccountEmail,
	}, http.StatusOK)
}
