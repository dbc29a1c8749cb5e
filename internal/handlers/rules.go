package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wardendesk/api/internal/auth"
	"github.com/wardendesk/api/internal/db"
	"github.com/wardendesk/api/internal/governance"
)

// RuleHandlers handles approval rule management
type RuleHandlers struct {
	queries *db.Queries
}

// NewRuleHandlers creates a new rule handlers instance
func NewRuleHandlers(queries *db.Queries) *RuleHandlers {
	return &RuleHandlers{queries: queries}
}

// RuleRequest is the request to create or update a rule
type RuleRequest struct {
	Name            string            `json:"name"`
	IsActive        *bool             `json:"is_active,omitempty"`
	Priority        int               `json:"priority"`
	Conditions      db.RuleConditions `json:"conditions"`
	RequireApproval bool              `json:"require_approval"`
	ExpiryHours     int               `json:"expiry_hours"`
}

func (req *RuleRequest) validate() error {
	if req.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if req.ExpiryHours < 0 {
		return fmt.Errorf("expiry_hours must not be negative")
	}
	for _, pattern := range req.Conditions.PayloadPatterns {
		if pattern.Field == "" {
			return fmt.Errorf("payload pattern field is required")
		}
		if !governance.ValidOperator(pattern.Operator) {
			return fmt.Errorf("unknown payload pattern operator: %s", pattern.Operator)
		}
	}
	return nil
}

// CreateRule creates a new approval rule
func (h *RuleHandlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid request body"), nil)
		return
	}
	if err := req.validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err, nil)
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	rule := &db.ApprovalRule{
		UserID:          userID,
		Name:            req.Name,
		IsActive:        isActive,
		Priority:        req.Priority,
		Conditions:      req.Conditions,
		RequireApproval: req.RequireApproval,
		ExpiryHours:     req.ExpiryHours,
	}

	if err := h.queries.CreateRule(r.Context(), rule); err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteSuccess(w, rule, http.StatusCreated)
}

// ListRules lists the caller's rules, active and inactive
func (h *RuleHandlers) ListRules(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	rules, err := h.queries.ListRules(r.Context(), userID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteSuccess(w, rules, http.StatusOK)
}

// GetRule returns one of the caller's rules
func (h *RuleHandlers) GetRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	rule, err := h.queries.GetRule(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteSuccess(w, rule, http.StatusOK)
}

// UpdateRule replaces a rule's definition
func (h *RuleHandlers) UpdateRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid request body"), nil)
		return
	}
	if err := req.validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err, nil)
		return
	}

	rule, err := h.queries.GetRule(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	rule.Name = req.Name
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	rule.Priority = req.Priority
	rule.Conditions = req.Conditions
	rule.RequireApproval = req.RequireApproval
	rule.ExpiryHours = req.ExpiryHours

	if err := h.queries.UpdateRule(r.Context(), rule); err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteSuccess(w, rule, http.StatusOK)
}

// DeleteRule deletes one of the caller's rules. Approvals already created
// under the rule are unaffected.
func (h *RuleHandlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	if err := h.queries.DeleteRule(r.Context(), mux.Vars(r)["id"], userID); err != nil {
		WriteStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
