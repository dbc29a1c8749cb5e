package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/wardendesk/api/internal/auth"
	"github.com/wardendesk/api/internal/governance"
	"github.com/wardendesk/api/internal/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
	HandshakeTimeout: 10 * time.Second,
}

// ApprovalHandlers handles the dashboard approval queue
type ApprovalHandlers struct {
	ledger *governance.Ledger
	events *EventHub
	logger *logging.Logger
}

// NewApprovalHandlers creates a new approval handlers instance
func NewApprovalHandlers(ledger *governance.Ledger, events *EventHub, logger *logging.Logger) *ApprovalHandlers {
	return &ApprovalHandlers{ledger: ledger, events: events, logger: logger}
}

// ListApprovals lists the caller's approvals, optionally filtered by status
func (h *ApprovalHandlers) ListApprovals(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	status := r.URL.Query().Get("status")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	approvals, err := h.ledger.List(r.Context(), userID, status, limit, offset)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteSuccess(w, approvals, http.StatusOK)
}

// GetApproval returns one of the caller's approvals
func (h *ApprovalHandlers) GetApproval(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	approval, err := h.ledger.Get(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteSuccess(w, approval, http.StatusOK)
}

// ResolveRequest is the request to settle a pending approval
type ResolveRequest struct {
	Outcome string  `json:"outcome"`
	Comment *string `json:"comment,omitempty"`
}

// ResolveApproval settles a pending approval as approved or rejected.
// Resolution is exactly-once: a second attempt returns 409.
func (h *ApprovalHandlers) ResolveApproval(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid request body"), nil)
		return
	}
	if req.Outcome != "approved" && req.Outcome != "rejected" {
		WriteError(w, http.StatusBadRequest, fmt.Errorf("outcome must be approved or rejected"), nil)
		return
	}

	approval, err := h.ledger.Resolve(r.Context(), mux.Vars(r)["id"], userID, userID, req.Outcome, req.Comment)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	h.events.Publish(userID, ApprovalEvent{
		Type:       "approval.resolved",
		ApprovalID: approval.ID,
		Approval:   approval,
	})

	WriteSuccess(w, approval, http.StatusOK)
}

// CancelApproval cancels a pending approval without settling it
func (h *ApprovalHandlers) CancelApproval(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	approvalID := mux.Vars(r)["id"]
	if err := h.ledger.Cancel(r.Context(), approvalID, userID); err != nil {
		WriteStoreError(w, err)
		return
	}

	h.events.Publish(userID, ApprovalEvent{
		Type:       "approval.cancelled",
		ApprovalID: approvalID,
	})

	w.WriteHeader(http.StatusNoContent)
}

// GetApprovalHistory returns the audit trail of one approval
func (h *ApprovalHandlers) GetApprovalHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	history, err := h.ledger.History(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteSuccess(w, history, http.StatusOK)
}

// SweepExpired settles every overdue pending approval as expired
func (h *ApprovalHandlers) SweepExpired(w http.ResponseWriter, r *http.Request) {
	count, err := h.ledger.SweepExpired(r.Context())
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{"expired": count}, http.StatusOK)
}

// ApprovalsWebSocket streams approval events to the dashboard
func (h *ApprovalHandlers) ApprovalsWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", err, nil)
		return
	}
	defer conn.Close()

	events, cancel := h.events.Subscribe(userID)
	defer cancel()

	// Drain client frames so pings and close frames are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
