package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/wardendesk/api/internal/db"
	"github.com/wardendesk/api/internal/logging"
	"github.com/wardendesk/api/internal/metrics"
)

// Ledger owns the approval lifecycle state machine and its audit trail.
//
// States: pending, approved, rejected, expired, cancelled. The only legal
// edges leave pending; the four other states are terminal and immutable.
// All transitions go through conditional updates in the db layer, so
// concurrent resolvers settle a given approval exactly once.
type Ledger struct {
	queries    *db.Queries
	logger     *logging.Logger
	defaultTTL time.Duration
}

// NewLedger creates a new approval ledger
func NewLedger(queries *db.Queries, logger *logging.Logger, defaultTTL time.Duration) *Ledger {
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &Ledger{
		queries:    queries,
		logger:     logger,
		defaultTTL: defaultTTL,
	}
}

// Create persists a new pending approval. ttlHours comes from the matched
// rule's expiry window when present; it is a deadline after which the
// approval expires, never an auto-approval trigger. Zero means the default.
func (l *Ledger) Create(ctx context.Context, agentID, ownerID, actionType string, payload map[string]interface{}, ruleID *string, ttlHours int) (*db.PendingApproval, error) {
	ttl := l.defaultTTL
	if ttlHours > 0 {
		ttl = time.Duration(ttlHours) * time.Hour
	}

	approval := &db.PendingApproval{
		AgentID:    agentID,
		UserID:     ownerID,
		RuleID:     ruleID,
		ActionType: actionType,
		Payload:    payload,
		Summary:    Summarize(actionType, payload),
		Priority:   ClassifyPriority(actionType, payload),
		Status:     db.ApprovalPending,
		ExpiresAt:  time.Now().Add(ttl),
	}

	if err := l.queries.CreateApproval(ctx, approval); err != nil {
		return nil, fmt.Errorf("failed to create approval: %w", err)
	}

	l.logger.Info("Approval created", map[string]interface{}{
		"approval_id": approval.ID,
		"agent_id":    agentID,
		"action_type": actionType,
		"priority":    approval.Priority,
	})
	metrics.RecordApprovalCreated(approval.Priority)

	return approval, nil
}

// Resolve settles a pending approval as approved or rejected. The write is
// conditional on the stored status still being pending; a lost race or a
// missing row surfaces as db.ErrConflict / db.ErrNotFound and never
// overwrites the earlier resolution.
func (l *Ledger) Resolve(ctx context.Context, approvalID, ownerID, resolverID, outcome string, comment *string) (*db.PendingApproval, error) {
	if outcome != db.ApprovalApproved && outcome != db.ApprovalRejected {
		return nil, fmt.Errorf("invalid resolution outcome %q", outcome)
	}

	approval, err := l.queries.ResolveApproval(ctx, approvalID, ownerID, resolverID, outcome, comment)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Approval resolved", map[string]interface{}{
		"approval_id": approvalID,
		"outcome":     outcome,
		"resolved_by": resolverID,
	})
	metrics.RecordApprovalResolved(outcome)

	return approval, nil
}

// Cancel moves a pending approval to cancelled, used when the originating
// request becomes moot. Same conditional-update discipline as Resolve.
func (l *Ledger) Cancel(ctx context.Context, approvalID, ownerID string) error {
	if err := l.queries.CancelApproval(ctx, approvalID, ownerID); err != nil {
		return err
	}
	metrics.RecordApprovalResolved(db.ApprovalCancelled)
	return nil
}

// Get reads an approval scoped to its owning human. A pending approval past
// its deadline reads as expired even before the sweep has run.
func (l *Ledger) Get(ctx context.Context, approvalID, ownerID string) (*db.PendingApproval, error) {
	approval, err := l.queries.GetApprovalForUser(ctx, approvalID, ownerID)
	if err != nil {
		return nil, err
	}
	applyLazyExpiry(approval, time.Now())
	return approval, nil
}

// GetForAgent reads an approval scoped to the agent that triggered it
func (l *Ledger) GetForAgent(ctx context.Context, approvalID, agentID string) (*db.PendingApproval, error) {
	approval, err := l.queries.GetApprovalForAgent(ctx, approvalID, agentID)
	if err != nil {
		return nil, err
	}
	applyLazyExpiry(approval, time.Now())
	return approval, nil
}

// List lists approvals for an owner, optionally filtered by status
func (l *Ledger) List(ctx context.Context, ownerID, status string, limit, offset int) ([]db.PendingApproval, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	approvals, err := l.queries.ListApprovals(ctx, ownerID, status, limit, offset)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for i := range approvals {
		applyLazyExpiry(&approvals[i], now)
	}
	return approvals, nil
}

// SweepExpired batch-transitions all overdue pending approvals to expired.
// Intended for a periodic external invoker; reads also expire lazily so a
// missed sweep never yields a falsely-live approval.
func (l *Ledger) SweepExpired(ctx context.Context) (int, error) {
	count, err := l.queries.SweepExpiredApprovals(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired approvals: %w", err)
	}
	if count > 0 {
		l.logger.Info("Expired approvals swept", map[string]interface{}{
			"count": count,
		})
	}
	return count, nil
}

// History returns the append-only audit trail for an approval
func (l *Ledger) History(ctx context.Context, approvalID, ownerID string) ([]db.ApprovalHistory, error) {
	// Ownership check before exposing the trail
	if _, err := l.queries.GetApprovalForUser(ctx, approvalID, ownerID); err != nil {
		return nil, err
	}
	return l.queries.ListApprovalHistory(ctx, approvalID)
}

// applyLazyExpiry rewrites the in-memory view of a pending approval whose
// deadline has passed. The boundary is exclusive on the pending side: an
// approval expiring exactly now is already expired.
func applyLazyExpiry(approval *db.PendingApproval, now time.Time) {
	if approval.Status == db.ApprovalPending && !approval.ExpiresAt.After(now) {
		approval.Status = db.ApprovalExpired
	}
}
