package governance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wardendesk/api/internal/db"
	"github.com/wardendesk/api/internal/logging"
	testutil "github.com/wardendesk/api/internal/testing"
)

func setupFacade(t *testing.T, failOpen bool) (*testutil.TestDB, *Facade, *Ledger, *db.User, *db.Agent) {
	t.Helper()

	tdb := testutil.SetupTestDB(t)
	ctx := context.Background()

	user, err := testutil.CreateTestUser(ctx, tdb.Queries, "owner", "password123")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	agent, err := testutil.CreateTestAgent(ctx, tdb.Queries, user.ID, "assistant", "hash", "prefix01")
	if err != nil {
		t.Fatalf("Failed to create agent: %v", err)
	}

	logger := logging.NewLogger("error", "text", "stderr")
	matcher := NewMatcher(tdb.Queries, logger, failOpen)
	ledger := NewLedger(tdb.Queries, logger, time.Hour)
	facade := NewFacade(matcher, ledger, logger)

	return tdb, facade, ledger, user, agent
}

func TestFacadeHoldsAndResolvesExternalSend(t *testing.T) {
	tdb, facade, ledger, user, agent := setupFacade(t, true)
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	rule := &db.ApprovalRule{
		UserID:   user.ID,
		Name:     "external sends need approval",
		IsActive: true,
		Priority: 10,
		Conditions: db.RuleConditions{
			ActionTypes: []string{"gmail.send"},
			PayloadPatterns: []db.PayloadPattern{
				{Field: "to", Operator: OpContains, Value: "@external.com"},
			},
		},
		RequireApproval: true,
		ExpiryHours:     2,
	}
	if err := tdb.Queries.CreateRule(ctx, rule); err != nil {
		t.Fatalf("Failed to create rule: %v", err)
	}

	payload := map[string]interface{}{"to": "client@EXTERNAL.com", "subject": "Proposal"}
	decision, err := facade.EvaluateAndMaybeHold(ctx, agent.ID, user.ID, "gmail.send", payload, "gmail")
	if err != nil {
		t.Fatalf("EvaluateAndMaybeHold failed: %v", err)
	}

	if decision.Proceed {
		t.Fatal("Expected the matched rule to hold the action")
	}
	if decision.ApprovalID == "" {
		t.Fatal("Expected a held decision to carry the approval handle")
	}
	if decision.Priority != db.PriorityHigh {
		t.Errorf("Expected high priority for an external send, got %q", decision.Priority)
	}
	if decision.Summary == "" {
		t.Error("Expected a non-empty summary")
	}
	if decision.RuleID == nil || *decision.RuleID != rule.ID {
		t.Error("Expected the decision to name the matched rule")
	}

	// The rule's expiry window, not the ledger default, sets the deadline
	if decision.ExpiresAt == nil {
		t.Fatal("Expected a held decision to carry the deadline")
	}
	remaining := time.Until(*decision.ExpiresAt)
	if remaining < 1*time.Hour+55*time.Minute || remaining > 2*time.Hour+5*time.Minute {
		t.Errorf("Expected roughly 2h deadline from the rule, got %v", remaining)
	}

	// Resolution settles exactly once
	resolved, err := ledger.Resolve(ctx, decision.ApprovalID, user.ID, user.ID, db.ApprovalApproved, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Status != db.ApprovalApproved {
		t.Errorf("Expected approved, got %q", resolved.Status)
	}
	if _, err := ledger.Resolve(ctx, decision.ApprovalID, user.ID, user.ID, db.ApprovalRejected, nil); !errors.Is(err, db.ErrConflict) {
		t.Errorf("Expected ErrConflict on second resolution, got %v", err)
	}
}

func TestFacadeProceedsOnAllowRule(t *testing.T) {
	tdb, facade, _, user, agent := setupFacade(t, false)
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	allow, err := testutil.CreateTestRule(ctx, tdb.Queries, user.ID, "reads are fine", 10, db.RuleConditions{
		ActionTypes: []string{"gmail.messages.list"},
	}, false)
	if err != nil {
		t.Fatalf("Failed to create rule: %v", err)
	}

	decision, err := facade.EvaluateAndMaybeHold(ctx, agent.ID, user.ID, "gmail.messages.list", nil, "gmail")
	if err != nil {
		t.Fatalf("EvaluateAndMaybeHold failed: %v", err)
	}
	if !decision.Proceed {
		t.Error("Expected require_approval=false match to proceed")
	}
	if decision.ApprovalID != "" {
		t.Error("Expected no approval for a proceed decision")
	}
	if decision.RuleID == nil || *decision.RuleID != allow.ID {
		t.Error("Expected the decision to name the allow rule")
	}

	// No approvals were created along the way
	approvals, err := tdb.Queries.ListApprovals(ctx, user.ID, "", 50, 0)
	if err != nil {
		t.Fatalf("ListApprovals failed: %v", err)
	}
	if len(approvals) != 0 {
		t.Errorf("Expected no approvals, got %d", len(approvals))
	}
}

func TestFacadeNoMatchFollowsDefault(t *testing.T) {
	tdb, facade, _, user, agent := setupFacade(t, true)
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	decision, err := facade.EvaluateAndMaybeHold(ctx, agent.ID, user.ID, "calendar.events.fetch", nil, "")
	if err != nil {
		t.Fatalf("EvaluateAndMaybeHold failed: %v", err)
	}
	if !decision.Proceed {
		t.Error("Expected fail-open default to proceed")
	}
	if decision.RuleID != nil {
		t.Error("Expected no rule on the default path")
	}
}
