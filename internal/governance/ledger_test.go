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

func setupLedger(t *testing.T) (*testutil.TestDB, *Ledger, *db.User, *db.Agent) {
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

	ledger := NewLedger(tdb.Queries, logging.NewLogger("error", "text", "stderr"), time.Hour)
	return tdb, ledger, user, agent
}

func TestLedgerCreateWritesHistory(t *testing.T) {
	tdb, ledger, user, agent := setupLedger(t)
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	approval, err := ledger.Create(ctx, agent.ID, user.ID, "gmail.send",
		map[string]interface{}{"to": "alice@example.com"}, nil, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if approval.Status != db.ApprovalPending {
		t.Errorf("Expected pending status, got %q", approval.Status)
	}
	if approval.Summary == "" {
		t.Error("Expected a non-empty summary")
	}

	history, err := ledger.History(ctx, approval.ID, user.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 || history[0].Event != "created" {
		t.Errorf("Expected single 'created' history entry, got %+v", history)
	}
}

func TestLedgerResolveExactlyOnce(t *testing.T) {
	tdb, ledger, user, agent := setupLedger(t)
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	approval, err := ledger.Create(ctx, agent.ID, user.ID, "gmail.send", nil, nil, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	comment := "looks fine"
	resolved, err := ledger.Resolve(ctx, approval.ID, user.ID, user.ID, db.ApprovalApproved, &comment)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Status != db.ApprovalApproved {
		t.Errorf("Expected approved, got %q", resolved.Status)
	}
	if resolved.ResolvedAt == nil || resolved.ResolvedBy == nil {
		t.Error("Expected resolution metadata to be set")
	}

	// A second resolution loses and never overwrites the first
	if _, err := ledger.Resolve(ctx, approval.ID, user.ID, user.ID, db.ApprovalRejected, nil); !errors.Is(err, db.ErrConflict) {
		t.Errorf("Expected ErrConflict on second resolution, got %v", err)
	}

	got, err := ledger.Get(ctx, approval.ID, user.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != db.ApprovalApproved {
		t.Errorf("Expected first outcome preserved, got %q", got.Status)
	}

	history, err := ledger.History(ctx, approval.ID, user.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 || history[1].Event != db.ApprovalApproved {
		t.Errorf("Expected created + approved history, got %+v", history)
	}
}

func TestLedgerResolveValidatesOutcome(t *testing.T) {
	tdb, ledger, user, agent := setupLedger(t)
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	approval, err := ledger.Create(ctx, agent.ID, user.ID, "gmail.send", nil, nil, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := ledger.Resolve(ctx, approval.ID, user.ID, user.ID, "maybe", nil); err == nil {
		t.Error("Expected error for invalid outcome")
	}
}

func TestLedgerResolveNotFound(t *testing.T) {
	tdb, ledger, user, _ := setupLedger(t)
	defer tdb.CleanupTestDB(t)

	_, err := ledger.Resolve(context.Background(), "no-such-id", user.ID, user.ID, db.ApprovalApproved, nil)
	if !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestLedgerCancel(t *testing.T) {
	tdb, ledger, user, agent := setupLedger(t)
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	approval, err := ledger.Create(ctx, agent.ID, user.ID, "gmail.send", nil, nil, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := ledger.Cancel(ctx, approval.ID, user.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	got, err := ledger.Get(ctx, approval.ID, user.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != db.ApprovalCancelled {
		t.Errorf("Expected cancelled, got %q", got.Status)
	}

	// Cancelled is terminal
	if _, err := ledger.Resolve(ctx, approval.ID, user.ID, user.ID, db.ApprovalApproved, nil); !errors.Is(err, db.ErrConflict) {
		t.Errorf("Expected ErrConflict resolving cancelled approval, got %v", err)
	}
}

func TestLedgerLazyExpiry(t *testing.T) {
	tdb, ledger, user, agent := setupLedger(t)
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	approval, err := ledger.Create(ctx, agent.ID, user.ID, "gmail.send", nil, nil, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Push the deadline into the past without running the sweep
	if _, err := tdb.DB.ExecContext(ctx,
		`UPDATE pending_approvals SET expires_at = NOW() - INTERVAL '1 minute' WHERE id = $1`,
		approval.ID); err != nil {
		t.Fatalf("Failed to backdate approval: %v", err)
	}

	got, err := ledger.Get(ctx, approval.ID, user.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != db.ApprovalExpired {
		t.Errorf("Expected overdue pending approval to read as expired, got %q", got.Status)
	}

	listed, err := ledger.List(ctx, user.ID, "", 50, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listed) != 1 || listed[0].Status != db.ApprovalExpired {
		t.Errorf("Expected expired status in listing, got %+v", listed)
	}
}

func TestLedgerSweepExpired(t *testing.T) {
	tdb, ledger, user, agent := setupLedger(t)
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	overdue, err := ledger.Create(ctx, agent.ID, user.ID, "gmail.send", nil, nil, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	live, err := ledger.Create(ctx, agent.ID, user.ID, "gmail.messages.list", nil, nil, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := tdb.DB.ExecContext(ctx,
		`UPDATE pending_approvals SET expires_at = NOW() - INTERVAL '1 minute' WHERE id = $1`,
		overdue.ID); err != nil {
		t.Fatalf("Failed to backdate approval: %v", err)
	}

	count, err := ledger.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 swept approval, got %d", count)
	}

	got, err := ledger.Get(ctx, overdue.ID, user.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != db.ApprovalExpired {
		t.Errorf("Expected expired after sweep, got %q", got.Status)
	}

	history, err := ledger.History(ctx, overdue.ID, user.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 || history[1].Event != "expired" {
		t.Errorf("Expected created + expired history, got %+v", history)
	}

	untouched, err := ledger.Get(ctx, live.ID, user.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if untouched.Status != db.ApprovalPending {
		t.Errorf("Expected live approval untouched, got %q", untouched.Status)
	}
}

func TestLedgerHistoryRequiresOwnership(t *testing.T) {
	tdb, ledger, user, agent := setupLedger(t)
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	other, err := testutil.CreateTestUser(ctx, tdb.Queries, "other", "password123")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	approval, err := ledger.Create(ctx, agent.ID, user.ID, "gmail.send", nil, nil, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := ledger.History(ctx, approval.ID, other.ID); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for foreign owner, got %v", err)
	}
}

func TestLedgerTTLFromRule(t *testing.T) {
	tdb, ledger, user, agent := setupLedger(t)
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	approval, err := ledger.Create(ctx, agent.ID, user.ID, "gmail.send", nil, nil, 48)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	remaining := time.Until(approval.ExpiresAt)
	if remaining < 47*time.Hour || remaining > 49*time.Hour {
		t.Errorf("Expected roughly 48h deadline, got %v", remaining)
	}
}
