package governance

import (
	"context"
	"testing"

	"github.com/wardendesk/api/internal/db"
	"github.com/wardendesk/api/internal/logging"
	testutil "github.com/wardendesk/api/internal/testing"
)

func TestMatcherFirstMatchWins(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	defer tdb.CleanupTestDB(t)

	ctx := context.Background()
	user, err := testutil.CreateTestUser(ctx, tdb.Queries, "owner", "password123")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	// Low-priority rule matches everything and requires approval
	if _, err := testutil.CreateTestRule(ctx, tdb.Queries, user.ID, "catch-all", 0, db.RuleConditions{}, true); err != nil {
		t.Fatalf("Failed to create rule: %v", err)
	}
	// Higher-priority rule allows reads without approval
	allow, err := testutil.CreateTestRule(ctx, tdb.Queries, user.ID, "allow-reads", 10, db.RuleConditions{
		ActionTypes: []string{"gmail.messages.list"},
	}, false)
	if err != nil {
		t.Fatalf("Failed to create rule: %v", err)
	}

	matcher := NewMatcher(tdb.Queries, logging.NewLogger("error", "text", "stderr"), false)

	// The read matches the higher-priority allow rule first
	result, err := matcher.Evaluate(ctx, user.ID, ActionContext{
		AgentID:    "agent-1",
		ActionType: "gmail.messages.list",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.RequiresApproval {
		t.Error("Expected allow rule to win over catch-all")
	}
	if result.MatchedRule == nil || result.MatchedRule.ID != allow.ID {
		t.Error("Expected the allow rule to be the matched rule")
	}

	// Anything else falls through to the catch-all
	result, err = matcher.Evaluate(ctx, user.ID, ActionContext{
		AgentID:    "agent-1",
		ActionType: "gmail.send",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.RequiresApproval {
		t.Error("Expected catch-all to require approval")
	}
}

func TestMatcherTieBreaksByCreationOrder(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	defer tdb.CleanupTestDB(t)

	ctx := context.Background()
	user, err := testutil.CreateTestUser(ctx, tdb.Queries, "owner", "password123")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	first, err := testutil.CreateTestRule(ctx, tdb.Queries, user.ID, "first", 5, db.RuleConditions{}, true)
	if err != nil {
		t.Fatalf("Failed to create rule: %v", err)
	}
	if _, err := testutil.CreateTestRule(ctx, tdb.Queries, user.ID, "second", 5, db.RuleConditions{}, false); err != nil {
		t.Fatalf("Failed to create rule: %v", err)
	}

	matcher := NewMatcher(tdb.Queries, logging.NewLogger("error", "text", "stderr"), false)

	result, err := matcher.Evaluate(ctx, user.ID, ActionContext{AgentID: "a", ActionType: "x"})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.MatchedRule == nil || result.MatchedRule.ID != first.ID {
		t.Error("Expected the earlier-created rule to win the priority tie")
	}
}

func TestMatcherNoMatchDefaults(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	defer tdb.CleanupTestDB(t)

	ctx := context.Background()
	user, err := testutil.CreateTestUser(ctx, tdb.Queries, "owner", "password123")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	logger := logging.NewLogger("error", "text", "stderr")
	action := ActionContext{AgentID: "agent-1", ActionType: "gmail.send"}

	// Fail-open: no rules means proceed
	open := NewMatcher(tdb.Queries, logger, true)
	result, err := open.Evaluate(ctx, user.ID, action)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.RequiresApproval {
		t.Error("Expected fail-open default to not require approval")
	}
	if result.MatchedRule != nil {
		t.Error("Expected no matched rule on the default path")
	}

	// Fail-closed: the same absence of rules requires approval
	closed := NewMatcher(tdb.Queries, logger, false)
	result, err = closed.Evaluate(ctx, user.ID, action)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.RequiresApproval {
		t.Error("Expected fail-closed default to require approval")
	}
}

func TestMatcherInactiveRulesIgnored(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	defer tdb.CleanupTestDB(t)

	ctx := context.Background()
	user, err := testutil.CreateTestUser(ctx, tdb.Queries, "owner", "password123")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	rule, err := testutil.CreateTestRule(ctx, tdb.Queries, user.ID, "disabled", 10, db.RuleConditions{}, true)
	if err != nil {
		t.Fatalf("Failed to create rule: %v", err)
	}
	rule.IsActive = false
	if err := tdb.Queries.UpdateRule(ctx, rule); err != nil {
		t.Fatalf("Failed to deactivate rule: %v", err)
	}

	matcher := NewMatcher(tdb.Queries, logging.NewLogger("error", "text", "stderr"), true)
	result, err := matcher.Evaluate(ctx, user.ID, ActionContext{AgentID: "a", ActionType: "x"})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.MatchedRule != nil {
		t.Error("Expected inactive rule to be ignored")
	}
}
