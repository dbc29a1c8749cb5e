package governance

import (
	"context"
	"fmt"

	"github.com/wardendesk/api/internal/db"
	"github.com/wardendesk/api/internal/logging"
)

// ActionContext describes one action an agent wants to perform
type ActionContext struct {
	AgentID    string                 `json:"agent_id"`
	ActionType string                 `json:"action_type"`
	Payload    map[string]interface{} `json:"payload"`
	Provider   string                 `json:"provider,omitempty"`
}

// MatchResult is the outcome of evaluating an action against a rule set.
// A nil MatchedRule with RequiresApproval=false is the fail-open outcome,
// a valid policy decision and not an error.
type MatchResult struct {
	RequiresApproval bool
	MatchedRule      *db.ApprovalRule
}

// Matcher evaluates action requests against an owner's prioritized rules.
// Evaluation is read-only; the first matching rule wins.
type Matcher struct {
	queries  *db.Queries
	logger   *logging.Logger
	failOpen bool
}

// NewMatcher creates a new rule matcher
func NewMatcher(queries *db.Queries, logger *logging.Logger, failOpen bool) *Matcher {
	return &Matcher{
		queries:  queries,
		logger:   logger,
		failOpen: failOpen,
	}
}

// Evaluate loads the owner's active rules in (priority desc, created_at asc)
// order and scans for the first rule whose entire condition set matches.
// Later rules are never consulted once a rule matches, even if they would
// also match. With no match at all the configured default applies.
//
// Errors from the backing read propagate to the caller; they are
// infrastructure failures, never "no approval needed".
func (m *Matcher) Evaluate(ctx context.Context, ownerID string, action ActionContext) (*MatchResult, error) {
	rules, err := m.queries.ListActiveRules(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load approval rules: %w", err)
	}

	for i := range rules {
		rule := &rules[i]
		if m.ruleMatches(rule, action) {
			return &MatchResult{
				RequiresApproval: rule.RequireApproval,
				MatchedRule:      rule,
			}, nil
		}
	}

	return &MatchResult{RequiresApproval: !m.failOpen}, nil
}

// ruleMatches tests every filter family of the rule as a logical AND.
// Empty filters are unscoped and always pass.
func (m *Matcher) ruleMatches(rule *db.ApprovalRule, action ActionContext) bool {
	cond := rule.Conditions

	if len(cond.AgentIDs) > 0 && !containsString(cond.AgentIDs, action.AgentID) {
		return false
	}
	if len(cond.ActionTypes) > 0 && !containsString(cond.ActionTypes, action.ActionType) {
		return false
	}
	if len(cond.Providers) > 0 && !containsString(cond.Providers, action.Provider) {
		return false
	}
	for _, pattern := range cond.PayloadPatterns {
		if !m.matchPattern(rule.ID, pattern, action.Payload) {
			return false
		}
	}
	return true
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
