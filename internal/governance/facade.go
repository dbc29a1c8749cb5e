package governance

import (
	"context"
	"time"

	"github.com/wardendesk/api/internal/db"
	"github.com/wardendesk/api/internal/logging"
	"github.com/wardendesk/api/internal/metrics"
)

// Decision is the façade's answer to "may this action proceed now?".
// When Proceed is false the remaining fields always carry enough for the
// caller to present or poll the held approval; a hold is never
// indistinguishable from a failure.
type Decision struct {
	Proceed    bool       `json:"proceed"`
	ApprovalID string     `json:"approval_id,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Priority   string     `json:"priority,omitempty"`
	Summary    string     `json:"summary,omitempty"`
	RuleID     *string    `json:"rule_id,omitempty"`
}

// Facade orchestrates the rule matcher and the approval ledger. It is the
// only governance entry point other subsystems call.
type Facade struct {
	matcher *Matcher
	ledger  *Ledger
	logger  *logging.Logger
}

// NewFacade creates a new governance façade
func NewFacade(matcher *Matcher, ledger *Ledger, logger *logging.Logger) *Facade {
	return &Facade{
		matcher: matcher,
		ledger:  ledger,
		logger:  logger,
	}
}

// EvaluateAndMaybeHold evaluates one action request against the owner's
// rules. On a match requiring approval it creates a pending approval and
// returns its handle; otherwise the action may proceed immediately.
//
// "Proceed" covers both a matched rule with require_approval=false and the
// no-match default; both are policy decisions, distinct from errors.
func (f *Facade) EvaluateAndMaybeHold(ctx context.Context, agentID, ownerID, actionType string, payload map[string]interface{}, provider string) (*Decision, error) {
	result, err := f.matcher.Evaluate(ctx, ownerID, ActionContext{
		AgentID:    agentID,
		ActionType: actionType,
		Payload:    payload,
		Provider:   provider,
	})
	if err != nil {
		return nil, err
	}

	if !result.RequiresApproval {
		ruleID := matchedRuleID(result.MatchedRule)
		f.logger.Debug("Action may proceed", map[string]interface{}{
			"agent_id":    agentID,
			"action_type": actionType,
			"rule_id":     ruleID,
		})
		metrics.RecordEvaluation("proceed")
		return &Decision{Proceed: true, RuleID: ruleID}, nil
	}

	ruleID := matchedRuleID(result.MatchedRule)
	ttlHours := 0
	if result.MatchedRule != nil {
		ttlHours = result.MatchedRule.ExpiryHours
	}

	approval, err := f.ledger.Create(ctx, agentID, ownerID, actionType, payload, ruleID, ttlHours)
	if err != nil {
		return nil, err
	}

	metrics.RecordEvaluation("held")
	expiresAt := approval.ExpiresAt
	return &Decision{
		Proceed:    false,
		ApprovalID: approval.ID,
		ExpiresAt:  &expiresAt,
		Priority:   approval.Priority,
		Summary:    approval.Summary,
		RuleID:     ruleID,
	}, nil
}

func matchedRuleID(rule *db.ApprovalRule) *string {
	if rule == nil {
		return nil
	}
	id := rule.ID
	return &id
}
