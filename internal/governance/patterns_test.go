package governance

import (
	"testing"

	"github.com/wardendesk/api/internal/db"
	"github.com/wardendesk/api/internal/logging"
)

func testMatcher() *Matcher {
	return NewMatcher(nil, logging.NewLogger("error", "text", "stderr"), false)
}

func TestMatchPattern(t *testing.T) {
	m := testMatcher()

	payload := map[string]interface{}{
		"to":      "Alice@Example.com",
		"subject": "Quarterly report",
		"amount":  float64(1500),
		"urgent":  true,
		"nested": map[string]interface{}{
			"path": map[string]interface{}{
				"value": "deep",
			},
		},
		"tags": []interface{}{"finance", "external"},
	}

	tests := []struct {
		name    string
		pattern db.PayloadPattern
		want    bool
	}{
		{
			name:    "equals case insensitive by default",
			pattern: db.PayloadPattern{Field: "to", Operator: OpEquals, Value: "alice@example.com"},
			want:    true,
		},
		{
			name:    "equals case sensitive",
			pattern: db.PayloadPattern{Field: "to", Operator: OpEquals, Value: "alice@example.com", CaseSensitive: true},
			want:    false,
		},
		{
			name:    "not_equals on differing value",
			pattern: db.PayloadPattern{Field: "subject", Operator: OpNotEquals, Value: "invoice"},
			want:    true,
		},
		{
			name:    "not_equals on absent field never matches",
			pattern: db.PayloadPattern{Field: "missing", Operator: OpNotEquals, Value: "anything"},
			want:    false,
		},
		{
			name:    "contains",
			pattern: db.PayloadPattern{Field: "subject", Operator: OpContains, Value: "report"},
			want:    true,
		},
		{
			name:    "starts_with",
			pattern: db.PayloadPattern{Field: "to", Operator: OpStartsWith, Value: "alice@"},
			want:    true,
		},
		{
			name:    "ends_with",
			pattern: db.PayloadPattern{Field: "to", Operator: OpEndsWith, Value: "@example.com"},
			want:    true,
		},
		{
			name:    "regex matches",
			pattern: db.PayloadPattern{Field: "to", Operator: OpMatches, Value: `^alice@.*\.com$`},
			want:    true,
		},
		{
			name:    "invalid regex is a non-match",
			pattern: db.PayloadPattern{Field: "to", Operator: OpMatches, Value: `([unclosed`},
			want:    false,
		},
		{
			name:    "numeric value compared as string",
			pattern: db.PayloadPattern{Field: "amount", Operator: OpEquals, Value: "1500"},
			want:    true,
		},
		{
			name:    "boolean value compared as string",
			pattern: db.PayloadPattern{Field: "urgent", Operator: OpEquals, Value: "true"},
			want:    true,
		},
		{
			name:    "dot path into nested object",
			pattern: db.PayloadPattern{Field: "nested.path.value", Operator: OpEquals, Value: "deep"},
			want:    true,
		},
		{
			name:    "dot path through non-object fails",
			pattern: db.PayloadPattern{Field: "subject.inner", Operator: OpEquals, Value: "x"},
			want:    false,
		},
		{
			name:    "array value joined for contains",
			pattern: db.PayloadPattern{Field: "tags", Operator: OpContains, Value: "external"},
			want:    true,
		},
		{
			name:    "unknown operator never matches",
			pattern: db.PayloadPattern{Field: "to", Operator: "sounds_like", Value: "alice"},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.matchPattern("rule-1", tt.pattern, payload)
			if got != tt.want {
				t.Errorf("matchPattern(%+v) = %v, want %v", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestMatchPatternNilPayload(t *testing.T) {
	m := testMatcher()

	pattern := db.PayloadPattern{Field: "to", Operator: OpEquals, Value: "x"}
	if m.matchPattern("rule-1", pattern, nil) {
		t.Error("Expected no match against nil payload")
	}
}

func TestValidOperator(t *testing.T) {
	for _, op := range []string{OpEquals, OpNotEquals, OpContains, OpStartsWith, OpEndsWith, OpMatches} {
		if !ValidOperator(op) {
			t.Errorf("Expected %q to be valid", op)
		}
	}
	if ValidOperator("fuzzy") {
		t.Error("Expected unknown operator to be invalid")
	}
}

func TestRuleMatchesConjunction(t *testing.T) {
	m := testMatcher()

	rule := &db.ApprovalRule{
		ID: "rule-1",
		Conditions: db.RuleConditions{
			AgentIDs:    []string{"agent-1"},
			ActionTypes: []string{"gmail.send"},
			PayloadPatterns: []db.PayloadPattern{
				{Field: "to", Operator: OpEndsWith, Value: "@example.com"},
			},
		},
	}

	action := ActionContext{
		AgentID:    "agent-1",
		ActionType: "gmail.send",
		Payload:    map[string]interface{}{"to": "bob@example.com"},
	}
	if !m.ruleMatches(rule, action) {
		t.Error("Expected full conjunction to match")
	}

	// One failing family fails the whole rule
	action.AgentID = "agent-2"
	if m.ruleMatches(rule, action) {
		t.Error("Expected agent filter to fail the rule")
	}
}

func TestRuleMatchesEmptyConditionsIsUnscoped(t *testing.T) {
	m := testMatcher()

	rule := &db.ApprovalRule{ID: "rule-1"}
	action := ActionContext{AgentID: "any", ActionType: "anything.at.all"}

	if !m.ruleMatches(rule, action) {
		t.Error("Expected rule with no conditions to match every action")
	}
}
