package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Approval rule operations

// CreateRule creates a new approval rule
func (q *Queries) CreateRule(ctx context.Context, rule *ApprovalRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	rule.UpdatedAt = time.Now()

	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO approval_rules (id, user_id, name, is_active, priority, conditions, require_approval, expiry_hours, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = q.db.ExecContext(ctx, query,
		rule.ID, rule.UserID, rule.Name, rule.IsActive, rule.Priority,
		conditionsJSON, rule.RequireApproval, rule.ExpiryHours,
		rule.CreatedAt, rule.UpdatedAt)
	return err
}

// GetRule gets a rule by ID, scoped to its owner
func (q *Queries) GetRule(ctx context.Context, id, userID string) (*ApprovalRule, error) {
	query := `
		SELECT id, user_id, name, is_active, priority, conditions, require_approval, expiry_hours, created_at, updated_at
		FROM approval_rules
		WHERE id = $1 AND user_id = $2
	`
	rule, err := scanRule(q.db.QueryRowContext(ctx, query, id, userID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRules lists all rules owned by a user
func (q *Queries) ListRules(ctx context.Context, userID string) ([]ApprovalRule, error) {
	query := `
		SELECT id, user_id, name, is_active, priority, conditions, require_approval, expiry_hours, created_at, updated_at
		FROM approval_rules
		WHERE user_id = $1
		ORDER BY priority DESC, created_at ASC
	`
	return q.queryRules(ctx, query, userID)
}

// ListActiveRules lists active rules owned by a user in evaluation order:
// priority descending, creation time ascending on ties. The ordering is a
// total order so evaluation is reproducible regardless of storage order.
func (q *Queries) ListActiveRules(ctx context.Context, userID string) ([]ApprovalRule, error) {
	query := `
		SELECT id, user_id, name, is_active, priority, conditions, require_approval, expiry_hours, created_at, updated_at
		FROM approval_rules
		WHERE user_id = $1 AND is_active = true
		ORDER BY priority DESC, created_at ASC
	`
	return q.queryRules(ctx, query, userID)
}

// UpdateRule updates a rule owned by a user
func (q *Queries) UpdateRule(ctx context.Context, rule *ApprovalRule) error {
	rule.UpdatedAt = time.Now()

	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return err
	}

	query := `
		UPDATE approval_rules
		SET name = $3, is_active = $4, priority = $5, conditions = $6, require_approval = $7, expiry_hours = $8, updated_at = $9
		WHERE id = $1 AND user_id = $2
	`
	result, err := q.db.ExecContext(ctx, query,
		rule.ID, rule.UserID, rule.Name, rule.IsActive, rule.Priority,
		conditionsJSON, rule.RequireApproval, rule.ExpiryHours, rule.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// DeleteRule deletes a rule owned by a user
func (q *Queries) DeleteRule(ctx context.Context, id, userID string) error {
	query := `DELETE FROM approval_rules WHERE id = $1 AND user_id = $2`
	result, err := q.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (q *Queries) queryRules(ctx context.Context, query string, args ...interface{}) ([]ApprovalRule, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

func scanRule(row rowScanner) (*ApprovalRule, error) {
	var rule ApprovalRule
	var conditionsJSON []byte

	err := row.Scan(
		&rule.ID, &rule.UserID, &rule.Name, &rule.IsActive, &rule.Priority,
		&conditionsJSON, &rule.RequireApproval, &rule.ExpiryHours,
		&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(conditionsJSON) > 0 {
		if err := json.Unmarshal(conditionsJSON, &rule.Conditions); err != nil {
			return nil, err
		}
	}
	return &rule, nil
}
