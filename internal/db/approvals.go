package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Pending approval operations.
//
// Resolution, cancellation and the expiry sweep are all conditional updates
// on status = 'pending'. Exactly one concurrent writer observes success; the
// rest observe ErrConflict. The matching history row is written in the same
// transaction as the winning update, so the audit trail records each outcome
// exactly once.

// CreateApproval persists a new pending approval and its 'created' history entry
func (q *Queries) CreateApproval(ctx context.Context, approval *PendingApproval) error {
	if approval.ID == "" {
		approval.ID = uuid.New().String()
	}
	if approval.CreatedAt.IsZero() {
		approval.CreatedAt = time.Now()
	}
	approval.UpdatedAt = time.Now()
	if approval.Status == "" {
		approval.Status = ApprovalPending
	}

	payloadJSON, err := json.Marshal(approval.Payload)
	if err != nil {
		return err
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO pending_approvals (id, agent_id, user_id, rule_id, action_type, payload, summary, priority, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = tx.ExecContext(ctx, query,
		approval.ID, approval.AgentID, approval.UserID, approval.RuleID,
		approval.ActionType, payloadJSON, approval.Summary, approval.Priority,
		approval.Status, approval.ExpiresAt, approval.CreatedAt, approval.UpdatedAt)
	if err != nil {
		return err
	}

	if err := insertHistoryTx(ctx, tx, approval.ID, "created", nil, nil); err != nil {
		return err
	}

	return tx.Commit()
}

// GetApproval gets an approval by ID
func (q *Queries) GetApproval(ctx context.Context, id string) (*PendingApproval, error) {
	query := selectApproval + ` WHERE id = $1`
	return q.getApproval(ctx, query, id)
}

// GetApprovalForUser gets an approval by ID, scoped to its owning human
func (q *Queries) GetApprovalForUser(ctx context.Context, id, userID string) (*PendingApproval, error) {
	query := selectApproval + ` WHERE id = $1 AND user_id = $2`
	return q.getApproval(ctx, query, id, userID)
}

// GetApprovalForAgent gets an approval by ID, scoped to the requesting agent
func (q *Queries) GetApprovalForAgent(ctx context.Context, id, agentID string) (*PendingApproval, error) {
	query := selectApproval + ` WHERE id = $1 AND agent_id = $2`
	return q.getApproval(ctx, query, id, agentID)
}

// ListApprovals lists approvals owned by a user, optionally filtered by status
func (q *Queries) ListApprovals(ctx context.Context, userID, status string, limit, offset int) ([]PendingApproval, error) {
	var rows *sql.Rows
	var err error

	if status != "" {
		query := selectApproval + `
			WHERE user_id = $1 AND status = $2
			ORDER BY created_at DESC
			LIMIT $3 OFFSET $4`
		rows, err = q.db.QueryContext(ctx, query, userID, status, limit, offset)
	} else {
		query := selectApproval + `
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3`
		rows, err = q.db.QueryContext(ctx, query, userID, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []PendingApproval
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, *approval)
	}
	return approvals, rows.Err()
}

// ResolveApproval transitions a pending approval to approved or rejected.
// The update succeeds only while the stored status is still 'pending'; a
// prior resolution is never overwritten.
func (q *Queries) ResolveApproval(ctx context.Context, id, userID, resolverID, outcome string, comment *string) (*PendingApproval, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		UPDATE pending_approvals
		SET status = $3, resolved_by = $4, resolved_at = NOW(), resolution_comment = $5, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status = 'pending'
	`
	result, err := tx.ExecContext(ctx, query, id, userID, outcome, resolverID, comment)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Distinguish a lost race from a missing row
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM pending_approvals WHERE id = $1 AND user_id = $2`, id, userID).Scan(&status)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}

	if err := insertHistoryTx(ctx, tx, id, outcome, &resolverID, comment); err != nil {
		return nil, err
	}

	approval, err := getApprovalTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return approval, nil
}

// CancelApproval transitions a pending approval to cancelled, with the same
// conditional-update discipline as ResolveApproval.
func (q *Queries) CancelApproval(ctx context.Context, id, userID string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		UPDATE pending_approvals
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status = 'pending'
	`
	result, err := tx.ExecContext(ctx, query, id, userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM pending_approvals WHERE id = $1 AND user_id = $2`, id, userID).Scan(&status)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrConflict
	}

	if err := insertHistoryTx(ctx, tx, id, "cancelled", nil, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// SweepExpiredApprovals batch-transitions overdue pending approvals to
// expired and returns how many rows transitioned. The expiry boundary is
// exclusive on the pending side: expires_at equal to now is already expired.
func (q *Queries) SweepExpiredApprovals(ctx context.Context) (int, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	query := `
		UPDATE pending_approvals
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending' AND expires_at <= NOW()
		RETURNING id
	`
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := insertHistoryTx(ctx, tx, id, "expired", nil, nil); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// ListApprovalHistory lists the audit trail for an approval, oldest first
func (q *Queries) ListApprovalHistory(ctx context.Context, approvalID string) ([]ApprovalHistory, error) {
	query := `
		SELECT id, approval_id, event, actor_id, comment, created_at
		FROM approval_history
		WHERE approval_id = $1
		ORDER BY created_at ASC
	`
	rows, err := q.db.QueryContext(ctx, query, approvalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ApprovalHistory
	for rows.Next() {
		var entry ApprovalHistory
		var actorID, comment sql.NullString
		if err := rows.Scan(&entry.ID, &entry.ApprovalID, &entry.Event,
			&actorID, &comment, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if actorID.Valid {
			entry.ActorID = &actorID.String
		}
		if comment.Valid {
			entry.Comment = &comment.String
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

const selectApproval = `
	SELECT id, agent_id, user_id, rule_id, action_type, payload, summary, priority, status, expires_at, resolved_by, resolved_at, resolution_comment, created_at, updated_at
	FROM pending_approvals`

func (q *Queries) getApproval(ctx context.Context, query string, args ...interface{}) (*PendingApproval, error) {
	approval, err := scanApproval(q.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return approval, err
}

func getApprovalTx(ctx context.Context, tx *sql.Tx, id string) (*PendingApproval, error) {
	approval, err := scanApproval(tx.QueryRowContext(ctx, selectApproval+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return approval, err
}

func scanApproval(row rowScanner) (*PendingApproval, error) {
	var approval PendingApproval
	var payloadJSON []byte
	var ruleID, resolvedBy, comment sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&approval.ID, &approval.AgentID, &approval.UserID, &ruleID,
		&approval.ActionType, &payloadJSON, &approval.Summary, &approval.Priority,
		&approval.Status, &approval.ExpiresAt, &resolvedBy, &resolvedAt, &comment,
		&approval.CreatedAt, &approval.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if ruleID.Valid {
		approval.RuleID = &ruleID.String
	}
	if resolvedBy.Valid {
		approval.ResolvedBy = &resolvedBy.String
	}
	if resolvedAt.Valid {
		approval.ResolvedAt = &resolvedAt.Time
	}
	if comment.Valid {
		approval.ResolutionComment = &comment.String
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &approval.Payload); err != nil {
			return nil, err
		}
	}
	return &approval, nil
}

func insertHistoryTx(ctx context.Context, tx *sql.Tx, approvalID, event string, actorID, comment *string) error {
	query := `
		INSERT INTO approval_history (id, approval_id, event, actor_id, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`
	_, err := tx.ExecContext(ctx, query, uuid.New().String(), approvalID, event, actorID, comment)
	return err
}
