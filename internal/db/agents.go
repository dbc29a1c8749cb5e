package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Agent operations. Every read and write is scoped by owner where the caller
// supplies one; ownership is enforced here, not by the storage engine.

// CreateAgent creates a new agent
func (q *Queries) CreateAgent(ctx context.Context, agent *Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now()
	}
	agent.UpdatedAt = time.Now()

	query := `
		INSERT INTO agents (id, user_id, name, is_active, key_hash, key_prefix, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := q.db.ExecContext(ctx, query,
		agent.ID, agent.UserID, agent.Name, agent.IsActive,
		agent.KeyHash, agent.KeyPrefix, agent.CreatedAt, agent.UpdatedAt)
	return err
}

// GetAgent gets an agent by ID, scoped to its owner
func (q *Queries) GetAgent(ctx context.Context, id, userID string) (*Agent, error) {
	query := `
		SELECT id, user_id, name, is_active, key_hash, key_prefix, last_seen_at, created_at, updated_at
		FROM agents
		WHERE id = $1 AND user_id = $2
	`
	return q.scanAgent(q.db.QueryRowContext(ctx, query, id, userID))
}

// ListAgents lists agents owned by a user
func (q *Queries) ListAgents(ctx context.Context, userID string) ([]Agent, error) {
	query := `
		SELECT id, user_id, name, is_active, key_hash, key_prefix, last_seen_at, created_at, updated_at
		FROM agents
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := q.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		agent, err := q.scanAgentRows(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}
	return agents, rows.Err()
}

// ListActiveAgentsByKeyPrefix lists active agents whose credential prefix
// matches. The prefix narrows candidates; it is not unique, so callers must
// verify the secret against each candidate's hash.
func (q *Queries) ListActiveAgentsByKeyPrefix(ctx context.Context, prefix string) ([]Agent, error) {
	query := `
		SELECT id, user_id, name, is_active, key_hash, key_prefix, last_seen_at, created_at, updated_at
		FROM agents
		WHERE key_prefix = $1 AND is_active = true
		ORDER BY created_at ASC
	`
	rows, err := q.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		agent, err := q.scanAgentRows(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}
	return agents, rows.Err()
}

// UpdateAgentCredential replaces an agent's credential hash and prefix.
// The previous secret stops working the moment this commits.
func (q *Queries) UpdateAgentCredential(ctx context.Context, id, userID, keyHash, keyPrefix string) error {
	query := `
		UPDATE agents
		SET key_hash = $3, key_prefix = $4, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`
	result, err := q.db.ExecContext(ctx, query, id, userID, keyHash, keyPrefix)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// SetAgentActive activates or deactivates an agent
func (q *Queries) SetAgentActive(ctx context.Context, id, userID string, active bool) error {
	query := `
		UPDATE agents
		SET is_active = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`
	result, err := q.db.ExecContext(ctx, query, id, userID, active)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// TouchAgentLastSeen updates the agent's last-seen timestamp
func (q *Queries) TouchAgentLastSeen(ctx context.Context, id string) error {
	query := `UPDATE agents SET last_seen_at = NOW() WHERE id = $1`
	_, err := q.db.ExecContext(ctx, query, id)
	return err
}

// DeleteAgent deletes an agent owned by a user
func (q *Queries) DeleteAgent(ctx context.Context, id, userID string) error {
	query := `DELETE FROM agents WHERE id = $1 AND user_id = $2`
	result, err := q.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (q *Queries) scanAgent(row rowScanner) (*Agent, error) {
	agent, err := q.scanAgentRows(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return agent, err
}

func (q *Queries) scanAgentRows(row rowScanner) (*Agent, error) {
	var agent Agent
	var lastSeen sql.NullTime

	err := row.Scan(
		&agent.ID, &agent.UserID, &agent.Name, &agent.IsActive,
		&agent.KeyHash, &agent.KeyPrefix, &lastSeen,
		&agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		agent.LastSeenAt = &lastSeen.Time
	}
	return &agent, nil
}

// requireRow converts a zero-row update into ErrNotFound
func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
