package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Service connection and connection request operations

// CreateConnection persists a new active connection. At most one active
// connection may exist per (agent, provider, owner) triple; a duplicate is
// rejected with ErrDuplicate. A partial unique index backs the same
// invariant against concurrent inserts.
func (q *Queries) CreateConnection(ctx context.Context, conn *ServiceConnection) error {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now()
	}
	conn.UpdatedAt = time.Now()
	if conn.Status == "" {
		conn.Status = ConnectionActive
	}

	scopesJSON, err := json.Marshal(conn.Scopes)
	if err != nil {
		return err
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM service_connections
			WHERE agent_id = $1 AND provider = $2 AND user_id = $3 AND status = 'active'
		)`, conn.AgentID, conn.Provider, conn.UserID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicate
	}

	query := `
		INSERT INTO service_connections (id, agent_id, user_id, provider, access_token_enc, refresh_token_enc, token_expires_at, scopes, account_email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = tx.ExecContext(ctx, query,
		conn.ID, conn.AgentID, conn.UserID, conn.Provider,
		conn.AccessTokenEnc, conn.RefreshTokenEnc, conn.TokenExpiresAt,
		scopesJSON, conn.AccountEmail, conn.Status, conn.CreatedAt, conn.UpdatedAt)
	if err != nil {
		// Two racing creates can both pass the pre-check; the loser hits
		// the partial unique index instead
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}

	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// GetActiveConnection gets the active connection for an agent and provider
func (q *Queries) GetActiveConnection(ctx context.Context, agentID, provider string) (*ServiceConnection, error) {
	query := selectConnection + `
		WHERE agent_id = $1 AND provider = $2 AND status = 'active'`
	conn, err := scanConnection(q.db.QueryRowContext(ctx, query, agentID, provider))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return conn, err
}

// GetConnection gets a connection by ID, scoped to its owner
func (q *Queries) GetConnection(ctx context.Context, id, userID string) (*ServiceConnection, error) {
	query := selectConnection + `
		WHERE id = $1 AND user_id = $2`
	conn, err := scanConnection(q.db.QueryRowContext(ctx, query, id, userID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return conn, err
}

// ListConnections lists connections owned by a user
func (q *Queries) ListConnections(ctx context.Context, userID string) ([]ServiceConnection, error) {
	query := selectConnection + `
		WHERE user_id = $1
		ORDER BY created_at DESC`
	rows, err := q.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []ServiceConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *conn)
	}
	return conns, rows.Err()
}

// UpdateConnectionTokens persists a refreshed token pair and extended expiry.
// Refresh races are last-writer-wins: both writers hold valid tokens, so a
// plain update is correct here.
func (q *Queries) UpdateConnectionTokens(ctx context.Context, id, accessTokenEnc, refreshTokenEnc string, expiresAt time.Time) error {
	query := `
		UPDATE service_connections
		SET access_token_enc = $2, refresh_token_enc = $3, token_expires_at = $4, last_used_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	result, err := q.db.ExecContext(ctx, query, id, accessTokenEnc, refreshTokenEnc, expiresAt)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// TouchConnectionLastUsed updates a connection's last-used timestamp
func (q *Queries) TouchConnectionLastUsed(ctx context.Context, id string) error {
	query := `UPDATE service_connections SET last_used_at = NOW() WHERE id = $1`
	_, err := q.db.ExecContext(ctx, query, id)
	return err
}

// RevokeConnection marks a connection revoked. Irreversible.
func (q *Queries) RevokeConnection(ctx context.Context, id, userID string) error {
	query := `
		UPDATE service_connections
		SET status = 'revoked', updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status = 'active'
	`
	result, err := q.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// ExpireConnection marks an active connection expired. Used when the read
// path finds a connection whose token is past expiry with no refresh
// credential to renew it.
func (q *Queries) ExpireConnection(ctx context.Context, id string) error {
	query := `
		UPDATE service_connections
		SET status = 'expired', updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`
	_, err := q.db.ExecContext(ctx, query, id)
	return err
}

// Connection request operations

// CreateConnectionRequest persists a new authorization handshake record
func (q *Queries) CreateConnectionRequest(ctx context.Context, req *ConnectionRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	if req.Status == "" {
		req.Status = HandshakePending
	}

	scopesJSON, err := json.Marshal(req.Scopes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO connection_requests (id, agent_id, user_id, provider, state_token, scopes, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = q.db.ExecContext(ctx, query,
		req.ID, req.AgentID, req.UserID, req.Provider, req.StateToken,
		scopesJSON, req.Status, req.ExpiresAt, req.CreatedAt)
	return err
}

// GetConnectionRequestByState gets a handshake record by its state token
func (q *Queries) GetConnectionRequestByState(ctx context.Context, stateToken string) (*ConnectionRequest, error) {
	query := `
		SELECT id, agent_id, user_id, provider, state_token, scopes, status, expires_at, created_at
		FROM connection_requests
		WHERE state_token = $1
	`
	var req ConnectionRequest
	var scopesJSON []byte
	err := q.db.QueryRowContext(ctx, query, stateToken).Scan(
		&req.ID, &req.AgentID, &req.UserID, &req.Provider, &req.StateToken,
		&scopesJSON, &req.Status, &req.ExpiresAt, &req.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(scopesJSON) > 0 {
		if err := json.Unmarshal(scopesJSON, &req.Scopes); err != nil {
			return nil, err
		}
	}
	return &req, nil
}

// ConsumeConnectionRequest transitions a pending, unexpired handshake to the
// given terminal status. Conditional on the stored status still being
// pending, so the callback consumes the record exactly once.
func (q *Queries) ConsumeConnectionRequest(ctx context.Context, id, status string) error {
	query := `
		UPDATE connection_requests
		SET status = $2
		WHERE id = $1 AND status = 'pending' AND expires_at > NOW()
	`
	result, err := q.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

// ExpireConnectionRequest marks an overdue pending handshake expired.
// Unlike ConsumeConnectionRequest this has no expires_at guard; it exists
// precisely to settle records whose deadline has passed.
func (q *Queries) ExpireConnectionRequest(ctx context.Context, id string) error {
	query := `
		UPDATE connection_requests
		SET status = 'expired'
		WHERE id = $1 AND status = 'pending'
	`
	_, err := q.db.ExecContext(ctx, query, id)
	return err
}

const selectConnection = `
	SELECT id, agent_id, user_id, provider, access_token_enc, refresh_token_enc, token_expires_at, scopes, account_email, status, last_used_at, created_at, updated_at
	FROM service_connections`

func scanConnection(row rowScanner) (*ServiceConnection, error) {
	var conn ServiceConnection
	var scopesJSON []byte
	var refreshToken, accountEmail sql.NullString
	var lastUsed sql.NullTime

	err := row.Scan(
		&conn.ID, &conn.AgentID, &conn.UserID, &conn.Provider,
		&conn.AccessTokenEnc, &refreshToken, &conn.TokenExpiresAt,
		&scopesJSON, &accountEmail, &conn.Status, &lastUsed,
		&conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if refreshToken.Valid {
		conn.RefreshTokenEnc = refreshToken.String
	}
	if accountEmail.Valid {
		conn.AccountEmail = accountEmail.String
	}
	if lastUsed.Valid {
		conn.LastUsedAt = &lastUsed.Time
	}
	if len(scopesJSON) > 0 {
		if err := json.Unmarshal(scopesJSON, &conn.Scopes); err != nil {
			return nil, err
		}
	}
	return &conn, nil
}
