package db

import (
	"time"
)

/* Approval lifecycle states. Pending is the only non-terminal state. */
const (
	ApprovalPending   = "pending"
	ApprovalApproved  = "approved"
	ApprovalRejected  = "rejected"
	ApprovalExpired   = "expired"
	ApprovalCancelled = "cancelled"
)

/* Approval priority classes (advisory, never gates approval) */
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

/* Service connection states */
const (
	ConnectionActive  = "active"
	ConnectionRevoked = "revoked"
	ConnectionExpired = "expired"
)

/* Connection request (authorization handshake) states */
const (
	HandshakePending   = "pending"
	HandshakeCompleted = "completed"
	HandshakeExpired   = "expired"
	HandshakeRejected  = "rejected"
)

/* User represents a human dashboard account */
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	IsAdmin      bool      `json:"is_admin"`
	PasswordHash string    `json:"-"` // Never serialize password hash
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

/* Agent represents an automated identity that can request actions */
type Agent struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	IsActive   bool       `json:"is_active"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

/* ServiceConnection represents a delegated-access grant from a provider to
 * an agent. Token columns hold ciphertext only. */
type ServiceConnection struct {
	ID              string     `json:"id"`
	AgentID         string     `json:"agent_id"`
	UserID          string     `json:"user_id"`
	Provider        string     `json:"provider"`
	AccessTokenEnc  string     `json:"-"`
	RefreshTokenEnc string     `json:"-"`
	TokenExpiresAt  time.Time  `json:"token_expires_at"`
	Scopes          []string   `json:"scopes"`
	AccountEmail    string     `json:"account_email,omitempty"`
	Status          string     `json:"status"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

/* ConnectionRequest represents an in-flight authorization handshake.
 * Single-use: the provider callback consumes it exactly once. */
type ConnectionRequest struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	UserID     string    `json:"user_id"`
	Provider   string    `json:"provider"`
	StateToken string    `json:"-"`
	Scopes     []string  `json:"scopes"`
	Status     string    `json:"status"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

/* PayloadPattern is a single condition on an action payload field */
type PayloadPattern struct {
	Field         string `json:"field"`
	Operator      string `json:"operator"`
	Value         string `json:"value"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
}

/* RuleConditions is the conjunctive condition set of an approval rule.
 * Empty filters are unscoped; every present filter must match. */
type RuleConditions struct {
	AgentIDs        []string         `json:"agent_ids,omitempty"`
	ActionTypes     []string         `json:"action_types,omitempty"`
	Providers       []string         `json:"providers,omitempty"`
	PayloadPatterns []PayloadPattern `json:"payload_patterns,omitempty"`
}

/* ApprovalRule represents an owner-defined approval policy */
type ApprovalRule struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	Name            string         `json:"name"`
	IsActive        bool           `json:"is_active"`
	Priority        int            `json:"priority"`
	Conditions      RuleConditions `json:"conditions"`
	RequireApproval bool           `json:"require_approval"`
	// ExpiryHours is the TTL applied to approvals created by this rule.
	// It is an expiry deadline only; elapsing never auto-approves.
	ExpiryHours int       `json:"expiry_hours"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

/* PendingApproval is a single pending-or-resolved authorization decision */
type PendingApproval struct {
	ID                string                 `json:"id"`
	AgentID           string                 `json:"agent_id"`
	UserID            string                 `json:"user_id"`
	RuleID            *string                `json:"rule_id,omitempty"`
	ActionType        string                 `json:"action_type"`
	Payload           map[string]interface{} `json:"payload"`
	Summary           string                 `json:"summary"`
	Priority          string                 `json:"priority"`
	Status            string                 `json:"status"`
	ExpiresAt         time.Time              `json:"expires_at"`
	ResolvedBy        *string                `json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time             `json:"resolved_at,omitempty"`
	ResolutionComment *string                `json:"resolution_comment,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

/* ApprovalHistory is an append-only audit record of approval transitions */
type ApprovalHistory struct {
	ID         string    `json:"id"`
	ApprovalID string    `json:"approval_id"`
	Event      string    `json:"event"`
	ActorID    *string   `json:"actor_id,omitempty"`
	Comment    *string   `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
