package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/wardendesk/api/internal/db"
)

// ErrCredentialNotRecognized is returned when an agent key matches no active
// agent. Infrastructure failures are reported as distinct errors so callers
// can tell a bad credential from an unavailable store.
var ErrCredentialNotRecognized = errors.New("agent credential not recognized")

// AgentKeyManager manages agent credential issuance and verification.
// Credentials are stored as bcrypt hashes; the plaintext key is returned
// exactly once at issuance or rotation and cannot be recovered afterwards.
type AgentKeyManager struct {
	queries *db.Queries
}

// NewAgentKeyManager creates a new agent key manager
func NewAgentKeyManager(queries *db.Queries) *AgentKeyManager {
	return &AgentKeyManager{queries: queries}
}

// GenerateAgentKey generates a fresh agent credential. Returns the plaintext
// key alongside its bcrypt hash and lookup prefix.
func GenerateAgentKey() (key, keyHash, keyPrefix string, err error) {
	keyBytes := make([]byte, 32)
	if _, err = rand.Read(keyBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate key: %w", err)
	}

	key = base64.URLEncoding.EncodeToString(keyBytes)
	keyPrefix = GetKeyPrefix(key)
	keyHash, err = HashAgentKey(key)
	if err != nil {
		return "", "", "", err
	}
	return key, keyHash, keyPrefix, nil
}

// Authenticate verifies an agent credential and returns the agent record.
// The key prefix only narrows the candidate set; it is not unique, so every
// active candidate is checked against its hash.
func (m *AgentKeyManager) Authenticate(ctx context.Context, key string) (*db.Agent, error) {
	prefix := GetKeyPrefix(key)

	candidates, err := m.queries.ListActiveAgentsByKeyPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent candidates: %w", err)
	}

	for i := range candidates {
		if VerifyAgentKey(key, candidates[i].KeyHash) {
			agent := candidates[i]
			_ = m.queries.TouchAgentLastSeen(ctx, agent.ID)
			return &agent, nil
		}
	}

	return nil, ErrCredentialNotRecognized
}

// Rotate replaces an agent's credential and returns the new plaintext key.
// The previous key stops verifying immediately.
func (m *AgentKeyManager) Rotate(ctx context.Context, agentID, userID string) (string, error) {
	key, keyHash, keyPrefix, err := GenerateAgentKey()
	if err != nil {
		return "", err
	}

	if err := m.queries.UpdateAgentCredential(ctx, agentID, userID, keyHash, keyPrefix); err != nil {
		return "", err
	}

	return key, nil
}

// GetKeyPrefix extracts the lookup prefix from an agent key
func GetKeyPrefix(key string) string {
	if len(key) < 8 {
		return key
	}
	return key[:8]
}

// HashAgentKey hashes an agent key using bcrypt
func HashAgentKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}

// VerifyAgentKey verifies an agent key against its hash
func VerifyAgentKey(key, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	return err == nil
}
