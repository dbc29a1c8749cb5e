package auth

import (
	"context"
	"errors"
	"testing"

	testutil "github.com/wardendesk/api/internal/testing"
)

func TestGenerateAgentKey(t *testing.T) {
	key, keyHash, keyPrefix, err := GenerateAgentKey()
	if err != nil {
		t.Fatalf("GenerateAgentKey failed: %v", err)
	}

	if len(key) < 32 {
		t.Errorf("Expected a long key, got %d characters", len(key))
	}
	if keyPrefix != key[:8] {
		t.Errorf("Expected prefix %q, got %q", key[:8], keyPrefix)
	}
	if keyHash == key {
		t.Error("Hash must not equal the plaintext key")
	}

	if !VerifyAgentKey(key, keyHash) {
		t.Error("Expected generated key to verify against its hash")
	}
	if VerifyAgentKey(key+"x", keyHash) {
		t.Error("Expected modified key to fail verification")
	}
}

func TestGenerateAgentKeyUnique(t *testing.T) {
	a, _, _, err := GenerateAgentKey()
	if err != nil {
		t.Fatalf("GenerateAgentKey failed: %v", err)
	}
	b, _, _, err := GenerateAgentKey()
	if err != nil {
		t.Fatalf("GenerateAgentKey failed: %v", err)
	}
	if a == b {
		t.Error("Expected distinct keys")
	}
}

func TestGetKeyPrefixShortKey(t *testing.T) {
	if got := GetKeyPrefix("abc"); got != "abc" {
		t.Errorf("GetKeyPrefix(abc) = %q", got)
	}
}

func TestAgentKeyManagerAuthenticate(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	user, err := testutil.CreateTestUser(ctx, tdb.Queries, "owner", "password123")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	key, keyHash, keyPrefix, err := GenerateAgentKey()
	if err != nil {
		t.Fatalf("GenerateAgentKey failed: %v", err)
	}
	agent, err := testutil.CreateTestAgent(ctx, tdb.Queries, user.ID, "assistant", keyHash, keyPrefix)
	if err != nil {
		t.Fatalf("Failed to create agent: %v", err)
	}

	manager := NewAgentKeyManager(tdb.Queries)

	got, err := manager.Authenticate(ctx, key)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got.ID != agent.ID {
		t.Errorf("Expected agent %s, got %s", agent.ID, got.ID)
	}

	if _, err := manager.Authenticate(ctx, keyPrefix+"wrong-suffix"); !errors.Is(err, ErrCredentialNotRecognized) {
		t.Errorf("Expected ErrCredentialNotRecognized for wrong key, got %v", err)
	}

	// Deactivated agents stop authenticating
	if err := tdb.Queries.SetAgentActive(ctx, agent.ID, user.ID, false); err != nil {
		t.Fatalf("Failed to deactivate agent: %v", err)
	}
	if _, err := manager.Authenticate(ctx, key); err == nil {
		t.Error("Expected inactive agent to fail authentication")
	}
}

func TestAgentKeyManagerStoreFailureIsNotRejection(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	ctx := context.Background()

	user, err := testutil.CreateTestUser(ctx, tdb.Queries, "owner", "password123")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	key, keyHash, keyPrefix, err := GenerateAgentKey()
	if err != nil {
		t.Fatalf("GenerateAgentKey failed: %v", err)
	}
	if _, err := testutil.CreateTestAgent(ctx, tdb.Queries, user.ID, "assistant", keyHash, keyPrefix); err != nil {
		t.Fatalf("Failed to create agent: %v", err)
	}

	manager := NewAgentKeyManager(tdb.Queries)

	// Truncates and closes the database; the credential itself is valid
	tdb.CleanupTestDB(t)

	_, err = manager.Authenticate(ctx, key)
	if err == nil {
		t.Fatal("Expected an error with the store unreachable")
	}
	if errors.Is(err, ErrCredentialNotRecognized) {
		t.Error("Expected a store failure to not read as a credential rejection")
	}
}

func TestAgentKeyManagerRotate(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	user, err := testutil.CreateTestUser(ctx, tdb.Queries, "owner", "password123")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	oldKey, keyHash, keyPrefix, err := GenerateAgentKey()
	if err != nil {
		t.Fatalf("GenerateAgentKey failed: %v", err)
	}
	agent, err := testutil.CreateTestAgent(ctx, tdb.Queries, user.ID, "assistant", keyHash, keyPrefix)
	if err != nil {
		t.Fatalf("Failed to create agent: %v", err)
	}

	manager := NewAgentKeyManager(tdb.Queries)

	newKey, err := manager.Rotate(ctx, agent.ID, user.ID)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if newKey == oldKey {
		t.Error("Expected rotation to mint a different key")
	}

	if _, err := manager.Authenticate(ctx, newKey); err != nil {
		t.Errorf("Expected new key to authenticate: %v", err)
	}
	if _, err := manager.Authenticate(ctx, oldKey); err == nil {
		t.Error("Expected old key to stop verifying after rotation")
	}
}
