package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/wardendesk/api/internal/config"
	"github.com/wardendesk/api/internal/db"
	"github.com/wardendesk/api/internal/logging"
	testutil "github.com/wardendesk/api/internal/testing"
)

func setupStore(t *testing.T) (*testutil.TestDB, *Store, *db.User, *db.Agent) {
	t.Helper()
	return setupStoreWithProvider(t, config.ProviderConfig{
		Name:   "google",
		Scopes: []string{"https://www.googleapis.com/auth/gmail.readonly"},
	})
}

func setupStoreWithProvider(t *testing.T, provider config.ProviderConfig) (*testutil.TestDB, *Store, *db.User, *db.Agent) {
	t.Helper()

	tdb := testutil.SetupTestDB(t)
	ctx := context.Background()

	user, err := testutil.CreateTestUser(ctx, tdb.Queries, "owner", "password123")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	agent, err := testutil.CreateTestAgent(ctx, tdb.Queries, user.ID, "assistant", "hash", "prefix01")
	if err != nil {
		t.Fatalf("Failed to create agent: %v", err)
	}

	cipher, err := NewTokenCipher("test-secret-key")
	if err != nil {
		t.Fatalf("NewTokenCipher failed: %v", err)
	}

	store := NewStore(tdb.Queries, cipher, provider, logging.NewLogger("error", "text", "stderr"), 5*time.Minute, 15*time.Minute)

	return tdb, store, user, agent
}

func TestStoreCreateAndGetConnection(t *testing.T) {
	tdb, store, _, agent := setupStore(t)
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	token := &oauth2.Token{
		AccessToken:  "access-token-plaintext",
		RefreshToken: "refresh-token-plaintext",
		Expiry:       time.Now().Add(time.Hour),
	}

	conn, err := store.CreateConnection(ctx, agent.ID, agent.UserID, token,
		[]string{"gmail.readonly"}, "alice@example.com")
	if err != nil {
		t.Fatalf("CreateConnection failed: %v", err)
	}
	if conn.AccessTokenEnc == token.AccessToken {
		t.Error("Access token stored in plaintext")
	}
	if conn.Status != db.ConnectionActive {
		t.Errorf("Expected active connection, got %q", conn.Status)
	}

	// The token is still an hour from expiry, so the read path decrypts
	// the stored credential without touching the provider
	got, err := store.GetConnection(ctx, agent.ID, "google")
	if err != nil {
		t.Fatalf("GetConnection failed: %v", err)
	}
	if got.Token != token.AccessToken {
		t.Errorf("Expected decrypted token, got %q", got.Token)
	}
	if got.AccountEmail != "alice@example.com" {
		t.Errorf("Expected account email, got %q", got.AccountEmail)
	}
	if len(got.Scopes) != 1 || got.Scopes[0] != "gmail.readonly" {
		t.Errorf("Unexpected scopes: %v", got.Scopes)
	}
}

func TestStoreDuplicateActiveConnection(t *testing.T) {
	tdb, store, _, agent := setupStore(t)
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	token := &oauth2.Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}

	if _, err := store.CreateConnection(ctx, agent.ID, agent.UserID, token, nil, ""); err != nil {
		t.Fatalf("CreateConnection failed: %v", err)
	}
	if _, err := store.CreateConnection(ctx, agent.ID, agent.UserID, token, nil, ""); !errors.Is(err, db.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate for second active connection, got %v", err)
	}
}

func TestStoreRevokeFreesSlot(t *testing.T) {
	tdb, store, user, agent := setupStore(t)
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	token := &oauth2.Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}

	conn, err := store.CreateConnection(ctx, agent.ID, agent.UserID, token, nil, "")
	if err != nil {
		t.Fatalf("CreateConnection failed: %v", err)
	}

	if err := store.Revoke(ctx, conn.ID, user.ID); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	if _, err := store.GetConnection(ctx, agent.ID, "google"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after revocation, got %v", err)
	}

	// Revocation frees the (agent, provider, owner) slot for reconnection
	if _, err := store.CreateConnection(ctx, agent.ID, agent.UserID, token, nil, ""); err != nil {
		t.Errorf("Expected reconnection after revoke to succeed, got %v", err)
	}
}

func TestStoreHandshakeSingleUse(t *testing.T) {
	tdb, store, user, agent := setupStore(t)
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	authURL, req, err := store.StartAuthorization(ctx, agent.ID, user.ID, nil)
	if err != nil {
		t.Fatalf("StartAuthorization failed: %v", err)
	}
	if authURL == "" {
		t.Error("Expected a non-empty authorization URL")
	}
	if req.Status != db.HandshakePending {
		t.Errorf("Expected pending handshake, got %q", req.Status)
	}
	if len(req.Scopes) == 0 {
		t.Error("Expected handshake to default to provider scopes")
	}

	if err := store.RejectAuthorization(ctx, req.StateToken); err != nil {
		t.Fatalf("RejectAuthorization failed: %v", err)
	}

	// The handshake record is consumed; a replayed callback cannot use it
	if _, err := store.CompleteAuthorization(ctx, req.StateToken, "code"); err == nil {
		t.Error("Expected consumed handshake to reject completion")
	}
}

func TestStoreRefreshesNearExpiryToken(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"refreshed-access","refresh_token":"rotated-refresh","token_type":"Bearer","expires_in":3600}`)
	}))
	defer tokenServer.Close()

	tdb, store, _, agent := setupStoreWithProvider(t, config.ProviderConfig{
		Name:     "google",
		TokenURL: tokenServer.URL,
		Scopes:   []string{"https://www.googleapis.com/auth/gmail.readonly"},
	})
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	// Four minutes out is inside the five-minute refresh buffer
	staleExpiry := time.Now().Add(4 * time.Minute)
	conn, err := store.CreateConnection(ctx, agent.ID, agent.UserID, &oauth2.Token{
		AccessToken:  "stale-access",
		RefreshToken: "original-refresh",
		Expiry:       staleExpiry,
	}, nil, "")
	if err != nil {
		t.Fatalf("CreateConnection failed: %v", err)
	}

	got, err := store.GetConnection(ctx, agent.ID, "google")
	if err != nil {
		t.Fatalf("GetConnection failed: %v", err)
	}
	if got.Token != "refreshed-access" {
		t.Errorf("Expected the refreshed token, got %q", got.Token)
	}
	if !got.ExpiresAt.After(staleExpiry) {
		t.Errorf("Expected the deadline to move forward, got %v", got.ExpiresAt)
	}

	// The refreshed pair is persisted, not just returned
	stored, err := tdb.Queries.GetActiveConnection(ctx, agent.ID, "google")
	if err != nil {
		t.Fatalf("GetActiveConnection failed: %v", err)
	}
	if !stored.TokenExpiresAt.After(staleExpiry) {
		t.Errorf("Expected the stored expiry to move forward, got %v", stored.TokenExpiresAt)
	}
	access, err := store.cipher.DecryptString(stored.AccessTokenEnc)
	if err != nil {
		t.Fatalf("DecryptString failed: %v", err)
	}
	if access != "refreshed-access" {
		t.Errorf("Expected the refreshed token at rest, got %q", access)
	}
	refresh, err := store.cipher.DecryptString(stored.RefreshTokenEnc)
	if err != nil {
		t.Fatalf("DecryptString failed: %v", err)
	}
	if refresh != "rotated-refresh" {
		t.Errorf("Expected the rotated refresh credential at rest, got %q", refresh)
	}

	if conn.ID != stored.ID {
		t.Error("Expected the refresh to update the existing connection in place")
	}
}

func TestStoreRefreshFailureReturnsStaleToken(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "provider unavailable", http.StatusInternalServerError)
	}))
	defer tokenServer.Close()

	tdb, store, _, agent := setupStoreWithProvider(t, config.ProviderConfig{
		Name:     "google",
		TokenURL: tokenServer.URL,
	})
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	staleExpiry := time.Now().Add(4 * time.Minute)
	if _, err := store.CreateConnection(ctx, agent.ID, agent.UserID, &oauth2.Token{
		AccessToken:  "stale-access",
		RefreshToken: "original-refresh",
		Expiry:       staleExpiry,
	}, nil, ""); err != nil {
		t.Fatalf("CreateConnection failed: %v", err)
	}

	// Refresh fails; the existing token comes back and the real failure
	// surfaces at the provider call site instead
	got, err := store.GetConnection(ctx, agent.ID, "google")
	if err != nil {
		t.Fatalf("GetConnection failed: %v", err)
	}
	if got.Token != "stale-access" {
		t.Errorf("Expected the stale token as fallback, got %q", got.Token)
	}
}

func TestStoreExpiredConnectionWithoutRefreshCredential(t *testing.T) {
	tdb, store, user, agent := setupStore(t)
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	conn, err := store.CreateConnection(ctx, agent.ID, agent.UserID, &oauth2.Token{
		AccessToken: "dead-access",
		Expiry:      time.Now().Add(-time.Minute),
	}, nil, "")
	if err != nil {
		t.Fatalf("CreateConnection failed: %v", err)
	}

	if _, err := store.GetConnection(ctx, agent.ID, "google"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a dead connection, got %v", err)
	}

	stored, err := tdb.Queries.GetConnection(ctx, conn.ID, user.ID)
	if err != nil {
		t.Fatalf("GetConnection failed: %v", err)
	}
	if stored.Status != db.ConnectionExpired {
		t.Errorf("Expected the dead connection settled as expired, got %q", stored.Status)
	}

	// Settling frees the active slot for reconnection
	if _, err := store.CreateConnection(ctx, agent.ID, agent.UserID, &oauth2.Token{
		AccessToken: "fresh-access",
		Expiry:      time.Now().Add(time.Hour),
	}, nil, ""); err != nil {
		t.Errorf("Expected reconnection after expiry to succeed, got %v", err)
	}
}

func TestStoreExpiredHandshakeSettled(t *testing.T) {
	tdb, store, user, agent := setupStore(t)
	defer tdb.CleanupTestDB(t)
	ctx := context.Background()

	_, req, err := store.StartAuthorization(ctx, agent.ID, user.ID, nil)
	if err != nil {
		t.Fatalf("StartAuthorization failed: %v", err)
	}

	if _, err := tdb.DB.ExecContext(ctx,
		`UPDATE connection_requests SET expires_at = NOW() - INTERVAL '1 minute' WHERE id = $1`,
		req.ID); err != nil {
		t.Fatalf("Failed to backdate connection request: %v", err)
	}

	if _, err := store.CompleteAuthorization(ctx, req.StateToken, "code"); !errors.Is(err, db.ErrConflict) {
		t.Errorf("Expected ErrConflict completing an expired handshake, got %v", err)
	}

	stored, err := tdb.Queries.GetConnectionRequestByState(ctx, req.StateToken)
	if err != nil {
		t.Fatalf("GetConnectionRequestByState failed: %v", err)
	}
	if stored.Status != db.HandshakeExpired {
		t.Errorf("Expected the overdue handshake settled as expired, got %q", stored.Status)
	}
}

func TestStoreUnknownState(t *testing.T) {
	tdb, store, _, _ := setupStore(t)
	defer tdb.CleanupTestDB(t)

	if _, err := store.CompleteAuthorization(context.Background(), "bogus-state", "code"); err == nil {
		t.Error("Expected unknown state token to fail")
	}
}
