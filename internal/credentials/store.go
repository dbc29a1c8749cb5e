package credentials

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/wardendesk/api/internal/config"
	"github.com/wardendesk/api/internal/db"
	"github.com/wardendesk/api/internal/logging"
	"github.com/wardendesk/api/internal/metrics"
)

// AccessToken is a decrypted, ready-to-use delegated credential. It must
// never be persisted, serialized, or logged; callers use it for the lifetime
// returned and no longer.
type AccessToken struct {
	ConnectionID string    `json:"connection_id"`
	Token        string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes"`
	AccountEmail string    `json:"account_email,omitempty"`
}

// Store manages the lifecycle of delegated provider credentials: issuance,
// encryption at rest, near-expiry refresh, and revocation. The provider's
// OAuth client configuration is injected at construction; there is no
// process-global provider state.
type Store struct {
	queries       *db.Queries
	cipher        *TokenCipher
	logger        *logging.Logger
	provider      config.ProviderConfig
	oauthConf     *oauth2.Config
	refreshBuffer time.Duration
	handshakeTTL  time.Duration
}

// NewStore creates a new credential store
func NewStore(queries *db.Queries, tokenCipher *TokenCipher, provider config.ProviderConfig, logger *logging.Logger, refreshBuffer, handshakeTTL time.Duration) *Store {
	if refreshBuffer <= 0 {
		refreshBuffer = 5 * time.Minute
	}
	if handshakeTTL <= 0 {
		handshakeTTL = 15 * time.Minute
	}
	return &Store{
		queries: queries,
		cipher:  tokenCipher,
		logger:  logger,
		provider: provider,
		oauthConf: &oauth2.Config{
			ClientID:     provider.ClientID,
			ClientSecret: provider.ClientSecret,
			RedirectURL:  provider.RedirectURL,
			Scopes:       provider.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  provider.AuthURL,
				TokenURL: provider.TokenURL,
			},
		},
		refreshBuffer: refreshBuffer,
		handshakeTTL:  handshakeTTL,
	}
}

// GetConnection returns a live access token for the agent's active
// connection to the given provider. A token expiring within the refresh
// buffer is refreshed first when a refresh credential is present. Refresh is
// best-effort: on failure the existing, possibly stale token is returned and
// the real failure surfaces at the provider call site, not here.
func (s *Store) GetConnection(ctx context.Context, agentID, provider string) (*AccessToken, error) {
	conn, err := s.queries.GetActiveConnection(ctx, agentID, provider)
	if err != nil {
		return nil, err
	}

	// A connection with no refresh credential and a token past expiry can
	// never serve again; settle it as expired.
	if conn.RefreshTokenEnc == "" && !conn.TokenExpiresAt.After(time.Now()) {
		if err := s.queries.ExpireConnection(ctx, conn.ID); err != nil {
			s.logger.Warn("Failed to expire dead connection", map[string]interface{}{
				"connection_id": conn.ID,
				"error":         err.Error(),
			})
		}
		return nil, fmt.Errorf("connection token expired with no refresh credential: %w", db.ErrNotFound)
	}

	if time.Until(conn.TokenExpiresAt) < s.refreshBuffer && conn.RefreshTokenEnc != "" {
		refreshed, err := s.refresh(ctx, conn)
		if err == nil {
			return refreshed, nil
		}
		s.logger.Warn("Token refresh failed, returning existing token", map[string]interface{}{
			"connection_id": conn.ID,
			"agent_id":      agentID,
			"error":         err.Error(),
		})
		metrics.RecordTokenRefresh("failure")
	}

	accessToken, err := s.cipher.DecryptString(conn.AccessTokenEnc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}

	_ = s.queries.TouchConnectionLastUsed(ctx, conn.ID)

	return &AccessToken{
		ConnectionID: conn.ID,
		Token:        accessToken,
		ExpiresAt:    conn.TokenExpiresAt,
		Scopes:       conn.Scopes,
		AccountEmail: conn.AccountEmail,
	}, nil
}

// refresh exchanges the stored refresh credential for a new token pair and
// persists it. Concurrent refreshes for the same connection may both run;
// the provider's refresh exchange is idempotent per refresh token and the
// stored pair is last-writer-wins, so a race is a duplicate write, not an
// error.
func (s *Store) refresh(ctx context.Context, conn *db.ServiceConnection) (*AccessToken, error) {
	refreshToken, err := s.cipher.DecryptString(conn.RefreshTokenEnc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	source := s.oauthConf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("provider refresh failed: %w", err)
	}

	accessEnc, err := s.cipher.EncryptString(token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	// Providers may rotate the refresh token; keep the old one when absent
	refreshEnc := conn.RefreshTokenEnc
	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		refreshEnc, err = s.cipher.EncryptString(token.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}

	if err := s.queries.UpdateConnectionTokens(ctx, conn.ID, accessEnc, refreshEnc, token.Expiry); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	s.logger.Info("Connection token refreshed", map[string]interface{}{
		"connection_id": conn.ID,
		"expires_at":    token.Expiry,
	})
	metrics.RecordTokenRefresh("success")

	return &AccessToken{
		ConnectionID: conn.ID,
		Token:        token.AccessToken,
		ExpiresAt:    token.Expiry,
		Scopes:       conn.Scopes,
		AccountEmail: conn.AccountEmail,
	}, nil
}

// CreateConnection persists a new active connection from a completed
// authorization exchange. A second active connection for the same
// (agent, provider, owner) triple is rejected with db.ErrDuplicate.
func (s *Store) CreateConnection(ctx context.Context, agentID, userID string, token *oauth2.Token, scopes []string, accountEmail string) (*db.ServiceConnection, error) {
	accessEnc, err := s.cipher.EncryptString(token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	refreshEnc := ""
	if token.RefreshToken != "" {
		refreshEnc, err = s.cipher.EncryptString(token.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}

	conn := &db.ServiceConnection{
		AgentID:         agentID,
		UserID:          userID,
		Provider:        s.provider.Name,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		TokenExpiresAt:  token.Expiry,
		Scopes:          scopes,
		AccountEmail:    accountEmail,
		Status:          db.ConnectionActive,
	}

	if err := s.queries.CreateConnection(ctx, conn); err != nil {
		return nil, err
	}

	s.logger.Info("Service connection created", map[string]interface{}{
		"connection_id": conn.ID,
		"agent_id":      agentID,
		"provider":      conn.Provider,
	})

	return conn, nil
}

// Revoke marks a connection revoked. Irreversible.
func (s *Store) Revoke(ctx context.Context, connectionID, userID string) error {
	return s.queries.RevokeConnection(ctx, connectionID, userID)
}

// List lists a user's connections
func (s *Store) List(ctx context.Context, userID string) ([]db.ServiceConnection, error) {
	return s.queries.ListConnections(ctx, userID)
}
