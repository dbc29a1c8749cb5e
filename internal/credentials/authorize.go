package credentials

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/wardendesk/api/internal/db"
)

// Authorization handshake. A ConnectionRequest binds the provider redirect
// back to the initiating agent via an unguessable state token; the callback
// consumes the record exactly once before materializing a connection.

// StartAuthorization creates a short-lived handshake record and returns the
// provider authorization URL the owner must visit.
func (s *Store) StartAuthorization(ctx context.Context, agentID, userID string, scopes []string) (string, *db.ConnectionRequest, error) {
	state, err := generateStateToken()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate state token: %w", err)
	}

	if len(scopes) == 0 {
		scopes = s.provider.Scopes
	}

	req := &db.ConnectionRequest{
		AgentID:    agentID,
		UserID:     userID,
		Provider:   s.provider.Name,
		StateToken: state,
		Scopes:     scopes,
		Status:     db.HandshakePending,
		ExpiresAt:  time.Now().Add(s.handshakeTTL),
	}

	if err := s.queries.CreateConnectionRequest(ctx, req); err != nil {
		return "", nil, fmt.Errorf("failed to create connection request: %w", err)
	}

	authURL := s.oauthConf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)

	return authURL, req, nil
}

// CompleteAuthorization handles the provider callback. It verifies the
// state token and pending status, consumes the handshake record, exchanges
// the authorization code, resolves the provider-reported identity, and
// materializes the service connection.
func (s *Store) CompleteAuthorization(ctx context.Context, state, code string) (*db.ServiceConnection, error) {
	req, err := s.queries.GetConnectionRequestByState(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("unknown authorization state: %w", err)
	}

	if req.Status != db.HandshakePending {
		return nil, fmt.Errorf("authorization request already consumed: %w", db.ErrConflict)
	}
	if !req.ExpiresAt.After(time.Now()) {
		// Settle the overdue record so it does not read as pending forever
		if err := s.queries.ExpireConnectionRequest(ctx, req.ID); err != nil {
			s.logger.Warn("Failed to expire overdue connection request", map[string]interface{}{
				"request_id": req.ID,
				"error":      err.Error(),
			})
		}
		return nil, fmt.Errorf("authorization request expired: %w", db.ErrConflict)
	}

	// Consume before the exchange so a replayed callback cannot mint a
	// second connection from the same handshake.
	if err := s.queries.ConsumeConnectionRequest(ctx, req.ID, db.HandshakeCompleted); err != nil {
		return nil, fmt.Errorf("authorization request already consumed: %w", err)
	}

	token, err := s.oauthConf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	accountEmail, err := s.fetchAccountEmail(ctx, token)
	if err != nil {
		s.logger.Warn("Failed to resolve provider identity", map[string]interface{}{
			"request_id": req.ID,
			"error":      err.Error(),
		})
		accountEmail = ""
	}

	return s.CreateConnection(ctx, req.AgentID, req.UserID, token, req.Scopes, accountEmail)
}

// RejectAuthorization marks a pending handshake rejected
func (s *Store) RejectAuthorization(ctx context.Context, state string) error {
	req, err := s.queries.GetConnectionRequestByState(ctx, state)
	if err != nil {
		return err
	}
	return s.queries.ConsumeConnectionRequest(ctx, req.ID, db.HandshakeRejected)
}

// fetchAccountEmail asks the provider's userinfo endpoint which account the
// grant is for.
func (s *Store) fetchAccountEmail(ctx context.Context, token *oauth2.Token) (string, error) {
	if s.provider.UserInfoURL == "" {
		return "", nil
	}

	client := s.oauthConf.Client(ctx, token)
	resp, err := client.Get(s.provider.UserInfoURL)
	if err != nil {
		return "", fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo request returned status %d", resp.StatusCode)
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("failed to decode userinfo response: %w", err)
	}
	return info.Email, nil
}

func generateStateToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}
