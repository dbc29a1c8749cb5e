package oidc

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

/* Provider wraps an OIDC issuer for dashboard single sign-on */
type Provider struct {
	provider   *oidc.Provider
	oauth2Conf *oauth2.Config
	verifier   *oidc.IDTokenVerifier
}

/* NewProvider discovers the issuer and builds the OAuth2 config */
func NewProvider(ctx context.Context, issuerURL, clientID, clientSecret, redirectURL string, scopes []string) (*Provider, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	oauth2Conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		Endpoint:     provider.Endpoint(),
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: clientID,
	})

	return &Provider{
		provider:   provider,
		oauth2Conf: oauth2Conf,
		verifier:   verifier,
	}, nil
}

/* AuthCodeURL generates the authorization URL with PKCE */
func (p *Provider) AuthCodeURL(state, nonce, codeVerifier string) string {
	codeChallenge := base64.RawURLEncoding.EncodeToString(sha256Hash(codeVerifier))

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("nonce", nonce),
	}

	return p.oauth2Conf.AuthCodeURL(state, opts...)
}

/* ExchangeCode exchanges an authorization code for tokens */
func (p *Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error) {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	}

	token, err := p.oauth2Conf.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	return token, nil
}

/* VerifyIDToken verifies the ID token, checks the nonce, and returns claims */
func (p *Provider) VerifyIDToken(ctx context.Context, rawIDToken, expectedNonce string) (*Claims, error) {
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	if idToken.Nonce != expectedNonce {
		return nil, fmt.Errorf("ID token nonce mismatch")
	}

	claims := &Claims{}
	if err := idToken.Claims(claims); err != nil {
		return nil, fmt.Errorf("failed to extract claims: %w", err)
	}

	return claims, nil
}

/* Claims represents the identity claims used for dashboard sign-on */
type Claims struct {
	Subject           string `json:"sub"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
}

/* LoginAttempt holds the state, nonce, and PKCE verifier for one sign-on */
type LoginAttempt struct {
	ID           string
	State        string
	Nonce        string
	CodeVerifier string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

/* AttemptStore keeps in-flight login attempts keyed by state. Attempts are
 * single-use and expire; consumed or stale entries are dropped. */
type AttemptStore struct {
	mu       sync.Mutex
	attempts map[string]*LoginAttempt
	ttl      time.Duration
}

/* NewAttemptStore creates a new attempt store */
func NewAttemptStore(ttl time.Duration) *AttemptStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &AttemptStore{
		attempts: make(map[string]*LoginAttempt),
		ttl:      ttl,
	}
}

/* Begin creates and records a new login attempt */
func (s *AttemptStore) Begin() (*LoginAttempt, error) {
	state, err := generateRandomString(32)
	if err != nil {
		return nil, err
	}
	nonce, err := generateRandomString(32)
	if err != nil {
		return nil, err
	}
	codeVerifier, err := generateRandomString(43)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	attempt := &LoginAttempt{
		ID:           uuid.New().String(),
		State:        state,
		Nonce:        nonce,
		CodeVerifier: codeVerifier,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, a := range s.attempts {
		if !a.ExpiresAt.After(now) {
			delete(s.attempts, key)
		}
	}
	s.attempts[state] = attempt

	return attempt, nil
}

/* Consume removes and returns the attempt for a state token, exactly once */
func (s *AttemptStore) Consume(state string) (*LoginAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[state]
	if !ok {
		return nil, fmt.Errorf("unknown login state")
	}
	delete(s.attempts, state)

	if !attempt.ExpiresAt.After(time.Now()) {
		return nil, fmt.Errorf("login attempt expired")
	}

	return attempt, nil
}

func generateRandomString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes)[:length], nil
}

func sha256Hash(data string) []byte {
	h := sha256.Sum256([]byte(data))
	return h[:]
}
