package handlers

import (
	"fmt"
	"net/http"

	"github.com/wardendesk/api/internal/auth"
	"github.com/wardendesk/api/internal/auth/oidc"
	"github.com/wardendesk/api/internal/db"
	"github.com/wardendesk/api/internal/logging"
)

// SSOHandlers handles dashboard single sign-on through an OIDC issuer
type SSOHandlers struct {
	provider *oidc.Provider
	attempts *oidc.AttemptStore
	queries  *db.Queries
	jwt      *auth.JWTManager
	logger   *logging.Logger
}

// NewSSOHandlers creates a new SSO handlers instance
func NewSSOHandlers(provider *oidc.Provider, attempts *oidc.AttemptStore, queries *db.Queries, jwtManager *auth.JWTManager, logger *logging.Logger) *SSOHandlers {
	return &SSOHandlers{
		provider: provider,
		attempts: attempts,
		queries:  queries,
		jwt:      jwtManager,
		logger:   logger,
	}
}

// Login starts an OIDC sign-on and redirects to the issuer
func (h *SSOHandlers) Login(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.attempts.Begin()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Errorf("failed to start login"), nil)
		return
	}

	url := h.provider.AuthCodeURL(attempt.State, attempt.Nonce, attempt.CodeVerifier)
	http.Redirect(w, r, url, http.StatusFound)
}

// Callback completes an OIDC sign-on and issues a session token
func (h *SSOHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		WriteError(w, http.StatusBadRequest, fmt.Errorf("state and code are required"), nil)
		return
	}

	attempt, err := h.attempts.Consume(state)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err, nil)
		return
	}

	token, err := h.provider.ExchangeCode(r.Context(), code, attempt.CodeVerifier)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("sign-on failed"), nil)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("issuer returned no ID token"), nil)
		return
	}

	claims, err := h.provider.VerifyIDToken(r.Context(), rawIDToken, attempt.Nonce)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("sign-on failed"), nil)
		return
	}

	user, err := h.findOrCreateUser(r, claims)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Errorf("failed to provision user"), nil)
		return
	}

	sessionToken, err := h.jwt.GenerateToken(user.ID, user.Username, user.IsAdmin)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Errorf("failed to generate token"), nil)
		return
	}

	WriteSuccess(w, AuthResponse{
		Token:    sessionToken,
		UserID:   user.ID,
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
	}, http.StatusOK)
}

// findOrCreateUser maps verified issuer claims onto a local account
func (h *SSOHandlers) findOrCreateUser(r *http.Request, claims *oidc.Claims) (*db.User, error) {
	if claims.Email != "" {
		if user, err := h.queries.GetUserByEmail(r.Context(), claims.Email); err == nil {
			return user, nil
		}
	}

	username := claims.PreferredUsername
	if username == "" {
		username = claims.Email
	}
	if username == "" {
		username = claims.Subject
	}

	if user, err := h.queries.GetUserByUsername(r.Context(), username); err == nil {
		return user, nil
	}

	user := &db.User{
		Username: username,
		Email:    claims.Email,
	}
	if err := h.queries.CreateUser(r.Context(), user); err != nil {
		return nil, err
	}

	h.logger.Info("Provisioned user from SSO", map[string]interface{}{
		"user_id":  user.ID,
		"username": user.Username,
	})

	return user, nil
}
