package auth

import (
	"errors"
	"net/http"
	"strings"
)

// Middleware authenticates dashboard requests with a session token
func (m *JWTManager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// CORS preflight carries no credentials
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			// Browser WebSockets can't set custom headers. For websocket
			// endpoints only, allow the token via query param (?token=...).
			if authHeader == "" && strings.HasSuffix(r.URL.Path, "/ws") {
				if token := r.URL.Query().Get("token"); token != "" {
					authHeader = "Bearer " + token
				}
			}
			if authHeader == "" {
				http.Error(w, "Missing authorization header", http.StatusUnauthorized)
				return
			}

			tokenString, err := ExtractToken(authHeader)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			claims, err := m.ValidateToken(tokenString)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := SetUserID(r.Context(), claims.UserID)
			ctx = SetUsername(ctx, claims.Username)
			ctx = SetIsAdmin(ctx, claims.IsAdmin)
			ctx = SetClaims(ctx, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Middleware authenticates agent requests with a bearer credential. The
// verified agent record, including its owning user, is placed in context.
func (m *AgentKeyManager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key, err := ExtractToken(r.Header.Get("Authorization"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			agent, err := m.Authenticate(r.Context(), key)
			if err != nil {
				if errors.Is(err, ErrCredentialNotRecognized) {
					http.Error(w, "Invalid agent credential", http.StatusUnauthorized)
					return
				}
				http.Error(w, "Authentication unavailable", http.StatusInternalServerError)
				return
			}

			ctx := SetAgent(r.Context(), agent)
			ctx = SetUserID(ctx, agent.UserID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
