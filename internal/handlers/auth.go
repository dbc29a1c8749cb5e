package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/wardendesk/api/internal/auth"
	"github.com/wardendesk/api/internal/db"
)

// AuthHandlers handles dashboard authentication requests
type AuthHandlers struct {
	queries *db.Queries
	jwt     *auth.JWTManager
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(queries *db.Queries, jwtManager *auth.JWTManager) *AuthHandlers {
	return &AuthHandlers{queries: queries, jwt: jwtManager}
}

// RegisterRequest is the request to register a new user
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

// LoginRequest is the request to login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is the response for auth operations
type AuthResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// Register registers a new user
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid request body"), nil)
		return
	}

	if req.Username == "" || req.Password == "" {
		WriteError(w, http.StatusBadRequest, fmt.Errorf("username and password are required"), nil)
		return
	}
	if len(req.Password) < 8 {
		WriteError(w, http.StatusBadRequest, fmt.Errorf("password must be at least 8 characters"), nil)
		return
	}

	if _, err := h.queries.GetUserByUsername(r.Context(), req.Username); err == nil {
		WriteError(w, http.StatusConflict, fmt.Errorf("username already exists"), nil)
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Errorf("failed to hash password"), nil)
		return
	}

	user := &db.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(passwordHash),
	}

	if err := h.queries.CreateUser(r.Context(), user); err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Errorf("failed to create user"), nil)
		return
	}

	token, err := h.jwt.GenerateToken(user.ID, user.Username, user.IsAdmin)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Errorf("failed to generate token"), nil)
		return
	}

	WriteSuccess(w, AuthResponse{
		Token:    token,
		UserID:   user.ID,
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
	}, http.StatusCreated)
}

// Login logs in a user
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid request body"), nil)
		return
	}

	if req.Username == "" || req.Password == "" {
		WriteError(w, http.StatusBadRequest, fmt.Errorf("username and password are required"), nil)
		return
	}

	user, err := h.queries.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("invalid username or password"), nil)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("invalid username or password"), nil)
		return
	}

	token, err := h.jwt.GenerateToken(user.ID, user.Username, user.IsAdmin)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Errorf("failed to generate token"), nil)
		return
	}

	WriteSuccess(w, AuthResponse{
		Token:    token,
		UserID:   user.ID,
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
	}, http.StatusOK)
}

// GetCurrentUser returns the current authenticated user
func (h *AuthHandlers) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"), nil)
		return
	}

	user, err := h.queries.GetUserByID(r.Context(), userID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteSuccess(w, user, http.StatusOK)
}
