package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Queries provides database operations
type Queries struct {
	db *sql.DB
}

// NewQueries creates a new Queries instance
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// GetDB returns the underlying database connection
func (q *Queries) GetDB() *sql.DB {
	return q.db
}

// User operations

// CreateUser creates a new user
func (q *Queries) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	user.UpdatedAt = time.Now()

	query := `
		INSERT INTO users (id, username, email, is_admin, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.db.ExecContext(ctx, query,
		user.ID, user.Username, user.Email, user.IsAdmin, user.PasswordHash,
		user.CreatedAt, user.UpdatedAt)
	return err
}

// GetUserByID gets a user by ID
func (q *Queries) GetUserByID(ctx context.Context, id string) (*User, error) {
	var user User
	var email sql.NullString

	query := `
		SELECT id, username, email, is_admin, password_hash, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	err := q.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Username, &email, &user.IsAdmin, &user.PasswordHash,
		&user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if email.Valid {
		user.Email = email.String
	}
	return &user, nil
}

// GetUserByUsername gets a user by username
func (q *Queries) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	var email sql.NullString

	query := `
		SELECT id, username, email, is_admin, password_hash, created_at, updated_at
		FROM users
		WHERE username = $1
	`
	err := q.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID, &user.Username, &email, &user.IsAdmin, &user.PasswordHash,
		&user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if email.Valid {
		user.Email = email.String
	}
	return &user, nil
}

// GetUserByEmail gets a user by email (used by OIDC login)
func (q *Queries) GetUserByEmail(ctx context.Context, userEmail string) (*User, error) {
	var user User
	var email sql.NullString

	query := `
		SELECT id, username, email, is_admin, password_hash, created_at, updated_at
		FROM users
		WHERE email = $1
	`
	err := q.db.QueryRowContext(ctx, query, userEmail).Scan(
		&user.ID, &user.Username, &email, &user.IsAdmin, &user.PasswordHash,
		&user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if email.Valid {
		user.Email = email.String
	}
	return &user, nil
}
