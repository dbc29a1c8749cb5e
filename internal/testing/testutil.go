package testing

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/crypto/bcrypt"

	"github.com/wardendesk/api/internal/db"
)

/* TestDB holds test database connection */
type TestDB struct {
	DB      *sql.DB
	Queries *db.Queries
}

/* SetupTestDB creates a test database connection */
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	/* Use test database from environment or default */
	testDBName := os.Getenv("TEST_DB_NAME")
	if testDBName == "" {
		testDBName = "warden_test"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("TEST_DB_HOST", "localhost"),
		getEnv("TEST_DB_PORT", "5432"),
		getEnv("TEST_DB_USER", "warden"),
		getEnv("TEST_DB_PASSWORD", "warden"),
		testDBName,
	)

	/* Connect to postgres database first to create test database */
	postgresDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=postgres sslmode=disable",
		getEnv("TEST_DB_HOST", "localhost"),
		getEnv("TEST_DB_PORT", "5432"),
		getEnv("TEST_DB_USER", "warden"),
		getEnv("TEST_DB_PASSWORD", "warden"),
	)

	postgresDB, err := sql.Open("pgx", postgresDSN)
	if err != nil {
		t.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer postgresDB.Close()

	var exists bool
	err = postgresDB.QueryRow(
		`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, testDBName).Scan(&exists)
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	if !exists {
		if _, err := postgresDB.Exec(fmt.Sprintf("CREATE DATABASE %s", testDBName)); err != nil {
			t.Fatalf("Failed to create test database: %v", err)
		}
	}

	/* Connect to test database */
	testDB, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := testDB.PingContext(ctx); err != nil {
		testDB.Close()
		t.Skipf("Failed to ping test database: %v", err)
	}

	/* Run migrations */
	if err := runMigrations(testDB); err != nil {
		testDB.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	queries := db.NewQueries(testDB)

	return &TestDB{
		DB:      testDB,
		Queries: queries,
	}
}

/* CleanupTestDB cleans up test database */
func (tdb *TestDB) CleanupTestDB(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tables := []string{
		"approval_history",
		"pending_approvals",
		"connection_requests",
		"service_connections",
		"approval_rules",
		"agents",
		"users",
	}

	for _, table := range tables {
		_, err := tdb.DB.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		if err != nil {
			t.Logf("Warning: Failed to truncate %s: %v", table, err)
		}
	}

	tdb.DB.Close()
}

/* CreateTestUser creates a test user */
func CreateTestUser(ctx context.Context, queries *db.Queries, username, password string) (*db.User, error) {
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &db.User{
		Username:     username,
		PasswordHash: string(passwordHash),
		IsAdmin:      false,
	}

	if err := queries.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

/* CreateTestAgent creates a test agent with a known credential hash */
func CreateTestAgent(ctx context.Context, queries *db.Queries, userID, name, keyHash, keyPrefix string) (*db.Agent, error) {
	agent := &db.Agent{
		UserID:    userID,
		Name:      name,
		IsActive:  true,
		KeyHash:   keyHash,
		KeyPrefix: keyPrefix,
	}

	if err := queries.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}

	return agent, nil
}

/* CreateTestRule creates a test approval rule */
func CreateTestRule(ctx context.Context, queries *db.Queries, userID, name string, priority int, conditions db.RuleConditions, requireApproval bool) (*db.ApprovalRule, error) {
	rule := &db.ApprovalRule{
		UserID:          userID,
		Name:            name,
		IsActive:        true,
		Priority:        priority,
		Conditions:      conditions,
		RequireApproval: requireApproval,
		ExpiryHours:     24,
	}

	if err := queries.CreateRule(ctx, rule); err != nil {
		return nil, err
	}

	return rule, nil
}

/* runMigrations runs database migrations */
func runMigrations(sqlDB *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			email TEXT,
			is_admin BOOLEAN NOT NULL DEFAULT false,
			password_hash TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT true,
			key_hash TEXT NOT NULL,
			key_prefix TEXT NOT NULL,
			last_seen_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_agents_key_prefix ON agents(key_prefix) WHERE is_active;`,
		`CREATE TABLE IF NOT EXISTS approval_rules (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT true,
			priority INTEGER NOT NULL DEFAULT 0,
			conditions JSONB NOT NULL DEFAULT '{}',
			require_approval BOOLEAN NOT NULL DEFAULT true,
			expiry_hours INTEGER NOT NULL DEFAULT 24,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_approval_rules_user ON approval_rules(user_id, is_active);`,
		`CREATE TABLE IF NOT EXISTS pending_approvals (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			rule_id TEXT,
			action_type TEXT NOT NULL,
			payload JSONB,
			summary TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT 'medium',
			status TEXT NOT NULL DEFAULT 'pending',
			expires_at TIMESTAMPTZ NOT NULL,
			resolved_by TEXT,
			resolved_at TIMESTAMPTZ,
			resolution_comment TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pending_approvals_user_status ON pending_approvals(user_id, status);`,
		`CREATE TABLE IF NOT EXISTS approval_history (
			id TEXT PRIMARY KEY,
			approval_id TEXT NOT NULL REFERENCES pending_approvals(id) ON DELETE CASCADE,
			event TEXT NOT NULL,
			actor_id TEXT,
			comment TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS service_connections (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			provider TEXT NOT NULL,
			access_token_enc TEXT NOT NULL,
			refresh_token_enc TEXT,
			token_expires_at TIMESTAMPTZ NOT NULL,
			scopes JSONB,
			account_email TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			last_used_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_service_connections_active
			ON service_connections(agent_id, provider, user_id) WHERE status = 'active';`,
		`CREATE TABLE IF NOT EXISTS connection_requests (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			provider TEXT NOT NULL,
			state_token TEXT NOT NULL UNIQUE,
			scopes JSONB,
			status TEXT NOT NULL DEFAULT 'pending',
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, migration := range migrations {
		if _, err := sqlDB.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
