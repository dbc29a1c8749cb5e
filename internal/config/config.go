package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	CORS       CORSConfig       `yaml:"cors"`
	Auth       AuthConfig       `yaml:"auth"`
	Provider   ProviderConfig   `yaml:"provider"`
	Crypto     CryptoConfig     `yaml:"crypto"`
	Governance GovernanceConfig `yaml:"governance"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// AuthConfig holds dashboard authentication configuration
type AuthConfig struct {
	Mode            string     `yaml:"mode"` // "jwt", "oidc", "hybrid"
	JWTSecret       string     `yaml:"jwt_secret"`
	EnableLocalAuth bool       `yaml:"enable_local_auth"`
	OIDC            OIDCConfig `yaml:"oidc"`
}

// OIDCConfig holds OIDC configuration for dashboard SSO
type OIDCConfig struct {
	IssuerURL    string   `yaml:"issuer_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
}

// ProviderConfig holds the OAuth client configuration for the delegated
// service provider. It is constructed once at startup and injected into the
// credential store; there is no process-global provider state.
type ProviderConfig struct {
	Name         string   `yaml:"name"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	UserInfoURL  string   `yaml:"userinfo_url"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
}

// CryptoConfig holds token encryption configuration
type CryptoConfig struct {
	TokenKey string `yaml:"token_key"`
}

// GovernanceConfig holds approval governance defaults
type GovernanceConfig struct {
	// FailOpen controls the decision when no rule matches an action.
	// When true, absence of rules grants permission. This is a live
	// policy choice and must stay visible in configuration.
	FailOpen           bool          `yaml:"fail_open"`
	DefaultApprovalTTL time.Duration `yaml:"default_approval_ttl"`
	RefreshBuffer      time.Duration `yaml:"refresh_buffer"`
	HandshakeTTL       time.Duration `yaml:"handshake_ttl"`
}

// Load loads configuration from environment variables. If WARDEN_CONFIG
// names a YAML file, its values are applied over the environment defaults.
func Load() *Config {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "warden"),
			Password:        getEnv("DB_PASSWORD", "warden"),
			Name:            getEnv("DB_NAME", "warden"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8082"),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Auth: AuthConfig{
			Mode:            getEnv("AUTH_MODE", "jwt"),
			JWTSecret:       getEnv("JWT_SECRET", ""),
			EnableLocalAuth: getEnv("ENABLE_LOCAL_AUTH", "true") == "true",
			OIDC: OIDCConfig{
				IssuerURL:    getEnv("OIDC_ISSUER_URL", ""),
				ClientID:     getEnv("OIDC_CLIENT_ID", ""),
				ClientSecret: getEnv("OIDC_CLIENT_SECRET", ""),
				RedirectURL:  getEnv("OIDC_REDIRECT_URL", ""),
				Scopes:       getEnvSlice("OIDC_SCOPES", []string{"openid", "profile", "email"}),
			},
		},
		Provider: ProviderConfig{
			Name:         getEnv("PROVIDER_NAME", "gmail"),
			ClientID:     getEnv("PROVIDER_CLIENT_ID", ""),
			ClientSecret: getEnv("PROVIDER_CLIENT_SECRET", ""),
			AuthURL:      getEnv("PROVIDER_AUTH_URL", "https://accounts.google.com/o/oauth2/auth"),
			TokenURL:     getEnv("PROVIDER_TOKEN_URL", "https://oauth2.googleapis.com/token"),
			UserInfoURL:  getEnv("PROVIDER_USERINFO_URL", "https://www.googleapis.com/oauth2/v2/userinfo"),
			RedirectURL:  getEnv("PROVIDER_REDIRECT_URL", ""),
			Scopes:       getEnvSlice("PROVIDER_SCOPES", []string{"https://www.googleapis.com/auth/gmail.send"}),
		},
		Crypto: CryptoConfig{
			TokenKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),
		},
		Governance: GovernanceConfig{
			FailOpen:           getEnv("GOVERNANCE_FAIL_OPEN", "true") == "true",
			DefaultApprovalTTL: getEnvDuration("GOVERNANCE_DEFAULT_APPROVAL_TTL", 24*time.Hour),
			RefreshBuffer:      getEnvDuration("GOVERNANCE_REFRESH_BUFFER", 5*time.Minute),
			HandshakeTTL:       getEnvDuration("GOVERNANCE_HANDSHAKE_TTL", 15*time.Minute),
		},
	}

	if path := os.Getenv("WARDEN_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to load config file %s: %v\n", path, err)
		}
	}

	return cfg
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := []string{}
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name)
}
