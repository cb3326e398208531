/*
Package configs is responsible for loading and parsing the application's configuration settings.

Every setting is read from an operating system environment variable. Optional integrations
(audit database, NATS, Redis) stay disabled while their connection variables are empty.
*/
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Socket authentication modes.
const (
	// AuthOff ignores any session token presented during the handshake.
	AuthOff = "off"

	// AuthOptional binds a connection to a token when one is presented, and trusts
	// the announced user id otherwise.
	AuthOptional = "optional"

	// AuthRequired rejects handshakes that do not carry a valid session token.
	AuthRequired = "required"
)

// AppConfig contains all configuration parameters required for the application to run.
type AppConfig struct {
	// General Server Settings
	Environment string
	Port        int
	SocketPath  string

	// Security Settings
	AllowedOrigins []string
	JWTSecret      string
	SocketAuth     string

	// Rate Limits
	HandshakeRate  float64
	HandshakeBurst int
	EventRate      float64
	EventBurst     int

	// Audit Database Settings
	AuditDatabaseDSN string

	// NATS Settings
	NATSURL           string
	NATSSubjectPrefix string

	// Redis Settings
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisPresenceKey string
}

// IsDevelopment reports whether the server runs with development defaults.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// LoadConfig reads and parses the application configuration from environment variables.
// It provides default values for each configuration item and performs type conversions and validation.
func LoadConfig() (*AppConfig, error) {
	cfg := &AppConfig{}

	// --- General Server Settings ---
	cfg.Environment = getEnv("ENVIRONMENT", "development")

	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, err
	}
	cfg.Port = port

	if cfg.Port < 1024 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", cfg.Port, 1024, 65535)
	}

	cfg.SocketPath = getEnv("SOCKET_PATH", "/api/socket")
	if !strings.HasPrefix(cfg.SocketPath, "/") {
		return nil, fmt.Errorf("SOCKET_PATH must start with '/', got %q", cfg.SocketPath)
	}

	// --- Security Settings ---
	cfg.AllowedOrigins = splitList(os.Getenv("ALLOWED_ORIGINS"))
	if !cfg.IsDevelopment() {
		for _, origin := range cfg.AllowedOrigins {
			if origin == "*" {
				return nil, fmt.Errorf("wildcard ALLOWED_ORIGINS is not permitted in %s environment", cfg.Environment)
			}
		}
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("JWT_SECRET environment variable is required in %s environment for security", cfg.Environment)
		}
		jwtSecret = "your_default_insecure_secret_key_change_me"
	}
	cfg.JWTSecret = jwtSecret

	defaultAuth := AuthRequired
	if cfg.IsDevelopment() {
		defaultAuth = AuthOptional
	}
	cfg.SocketAuth = strings.ToLower(getEnv("SOCKET_AUTH", defaultAuth))
	switch cfg.SocketAuth {
	case AuthOff, AuthOptional, AuthRequired:
	default:
		return nil, fmt.Errorf("invalid SOCKET_AUTH %q (expected %s, %s or %s)", cfg.SocketAuth, AuthOff, AuthOptional, AuthRequired)
	}

	// --- Rate Limits ---
	if cfg.HandshakeRate, err = getEnvFloat("WS_HANDSHAKE_RATE", 1); err != nil {
		return nil, err
	}
	if cfg.HandshakeBurst, err = getEnvInt("WS_HANDSHAKE_BURST", 10); err != nil {
		return nil, err
	}
	if cfg.EventRate, err = getEnvFloat("CLIENT_EVENT_RATE", 50); err != nil {
		return nil, err
	}
	if cfg.EventBurst, err = getEnvInt("CLIENT_EVENT_BURST", 200); err != nil {
		return nil, err
	}

	// --- Optional Integrations ---
	cfg.AuditDatabaseDSN = os.Getenv("AUDIT_DATABASE_URL")

	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", "lexsignal")

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	cfg.RedisPresenceKey = getEnv("REDIS_PRESENCE_KEY", "lexsignal:online")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, v)
	}
	return v, nil
}

// splitList splits a comma-separated value, trimming blanks and dropping empty entries.
func splitList(raw string) []string {
	out := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
