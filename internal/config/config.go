// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the REST + push API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCHealthAddr is the address of the grpc.health.v1 listener; empty disables it.
	GRPCHealthAddr string `mapstructure:"GRPC_HEALTH_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty runs the service on the in-memory store (development only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// SessionTTLRaw is the server-side session lifetime (e.g. "168h").
	SessionTTLRaw string `mapstructure:"SESSION_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// Step-up authentication.
	OTCTTLRaw            string `mapstructure:"OTC_TTL"`
	OTCResendCooldownRaw string `mapstructure:"OTC_RESEND_COOLDOWN"`
	OTCMaxAttempts       int    `mapstructure:"OTC_MAX_ATTEMPTS"`
	GrantTTLRaw          string `mapstructure:"GRANT_TTL"`
	// StepUpMarkerTTLRaw is how long a verified password lets the session request codes without re-entry.
	StepUpMarkerTTLRaw string `mapstructure:"STEPUP_MARKER_TTL"`
	// OTCRelayURL is the HTTP endpoint that delivers one-time codes by email.
	OTCRelayURL   string `mapstructure:"OTC_RELAY_URL"`
	OTCRelayToken string `mapstructure:"OTC_RELAY_TOKEN"`
	// OTCReturnToClient enables dev mode: codes are kept in memory and readable at GET /dev/otc.
	// Must not be true when Env is production.
	OTCReturnToClient bool `mapstructure:"OTC_RETURN_TO_CLIENT"`

	// Lockout and management gate.
	LockoutThreshold         int    `mapstructure:"LOCKOUT_THRESHOLD"`
	LockoutWindowRaw         string `mapstructure:"LOCKOUT_WINDOW"`
	ManagementGateIdleRaw    string `mapstructure:"MANAGEMENT_GATE_IDLE"`
	ManagementGateWarningRaw string `mapstructure:"MANAGEMENT_GATE_WARNING"`
	SessionPollIntervalRaw   string `mapstructure:"SESSION_POLL_INTERVAL"`
	AuthzPolicyFile          string `mapstructure:"AUTHZ_POLICY_FILE"`

	// Env is the application environment (e.g. "development", "production").
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// KafkaBrokers is a comma-separated list of broker addresses. Empty disables the session-event
	// bridge and the ledger stream.
	KafkaBrokers       string `mapstructure:"KAFKA_BROKERS"`
	SessionEventsTopic string `mapstructure:"SESSION_EVENTS_TOPIC"`
	LedgerEventsTopic  string `mapstructure:"LEDGER_EVENTS_TOPIC"`
	KafkaGroupID       string `mapstructure:"KAFKA_GROUP_ID"`

	// Worker-only: Loki URL for the ledger archive worker (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// LokiTenant is sent as X-Scope-OrgID on multi-tenant Loki; empty omits the header.
	LokiTenant string `mapstructure:"LOKI_TENANT"`

	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_HEALTH_ADDR", ":8081")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "account-lifecycle")
	v.SetDefault("JWT_AUDIENCE", "account-lifecycle-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("SESSION_TTL", "168h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("OTC_TTL", "10m")
	v.SetDefault("OTC_RESEND_COOLDOWN", "30s")
	v.SetDefault("OTC_MAX_ATTEMPTS", 5)
	v.SetDefault("GRANT_TTL", "2m")
	v.SetDefault("STEPUP_MARKER_TTL", "5m")
	v.SetDefault("OTC_RELAY_URL", "")
	v.SetDefault("OTC_RELAY_TOKEN", "")
	v.SetDefault("OTC_RETURN_TO_CLIENT", false)
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_WINDOW", "15m")
	v.SetDefault("MANAGEMENT_GATE_IDLE", "5m")
	v.SetDefault("MANAGEMENT_GATE_WARNING", "1m")
	v.SetDefault("SESSION_POLL_INTERVAL", "30s")
	v.SetDefault("AUTHZ_POLICY_FILE", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SESSION_EVENTS_TOPIC", "account-session-events")
	v.SetDefault("LEDGER_EVENTS_TOPIC", "account-moderation-ledger")
	v.SetDefault("KAFKA_GROUP_ID", "account-lifecycle")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("LOKI_TENANT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.OTCReturnToClient && cfg.Env == "production" {
		return nil, errors.New("config: OTC_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	if cfg.DatabaseURL == "" && cfg.Env == "production" {
		return nil, errors.New("config: DATABASE_URL is required when APP_ENV=production")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.OTCMaxAttempts <= 0 {
		return nil, errors.New("config: OTC_MAX_ATTEMPTS must be positive")
	}
	if cfg.LockoutThreshold <= 0 {
		return nil, errors.New("config: LOCKOUT_THRESHOLD must be positive")
	}
	if cfg.ManagementGateWarning() >= cfg.ManagementGateIdle() {
		return nil, errors.New("config: MANAGEMENT_GATE_WARNING must be shorter than MANAGEMENT_GATE_IDLE")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration { return parseDuration(c.JWTAccessTTL, 15*time.Minute) }

// SessionTTL parses SessionTTLRaw. Returns 168h if unset or invalid.
func (c *Config) SessionTTL() time.Duration { return parseDuration(c.SessionTTLRaw, 168*time.Hour) }

// OTCTTL is how long an issued one-time code stays valid.
func (c *Config) OTCTTL() time.Duration { return parseDuration(c.OTCTTLRaw, 10*time.Minute) }

// OTCResendCooldown is the minimum gap between two sends for the same email and purpose.
func (c *Config) OTCResendCooldown() time.Duration {
	return parseDuration(c.OTCResendCooldownRaw, 30*time.Second)
}

// GrantTTL is how long a verified step-up grant may wait before the guarded action runs.
func (c *Config) GrantTTL() time.Duration { return parseDuration(c.GrantTTLRaw, 2*time.Minute) }

// StepUpMarkerTTL is the lifetime of the password-verified marker on a session.
func (c *Config) StepUpMarkerTTL() time.Duration {
	return parseDuration(c.StepUpMarkerTTLRaw, 5*time.Minute)
}

// LockoutWindow is the sign-in lockout duration once the failure threshold is hit.
func (c *Config) LockoutWindow() time.Duration { return parseDuration(c.LockoutWindowRaw, 15*time.Minute) }

// ManagementGateIdle is how long the management gate stays unlocked without activity.
func (c *Config) ManagementGateIdle() time.Duration {
	return parseDuration(c.ManagementGateIdleRaw, 5*time.Minute)
}

// ManagementGateWarning is the window before re-lock in which clients are warned.
func (c *Config) ManagementGateWarning() time.Duration {
	return parseDuration(c.ManagementGateWarningRaw, time.Minute)
}

// SessionPollInterval is the period of the session re-validation fallback.
func (c *Config) SessionPollInterval() time.Duration {
	return parseDuration(c.SessionPollIntervalRaw, 30*time.Second)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool { return c.Env == "production" }

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
