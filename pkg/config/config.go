package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ekaya-connect.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// Authentication for the management API
	Auth AuthConfig `yaml:"auth"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional access token lookup cache)
	Redis RedisConfig `yaml:"redis"`

	// Kafka configuration (optional audit event stream)
	Kafka KafkaConfig `yaml:"kafka"`

	// Dispatch API behaviour
	Dispatch DispatchConfig `yaml:"dispatch"`

	// Outbound connector settings
	Connectors ConnectorsConfig `yaml:"connectors"`

	// Credential encryption key for integration secrets and access tokens.
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	// Server will fail to start if this is not set.
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:"https://auth.ekaya.ai=https://auth.ekaya.ai/.well-known/jwks.json"`

	// Audience, when set, must be present in the token's aud claim.
	Audience string `yaml:"audience" env:"AUTH_AUDIENCE" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_connect"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// RedisConfig holds Redis configuration. An empty host disables Redis.
type RedisConfig struct {
	Host     string        `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string        `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	TokenTTL time.Duration `yaml:"token_ttl" env:"REDIS_TOKEN_TTL" env-default:"5m"`
}

// KafkaConfig holds Kafka configuration. Empty brokers disable the audit stream.
type KafkaConfig struct {
	BrokersStr string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:""`
	AuditTopic string `yaml:"audit_topic" env:"KAFKA_AUDIT_TOPIC" env-default:"ekaya.connect.audit"`

	// Brokers is the parsed list from BrokersStr (not from config file).
	Brokers []string `yaml:"-"`
}

// Enabled returns true if at least one broker is configured.
func (k *KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// DispatchConfig holds settings for the external tool dispatch API.
type DispatchConfig struct {
	// AuditMaxResponseChars caps the response payload stored in tool_execution.completed entries.
	AuditMaxResponseChars int `yaml:"audit_max_response_chars" env:"DISPATCH_AUDIT_MAX_RESPONSE_CHARS" env-default:"5000"`
	// RateLimitPerSecond is the sustained request rate allowed per access token.
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second" env:"DISPATCH_RATE_LIMIT_PER_SECOND" env-default:"10"`
	// RateLimitBurst is the burst size allowed per access token.
	RateLimitBurst int `yaml:"rate_limit_burst" env:"DISPATCH_RATE_LIMIT_BURST" env-default:"20"`
	// SharedFileTTL is the default lifetime of files created by the share_file tool.
	SharedFileTTL time.Duration `yaml:"shared_file_ttl" env:"DISPATCH_SHARED_FILE_TTL" env-default:"168h"`
}

// ConnectorsConfig holds settings shared by all outbound connectors.
type ConnectorsConfig struct {
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"CONNECTORS_HTTP_TIMEOUT" env-default:"10s"`

	HubSpot    OAuthClientConfig `yaml:"hubspot"`
	SharePoint OAuthClientConfig `yaml:"sharepoint"`
	Wrike      OAuthClientConfig `yaml:"wrike"`
}

// OAuthClientConfig holds the OAuth application registered with a provider.
// It is used only to refresh access tokens; the browser consent flow lives elsewhere.
type OAuthClientConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"-"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Environment variables override YAML values. Secrets (PGPASSWORD,
// CREDENTIALS_KEY, OAuth client secrets) must come from environment variables.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	// Load config from YAML file with environment variable overrides
	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	cfg.parseComplexFields()

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() {
	c.Auth.JWKSEndpoints = parseJWKSEndpoints(c.Auth.JWKSEndpointsStr)
	c.Kafka.Brokers = splitCSV(c.Kafka.BrokersStr)

	c.Connectors.HubSpot.ClientID = envOr("HUBSPOT_CLIENT_ID", c.Connectors.HubSpot.ClientID)
	c.Connectors.HubSpot.ClientSecret = os.Getenv("HUBSPOT_CLIENT_SECRET")
	c.Connectors.SharePoint.ClientID = envOr("SHAREPOINT_CLIENT_ID", c.Connectors.SharePoint.ClientID)
	c.Connectors.SharePoint.ClientSecret = os.Getenv("SHAREPOINT_CLIENT_SECRET")
	c.Connectors.Wrike.ClientID = envOr("WRIKE_CLIENT_ID", c.Connectors.Wrike.ClientID)
	c.Connectors.Wrike.ClientSecret = os.Getenv("WRIKE_CLIENT_SECRET")
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	for _, pair := range splitCSV(value) {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ConnectionString returns a PostgreSQL connection URL.
// A localhost host is rewritten when the server runs inside Docker.
func (c *DatabaseConfig) ConnectionString() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port),
		Path:     c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}
