package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the server
type Config struct {
	Server       ServerConfig
	Storage      StorageConfig
	Logging      LoggingConfig
	RateLimit    RateLimitConfig
	Proxy        ProxyConfig
	Metrics      MetricsConfig
	Verification VerificationConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ReadTimeout    int // seconds
	WriteTimeout   int // seconds
	IdleTimeout    int // seconds
	RequestTimeout int // seconds
	MaxBodySizeMB  int
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type     string // "sqlite" or "postgres"
	Postgres PostgresConfig
	SQLite   SQLiteConfig
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// RateLimitConfig holds rate limiting settings for the verify endpoint
type RateLimitConfig struct {
	Enabled        bool
	RequestsPerMin int
	BurstSize      int
	CleanupMinutes int
}

// ProxyConfig holds trusted proxy settings for X-Forwarded-For handling
type ProxyConfig struct {
	TrustProxy     bool
	TrustedProxies []string // CIDR notation
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool
	Port    int // 0 serves /metrics on the main listener
}

// VerificationConfig holds the collaborators of the verification engine
type VerificationConfig struct {
	ChainsFile     string
	RPCTimeout     time.Duration
	IPFSGateway    string // empty disables metadata recovery
	SolcDir        string
	SolcAltDir     string
	VyperDir       string
	CompileTimeout time.Duration
	VerifyTimeout  time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 8080),
			Host:           getEnv("HOST", "0.0.0.0"),
			ReadTimeout:    getEnvInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvInt("SERVER_WRITE_TIMEOUT", 330),
			IdleTimeout:    getEnvInt("SERVER_IDLE_TIMEOUT", 120),
			RequestTimeout: getEnvInt("SERVER_REQUEST_TIMEOUT", 30),
			MaxBodySizeMB:  getEnvInt("MAX_BODY_SIZE_MB", 20),
		},
		Storage: StorageConfig{
			Type: getEnv("STORAGE_TYPE", "sqlite"),
			Postgres: PostgresConfig{
				URL: getEnv("DATABASE_URL", ""),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", "./data/contraverify.db"),
			},
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin: getEnvInt("RATE_LIMIT_RPM", 30),
			BurstSize:      getEnvInt("RATE_LIMIT_BURST", 5),
			CleanupMinutes: getEnvInt("RATE_LIMIT_CLEANUP_MINUTES", 10),
		},
		Proxy: ProxyConfig{
			TrustProxy:     getEnvBool("TRUST_PROXY", false),
			TrustedProxies: getEnvStringSlice("TRUSTED_PROXIES", []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Port:    getEnvInt("METRICS_PORT", 0),
		},
		Verification: VerificationConfig{
			ChainsFile:     getEnv("CHAINS_FILE", "./chains.yaml"),
			RPCTimeout:     getEnvSeconds("RPC_TIMEOUT_SECONDS", 10),
			IPFSGateway:    getEnv("IPFS_GATEWAY", "https://ipfs.io"),
			SolcDir:        getEnv("SOLC_DIR", "./compilers/solc"),
			SolcAltDir:     getEnv("SOLC_ALT_DIR", ""),
			VyperDir:       getEnv("VYPER_DIR", "./compilers/vyper"),
			CompileTimeout: getEnvSeconds("COMPILE_TIMEOUT_SECONDS", 300),
			VerifyTimeout:  getEnvSeconds("VERIFY_TIMEOUT_SECONDS", 600),
		},
	}

	// If DATABASE_URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "sqlite":
	case "postgres":
		if c.Storage.Postgres.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("unknown STORAGE_TYPE %q", c.Storage.Type)
	}
	if c.Verification.RPCTimeout <= 0 || c.Verification.CompileTimeout <= 0 {
		return fmt.Errorf("RPC_TIMEOUT_SECONDS and COMPILE_TIMEOUT_SECONDS must be positive")
	}
	if c.Verification.SolcDir == "" && c.Verification.VyperDir == "" {
		return fmt.Errorf("at least one of SOLC_DIR and VYPER_DIR is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Second
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
