package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultCacheTTL     = 600 * time.Second
	defaultLogoCacheTTL = 30 * time.Second
	maxTTL              = 24 * time.Hour
)

var snapshotBackends = map[string]bool{
	"none": true, "memory": true, "gcs": true, "s3": true, "redis": true, "postgres": true,
}

type Config struct {
	Port                  string   `mapstructure:"PORT"`
	Env                   string   `mapstructure:"ENV"`
	ServiceAccountJSON    string   `mapstructure:"GOOGLE_SERVICE_ACCOUNT_JSON"`
	RegistrySheetID       string   `mapstructure:"REGISTRY_SHEET_ID"`
	RegistrySheetTab      string   `mapstructure:"REGISTRY_SHEET_TAB"`
	RegistryBlobsStore    string   `mapstructure:"REGISTRY_BLOBS_STORE"`
	SnapshotBackend       string   `mapstructure:"SNAPSHOT_BACKEND"`
	SnapshotValidate      bool     `mapstructure:"SNAPSHOT_VALIDATE"`
	CacheTTLSeconds       string   `mapstructure:"CACHE_TTL_SECONDS"`
	LogoCacheTTLSeconds   string   `mapstructure:"LOGO_CACHE_TTL_SECONDS"`
	RegistryAdminToken    string   `mapstructure:"REGISTRY_ADMIN_TOKEN"`
	AdminJWTSecret        string   `mapstructure:"ADMIN_JWT_SECRET"`
	AdminJWTIssuer        string   `mapstructure:"ADMIN_JWT_ISSUER"`
	LabLogTabName         string   `mapstructure:"LAB_LOG_TAB_NAME"`
	RedisURL              string   `mapstructure:"REDIS_URL"`
	DatabaseURL           string   `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32    `mapstructure:"DB_MIN_CONNS"`
	S3Region              string   `mapstructure:"S3_REGION"`
	S3Endpoint            string   `mapstructure:"S3_ENDPOINT"`
	S3PathStyle           bool     `mapstructure:"S3_PATH_STYLE"`
	CORSOrigins           []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS          float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst        int      `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeoutSeconds int      `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	BodyLimit             string   `mapstructure:"BODY_LIMIT"`
	StaticDir             string   `mapstructure:"STATIC_DIR"`
}

var keys = []string{
	"PORT", "ENV", "GOOGLE_SERVICE_ACCOUNT_JSON", "REGISTRY_SHEET_ID", "REGISTRY_SHEET_TAB",
	"REGISTRY_BLOBS_STORE", "SNAPSHOT_BACKEND", "SNAPSHOT_VALIDATE", "CACHE_TTL_SECONDS",
	"LOGO_CACHE_TTL_SECONDS", "REGISTRY_ADMIN_TOKEN", "ADMIN_JWT_SECRET", "ADMIN_JWT_ISSUER",
	"LAB_LOG_TAB_NAME", "REDIS_URL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"S3_REGION", "S3_ENDPOINT", "S3_PATH_STYLE", "CORS_ORIGINS", "RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST", "REQUEST_TIMEOUT_SECONDS", "BODY_LIMIT", "STATIC_DIR",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("REGISTRY_SHEET_TAB", "Labs")
	v.SetDefault("REGISTRY_BLOBS_STORE", "registry-snapshot")
	v.SetDefault("SNAPSHOT_BACKEND", "memory")
	v.SetDefault("SNAPSHOT_VALIDATE", true)
	v.SetDefault("CACHE_TTL_SECONDS", "600")
	v.SetDefault("LOGO_CACHE_TTL_SECONDS", "30")
	v.SetDefault("LAB_LOG_TAB_NAME", "Patient Lab Log")
	v.SetDefault("DB_MAX_CONNS", 5)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 30)
	v.SetDefault("BODY_LIMIT", "64K")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(strings.Join(cfg.CORSOrigins, ","))
	cfg.SnapshotBackend = strings.ToLower(strings.TrimSpace(cfg.SnapshotBackend))

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// CacheTTL is the lab config memory-tier TTL. Anything without a positive
// leading integer yields the 600 s default.
func (c *Config) CacheTTL() time.Duration {
	return parseSeconds(c.CacheTTLSeconds, defaultCacheTTL)
}

// LogoCacheTTL is the logo resolver TTL, parsed like CacheTTL.
func (c *Config) LogoCacheTTL() time.Duration {
	return parseSeconds(c.LogoCacheTTLSeconds, defaultLogoCacheTTL)
}

func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// parseSeconds reads the leading decimal digits of raw as whole seconds, so
// "10abc" is 10 and "1.5" is 1. Anything without digits or not positive falls
// back to def; large values are capped at maxTTL.
func parseSeconds(raw string, def time.Duration) time.Duration {
	s := strings.TrimLeft(raw, " \t\r\n")
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}
	const maxSeconds = int64(maxTTL / time.Second)
	var n int64
	digits := 0
	for ; digits < len(s) && s[digits] >= '0' && s[digits] <= '9'; digits++ {
		if n <= maxSeconds {
			n = n*10 + int64(s[digits]-'0')
		}
	}
	if digits == 0 || neg || n <= 0 {
		return def
	}
	if n > maxSeconds {
		return maxTTL
	}
	return time.Duration(n) * time.Second
}

// Validate checks settings every command depends on: the environment name
// and the snapshot backend with its connection settings.
func (c *Config) Validate() error {
	if c.Env != "development" && c.Env != "production" {
		return fmt.Errorf("ENV must be \"development\" or \"production\", got %q", c.Env)
	}
	if !snapshotBackends[c.SnapshotBackend] {
		return fmt.Errorf("SNAPSHOT_BACKEND must be one of none, memory, gcs, s3, redis, postgres, got %q", c.SnapshotBackend)
	}
	switch c.SnapshotBackend {
	case "gcs", "s3":
		if strings.TrimSpace(c.RegistryBlobsStore) == "" {
			return fmt.Errorf("REGISTRY_BLOBS_STORE is required for the %s snapshot backend", c.SnapshotBackend)
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis snapshot backend")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres snapshot backend")
		}
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

// ValidateRegistry checks the settings needed to reach Google: the
// credential blob and the registry spreadsheet.
func (c *Config) ValidateRegistry() error {
	if strings.TrimSpace(c.ServiceAccountJSON) == "" {
		return fmt.Errorf("GOOGLE_SERVICE_ACCOUNT_JSON is required")
	}
	if strings.TrimSpace(c.RegistrySheetID) == "" {
		return fmt.Errorf("REGISTRY_SHEET_ID is required")
	}
	return nil
}

// AdminConfigured reports whether register-lab can authenticate anyone.
func (c *Config) AdminConfigured() bool {
	return c.RegistryAdminToken != "" || c.AdminJWTSecret != ""
}
