package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SNAPSHOT_BACKEND", "")
	t.Setenv("CACHE_TTL_SECONDS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.RegistrySheetTab != "Labs" {
		t.Errorf("expected default tab Labs, got %s", cfg.RegistrySheetTab)
	}
	if cfg.LabLogTabName != "Patient Lab Log" {
		t.Errorf("expected default log tab, got %s", cfg.LabLogTabName)
	}
	if !cfg.SnapshotValidate {
		t.Error("expected SNAPSHOT_VALIDATE to default to true")
	}
	if cfg.RateLimitRPS != 20 || cfg.RateLimitBurst != 40 {
		t.Errorf("expected rate limit 20/40, got %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.CacheTTL() != 600*time.Second {
		t.Errorf("expected 600s TTL, got %v", cfg.CacheTTL())
	}
	if cfg.LogoCacheTTL() != 30*time.Second {
		t.Errorf("expected 30s logo TTL, got %v", cfg.LogoCacheTTL())
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("REGISTRY_SHEET_ID", "1AbCdEfGhIjKlMnOpQrStUv")
	t.Setenv("SNAPSHOT_BACKEND", " Redis ")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SNAPSHOT_VALIDATE", "false")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("CACHE_TTL_SECONDS", "120")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SnapshotBackend != "redis" {
		t.Errorf("expected backend redis, got %q", cfg.SnapshotBackend)
	}
	if cfg.SnapshotValidate {
		t.Error("expected SNAPSHOT_VALIDATE=false to be honored")
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("unexpected CORS origins %v", cfg.CORSOrigins)
	}
	if cfg.CacheTTL() != 120*time.Second {
		t.Errorf("expected 120s TTL, got %v", cfg.CacheTTL())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestConfig_CacheTTLPermissive(t *testing.T) {
	cases := map[string]time.Duration{
		"":                         600 * time.Second,
		"abc":                      600 * time.Second,
		"0":                        600 * time.Second,
		"-30":                      600 * time.Second,
		"NaN":                      600 * time.Second,
		"45":                       45 * time.Second,
		" 90 ":                     90 * time.Second,
		"1.5":                      1 * time.Second,
		"+20":                      20 * time.Second,
		"-0":                       600 * time.Second,
		"10abc":                    10 * time.Second,
		"1e10":                     1 * time.Second,
		"0.9":                      600 * time.Second,
		"90000":                    24 * time.Hour,
		"99999999999999999999999":  24 * time.Hour,
		"-99999999999999999999999": 600 * time.Second,
	}
	for raw, want := range cases {
		c := &Config{CacheTTLSeconds: raw}
		if got := c.CacheTTL(); got != want {
			t.Errorf("CacheTTL(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() Config {
		return Config{Env: "production", SnapshotBackend: "memory", RegistryBlobsStore: "registry-snapshot", DBMaxConns: 5, DBMinConns: 1}
	}
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"memory ok", func(c *Config) {}, false},
		{"bad env", func(c *Config) { c.Env = "staging" }, true},
		{"unknown backend", func(c *Config) { c.SnapshotBackend = "etcd" }, true},
		{"redis without url", func(c *Config) { c.SnapshotBackend = "redis" }, true},
		{"postgres without url", func(c *Config) { c.SnapshotBackend = "postgres" }, true},
		{"postgres with url", func(c *Config) { c.SnapshotBackend = "postgres"; c.DatabaseURL = "postgres://x" }, false},
		{"gcs without store", func(c *Config) { c.SnapshotBackend = "gcs"; c.RegistryBlobsStore = " " }, true},
		{"pool bounds", func(c *Config) { c.DBMinConns = 10 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(&c)
			err := c.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestConfig_ValidateRegistry(t *testing.T) {
	c := &Config{}
	if err := c.ValidateRegistry(); err == nil {
		t.Error("expected error without credentials")
	}
	c.ServiceAccountJSON = "{}"
	if err := c.ValidateRegistry(); err == nil {
		t.Error("expected error without registry sheet id")
	}
	c.RegistrySheetID = "1AbCdEfGhIjKlMnOpQrStUv"
	if err := c.ValidateRegistry(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() {
		t.Error("expected IsDev() to return false for production")
	}
}
