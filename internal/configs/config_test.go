package configs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/liftlog/liftsocial/internal/identity"
	"github.com/liftlog/liftsocial/internal/store"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvEngine, EnvPostgresDSN, EnvRedisURL, EnvLogLevel} {
		t.Setenv(key, "")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	config, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if config.Storage.Engine != EngineLocal {
		t.Errorf("Expected engine %q, got %q", EngineLocal, config.Storage.Engine)
	}
	if !config.Clubs.RotateOnRemoval {
		t.Error("Expected rotate_on_removal to default to true")
	}
	if config.Follow.DefaultPolicy != string(store.RedeemMulti) {
		t.Errorf("Expected default policy multi, got %q", config.Follow.DefaultPolicy)
	}
	if config.Inbox.MaxEnvelopeBytes != 20480 {
		t.Errorf("Expected max_envelope_bytes 20480, got %d", config.Inbox.MaxEnvelopeBytes)
	}
	if time.Duration(config.Inbox.TTL) != 168*time.Hour {
		t.Errorf("Expected inbox ttl 168h, got %s", time.Duration(config.Inbox.TTL))
	}
	if config.Feed.MaxEventBytes != 5120 {
		t.Errorf("Expected max_event_bytes 5120, got %d", config.Feed.MaxEventBytes)
	}
	if config.KDFParams() != identity.DefaultKDFParams {
		t.Errorf("Expected default KDF params, got %+v", config.KDFParams())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[storage]
engine = "postgres"
postgres_dsn = "postgres://liftsocial@localhost/liftsocial"

[inbox]
ttl = "24h"

[feed]
workers = 2

[clubs]
rotate_on_removal = false

[follow]
default_policy = "single"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if config.Storage.Engine != EnginePostgres {
		t.Errorf("Expected engine postgres, got %q", config.Storage.Engine)
	}
	if config.Clubs.RotateOnRemoval {
		t.Error("Expected rotate_on_removal to be false")
	}
	if got := config.InboxOptions().TTL; got != 24*time.Hour {
		t.Errorf("Expected inbox ttl 24h, got %s", got)
	}
	if got := config.FeedOptions().Workers; got != 2 {
		t.Errorf("Expected 2 workers, got %d", got)
	}
	// Untouched sections keep their defaults.
	if config.Feed.MaxEventBytes != 5120 {
		t.Errorf("Expected default max_event_bytes, got %d", config.Feed.MaxEventBytes)
	}
	if config.ClubOptions().RotateOnRemoval {
		t.Error("Expected club options to disable rotation")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvEngine, "POSTGRES")
	t.Setenv(EnvPostgresDSN, "postgres://env@db/liftsocial")
	t.Setenv(EnvRedisURL, "redis://cache:6379/0")
	t.Setenv(EnvLogLevel, "debug")

	config, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Storage.Engine != EnginePostgres {
		t.Errorf("Expected engine postgres, got %q", config.Storage.Engine)
	}
	if config.Storage.PostgresDSN != "postgres://env@db/liftsocial" {
		t.Errorf("Unexpected DSN %q", config.Storage.PostgresDSN)
	}
	if config.Storage.RedisURL != "redis://cache:6379/0" {
		t.Errorf("Unexpected Redis URL %q", config.Storage.RedisURL)
	}
	if config.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %q", config.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown engine", func(c *Config) { c.Storage.Engine = "sqlite" }, "unknown storage engine"},
		{"postgres without dsn", func(c *Config) { c.Storage.Engine = EnginePostgres }, "postgres_dsn"},
		{"small rsa", func(c *Config) { c.Identity.RSABits = 1024 }, "rsa_bits"},
		{"bad policy", func(c *Config) { c.Follow.DefaultPolicy = "twice" }, "default_policy"},
		{"page too large", func(c *Config) { c.Feed.PageSize = 500 }, "page_size"},
		{"negative size", func(c *Config) { c.Inbox.MaxEnvelopeBytes = -1 }, "negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			err := config.Validate()
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestInvalidDuration(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[inbox]\nttl = \"a week\"\n"), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Expected error for invalid duration, got nil")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	config := Default()
	config.Feed.EventTTL = Duration(72 * time.Hour)
	config.Metrics.Textfile = "/var/lib/node_exporter/liftsocial.prom"

	if err := Save(path, config); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Feed.EventTTL != config.Feed.EventTTL {
		t.Errorf("Expected event ttl %s, got %s", time.Duration(config.Feed.EventTTL), time.Duration(loaded.Feed.EventTTL))
	}
	if loaded.Metrics.Textfile != config.Metrics.Textfile {
		t.Errorf("Expected textfile %q, got %q", config.Metrics.Textfile, loaded.Metrics.Textfile)
	}
}

func TestSettingsPaths(t *testing.T) {
	t.Setenv(EnvConfig, "")
	if !strings.HasSuffix(UserSettings.ConfigPath(), filepath.Join("liftsocial", "config.toml")) {
		t.Errorf("Unexpected config path %q", UserSettings.ConfigPath())
	}
	t.Setenv(EnvConfig, "/tmp/custom.toml")
	if UserSettings.ConfigPath() != "/tmp/custom.toml" {
		t.Errorf("Expected override path, got %q", UserSettings.ConfigPath())
	}
}
