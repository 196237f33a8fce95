package configs

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/liftlog/liftsocial/internal/club"
	"github.com/liftlog/liftsocial/internal/feed"
	"github.com/liftlog/liftsocial/internal/identity"
	"github.com/liftlog/liftsocial/internal/inbox"
	"github.com/liftlog/liftsocial/internal/secrets"
	"github.com/liftlog/liftsocial/internal/store"
)

// Environment variables that override the config file.
const (
	EnvConfig      = "LIFTSOCIAL_CONFIG"
	EnvPassphrase  = "LIFTSOCIAL_PASSPHRASE"
	EnvEngine      = "LIFTSOCIAL_STORAGE_ENGINE"
	EnvPostgresDSN = "LIFTSOCIAL_POSTGRES_DSN"
	EnvRedisURL    = "LIFTSOCIAL_REDIS_URL"
	EnvLogLevel    = "LIFTSOCIAL_LOG_LEVEL"
)

// Storage engines.
const (
	EngineLocal    = "local"
	EnginePostgres = "postgres"
)

type Config struct {
	Identity IdentityConfig `toml:"identity"`
	Storage  StorageConfig  `toml:"storage"`
	Inbox    InboxConfig    `toml:"inbox"`
	Feed     FeedConfig     `toml:"feed"`
	Follow   FollowConfig   `toml:"follow"`
	Clubs    ClubsConfig    `toml:"clubs"`
	Log      LogConfig      `toml:"log"`
	Audit    AuditConfig    `toml:"audit"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

type IdentityConfig struct {
	Path    string    `toml:"path"`
	RSABits int       `toml:"rsa_bits"`
	KDF     KDFConfig `toml:"kdf"`
}

type KDFConfig struct {
	Time      uint32 `toml:"time"`
	MemoryKiB uint32 `toml:"memory_kib"`
	Threads   uint8  `toml:"threads"`
}

type StorageConfig struct {
	Engine      string `toml:"engine"`
	LocalPath   string `toml:"local_path"`
	PostgresDSN string `toml:"postgres_dsn"`
	MaxConns    int32  `toml:"max_conns"`
	// RedisURL moves inbox queues to Redis for either engine when set.
	RedisURL string `toml:"redis_url"`
}

type InboxConfig struct {
	MaxEnvelopeBytes int      `toml:"max_envelope_bytes"`
	TTL              Duration `toml:"ttl"`
}

type FeedConfig struct {
	MaxEventBytes int      `toml:"max_event_bytes"`
	EventTTL      Duration `toml:"event_ttl"`
	Workers       int      `toml:"workers"`
	PageSize      int      `toml:"page_size"`
}

type FollowConfig struct {
	DefaultPolicy string `toml:"default_policy"`
}

type ClubsConfig struct {
	RotateOnRemoval bool `toml:"rotate_on_removal"`
}

type LogConfig struct {
	Level string `toml:"level"`
	// Path is a file for rotated logs, or "console".
	Path string `toml:"path"`
}

type AuditConfig struct {
	// Path of the JSON Lines audit log. Empty disables auditing.
	Path string `toml:"path"`
}

type MetricsConfig struct {
	// Textfile, when set, receives the Prometheus metrics of each run in
	// the node_exporter textfile format.
	Textfile string `toml:"textfile"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Identity: IdentityConfig{
			Path:    UserSettings.IdentityPath(),
			RSABits: secrets.DefaultRSABits,
			KDF: KDFConfig{
				Time:      identity.DefaultKDFParams.Time,
				MemoryKiB: identity.DefaultKDFParams.Memory,
				Threads:   identity.DefaultKDFParams.Threads,
			},
		},
		Storage: StorageConfig{
			Engine:    EngineLocal,
			LocalPath: UserSettings.LocalStorePath(),
		},
		Inbox: InboxConfig{
			MaxEnvelopeBytes: inbox.DefaultMaxEnvelopeBytes,
			TTL:              Duration(inbox.DefaultTTL),
		},
		Feed: FeedConfig{
			MaxEventBytes: feed.DefaultMaxEventBytes,
			EventTTL:      Duration(feed.DefaultEventTTL),
			Workers:       feed.DefaultWorkers,
			PageSize:      store.DefaultFeedLimit,
		},
		Follow: FollowConfig{DefaultPolicy: string(store.RedeemMulti)},
		Clubs:  ClubsConfig{RotateOnRemoval: club.DefaultOptions.RotateOnRemoval},
		Log:    LogConfig{Level: "warn", Path: "console"},
		Audit:  AuditConfig{Path: UserSettings.AuditPath()},
	}
}

// Load reads the config file at path over the defaults. A missing file
// yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config: %w", err)
		}
	} else if err := LoadTOML(path, config); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	config.ApplyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes config to path.
func Save(path string, config *Config) error {
	if err := SaveTOML(path, config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// ApplyEnv overrides storage and log settings from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvEngine); v != "" {
		c.Storage.Engine = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		c.Storage.PostgresDSN = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Storage.RedisURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	c.Storage.Engine = strings.ToLower(strings.TrimSpace(c.Storage.Engine))
	switch c.Storage.Engine {
	case EngineLocal:
		if c.Storage.LocalPath == "" {
			return fmt.Errorf("storage.local_path is required for the local engine")
		}
	case EnginePostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres engine (or set %s)", EnvPostgresDSN)
		}
	default:
		return fmt.Errorf("unknown storage engine %q", c.Storage.Engine)
	}

	if c.Identity.RSABits != 0 && c.Identity.RSABits < secrets.MinRSABits {
		return fmt.Errorf("identity.rsa_bits must be at least %d", secrets.MinRSABits)
	}
	if !store.RedeemPolicy(c.Follow.DefaultPolicy).Valid() {
		return fmt.Errorf("follow.default_policy must be %q or %q", store.RedeemSingle, store.RedeemMulti)
	}
	if c.Inbox.MaxEnvelopeBytes < 0 || c.Feed.MaxEventBytes < 0 {
		return fmt.Errorf("size limits cannot be negative")
	}
	if c.Feed.PageSize > store.MaxFeedLimit {
		return fmt.Errorf("feed.page_size cannot exceed %d", store.MaxFeedLimit)
	}
	return nil
}

// KDFParams converts the kdf section for identity sealing.
func (c *Config) KDFParams() identity.KDFParams {
	p := identity.KDFParams{Time: c.Identity.KDF.Time, Memory: c.Identity.KDF.MemoryKiB, Threads: c.Identity.KDF.Threads}
	if p.Time == 0 || p.Memory == 0 || p.Threads == 0 {
		return identity.DefaultKDFParams
	}
	return p
}

// InboxOptions converts the inbox section.
func (c *Config) InboxOptions() inbox.Options {
	return inbox.Options{MaxEnvelopeBytes: c.Inbox.MaxEnvelopeBytes, TTL: time.Duration(c.Inbox.TTL)}
}

// FeedOptions converts the feed section.
func (c *Config) FeedOptions() feed.Options {
	return feed.Options{MaxEventBytes: c.Feed.MaxEventBytes, EventTTL: time.Duration(c.Feed.EventTTL), Workers: c.Feed.Workers}
}

// ClubOptions converts the clubs section.
func (c *Config) ClubOptions() club.Options {
	return club.Options{RotateOnRemoval: c.Clubs.RotateOnRemoval}
}
