package configs

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

const appName = "liftsocial"

// Settings are the per-user directories liftsocial reads and writes.
type Settings struct {
	ConfigDir string
	DataDir   string
}

// UserSettings is resolved once at startup from the XDG environment.
var UserSettings *Settings

func init() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("error getting home directory: %s", err)
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatalf("error getting config directory: %s", err)
	}

	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	UserSettings = &Settings{
		ConfigDir: filepath.Join(configDir, appName),
		DataDir:   filepath.Join(dataDir, appName),
	}
}

// ConfigPath returns the config file location. LIFTSOCIAL_CONFIG wins over
// the XDG default.
func (s *Settings) ConfigPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return filepath.Join(s.ConfigDir, "config.toml")
}

// IdentityPath is the default sealed identity file.
func (s *Settings) IdentityPath() string {
	return filepath.Join(s.DataDir, "identity.sealed")
}

// LocalStorePath is the default snapshot file of the local engine.
func (s *Settings) LocalStorePath() string {
	return filepath.Join(s.DataDir, "store.msgpack")
}

// AuditPath is the default audit log.
func (s *Settings) AuditPath() string {
	return filepath.Join(s.DataDir, "audit.jsonl")
}
