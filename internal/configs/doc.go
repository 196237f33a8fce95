// Package configs loads the liftsocial configuration.
//
// Configuration is a single TOML file, by default
// $XDG_CONFIG_HOME/liftsocial/config.toml, decoded over built-in defaults
// so a missing file or section is never an error. Sections:
//
//   - identity: sealed identity path, RSA size, argon2id parameters
//   - storage: engine (local or postgres), DSN, optional Redis inbox
//   - inbox, feed: size caps, expiry and decode workers
//   - follow, clubs: default redemption policy, rotation on removal
//   - log, audit, metrics: logging level and file, audit trail, textfile
//
// The LIFTSOCIAL_* environment variables override storage and log
// settings; the identity passphrase is only ever read from the environment
// or a terminal prompt.
package configs
