package workflows

import (
	"context"
	"fmt"

	"github.com/liftlog/liftsocial/internal/audit"
	"github.com/liftlog/liftsocial/internal/club"
	"github.com/liftlog/liftsocial/internal/configs"
	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/feed"
	"github.com/liftlog/liftsocial/internal/follow"
	"github.com/liftlog/liftsocial/internal/identity"
	"github.com/liftlog/liftsocial/internal/inbox"
	logger "github.com/liftlog/liftsocial/internal/logging"
	"github.com/liftlog/liftsocial/internal/metrics"
	"github.com/liftlog/liftsocial/internal/store"
	"github.com/liftlog/liftsocial/internal/store/memory"
	"github.com/liftlog/liftsocial/internal/store/postgres"
	"github.com/liftlog/liftsocial/internal/store/redis"

	"github.com/awnumar/memguard"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// Session is an unlocked identity wired to every service. Close must be
// called to persist keyring changes and release the backend.
type Session struct {
	Config    *configs.Config
	Backend   store.Backend
	Principal identity.Principal
	Messenger *inbox.Messenger
	Follows   *follow.Manager
	Clubs     *club.Distributor
	Feed      *feed.Service
	Audit     *audit.Logger
	Metrics   *metrics.Metrics

	registry   *prometheus.Registry
	passphrase *memguard.Enclave
}

// OpenBackend connects the storage engine named by cfg. When a Redis URL is
// configured, inbox queues are served from Redis.
func OpenBackend(ctx context.Context, cfg *configs.Config) (store.Backend, error) {
	var (
		backend store.Backend
		err     error
	)
	switch cfg.Storage.Engine {
	case configs.EnginePostgres:
		opts := postgres.DefaultOptions
		if cfg.Storage.MaxConns > 0 {
			opts.MaxConns = cfg.Storage.MaxConns
		}
		backend, err = postgres.New(ctx, cfg.Storage.PostgresDSN, opts)
	default:
		backend, err = memory.Open(cfg.Storage.LocalPath)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Storage.Engine, err)
	}

	if cfg.Storage.RedisURL != "" {
		queues, err := redis.New(ctx, cfg.Storage.RedisURL)
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("opening redis inbox: %w", err)
		}
		backend = store.WithInbox(backend, queues)
	}
	return backend, nil
}

// newSession wires the services around an unlocked principal.
func newSession(cfg *configs.Config, backend store.Backend, p identity.Principal, passphrase []byte) *Session {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	auditLog := audit.New(cfg.Audit.Path)

	messenger := inbox.New(backend, backend, cfg.InboxOptions(), m)
	follows := follow.NewManager(backend, messenger, auditLog, m)
	clubs := club.NewDistributor(backend, backend, messenger, cfg.ClubOptions(), auditLog, m)

	return &Session{
		Config:     cfg,
		Backend:    backend,
		Principal:  p,
		Messenger:  messenger,
		Follows:    follows,
		Clubs:      clubs,
		Feed:       feed.NewService(backend, clubs, follows, messenger, cfg.FeedOptions(), auditLog, m),
		Audit:      auditLog,
		Metrics:    m,
		registry:   registry,
		passphrase: memguard.NewEnclave(append([]byte(nil), passphrase...)),
	}
}

// Open unlocks the identity at the configured path and connects storage.
//
// Returns ErrIdentityNotFound if no identity has been created.
// Returns ErrKeyDecryptFailed if the passphrase is wrong.
func Open(ctx context.Context, cfg *configs.Config, passphrase []byte) (*Session, error) {
	id, kr, err := identity.LoadFile(cfg.Identity.Path, passphrase)
	if err != nil {
		return nil, err
	}

	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		id.Destroy()
		return nil, err
	}

	s := newSession(cfg, backend, identity.NewPrincipal(id, kr), passphrase)
	log.WithContext(s.Context(ctx)).Debugf("opened session with %s storage", cfg.Storage.Engine)
	return s, nil
}

// UserID returns the id of the unlocked identity.
func (s *Session) UserID() string {
	return s.Principal.ID()
}

// Context tags ctx with the session user for log entries.
func (s *Session) Context(ctx context.Context) context.Context {
	return logger.WithUser(ctx, s.Principal.ID())
}

// Save re-seals the identity and keyring to disk.
func (s *Session) Save() error {
	if s.passphrase == nil {
		return kerrors.ErrEmptyPassphrase
	}
	buf, err := s.passphrase.Open()
	if err != nil {
		return fmt.Errorf("opening passphrase: %w", err)
	}
	defer buf.Destroy()
	if err := identity.SaveFileWithParams(s.Config.Identity.Path, s.Principal.Identity, s.Principal.Keyring, buf.Bytes(), s.Config.KDFParams()); err != nil {
		return fmt.Errorf("saving identity: %w", err)
	}
	return nil
}

// Close saves the keyring, closes storage, writes the metrics textfile if
// configured and wipes key material from memory.
func (s *Session) Close() error {
	var result *multierror.Error
	if err := s.Save(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.Backend.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing storage: %w", err))
	}
	if path := s.Config.Metrics.Textfile; path != "" {
		if err := prometheus.WriteToTextfile(path, s.registry); err != nil {
			result = multierror.Append(result, fmt.Errorf("writing metrics: %w", err))
		}
	}

	s.Principal.Destroy()
	s.passphrase = nil
	return result.ErrorOrNil()
}
