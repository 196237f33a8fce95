package inbox

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/metrics"
	"github.com/liftlog/liftsocial/internal/secrets"
	"github.com/liftlog/liftsocial/internal/store"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultMaxEnvelopeBytes caps the total ciphertext of one envelope.
	DefaultMaxEnvelopeBytes = 20 * 1024
	// DefaultTTL is how long an undrained envelope is kept.
	DefaultTTL = 7 * 24 * time.Hour

	publicKeyCacheTTL = 10 * time.Minute
)

// Options configure a Messenger. Zero values select the defaults.
type Options struct {
	MaxEnvelopeBytes int
	TTL              time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxEnvelopeBytes <= 0 {
		o.MaxEnvelopeBytes = DefaultMaxEnvelopeBytes
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	return o
}

// Opener decrypts RSA-OAEP blocks addressed to one principal.
type Opener interface {
	OpenBlocks(blocks [][]byte) ([]byte, error)
}

// Messenger seals typed messages to recipients and moves envelopes through
// the inbox store. It is safe for concurrent use.
type Messenger struct {
	dir     store.Directory
	queue   store.InboxStore
	opts    Options
	keys    *gocache.Cache
	metrics *metrics.Metrics
	now     func() time.Time
}

// New returns a Messenger resolving public keys through dir and queueing
// envelopes in queue. m may be nil.
func New(dir store.Directory, queue store.InboxStore, opts Options, m *metrics.Metrics) *Messenger {
	return &Messenger{
		dir:     dir,
		queue:   queue,
		opts:    opts.withDefaults(),
		keys:    gocache.New(publicKeyCacheTTL, 2*publicKeyCacheTTL),
		metrics: m,
		now:     time.Now,
	}
}

// RecipientKey returns the published public key of userID.
func (m *Messenger) RecipientKey(ctx context.Context, userID string) (*rsa.PublicKey, error) {
	if cached, ok := m.keys.Get(userID); ok {
		return cached.(*rsa.PublicKey), nil
	}
	pemData, err := m.dir.PublicKey(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up public key of %s: %w", userID, err)
	}
	pub, err := secrets.ParsePublicKey(pemData)
	if err != nil {
		return nil, fmt.Errorf("public key of %s: %w", userID, err)
	}
	m.keys.SetDefault(userID, pub)
	return pub, nil
}

// Seal encodes msg and encrypts it to the recipient's public key. The
// returned envelope has not been sent.
func (m *Messenger) Seal(ctx context.Context, recipientID string, msg Message) (store.Envelope, error) {
	pub, err := m.RecipientKey(ctx, recipientID)
	if err != nil {
		return store.Envelope{}, err
	}
	payload, err := EncodeMessage(msg)
	if err != nil {
		return store.Envelope{}, err
	}
	blocks, err := secrets.EncryptBlocks(payload, pub)
	secrets.Zero(payload)
	if err != nil {
		return store.Envelope{}, fmt.Errorf("failed to seal %s: %w", msg.Kind(), err)
	}
	return store.Envelope{RecipientID: recipientID, Kind: msg.Kind(), Blocks: blocks}, nil
}

// Send appends env to the recipient's queue after enforcing the size
// policy. Missing id, creation time and expiry are filled in.
func (m *Messenger) Send(ctx context.Context, env store.Envelope) (store.Envelope, error) {
	if env.RecipientID == "" {
		return env, fmt.Errorf("%w: envelope has no recipient", kerrors.ErrMalformedMessage)
	}
	if size := env.Size(); size > m.opts.MaxEnvelopeBytes {
		m.metrics.EnvelopeRejected()
		return env, fmt.Errorf("%w: %d bytes exceeds %d", kerrors.ErrEnvelopeTooLarge, size, m.opts.MaxEnvelopeBytes)
	}

	now := m.now()
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = now
	}
	if env.ExpiresAt.IsZero() {
		env.ExpiresAt = env.CreatedAt.Add(m.opts.TTL)
	}

	if err := m.queue.Append(ctx, env); err != nil {
		return env, fmt.Errorf("failed to queue envelope: %w", err)
	}
	m.metrics.EnvelopeSent(string(env.Kind))
	log.WithContext(ctx).WithFields(log.Fields{
		"recipient": env.RecipientID,
		"kind":      env.Kind,
		"blocks":    len(env.Blocks),
	}).Debug("envelope queued")
	return env, nil
}

// Deliver seals msg to recipientID and sends it.
func (m *Messenger) Deliver(ctx context.Context, recipientID string, msg Message) (store.Envelope, error) {
	env, err := m.Seal(ctx, recipientID, msg)
	if err != nil {
		return env, err
	}
	return m.Send(ctx, env)
}

// FetchAndClear drains every unexpired envelope queued for recipientID.
func (m *Messenger) FetchAndClear(ctx context.Context, recipientID string) ([]store.Envelope, error) {
	envs, err := m.queue.Drain(ctx, recipientID, m.now())
	if err != nil {
		return nil, fmt.Errorf("failed to drain inbox: %w", err)
	}
	return envs, nil
}

// Received is one drained envelope and the outcome of opening it.
type Received struct {
	Envelope store.Envelope
	Message  Message
	Err      error
}

// Receive drains the queue of recipientID and opens every envelope with
// opener. A corrupt envelope only fails its own item.
func (m *Messenger) Receive(ctx context.Context, recipientID string, opener Opener) ([]Received, error) {
	envs, err := m.FetchAndClear(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	out := make([]Received, 0, len(envs))
	for _, env := range envs {
		msg, err := Open(env, opener)
		switch {
		case err == nil:
			m.metrics.EnvelopeOpened("ok")
		case errors.Is(err, kerrors.ErrMalformedChunkStream):
			m.metrics.EnvelopeOpened("undecryptable")
		default:
			m.metrics.EnvelopeOpened("malformed")
		}
		if err != nil {
			log.WithContext(ctx).WithField("envelope", env.ID).Warnf("discarding envelope: %v", err)
		}
		out = append(out, Received{Envelope: env, Message: msg, Err: err})
	}
	return out, nil
}

// Open decrypts and decodes env. Blocks that fail to decrypt are
// ErrMalformedChunkStream; a payload that is not a known message, or whose
// kind disagrees with the envelope, is ErrMalformedMessage.
func Open(env store.Envelope, opener Opener) (Message, error) {
	payload, err := opener.OpenBlocks(env.Blocks)
	if err != nil {
		return nil, err
	}
	defer secrets.Zero(payload)

	msg, err := DecodeMessage(payload)
	if err != nil {
		return nil, err
	}
	if msg.Kind() != env.Kind {
		return nil, fmt.Errorf("%w: envelope kind %s carries %s", kerrors.ErrMalformedMessage, env.Kind, msg.Kind())
	}
	return msg, nil
}
