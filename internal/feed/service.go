package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/liftlog/liftsocial/internal/audit"
	"github.com/liftlog/liftsocial/internal/club"
	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/follow"
	"github.com/liftlog/liftsocial/internal/identity"
	"github.com/liftlog/liftsocial/internal/inbox"
	"github.com/liftlog/liftsocial/internal/metrics"
	"github.com/liftlog/liftsocial/internal/policy"
	"github.com/liftlog/liftsocial/internal/store"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxFollowedFeeds caps the users read in one ReadFollowedFeeds call.
	MaxFollowedFeeds = 200
	DefaultEventTTL  = 30 * 24 * time.Hour
	DefaultWorkers   = 8
)

// Options tune publishing and reading.
type Options struct {
	MaxEventBytes int
	// EventTTL is the expiry applied when a publish does not set one.
	EventTTL time.Duration
	// Workers bounds parallel decoding.
	Workers int
}

func (o Options) withDefaults() Options {
	if o.EventTTL <= 0 {
		o.EventTTL = DefaultEventTTL
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	return o
}

// Storage is what the feed service persists to.
type Storage interface {
	store.FeedStore
	store.SharedStore
}

// Service publishes and reads encrypted user and club feeds and publicly
// shared items.
type Service struct {
	feeds   Storage
	clubs   *club.Distributor
	follows *follow.Manager
	authors *inbox.Messenger
	codec   *Codec
	shares  *Codec
	opts    Options
	audit   *audit.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService returns a Service. Author public keys are resolved through
// messenger. auditLog and m may be nil.
func NewService(feeds Storage, clubs *club.Distributor, follows *follow.Manager, messenger *inbox.Messenger, opts Options, auditLog *audit.Logger, m *metrics.Metrics) *Service {
	opts = opts.withDefaults()
	return &Service{
		feeds:   feeds,
		clubs:   clubs,
		follows: follows,
		authors: messenger,
		codec:   NewCodec(opts.MaxEventBytes),
		shares:  NewCodec(MaxSharedBytes),
		opts:    opts,
		audit:   auditLog,
		metrics: m,
		now:     time.Now,
	}
}

// PublishOptions identify and expire a published event. Zero values get a
// fresh event id and the default TTL. Reusing an event id replaces the
// earlier record when the same author published it.
type PublishOptions struct {
	EventID   string
	ExpiresAt time.Time
}

// PublishUserEvent encrypts ev under the author's personal key and stores
// it in their own feed.
func (s *Service) PublishUserEvent(ctx context.Context, author *identity.Identity, ev Event, po PublishOptions) (store.FeedRecord, error) {
	rec, err := s.newRecord(author.ID(), store.ScopeUser, author.ID(), po)
	if err != nil {
		return store.FeedRecord{}, err
	}
	err = author.WithPersonalKey(func(key []byte) error {
		rec.Ciphertext, rec.IV, err = s.codec.Encode(ev, author, key)
		return err
	})
	if err != nil {
		return store.FeedRecord{}, err
	}
	return s.put(ctx, rec)
}

// PublishClubEvent encrypts ev under the current club key. The author's
// PostEvent permission is checked against their current role.
func (s *Service) PublishClubEvent(ctx context.Context, author identity.Principal, clubID string, ev Event, po PublishOptions) (store.FeedRecord, error) {
	c, err := s.clubs.Authorize(ctx, author.ID(), clubID, policy.PostEvent)
	if err != nil {
		return store.FeedRecord{}, err
	}
	rec, err := s.newRecord(clubID, store.ScopeClub, author.ID(), po)
	if err != nil {
		return store.FeedRecord{}, err
	}
	rec.KeyVersion = c.KeyVersion
	err = s.clubs.WithClubKey(ctx, author, clubID, c.KeyVersion, func(key []byte) error {
		rec.Ciphertext, rec.IV, err = s.codec.Encode(ev, author, key)
		return err
	})
	if err != nil {
		return store.FeedRecord{}, err
	}
	return s.put(ctx, rec)
}

func (s *Service) newRecord(feedID string, scope store.FeedScope, authorID string, po PublishOptions) (store.FeedRecord, error) {
	now := s.now()
	if po.EventID == "" {
		po.EventID = uuid.NewString()
	}
	if po.ExpiresAt.IsZero() {
		po.ExpiresAt = now.Add(s.opts.EventTTL)
	}
	if !po.ExpiresAt.After(now) {
		return store.FeedRecord{}, fmt.Errorf("event expiry %s is not in the future", po.ExpiresAt.Format(time.RFC3339))
	}
	return store.FeedRecord{
		FeedID:    feedID,
		Scope:     scope,
		AuthorID:  authorID,
		EventID:   po.EventID,
		Timestamp: now,
		ExpiresAt: po.ExpiresAt,
	}, nil
}

func (s *Service) put(ctx context.Context, rec store.FeedRecord) (store.FeedRecord, error) {
	if err := s.feeds.PutEvent(ctx, rec); err != nil {
		return store.FeedRecord{}, fmt.Errorf("failed to store event: %w", err)
	}
	s.metrics.EventPublished(string(rec.Scope))
	log.WithContext(ctx).WithFields(log.Fields{"feed": rec.FeedID, "event": rec.EventID, "bytes": len(rec.Ciphertext)}).Debug("event published")
	return rec, nil
}

// Item is one feed record and the outcome of decoding it.
type Item struct {
	Record store.FeedRecord
	Event  Event
	Err    error
}

// InvalidFollow is a followed user whose token no longer grants access.
type InvalidFollow struct {
	UserID string
	Token  string
	Err    error
}

// Result is a decoded page of one or more feeds, newest first. Expired
// records are dropped; every other failure stays as an Item with Err set.
type Result struct {
	Items          []Item
	InvalidFollows []InvalidFollow
}

// Events returns the successfully decoded items.
func (r Result) Events() []Item {
	var out []Item
	for _, it := range r.Items {
		if it.Err == nil {
			out = append(out, it)
		}
	}
	return out
}

// Err aggregates the per-item failures, or returns nil.
func (r Result) Err() error {
	var result *multierror.Error
	for _, it := range r.Items {
		if it.Err != nil {
			result = multierror.Append(result, fmt.Errorf("event %s: %w", it.Record.EventID, it.Err))
		}
	}
	return result.ErrorOrNil()
}

// ReadClubFeed decodes the newest club events after since. limit is
// clamped to store.MaxFeedLimit. Events under key versions the reader does
// not hold fail individually with a DecryptionFailure.
func (s *Service) ReadClubFeed(ctx context.Context, reader identity.Principal, clubID string, since time.Time, limit int) (Result, error) {
	c, err := s.clubs.Authorize(ctx, reader.ID(), clubID, policy.ViewFeed)
	if err != nil {
		return Result{}, err
	}

	var keyErr error
	if !reader.Keyring.HasClubKey(clubID, c.KeyVersion) {
		if _, err := s.clubs.OpenClubKey(ctx, reader, clubID); err != nil {
			keyErr = err
		}
	}

	recs, err := s.feeds.ListEvents(ctx, clubID, store.FeedQuery{Since: since, Limit: limit, Now: s.now()})
	if err != nil {
		return Result{}, fmt.Errorf("failed to list club events: %w", err)
	}

	withKey := func(rec store.FeedRecord, fn func(key []byte) error) error {
		if keyErr != nil && !reader.Keyring.HasClubKey(clubID, rec.KeyVersion) {
			return keyErr
		}
		return reader.Keyring.ClubKey(clubID, rec.KeyVersion, fn)
	}
	return Result{Items: s.decodeAll(ctx, recs, func(rec store.FeedRecord) string { return rec.AuthorID }, withKey)}, nil
}

// FollowedQuery selects events of one followed user after Since.
type FollowedQuery struct {
	UserID string
	Since  time.Time
}

// ReadFollowedFeeds reads the feeds of followed users. An empty queries
// reads every user in the reader's keyring. Each feed is served only while
// the follow token held for it is still active; users whose token was
// revoked are reported in InvalidFollows.
func (s *Service) ReadFollowedFeeds(ctx context.Context, reader identity.Principal, queries []FollowedQuery, limit int) (Result, error) {
	if len(queries) == 0 {
		for _, userID := range reader.Keyring.Following() {
			queries = append(queries, FollowedQuery{UserID: userID})
		}
	}
	if len(queries) > MaxFollowedFeeds {
		return Result{}, fmt.Errorf("%w: %d requested, at most %d", kerrors.ErrTooManyFeeds, len(queries), MaxFollowedFeeds)
	}

	var (
		res  Result
		recs []store.FeedRecord
		now  = s.now()
	)
	for _, q := range queries {
		token, ok := reader.Keyring.FollowToken(q.UserID)
		if !ok {
			res.InvalidFollows = append(res.InvalidFollows, InvalidFollow{UserID: q.UserID, Err: kerrors.ErrKeyNotFound})
			continue
		}
		if err := s.follows.Authorize(ctx, q.UserID, token); err != nil {
			if errors.Is(err, kerrors.ErrSecretRevoked) || errors.Is(err, kerrors.ErrFollowSecretNotFound) {
				res.InvalidFollows = append(res.InvalidFollows, InvalidFollow{UserID: q.UserID, Token: token, Err: err})
				continue
			}
			return Result{}, err
		}
		page, err := s.feeds.ListEvents(ctx, q.UserID, store.FeedQuery{Since: q.Since, Limit: limit, Now: now})
		if err != nil {
			return Result{}, fmt.Errorf("failed to list events of %s: %w", q.UserID, err)
		}
		recs = append(recs, page...)
	}

	// A user feed is always verified against its owner, whatever author
	// the record claims.
	author := func(rec store.FeedRecord) string { return rec.FeedID }
	withKey := func(rec store.FeedRecord, fn func(key []byte) error) error {
		return reader.Keyring.UserKey(rec.FeedID, fn)
	}
	res.Items = s.decodeAll(ctx, recs, author, withKey)
	sort.SliceStable(res.Items, func(a, b int) bool {
		return res.Items[a].Record.Timestamp.After(res.Items[b].Record.Timestamp)
	})
	return res, nil
}

type keyFunc func(rec store.FeedRecord, fn func(key []byte) error) error

// decodeAll decodes recs on a bounded worker pool, preserving order.
// Expired records are dropped from the output.
func (s *Service) decodeAll(ctx context.Context, recs []store.FeedRecord, authorOf func(store.FeedRecord) string, withKey keyFunc) []Item {
	items := make([]Item, len(recs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	now := s.now()
	for i, rec := range recs {
		i, rec := i, rec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				items[i] = Item{Record: rec, Err: err}
				return nil
			}
			items[i] = s.decodeOne(gctx, rec, authorOf(rec), withKey, now)
			return nil
		})
	}
	_ = g.Wait()

	out := items[:0]
	for _, it := range items {
		if errors.Is(it.Err, kerrors.ErrEventExpired) {
			continue
		}
		out = append(out, it)
	}
	return out
}

func (s *Service) decodeOne(ctx context.Context, rec store.FeedRecord, authorID string, withKey keyFunc, now time.Time) Item {
	item := Item{Record: rec}
	defer func() { s.metrics.EventDecoded(decodeResult(item.Err)) }()

	if rec.Expired(now) {
		item.Err = kerrors.ErrEventExpired
		return item
	}
	pub, err := s.authors.RecipientKey(ctx, authorID)
	if err != nil {
		item.Err = err
		return item
	}
	item.Err = withKey(rec, func(key []byte) error {
		item.Event, err = s.codec.Decode(rec.Ciphertext, rec.IV, key, pub, rec.ExpiresAt, now)
		return err
	})

	if errors.Is(item.Err, kerrors.ErrSignatureInvalid) {
		log.WithContext(ctx).WithFields(log.Fields{
			"feed":   rec.FeedID,
			"event":  rec.EventID,
			"author": authorID,
		}).Warn("security: feed event failed signature verification")
		s.audit.Log(audit.Entry{
			Operation: audit.OpSignatureInvalid,
			FeedID:    rec.FeedID,
			EventID:   rec.EventID,
			AuthorID:  authorID,
			Reason:    string(rec.Scope),
		})
	}
	return item
}

func decodeResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, kerrors.ErrEventExpired):
		return metrics.ResultExpired
	case errors.Is(err, kerrors.ErrSignatureInvalid):
		return metrics.ResultSignatureInvalid
	case errors.Is(err, kerrors.ErrDecryptionFailure):
		return metrics.ResultDecryptFailed
	default:
		return metrics.ResultMalformed
	}
}
