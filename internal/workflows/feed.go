package workflows

import (
	"context"
	"time"

	"github.com/liftlog/liftsocial/internal/configs"
	"github.com/liftlog/liftsocial/internal/feed"
	"github.com/liftlog/liftsocial/internal/inbox"
	"github.com/liftlog/liftsocial/internal/store"

	log "github.com/sirupsen/logrus"
)

// PostOptions configures the feed post workflow.
type PostOptions struct {
	// ClubID posts to a club feed instead of the user's own feed.
	ClubID string

	// EventID replaces an earlier event with the same id.
	EventID string

	// TTL overrides the configured event lifetime.
	TTL time.Duration
}

// Post publishes ev to the session user's feed, or to a club feed when
// ClubID is set.
//
// Returns ErrUnauthorized if the user may not post to the club.
// Returns ErrEventTooLarge if the encrypted event exceeds the size cap.
func Post(ctx context.Context, s *Session, ev feed.Event, opts PostOptions) (store.FeedRecord, error) {
	ctx = s.Context(ctx)
	po := feed.PublishOptions{EventID: opts.EventID}
	if opts.TTL > 0 {
		po.ExpiresAt = time.Now().Add(opts.TTL)
	}
	if opts.ClubID != "" {
		return s.Feed.PublishClubEvent(ctx, s.Principal, opts.ClubID, ev, po)
	}
	return s.Feed.PublishUserEvent(ctx, s.Principal.Identity, ev, po)
}

// ReadOptions configures the feed read workflow.
type ReadOptions struct {
	// ClubID reads a club feed. Otherwise followed users are read.
	ClubID string

	// Users limits a followed-feed read. Empty reads every followed user.
	Users []string

	// Since only returns events newer than this time.
	Since time.Time

	// Limit caps the number of events; 0 uses the configured page size.
	Limit int
}

// Read decodes a club feed or the feeds of followed users, newest first.
// Items that fail to decrypt or verify are kept in the result with their
// error set.
//
// Returns ErrTooManyFeeds if more users are requested than one read allows.
func Read(ctx context.Context, s *Session, opts ReadOptions) (feed.Result, error) {
	ctx = s.Context(ctx)
	limit := opts.Limit
	if limit <= 0 {
		limit = s.Config.Feed.PageSize
	}
	if opts.ClubID != "" {
		return s.Feed.ReadClubFeed(ctx, s.Principal, opts.ClubID, opts.Since, limit)
	}

	queries := make([]feed.FollowedQuery, 0, len(opts.Users))
	for _, u := range opts.Users {
		queries = append(queries, feed.FollowedQuery{UserID: u, Since: opts.Since})
	}
	if len(queries) == 0 && !opts.Since.IsZero() {
		for _, u := range s.Principal.Keyring.Following() {
			queries = append(queries, feed.FollowedQuery{UserID: u, Since: opts.Since})
		}
	}
	return s.Feed.ReadFollowedFeeds(ctx, s.Principal, queries, limit)
}

// ShareResult describes a newly shared item.
type ShareResult struct {
	Item store.SharedItem
	Link feed.ShareLink
}

// Share publishes ev as a public item readable by anyone holding the
// returned link. ttl <= 0 uses the default share lifetime.
//
// Returns ErrEventTooLarge if the encrypted item exceeds the shared cap.
func Share(ctx context.Context, s *Session, ev feed.Event, ttl time.Duration) (*ShareResult, error) {
	ctx = s.Context(ctx)
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	item, link, err := s.Feed.Share(ctx, s.Principal.Identity, ev, expiresAt)
	if err != nil {
		return nil, err
	}
	return &ShareResult{Item: item, Link: link}, nil
}

// OpenShared opens a share link. It needs storage but no identity.
//
// Returns ErrInvalidShareLink if link cannot be parsed.
// Returns ErrSharedItemNotFound if the item is unknown or expired.
func OpenShared(ctx context.Context, cfg *configs.Config, link string) (feed.Shared, error) {
	parsed, err := feed.ParseShareLink(link)
	if err != nil {
		return feed.Shared{}, err
	}
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return feed.Shared{}, err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warnf("closing storage: %v", err)
		}
	}()

	messenger := inbox.New(backend, backend, cfg.InboxOptions(), nil)
	svc := feed.NewService(backend, nil, nil, messenger, cfg.FeedOptions(), nil, nil)
	return svc.OpenShared(ctx, parsed)
}
