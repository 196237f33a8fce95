// Package redis implements the inbox collaborator on Redis lists.
//
// Each recipient has one list holding msgpack-encoded envelopes in arrival
// order. Draining reads and deletes the list inside MULTI/EXEC so two
// concurrent drains never return the same envelope.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/liftlog/liftsocial/internal/store"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// DefaultKeyPrefix namespaces inbox queues.
	DefaultKeyPrefix = "liftsocial:inbox:"

	pruneRetries = 3
)

// Inbox is a Redis backed store.InboxEngine.
type Inbox struct {
	rdb    *redis.Client
	prefix string
}

var (
	_ store.InboxEngine = (*Inbox)(nil)
	_ store.Pruner      = (*Inbox)(nil)
)

// New connects to the Redis server at url (redis://host:port/db) and
// verifies the connection.
func New(ctx context.Context, url string) (*Inbox, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return NewFromClient(rdb, DefaultKeyPrefix), nil
}

// NewFromClient wraps an existing client. An empty prefix selects
// DefaultKeyPrefix.
func NewFromClient(rdb *redis.Client, prefix string) *Inbox {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Inbox{rdb: rdb, prefix: prefix}
}

func (i *Inbox) queueKey(recipientID string) string {
	return i.prefix + recipientID
}

// Append pushes env onto the recipient's queue. The queue expires with its
// longest lived envelope.
func (i *Inbox) Append(ctx context.Context, env store.Envelope) error {
	data, err := msgpack.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	key := i.queueKey(env.RecipientID)
	_, err = i.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		if env.ExpiresAt.IsZero() {
			pipe.Persist(ctx, key)
			return nil
		}
		ttl := time.Until(env.ExpiresAt)
		if ttl <= 0 {
			ttl = time.Second
		}
		// NX covers a fresh queue; GT only ever extends an existing one.
		pipe.ExpireNX(ctx, key, ttl)
		pipe.ExpireGT(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append envelope: %w", err)
	}
	return nil
}

// Drain atomically removes and returns every unexpired envelope addressed to
// recipientID, oldest first.
func (i *Inbox) Drain(ctx context.Context, recipientID string, now time.Time) ([]store.Envelope, error) {
	key := i.queueKey(recipientID)

	var lrange *redis.StringSliceCmd
	_, err := i.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to drain inbox: %w", err)
	}

	envs, dropped := decodeQueue(lrange.Val(), now)
	if dropped > 0 {
		log.WithContext(ctx).WithField("recipient", recipientID).Debugf("dropped %d expired or unreadable envelopes", dropped)
	}
	sort.SliceStable(envs, func(a, b int) bool {
		if !envs[a].CreatedAt.Equal(envs[b].CreatedAt) {
			return envs[a].CreatedAt.Before(envs[b].CreatedAt)
		}
		return envs[a].ID < envs[b].ID
	})
	return envs, nil
}

// Prune rewrites every queue without its expired envelopes. Queues that
// change during the rewrite are retried.
func (i *Inbox) Prune(ctx context.Context, now time.Time) (store.PruneResult, error) {
	var res store.PruneResult

	iter := i.rdb.Scan(ctx, 0, i.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		removed, err := i.pruneQueue(ctx, iter.Val(), now)
		if err != nil {
			return res, err
		}
		res.Envelopes += removed
	}
	if err := iter.Err(); err != nil {
		return res, fmt.Errorf("failed to scan inbox queues: %w", err)
	}
	return res, nil
}

func (i *Inbox) pruneQueue(ctx context.Context, key string, now time.Time) (int, error) {
	for attempt := 0; attempt < pruneRetries; attempt++ {
		removed := 0
		err := i.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.LRange(ctx, key, 0, -1).Result()
			if err != nil {
				return err
			}
			keep := make([]any, 0, len(raw))
			for _, item := range raw {
				var env store.Envelope
				if err := msgpack.Unmarshal([]byte(item), &env); err != nil || env.Expired(now) {
					continue
				}
				keep = append(keep, item)
			}
			removed = len(raw) - len(keep)
			if removed == 0 {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				if len(keep) > 0 {
					pipe.RPush(ctx, key, keep...)
				}
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to prune %s: %w", strings.TrimPrefix(key, i.prefix), err)
		}
		return removed, nil
	}
	return 0, nil
}

// Close closes the client.
func (i *Inbox) Close() error {
	return i.rdb.Close()
}

func decodeQueue(raw []string, now time.Time) ([]store.Envelope, int) {
	envs := make([]store.Envelope, 0, len(raw))
	dropped := 0
	for _, item := range raw {
		var env store.Envelope
		if err := msgpack.Unmarshal([]byte(item), &env); err != nil {
			dropped++
			continue
		}
		if env.Expired(now) {
			dropped++
			continue
		}
		envs = append(envs, env)
	}
	return envs, dropped
}
