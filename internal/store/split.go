package store

import (
	"context"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
)

// InboxEngine is an inbox that can be closed, such as the Redis queues.
type InboxEngine interface {
	InboxStore
	io.Closer
}

type splitBackend struct {
	Backend
	inbox InboxEngine
}

// WithInbox returns a Backend that routes inbox traffic to inbox and
// everything else to b.
func WithInbox(b Backend, inbox InboxEngine) Backend {
	return &splitBackend{Backend: b, inbox: inbox}
}

func (s *splitBackend) Append(ctx context.Context, env Envelope) error {
	return s.inbox.Append(ctx, env)
}

func (s *splitBackend) Drain(ctx context.Context, recipientID string, now time.Time) ([]Envelope, error) {
	return s.inbox.Drain(ctx, recipientID, now)
}

func (s *splitBackend) Prune(ctx context.Context, now time.Time) (PruneResult, error) {
	res, err := s.Backend.Prune(ctx, now)
	if err != nil {
		return res, err
	}
	if p, ok := s.inbox.(Pruner); ok {
		inboxRes, err := p.Prune(ctx, now)
		if err != nil {
			return res, err
		}
		res.Envelopes += inboxRes.Envelopes
	}
	return res, nil
}

func (s *splitBackend) Close() error {
	var result *multierror.Error
	if err := s.inbox.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.Backend.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
