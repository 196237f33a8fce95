package workflows

import (
	"context"
	"errors"
	"fmt"

	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/club"
	"github.com/liftlog/liftsocial/internal/inbox"
	"github.com/liftlog/liftsocial/internal/policy"
	"github.com/liftlog/liftsocial/internal/store"

	log "github.com/sirupsen/logrus"
)

// SyncOptions configures the inbox sync workflow.
type SyncOptions struct {
	// DeliverPendingKeys also delivers club keys to public joiners in every
	// club where the session user may do so.
	DeliverPendingKeys bool
}

// SyncFailure is one inbox message that could not be applied.
type SyncFailure struct {
	EnvelopeID string
	Kind       store.MessageKind
	Err        error
}

// SyncResult contains the outcome of an inbox sync.
type SyncResult struct {
	FollowRequests int
	FollowGrants   int
	KeyShares      int
	Invites        int
	KeysDelivered  int
	Failures       []SyncFailure
}

// Applied is the number of messages handled successfully.
func (r *SyncResult) Applied() int {
	return r.FollowRequests + r.FollowGrants + r.KeyShares + r.Invites
}

// SyncInbox drains the session user's inbox and applies every message:
// follow requests are redeemed, grants and key shares go to the keyring and
// club invites are kept pending until accepted. A message that fails is
// reported and does not stop the others.
func SyncInbox(ctx context.Context, s *Session, opts SyncOptions) (*SyncResult, error) {
	ctx = s.Context(ctx)
	received, err := s.Messenger.Receive(ctx, s.UserID(), s.Principal)
	if err != nil {
		return nil, fmt.Errorf("draining inbox: %w", err)
	}

	result := &SyncResult{}
	for _, r := range received {
		if r.Err == nil {
			r.Err = applyMessage(ctx, s, r.Message, result)
		}
		if r.Err != nil {
			result.Failures = append(result.Failures, SyncFailure{EnvelopeID: r.Envelope.ID, Kind: r.Envelope.Kind, Err: r.Err})
		}
	}

	if opts.DeliverPendingKeys {
		n, err := deliverAllPending(ctx, s)
		result.KeysDelivered = n
		if err != nil {
			return result, err
		}
	}

	log.WithContext(ctx).Debugf("inbox sync applied %d of %d messages", result.Applied(), len(received))
	return result, nil
}

func applyMessage(ctx context.Context, s *Session, msg inbox.Message, result *SyncResult) error {
	switch m := msg.(type) {
	case inbox.FollowRequest:
		if err := s.Follows.HandleRequest(ctx, s.Principal.Identity, m); err != nil {
			return err
		}
		result.FollowRequests++
	case inbox.FollowGrant:
		if err := s.Follows.AcceptGrant(s.Principal.Identity, s.Principal.Keyring, m); err != nil {
			return err
		}
		result.FollowGrants++
	case inbox.ClubKeyShare:
		if err := s.Clubs.ApplyKeyShare(ctx, s.Principal, m); err != nil {
			return err
		}
		result.KeyShares++
	case inbox.ClubInvite:
		s.Principal.Keyring.AddInvite(club.PendingInviteFrom(m))
		result.Invites++
	default:
		return kerrors.ErrMalformedMessage
	}
	return nil
}

// deliverAllPending runs key delivery for every club where the session user
// holds the DeliverKeys capability.
func deliverAllPending(ctx context.Context, s *Session) (int, error) {
	clubs, err := s.Clubs.MyClubs(ctx, s.UserID())
	if err != nil {
		return 0, err
	}

	total := 0
	for _, c := range clubs {
		if _, err := s.Clubs.Authorize(ctx, s.UserID(), c.ID, policy.DeliverKeys); err != nil {
			if errors.Is(err, kerrors.ErrUnauthorized) || errors.Is(err, kerrors.ErrMemberNotFound) {
				continue
			}
			return total, err
		}
		n, err := s.Clubs.DeliverPendingKeys(ctx, s.Principal, c.ID)
		total += n
		if err != nil {
			return total, fmt.Errorf("delivering keys for club %s: %w", c.ID, err)
		}
	}
	return total, nil
}
