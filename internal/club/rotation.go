package club

import (
	"context"
	"crypto/rsa"
	"fmt"

	"github.com/liftlog/liftsocial/internal/audit"
	"github.com/liftlog/liftsocial/internal/identity"
	"github.com/liftlog/liftsocial/internal/inbox"
	"github.com/liftlog/liftsocial/internal/policy"
	"github.com/liftlog/liftsocial/internal/secrets"
	"github.com/liftlog/liftsocial/internal/store"

	log "github.com/sirupsen/logrus"
)

// RotateKey replaces the club key with a fresh one at the next version.
// Metadata is re-encrypted, the key is re-wrapped for every active member
// and sent to each of them except the actor; pending joiners stay pending.
// The rekey flag is cleared. Admin+.
func (d *Distributor) RotateKey(ctx context.Context, actor identity.Principal, clubID string) (int, error) {
	club, _, err := d.authorize(ctx, actor.ID(), clubID, policy.Request{Operation: policy.RotateKey})
	if err != nil {
		return 0, err
	}

	var md Metadata
	err = d.WithClubKey(ctx, actor, clubID, club.KeyVersion, func(key []byte) error {
		md, err = openMetadata(club, key)
		return err
	})
	if err != nil {
		return 0, err
	}

	members, err := d.clubs.Members(ctx, clubID)
	if err != nil {
		return 0, err
	}

	newKey, err := secrets.GenerateAESKey()
	if err != nil {
		return 0, err
	}
	defer secrets.Zero(newKey)

	next := club
	next.KeyVersion = club.KeyVersion + 1
	next.RekeyNeeded = false
	if err := sealMetadata(&next, md, newKey); err != nil {
		return 0, err
	}

	var (
		rows   []store.Member
		shares = make(map[string]inbox.ClubKeyShare)
	)
	for _, m := range members {
		if m.State != store.MemberActive {
			continue
		}
		var pub *rsa.PublicKey
		if m.UserID == actor.ID() {
			pub = actor.PublicKey()
		} else if pub, err = d.messenger.RecipientKey(ctx, m.UserID); err != nil {
			return 0, fmt.Errorf("cannot rewrap club key for %s: %w", m.UserID, err)
		}
		wrapped, err := identity.WrapKey(newKey, pub)
		if err != nil {
			return 0, err
		}
		m.WrappedKey = wrapped
		m.KeyVersion = next.KeyVersion
		rows = append(rows, m)
		if m.UserID != actor.ID() {
			shares[m.UserID] = inbox.ClubKeyShare{ClubID: clubID, KeyVersion: next.KeyVersion, WrappedKey: wrapped, FromUserID: actor.ID()}
		}
	}

	if err := d.clubs.Rekey(ctx, next, rows); err != nil {
		return 0, fmt.Errorf("failed to store rotated key: %w", err)
	}
	if err := actor.Keyring.PutClubKey(clubID, next.KeyVersion, newKey); err != nil {
		return 0, err
	}

	for userID, share := range shares {
		if _, err := d.messenger.Deliver(ctx, userID, share); err != nil {
			log.WithContext(ctx).WithField("member", userID).Warnf("failed to send rotated club key: %v", err)
		}
	}

	d.metrics.KeyRotated()
	log.WithContext(ctx).WithFields(log.Fields{"club": clubID, "version": next.KeyVersion}).Info("club key rotated")
	d.audit.Log(audit.Entry{UserID: actor.ID(), Operation: audit.OpClubRotate, ClubID: clubID, KeyVersion: next.KeyVersion, Count: len(rows)})
	return next.KeyVersion, nil
}
