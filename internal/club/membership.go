package club

import (
	"context"
	"errors"
	"fmt"

	"github.com/liftlog/liftsocial/internal/audit"
	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/identity"
	"github.com/liftlog/liftsocial/internal/inbox"
	"github.com/liftlog/liftsocial/internal/policy"
	"github.com/liftlog/liftsocial/internal/secrets"
	"github.com/liftlog/liftsocial/internal/store"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// Invite offers membership of clubID to inviteeID at offeredRole
// (RoleNone means Member) and sends them the club key wrapped to their
// public key. An empty clubName is filled from the decrypted metadata.
func (d *Distributor) Invite(ctx context.Context, inviter identity.Principal, clubID, inviteeID, clubName string, offeredRole policy.Role) error {
	if offeredRole == policy.RoleNone {
		offeredRole = policy.RoleMember
	}
	club, _, err := d.authorize(ctx, inviter.ID(), clubID, policy.Request{Operation: policy.InviteMember, NewRole: offeredRole})
	if err != nil {
		return err
	}

	if _, err := d.clubs.Member(ctx, clubID, inviteeID); err == nil {
		return kerrors.ErrAlreadyMember
	} else if !errors.Is(err, kerrors.ErrMemberNotFound) {
		return err
	}
	if d.full(club) {
		return kerrors.ErrClubFull
	}

	recipient, err := d.messenger.RecipientKey(ctx, inviteeID)
	if err != nil {
		return err
	}

	invite := inbox.ClubInvite{
		ClubID:      clubID,
		ClubName:    clubName,
		OfferedRole: offeredRole,
		KeyVersion:  club.KeyVersion,
		FromUserID:  inviter.ID(),
	}
	err = d.WithClubKey(ctx, inviter, clubID, club.KeyVersion, func(key []byte) error {
		if invite.ClubName == "" {
			md, err := openMetadata(club, key)
			if err != nil {
				return err
			}
			invite.ClubName = md.Name
		}
		invite.WrappedKey, err = identity.WrapKey(key, recipient)
		return err
	})
	if err != nil {
		return err
	}

	if _, err := d.messenger.Deliver(ctx, inviteeID, invite); err != nil {
		return fmt.Errorf("failed to deliver club invite: %w", err)
	}
	d.audit.Log(audit.Entry{UserID: inviter.ID(), Operation: audit.OpClubInvite, ClubID: clubID, TargetUser: inviteeID, Role: offeredRole.String()})
	return nil
}

// PendingInviteFrom converts a received invite into its keyring form.
func PendingInviteFrom(msg inbox.ClubInvite) identity.PendingInvite {
	return identity.PendingInvite{
		ClubID:      msg.ClubID,
		ClubName:    msg.ClubName,
		OfferedRole: msg.OfferedRole,
		WrappedKey:  msg.WrappedKey,
		KeyVersion:  msg.KeyVersion,
		FromUserID:  msg.FromUserID,
	}
}

// AcceptInvite joins the club with the key carried by invite. The inviter
// must still be allowed to invite at the offered role. If the club key was
// rotated after the invite was sent, the row is created PendingKey so an
// admin delivers the current key. A member already waiting for delivery
// after a public join is activated with the invite's key when it is
// current. Accepting as an Active member is a no-op that returns the
// existing row.
func (d *Distributor) AcceptInvite(ctx context.Context, invitee identity.Principal, invite identity.PendingInvite) (store.Member, error) {
	if !invite.OfferedRole.Assignable() {
		return store.Member{}, fmt.Errorf("%w: invite offers %s", kerrors.ErrInvalidRole, invite.OfferedRole)
	}
	existing, err := d.clubs.Member(ctx, invite.ClubID, invitee.ID())
	switch {
	case err == nil && existing.State == store.MemberActive:
		invitee.Keyring.TakeInvite(invite.ClubID)
		return existing, nil
	case err != nil && !errors.Is(err, kerrors.ErrMemberNotFound):
		return store.Member{}, err
	}
	pending := err == nil

	club, _, err := d.authorize(ctx, invite.FromUserID, invite.ClubID, policy.Request{Operation: policy.InviteMember, NewRole: invite.OfferedRole})
	if err != nil {
		return store.Member{}, fmt.Errorf("invite from %s is no longer valid: %w", invite.FromUserID, err)
	}
	if pending && invite.KeyVersion != club.KeyVersion {
		invitee.Keyring.TakeInvite(invite.ClubID)
		return existing, nil
	}
	if !pending && d.full(club) {
		return store.Member{}, kerrors.ErrClubFull
	}

	key, err := invitee.UnwrapKey(invite.WrappedKey)
	if err != nil {
		return store.Member{}, err
	}
	defer secrets.Zero(key)

	var row store.Member
	if pending {
		row = existing
		row.State = store.MemberActive
		row.WrappedKey = invite.WrappedKey
		row.KeyVersion = invite.KeyVersion
		if !row.Role.AtLeast(invite.OfferedRole) {
			row.Role = invite.OfferedRole
		}
		if err := d.clubs.UpdateMember(ctx, row); err != nil {
			return store.Member{}, fmt.Errorf("failed to activate member: %w", err)
		}
	} else {
		row = store.Member{
			ClubID:     invite.ClubID,
			UserID:     invitee.ID(),
			Role:       invite.OfferedRole,
			State:      store.MemberActive,
			WrappedKey: invite.WrappedKey,
			KeyVersion: invite.KeyVersion,
			JoinedAt:   d.now(),
		}
		if invite.KeyVersion != club.KeyVersion {
			row.State, row.WrappedKey, row.KeyVersion = store.MemberPendingKey, nil, 0
		}
		created, err := d.clubs.AddMember(ctx, row)
		if err != nil {
			return store.Member{}, fmt.Errorf("failed to add member: %w", err)
		}
		if !created {
			row, err = d.clubs.Member(ctx, invite.ClubID, invitee.ID())
			if err != nil {
				return store.Member{}, err
			}
		}
	}
	if err := invitee.Keyring.PutClubKey(invite.ClubID, invite.KeyVersion, key); err != nil {
		return store.Member{}, err
	}
	invitee.Keyring.TakeInvite(invite.ClubID)

	d.audit.Log(audit.Entry{UserID: invitee.ID(), Operation: audit.OpClubAccept, ClubID: invite.ClubID, Role: row.Role.String(), KeyVersion: invite.KeyVersion})
	return row, nil
}

// DeclineInvite drops a pending invite. Nothing is stored server side.
func (d *Distributor) DeclineInvite(invitee identity.Principal, clubID string) error {
	if _, ok := invitee.Keyring.TakeInvite(clubID); !ok {
		return kerrors.ErrInviteNotFound
	}
	return nil
}

// JoinPublic adds the joiner to a public club as a Member waiting for key
// delivery.
func (d *Distributor) JoinPublic(ctx context.Context, joiner identity.Principal, clubID string) (store.Member, error) {
	club, err := d.clubs.Club(ctx, clubID)
	if err != nil {
		return store.Member{}, err
	}
	if !club.IsPublic {
		return store.Member{}, kerrors.ErrClubNotPublic
	}
	if d.full(club) {
		return store.Member{}, kerrors.ErrClubFull
	}

	row := store.Member{
		ClubID:   clubID,
		UserID:   joiner.ID(),
		Role:     policy.RoleMember,
		State:    store.MemberPendingKey,
		JoinedAt: d.now(),
	}
	created, err := d.clubs.AddMember(ctx, row)
	if err != nil {
		return store.Member{}, fmt.Errorf("failed to add member: %w", err)
	}
	if !created {
		return store.Member{}, kerrors.ErrAlreadyMember
	}
	d.audit.Log(audit.Entry{UserID: joiner.ID(), Operation: audit.OpClubJoin, ClubID: clubID})
	return row, nil
}

// PendingJoiners lists members waiting for the club key. Admin+.
func (d *Distributor) PendingJoiners(ctx context.Context, actor identity.Principal, clubID string) ([]store.Member, error) {
	if _, _, err := d.authorize(ctx, actor.ID(), clubID, policy.Request{Operation: policy.DeliverKeys}); err != nil {
		return nil, err
	}
	return d.clubs.PendingMembers(ctx, clubID)
}

// DeliverPendingKeys wraps the current club key to every pending joiner,
// marks them Active and sends each a ClubKeyShare. Joiners that left in
// the meantime are skipped. Failures for one joiner do not stop the rest;
// they are returned together.
func (d *Distributor) DeliverPendingKeys(ctx context.Context, actor identity.Principal, clubID string) (int, error) {
	club, _, err := d.authorize(ctx, actor.ID(), clubID, policy.Request{Operation: policy.DeliverKeys})
	if err != nil {
		return 0, err
	}
	pending, err := d.clubs.PendingMembers(ctx, clubID)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var (
		result    *multierror.Error
		delivered int
	)
	err = d.WithClubKey(ctx, actor, clubID, club.KeyVersion, func(key []byte) error {
		for _, row := range pending {
			if err := d.deliverTo(ctx, actor, club, row, key); err != nil {
				if errors.Is(err, kerrors.ErrMemberNotFound) {
					continue
				}
				result = multierror.Append(result, fmt.Errorf("%s: %w", row.UserID, err))
				continue
			}
			delivered++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	d.metrics.KeysDelivered(delivered)
	d.audit.Log(audit.Entry{UserID: actor.ID(), Operation: audit.OpClubDeliver, ClubID: clubID, Count: delivered, KeyVersion: club.KeyVersion})
	return delivered, result.ErrorOrNil()
}

func (d *Distributor) deliverTo(ctx context.Context, actor identity.Principal, club store.Club, row store.Member, key []byte) error {
	recipient, err := d.messenger.RecipientKey(ctx, row.UserID)
	if err != nil {
		return err
	}
	wrapped, err := identity.WrapKey(key, recipient)
	if err != nil {
		return err
	}

	row.State = store.MemberActive
	row.WrappedKey = wrapped
	row.KeyVersion = club.KeyVersion
	if err := d.clubs.UpdateMember(ctx, row); err != nil {
		return err
	}

	share := inbox.ClubKeyShare{ClubID: club.ID, KeyVersion: club.KeyVersion, WrappedKey: wrapped, FromUserID: actor.ID()}
	if _, err := d.messenger.Deliver(ctx, row.UserID, share); err != nil {
		// The row already holds the key; the member can still open it.
		log.WithContext(ctx).WithField("member", row.UserID).Warnf("failed to send club key share: %v", err)
	}
	return nil
}

// Leave removes the member's own row. The owner cannot leave. Leaving with
// the key marks the club for rekeying; cancelling a pending join has no
// other effect.
func (d *Distributor) Leave(ctx context.Context, member identity.Principal, clubID string) error {
	row, err := d.clubs.Member(ctx, clubID, member.ID())
	if err != nil {
		return err
	}
	if row.Role == policy.RoleOwner {
		return kerrors.ErrOwnerCannotLeave
	}
	if err := d.clubs.RemoveMember(ctx, clubID, member.ID()); err != nil {
		return err
	}
	member.Keyring.ForgetClub(clubID)

	if row.State == store.MemberActive {
		if err := d.markRekeyNeeded(ctx, clubID); err != nil {
			log.WithContext(ctx).WithField("club", clubID).Warnf("failed to flag club for rekey: %v", err)
		}
	}
	d.audit.Log(audit.Entry{UserID: member.ID(), Operation: audit.OpClubLeave, ClubID: clubID})
	return nil
}

// RemoveMember deletes targetID's row. The actor must be Admin+ and
// outrank the target. Removing an active member rotates the club key when
// RotateOnRemoval is set, and flags the club for rekeying otherwise.
func (d *Distributor) RemoveMember(ctx context.Context, actor identity.Principal, clubID, targetID string) error {
	target, err := d.clubs.Member(ctx, clubID, targetID)
	if err != nil {
		return err
	}
	if _, _, err := d.authorize(ctx, actor.ID(), clubID, policy.Request{Operation: policy.RemoveMember, TargetRole: target.Role}); err != nil {
		return err
	}
	if err := d.clubs.RemoveMember(ctx, clubID, targetID); err != nil {
		return err
	}
	d.audit.Log(audit.Entry{UserID: actor.ID(), Operation: audit.OpClubRemove, ClubID: clubID, TargetUser: targetID})

	if target.State != store.MemberActive {
		return nil
	}
	if d.opts.RotateOnRemoval {
		if _, err := d.RotateKey(ctx, actor, clubID); err != nil {
			return fmt.Errorf("member removed but key rotation failed: %w", err)
		}
		return nil
	}
	return d.markRekeyNeeded(ctx, clubID)
}

// ChangeRole sets targetID's role. Owner is never assignable.
func (d *Distributor) ChangeRole(ctx context.Context, actor identity.Principal, clubID, targetID string, newRole policy.Role) error {
	target, err := d.clubs.Member(ctx, clubID, targetID)
	if err != nil {
		return err
	}
	req := policy.Request{Operation: policy.ChangeRole, TargetRole: target.Role, NewRole: newRole}
	if _, _, err := d.authorize(ctx, actor.ID(), clubID, req); err != nil {
		return err
	}
	if target.Role == newRole {
		return nil
	}
	target.Role = newRole
	if err := d.clubs.UpdateMember(ctx, target); err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	d.audit.Log(audit.Entry{UserID: actor.ID(), Operation: audit.OpClubRole, ClubID: clubID, TargetUser: targetID, Role: newRole.String()})
	return nil
}

func (d *Distributor) markRekeyNeeded(ctx context.Context, clubID string) error {
	club, err := d.clubs.Club(ctx, clubID)
	if err != nil {
		return err
	}
	if club.RekeyNeeded {
		return nil
	}
	club.RekeyNeeded = true
	return d.clubs.UpdateClub(ctx, club)
}
