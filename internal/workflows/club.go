package workflows

import (
	"context"
	"fmt"

	"github.com/liftlog/liftsocial/internal/club"
	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/identity"
	"github.com/liftlog/liftsocial/internal/policy"
	"github.com/liftlog/liftsocial/internal/store"
)

// ClubSummary is a club as shown to the session user. Name and Description
// are empty when the user holds no key for the club.
type ClubSummary struct {
	Club        store.Club
	Name        string
	Description string
	Role        policy.Role
	State       store.MemberState
}

// CreateClub creates a club owned by the session user.
func CreateClub(ctx context.Context, s *Session, opts club.CreateOptions) (store.Club, error) {
	return s.Clubs.CreateClub(s.Context(ctx), s.Principal, opts)
}

// InviteToClub sends inviteeID an invite carrying the club key. A RoleNone
// role offers Member.
//
// Returns ErrUnauthorized if the session user may not invite at that role.
// Returns ErrAlreadyMember or ErrClubFull when the invite cannot apply.
func InviteToClub(ctx context.Context, s *Session, clubID, inviteeID string, role policy.Role) error {
	return s.Clubs.Invite(s.Context(ctx), s.Principal, clubID, inviteeID, "", role)
}

// PendingInvites lists invites received through the inbox, oldest first.
func PendingInvites(s *Session) []identity.PendingInvite {
	return s.Principal.Keyring.Invites()
}

// AcceptClubInvite joins a club using the pending invite for clubID.
//
// Returns ErrInviteNotFound if no invite for the club was received.
func AcceptClubInvite(ctx context.Context, s *Session, clubID string) (store.Member, error) {
	for _, inv := range s.Principal.Keyring.Invites() {
		if inv.ClubID == clubID {
			return s.Clubs.AcceptInvite(s.Context(ctx), s.Principal, inv)
		}
	}
	return store.Member{}, fmt.Errorf("%w: %s", kerrors.ErrInviteNotFound, clubID)
}

// DeclineClubInvite drops the pending invite for clubID.
func DeclineClubInvite(s *Session, clubID string) error {
	return s.Clubs.DeclineInvite(s.Principal, clubID)
}

// JoinClub joins a public club. The club key arrives once an admin runs
// key delivery.
func JoinClub(ctx context.Context, s *Session, clubID string) (store.Member, error) {
	return s.Clubs.JoinPublic(s.Context(ctx), s.Principal, clubID)
}

// DeliverClubKeys delivers the club key to every pending joiner.
func DeliverClubKeys(ctx context.Context, s *Session, clubID string) (int, error) {
	return s.Clubs.DeliverPendingKeys(s.Context(ctx), s.Principal, clubID)
}

// LeaveClub removes the session user from a club and forgets its keys.
func LeaveClub(ctx context.Context, s *Session, clubID string) error {
	return s.Clubs.Leave(s.Context(ctx), s.Principal, clubID)
}

// RemoveClubMember removes targetID from a club.
func RemoveClubMember(ctx context.Context, s *Session, clubID, targetID string) error {
	return s.Clubs.RemoveMember(s.Context(ctx), s.Principal, clubID, targetID)
}

// ChangeClubRole sets the role of targetID.
func ChangeClubRole(ctx context.Context, s *Session, clubID, targetID string, role policy.Role) error {
	return s.Clubs.ChangeRole(s.Context(ctx), s.Principal, clubID, targetID, role)
}

// RotateClubKey issues a new club key version to every active member.
func RotateClubKey(ctx context.Context, s *Session, clubID string) (int, error) {
	return s.Clubs.RotateKey(s.Context(ctx), s.Principal, clubID)
}

// ClubUpdate is a partial change to a club. Nil fields are left alone.
type ClubUpdate struct {
	Name             *string
	Description      *string
	MembersCanPost   *bool
	MembersCanInvite *bool
	MaxMembers       *int
}

func (u ClubUpdate) touchesSettings() bool {
	return u.MembersCanPost != nil || u.MembersCanInvite != nil || u.MaxMembers != nil
}

func (u ClubUpdate) touchesMetadata() bool {
	return u.Name != nil || u.Description != nil
}

// UpdateClub applies a partial update to club settings and metadata.
// Owner only.
func UpdateClub(ctx context.Context, s *Session, clubID string, u ClubUpdate) error {
	ctx = s.Context(ctx)
	c, err := s.Clubs.Club(ctx, clubID)
	if err != nil {
		return err
	}

	if u.touchesSettings() {
		settings := c.Settings
		if u.MembersCanPost != nil {
			settings.MembersCanPost = *u.MembersCanPost
		}
		if u.MembersCanInvite != nil {
			settings.MembersCanInvite = *u.MembersCanInvite
		}
		if u.MaxMembers != nil {
			settings.MaxMembers = *u.MaxMembers
		}
		if err := s.Clubs.UpdateSettings(ctx, s.Principal, clubID, settings); err != nil {
			return err
		}
	}

	if u.touchesMetadata() {
		md, err := s.Clubs.DecryptMetadata(ctx, s.Principal, c)
		if err != nil {
			return err
		}
		if u.Name != nil {
			md.Name = *u.Name
		}
		if u.Description != nil {
			md.Description = *u.Description
		}
		if err := s.Clubs.UpdateMetadata(ctx, s.Principal, clubID, md); err != nil {
			return err
		}
	}
	return nil
}

// DeleteClub deletes a club and its feed. Owner only.
func DeleteClub(ctx context.Context, s *Session, clubID string) error {
	return s.Clubs.DeleteClub(s.Context(ctx), s.Principal, clubID)
}

// ListClubs lists the clubs the session user has a row in.
func ListClubs(ctx context.Context, s *Session) ([]ClubSummary, error) {
	ctx = s.Context(ctx)
	clubs, err := s.Clubs.MyClubs(ctx, s.UserID())
	if err != nil {
		return nil, err
	}
	return summarize(ctx, s, clubs), nil
}

// SearchClubs pages through public clubs.
func SearchClubs(ctx context.Context, s *Session, limit, offset int) ([]ClubSummary, error) {
	ctx = s.Context(ctx)
	clubs, err := s.Clubs.SearchPublic(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	return summarize(ctx, s, clubs), nil
}

// ClubMembers lists the members of a club. Member+.
func ClubMembers(ctx context.Context, s *Session, clubID string) ([]store.Member, error) {
	return s.Clubs.Members(s.Context(ctx), s.Principal, clubID)
}

func summarize(ctx context.Context, s *Session, clubs []store.Club) []ClubSummary {
	out := make([]ClubSummary, 0, len(clubs))
	for _, c := range clubs {
		sum := ClubSummary{Club: c}
		if m, err := s.Backend.Member(ctx, c.ID, s.UserID()); err == nil {
			sum.Role = m.Role
			sum.State = m.State
		}
		if sum.State == store.MemberActive {
			if md, err := s.Clubs.DecryptMetadata(ctx, s.Principal, c); err == nil {
				sum.Name = md.Name
				sum.Description = md.Description
			}
		}
		out = append(out, sum)
	}
	return out
}
