package policy

import (
	"fmt"

	kerrors "github.com/liftlog/liftsocial/internal/errors"
)

// Operation names a club operation subject to access control.
type Operation string

const (
	ViewFeed       Operation = "view_feed"
	PostEvent      Operation = "post_event"
	ListMembers    Operation = "list_members"
	InviteMember   Operation = "invite_member"
	RemoveMember   Operation = "remove_member"
	ChangeRole     Operation = "change_role"
	DeliverKeys    Operation = "deliver_keys"
	RotateKey      Operation = "rotate_key"
	UpdateSettings Operation = "update_settings"
	UpdateMetadata Operation = "update_metadata"
	DeleteClub     Operation = "delete_club"
)

// Settings are the club-level switches that widen member capabilities.
type Settings struct {
	MembersCanPost   bool
	MembersCanInvite bool
}

// Request describes one access decision.
type Request struct {
	Operation Operation

	// ActorRole is the role of the acting user, read from the store
	// immediately before the check. RoleNone means not a member.
	ActorRole Role

	// TargetRole is the current role of the affected member
	// (RemoveMember, ChangeRole).
	TargetRole Role

	// NewRole is the role being granted (InviteMember, ChangeRole).
	NewRole Role

	Settings Settings
}

// minRoles is the baseline capability table. Operations whose outcome
// depends on settings or on the target are refined in Check.
var minRoles = map[Operation]Role{
	ViewFeed:       RoleMember,
	PostEvent:      RoleAdmin,
	ListMembers:    RoleMember,
	InviteMember:   RoleAdmin,
	RemoveMember:   RoleAdmin,
	ChangeRole:     RoleAdmin,
	DeliverKeys:    RoleAdmin,
	RotateKey:      RoleAdmin,
	UpdateSettings: RoleOwner,
	UpdateMetadata: RoleOwner,
	DeleteClub:     RoleOwner,
}

// Check returns nil if the request is allowed and an error wrapping
// ErrUnauthorized (or ErrInvalidRole for an unassignable role) otherwise.
func Check(req Request) error {
	min, ok := minRoles[req.Operation]
	if !ok {
		return fmt.Errorf("%w: unknown operation %q", kerrors.ErrUnauthorized, req.Operation)
	}
	if !req.ActorRole.Valid() {
		return fmt.Errorf("%w: %s requires membership", kerrors.ErrUnauthorized, req.Operation)
	}

	switch req.Operation {
	case PostEvent:
		if req.Settings.MembersCanPost {
			min = RoleMember
		}
	case InviteMember:
		if req.Settings.MembersCanInvite {
			min = RoleMember
		}
		if req.NewRole != RoleNone {
			if !req.NewRole.Assignable() {
				return fmt.Errorf("%w: cannot invite as %s", kerrors.ErrInvalidRole, req.NewRole)
			}
			if req.NewRole > req.ActorRole {
				return fmt.Errorf("%w: %s cannot invite as %s", kerrors.ErrUnauthorized, req.ActorRole, req.NewRole)
			}
		}
	case ChangeRole:
		if !req.NewRole.Assignable() {
			return fmt.Errorf("%w: cannot assign %s", kerrors.ErrInvalidRole, req.NewRole)
		}
	}

	if !req.ActorRole.AtLeast(min) {
		return fmt.Errorf("%w: %s requires %s, actor is %s", kerrors.ErrUnauthorized, req.Operation, min, req.ActorRole)
	}

	switch req.Operation {
	case RemoveMember:
		if req.TargetRole >= req.ActorRole {
			return fmt.Errorf("%w: %s cannot remove %s", kerrors.ErrUnauthorized, req.ActorRole, req.TargetRole)
		}
	case ChangeRole:
		if req.TargetRole >= req.ActorRole {
			return fmt.Errorf("%w: %s cannot change the role of %s", kerrors.ErrUnauthorized, req.ActorRole, req.TargetRole)
		}
		if req.NewRole > req.ActorRole {
			return fmt.Errorf("%w: %s cannot grant %s", kerrors.ErrUnauthorized, req.ActorRole, req.NewRole)
		}
	}

	return nil
}

// Allowed is Check without the reason.
func Allowed(req Request) bool {
	return Check(req) == nil
}
