package policy

import (
	"fmt"
	"strings"

	kerrors "github.com/liftlog/liftsocial/internal/errors"
)

// Role is a club membership role. Roles are strictly ordered:
// Viewer < Member < Admin < Owner. The zero value means "no membership".
type Role int

const (
	RoleNone Role = iota
	RoleViewer
	RoleMember
	RoleAdmin
	RoleOwner
)

var roleNames = map[Role]string{
	RoleNone:   "none",
	RoleViewer: "viewer",
	RoleMember: "member",
	RoleAdmin:  "admin",
	RoleOwner:  "owner",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Valid reports whether r is one of the four membership roles.
func (r Role) Valid() bool {
	return r >= RoleViewer && r <= RoleOwner
}

// Assignable reports whether r may be granted by invite or role change.
// Ownership is never transferred through those paths.
func (r Role) Assignable() bool {
	return r >= RoleViewer && r <= RoleAdmin
}

// AtLeast reports whether r is equal to or above min.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}

// ParseRole parses a role name such as "admin".
func ParseRole(s string) (Role, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for role, name := range roleNames {
		if role != RoleNone && name == needle {
			return role, nil
		}
	}
	return RoleNone, fmt.Errorf("%w: %q", kerrors.ErrInvalidRole, s)
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if _, ok := roleNames[r]; !ok {
		return nil, fmt.Errorf("%w: %d", kerrors.ErrInvalidRole, int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unlike ParseRole it
// accepts "none" so stored zero values round trip.
func (r *Role) UnmarshalText(text []byte) error {
	if string(text) == roleNames[RoleNone] {
		*r = RoleNone
		return nil
	}
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}
