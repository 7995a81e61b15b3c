package domain

import (
	"time"
)

// Membership links a user to an organization with a role.
type Membership struct {
	ID        string
	UserID    string
	OrgID     string
	Role      Role
	CreatedAt time.Time
}

type Role string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

// roleRanks orders roles for minimum-privilege checks: viewer < member < admin < owner.
var roleRanks = map[Role]int{
	RoleViewer: 0,
	RoleMember: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// Rank returns the ordinal rank of the role, or -1 for an unknown role.
func (r Role) Rank() int {
	rank, ok := roleRanks[r]
	if !ok {
		return -1
	}
	return rank
}

// Valid reports whether the role is one of the defined roles.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// AtLeast reports whether the role's rank meets or exceeds min's rank.
// Unknown roles never satisfy any minimum.
func (r Role) AtLeast(min Role) bool {
	rr, mr := r.Rank(), min.Rank()
	return rr >= 0 && mr >= 0 && rr >= mr
}
