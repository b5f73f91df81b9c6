package principal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Kind tags which namespace a principal lives in. Staff and student ids are independent.
type Kind string

const (
	KindStaff   Kind = "staff"
	KindStudent Kind = "student"
)

var errInvalidKind = errors.New("invalid principal kind")

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindStaff, KindStudent:
		return k, nil
	}
	return "", errors.Wrapf(errInvalidKind, "%q", s)
}

func (k Kind) Valid() bool {
	return k == KindStaff || k == KindStudent
}

// Role is one of the closed set of roles a principal may hold.
type Role string

const (
	RoleAdmin       Role = "ADMIN"
	RolePrincipal   Role = "PRINCIPAL"
	RoleCoordinator Role = "COORDINATOR"
	RoleProfessor   Role = "PROFESSOR"
	RoleStaff       Role = "STAFF"
	RoleStudent     Role = "STUDENT"
)

var (
	// AllRoles in display order.
	AllRoles = []Role{RoleAdmin, RolePrincipal, RoleCoordinator, RoleProfessor, RoleStaff, RoleStudent}

	// AssignableRoles are the roles backed by a RoleAssignment; STAFF & STUDENT are implied by the Kind.
	AssignableRoles = []Role{RoleAdmin, RolePrincipal, RoleCoordinator, RoleProfessor}

	errInvalidRole = errors.New("invalid role")
)

func ParseRole(s string) (Role, error) {
	r := Role(s)
	for _, known := range AllRoles {
		if r == known {
			return r, nil
		}
	}
	return "", errors.Wrapf(errInvalidRole, "%q", s)
}

func (r Role) Assignable() bool {
	for _, a := range AssignableRoles {
		if r == a {
			return true
		}
	}
	return false
}

// RoleSet is a set of roles.
type RoleSet map[Role]struct{}

func NewRoleSet(roles ...Role) RoleSet {
	rs := make(RoleSet, len(roles))
	for _, r := range roles {
		rs[r] = struct{}{}
	}
	return rs
}

func (rs RoleSet) Has(r Role) bool {
	_, ok := rs[r]
	return ok
}

func (rs RoleSet) HasAny(roles ...Role) bool {
	for _, r := range roles {
		if rs.Has(r) {
			return true
		}
	}
	return false
}

// Slice returns the roles in AllRoles order.
func (rs RoleSet) Slice() []Role {
	roles := make([]Role, 0, len(rs))
	for _, r := range AllRoles {
		if rs.Has(r) {
			roles = append(roles, r)
		}
	}
	return roles
}

func (rs RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(rs.Slice())
}

func (rs *RoleSet) UnmarshalJSON(data []byte) error {
	var roles []Role
	if err := json.Unmarshal(data, &roles); err != nil {
		return err
	}
	*rs = NewRoleSet(roles...)
	return nil
}

// Ref identifies a principal across both namespaces.
type Ref struct {
	ID   int64 `json:"id"`
	Kind Kind  `json:"type"`
}

func (r Ref) String() string {
	return string(r.Kind) + ":" + strconv.FormatInt(r.ID, 10)
}

// RoleAssignment grants a role to a staff member. Ownership relations (coordinations, teachings) point at it.
type RoleAssignment struct {
	ID        int64     `json:"id"`
	StaffID   int64     `json:"staff_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Principal is an authenticated identity: a staff member or a student.
type Principal struct {
	Ref
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Registration string    `json:"registration,omitempty"` // students only
	Roles        RoleSet   `json:"roles"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC

	// Assignments backing the staff roles; empty for students.
	Assignments []RoleAssignment `json:"-"`
}

// DeriveRoles computes the role set of a principal: students are {STUDENT},
// staff are {STAFF} plus the roles of their assignments.
func DeriveRoles(kind Kind, assignments []RoleAssignment) RoleSet {
	if kind == KindStudent {
		return NewRoleSet(RoleStudent)
	}
	rs := NewRoleSet(RoleStaff)
	for _, a := range assignments {
		rs[a.Role] = struct{}{}
	}
	return rs
}

func (p Principal) IsStaff() bool   { return p.Kind == KindStaff }
func (p Principal) IsStudent() bool { return p.Kind == KindStudent }

func (p Principal) HasRole(r Role) bool { return p.Roles.Has(r) }

// OwnsAssignment reports whether the role assignment a belongs to p.
func (p Principal) OwnsAssignment(a RoleAssignment) bool {
	return p.IsStaff() && a.StaffID == p.ID
}

// Assignment returns p's assignment for the given role, if any.
func (p Principal) Assignment(r Role) (RoleAssignment, bool) {
	for _, a := range p.Assignments {
		if a.Role == r {
			return a, true
		}
	}
	return RoleAssignment{}, false
}

func (p Principal) String() string {
	return fmt.Sprintf("%s (%s)", p.Ref, p.Email)
}
