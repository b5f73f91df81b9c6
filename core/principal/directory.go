package principal

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/fatracker/core"
)

var (
	// errors
	ErrNotFound           = errors.New("principal not found")
	ErrAmbiguous          = errors.New("username matches more than one principal")
	ErrEmailExists        = errors.New("a principal with this email already exists")
	ErrRegistrationExists = errors.New("a student with this registration already exists")
	ErrRoleInUse          = errors.New("role assignment is referenced by an active coordination or teaching")
	ErrRoleNotAssignable  = errors.New("role cannot be assigned")
	ErrFilterConflict     = errors.New("roles and exclude_roles cannot be combined")
)

type (
	// Directory looks principals up. Lookups return principals with their roles derived.
	Directory interface {
		GetPrincipal(ctx context.Context, ref Ref) (Principal, error)
		// FindByEmail searches both staff and students.
		FindByEmail(ctx context.Context, email string) ([]Principal, error)
		// FindByRegistration searches students.
		FindByRegistration(ctx context.Context, registration string) ([]Principal, error)
	}

	Repository interface {
		Directory

		CreateStaff(ctx context.Context, p Principal) (Principal, error)
		CreateStudent(ctx context.Context, p Principal) (Principal, error)
		// ListPrincipals returns every principal of the kind, ordered by id.
		ListPrincipals(ctx context.Context, kind Kind) ([]Principal, error)
		// UpdateProfile saves the name and email of p.
		UpdateProfile(ctx context.Context, p Principal) (Principal, error)
		UpdatePassword(ctx context.Context, ref Ref, hash []byte) error
		// DeletePrincipal removes the principal with everything hanging off it: role assignments and past
		// ownerships for staff, enrollments and group memberships for students. Staff bound to an active
		// coordination or teaching are kept and ErrRoleInUse is returned.
		DeletePrincipal(ctx context.Context, ref Ref) error
		EmailExists(ctx context.Context, kind Kind, email string) (bool, error)
		RegistrationExists(ctx context.Context, registration string) (bool, error)

		GetRoleAssignment(ctx context.Context, staffID int64, role Role) (RoleAssignment, error)
		AddRoleAssignment(ctx context.Context, staffID int64, role Role) (RoleAssignment, error)
		RevokeRoleAssignment(ctx context.Context, id int64) error
		// RoleAssignmentInUse reports whether an active coordination or teaching is bound to the assignment.
		RoleAssignmentInUse(ctx context.Context, id int64) (bool, error)
	}
)

// Resolve finds the single principal identified by username.
//
// The username is looked up in every namespace: as an email among staff and students
// and as a registration number among students. A non-empty kind narrows the search to that namespace.
// Exactly one principal must match; ErrNotFound or ErrAmbiguous is returned otherwise.
func Resolve(ctx context.Context, dir Directory, username string, kind Kind) (Principal, error) {
	username = core.CleanString(username)
	if username == "" {
		return Principal{}, ErrNotFound
	}

	byEmail, err := dir.FindByEmail(ctx, core.CleanString(username, true /* lower */))
	if err != nil {
		return Principal{}, errors.Wrap(err, "finding principal by email")
	}
	var byRegistration []Principal
	if kind != KindStaff {
		if byRegistration, err = dir.FindByRegistration(ctx, username); err != nil {
			return Principal{}, errors.Wrap(err, "finding principal by registration")
		}
	}

	seen := make(map[Ref]struct{}, 2)
	var match Principal
	for _, p := range append(byEmail, byRegistration...) {
		if kind != "" && p.Kind != kind {
			continue
		}
		if _, ok := seen[p.Ref]; ok {
			continue
		}
		seen[p.Ref] = struct{}{}
		match = p
	}

	switch len(seen) {
	case 0:
		return Principal{}, ErrNotFound
	case 1:
		return match, nil
	default:
		return Principal{}, ErrAmbiguous
	}
}
