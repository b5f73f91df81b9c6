package sqlxrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/fatracker/core"
	"github.com/trezcool/fatracker/core/principal"
)

const (
	staffColumns   = "id, name, email, NULL::text AS registration, password_hash, created_at, updated_at"
	studentColumns = "id, name, email, registration, password_hash, created_at, updated_at"
	roleColumns    = "id, staff_id, role, created_at"
)

type principalRow struct {
	ID           int64       `db:"id"`
	Name         string      `db:"name"`
	Email        string      `db:"email"`
	Registration null.String `db:"registration"`
	PasswordHash []byte      `db:"password_hash"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

func (r principalRow) principal(kind principal.Kind) principal.Principal {
	return principal.Principal{
		Ref:          principal.Ref{ID: r.ID, Kind: kind},
		Name:         r.Name,
		Email:        r.Email,
		Registration: r.Registration.String,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

func (r roleRow) assignment() principal.RoleAssignment {
	return principal.RoleAssignment{ID: r.ID, StaffID: r.StaffID, Role: principal.Role(r.Role), CreatedAt: r.CreatedAt.UTC()}
}

type PrincipalRepository struct {
	db core.DB
}

var _ principal.Repository = (*PrincipalRepository)(nil)

func NewPrincipalRepository(db core.DB) *PrincipalRepository {
	return &PrincipalRepository{db: db}
}

func tableAndColumns(kind principal.Kind) (string, string) {
	if kind == principal.KindStudent {
		return "students", studentColumns
	}
	return "staff", staffColumns
}

func (repo *PrincipalRepository) hydrate(ctx context.Context, kind principal.Kind, row principalRow) (principal.Principal, error) {
	p := row.principal(kind)
	if kind == principal.KindStaff {
		var rows []roleRow
		q := "SELECT " + roleColumns + " FROM staff_roles WHERE staff_id = $1 AND revoked_at IS NULL ORDER BY id"
		if err := repo.db.SelectContext(ctx, &rows, q, p.ID); err != nil {
			return principal.Principal{}, errors.Wrap(err, "selecting role assignments")
		}
		for _, r := range rows {
			p.Assignments = append(p.Assignments, r.assignment())
		}
	}
	p.Roles = principal.DeriveRoles(kind, p.Assignments)
	return p, nil
}

func (repo *PrincipalRepository) hydrateAll(ctx context.Context, kind principal.Kind, rows []principalRow) ([]principal.Principal, error) {
	ps := make([]principal.Principal, 0, len(rows))
	for _, row := range rows {
		p, err := repo.hydrate(ctx, kind, row)
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return ps, nil
}

func (repo *PrincipalRepository) GetPrincipal(ctx context.Context, ref principal.Ref) (principal.Principal, error) {
	if !ref.Kind.Valid() {
		return principal.Principal{}, principal.ErrNotFound
	}
	table, cols := tableAndColumns(ref.Kind)

	var row principalRow
	q := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", cols, table)
	if err := repo.db.GetContext(ctx, &row, q, ref.ID); err != nil {
		if isNoRows(err) {
			return principal.Principal{}, principal.ErrNotFound
		}
		return principal.Principal{}, errors.Wrapf(err, "selecting %s", ref)
	}
	return repo.hydrate(ctx, ref.Kind, row)
}

func (repo *PrincipalRepository) FindByEmail(ctx context.Context, email string) ([]principal.Principal, error) {
	var found []principal.Principal
	for _, kind := range []principal.Kind{principal.KindStaff, principal.KindStudent} {
		table, cols := tableAndColumns(kind)

		var rows []principalRow
		q := fmt.Sprintf("SELECT %s FROM %s WHERE lower(email) = lower($1) ORDER BY id", cols, table)
		if err := repo.db.SelectContext(ctx, &rows, q, email); err != nil {
			return nil, errors.Wrapf(err, "selecting %s by email", table)
		}
		ps, err := repo.hydrateAll(ctx, kind, rows)
		if err != nil {
			return nil, err
		}
		found = append(found, ps...)
	}
	return found, nil
}

func (repo *PrincipalRepository) FindByRegistration(ctx context.Context, registration string) ([]principal.Principal, error) {
	var rows []principalRow
	q := "SELECT " + studentColumns + " FROM students WHERE upper(registration) = upper($1) ORDER BY id"
	if err := repo.db.SelectContext(ctx, &rows, q, registration); err != nil {
		return nil, errors.Wrap(err, "selecting students by registration")
	}
	return repo.hydrateAll(ctx, principal.KindStudent, rows)
}

func (repo *PrincipalRepository) create(ctx context.Context, kind principal.Kind, p principal.Principal) (principal.Principal, error) {
	var (
		row principalRow
		err error
	)
	if kind == principal.KindStudent {
		q := "INSERT INTO students (name, email, registration, password_hash) VALUES ($1, $2, $3, $4) RETURNING " + studentColumns
		err = repo.db.GetContext(ctx, &row, q, p.Name, strings.ToLower(p.Email), p.Registration, p.PasswordHash)
	} else {
		q := "INSERT INTO staff (name, email, password_hash) VALUES ($1, $2, $3) RETURNING " + staffColumns
		err = repo.db.GetContext(ctx, &row, q, p.Name, strings.ToLower(p.Email), p.PasswordHash)
	}

	switch {
	case err == nil:
		return repo.hydrate(ctx, kind, row)
	case violates(err, uniqueViolation, "students_registration_key"):
		return principal.Principal{}, principal.ErrRegistrationExists
	case violates(err, uniqueViolation, ""):
		return principal.Principal{}, principal.ErrEmailExists
	default:
		return principal.Principal{}, errors.Wrapf(err, "inserting %s", kind)
	}
}

func (repo *PrincipalRepository) CreateStaff(ctx context.Context, p principal.Principal) (principal.Principal, error) {
	return repo.create(ctx, principal.KindStaff, p)
}

func (repo *PrincipalRepository) CreateStudent(ctx context.Context, p principal.Principal) (principal.Principal, error) {
	return repo.create(ctx, principal.KindStudent, p)
}

func (repo *PrincipalRepository) UpdatePassword(ctx context.Context, ref principal.Ref, hash []byte) error {
	if !ref.Kind.Valid() {
		return principal.ErrNotFound
	}
	table, _ := tableAndColumns(ref.Kind)

	q := fmt.Sprintf("UPDATE %s SET password_hash = $2, updated_at = now() WHERE id = $1", table)
	res, err := repo.db.ExecContext(ctx, q, ref.ID, hash)
	if err != nil {
		return errors.Wrapf(err, "updating %s password", ref)
	}
	return checkAffected(res, principal.ErrNotFound)
}

func (repo *PrincipalRepository) EmailExists(ctx context.Context, kind principal.Kind, email string) (bool, error) {
	table, _ := tableAndColumns(kind)

	var exists bool
	q := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE lower(email) = lower($1))", table)
	if err := repo.db.GetContext(ctx, &exists, q, email); err != nil {
		return false, errors.Wrapf(err, "checking %s email", table)
	}
	return exists, nil
}

func (repo *PrincipalRepository) RegistrationExists(ctx context.Context, registration string) (bool, error) {
	var exists bool
	q := "SELECT EXISTS (SELECT 1 FROM students WHERE upper(registration) = upper($1))"
	if err := repo.db.GetContext(ctx, &exists, q, registration); err != nil {
		return false, errors.Wrap(err, "checking registration")
	}
	return exists, nil
}

func (repo *PrincipalRepository) GetRoleAssignment(ctx context.Context, staffID int64, role principal.Role) (principal.RoleAssignment, error) {
	var row roleRow
	q := "SELECT " + roleColumns + " FROM staff_roles WHERE staff_id = $1 AND role = $2 AND revoked_at IS NULL"
	if err := repo.db.GetContext(ctx, &row, q, staffID, string(role)); err != nil {
		if isNoRows(err) {
			return principal.RoleAssignment{}, principal.ErrNotFound
		}
		return principal.RoleAssignment{}, errors.Wrap(err, "selecting role assignment")
	}
	return row.assignment(), nil
}

// AddRoleAssignment returns the active assignment of role if there is one.
func (repo *PrincipalRepository) AddRoleAssignment(ctx context.Context, staffID int64, role principal.Role) (principal.RoleAssignment, error) {
	var row roleRow
	q := `INSERT INTO staff_roles (staff_id, role) VALUES ($1, $2)
		ON CONFLICT (staff_id, role) WHERE revoked_at IS NULL DO NOTHING
		RETURNING ` + roleColumns
	err := repo.db.GetContext(ctx, &row, q, staffID, string(role))
	switch {
	case err == nil:
		return row.assignment(), nil
	case isNoRows(err):
		return repo.GetRoleAssignment(ctx, staffID, role)
	case violates(err, foreignKeyViolation, ""):
		return principal.RoleAssignment{}, principal.ErrNotFound
	default:
		return principal.RoleAssignment{}, errors.Wrap(err, "inserting role assignment")
	}
}

func (repo *PrincipalRepository) RevokeRoleAssignment(ctx context.Context, id int64) error {
	q := "UPDATE staff_roles SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL"
	res, err := repo.db.ExecContext(ctx, q, id)
	if err != nil {
		return errors.Wrap(err, "revoking role assignment")
	}
	return checkAffected(res, principal.ErrNotFound)
}

func (repo *PrincipalRepository) RoleAssignmentInUse(ctx context.Context, id int64) (bool, error) {
	var inUse bool
	q := `SELECT EXISTS (
		SELECT 1 FROM coordinations WHERE staff_role_id = $1 AND revoked_at IS NULL
		UNION ALL
		SELECT 1 FROM teachings WHERE staff_role_id = $1 AND revoked_at IS NULL
	)`
	if err := repo.db.GetContext(ctx, &inUse, q, id); err != nil {
		return false, errors.Wrap(err, "checking role assignment usage")
	}
	return inUse, nil
}

func (repo *PrincipalRepository) ListPrincipals(ctx context.Context, kind principal.Kind) ([]principal.Principal, error) {
	if !kind.Valid() {
		return []principal.Principal{}, nil
	}
	table, cols := tableAndColumns(kind)

	var rows []principalRow
	if err := repo.db.SelectContext(ctx, &rows, fmt.Sprintf("SELECT %s FROM %s ORDER BY id", cols, table)); err != nil {
		return nil, errors.Wrapf(err, "selecting %s", table)
	}
	return repo.hydrateAll(ctx, kind, rows)
}

func (repo *PrincipalRepository) UpdateProfile(ctx context.Context, p principal.Principal) (principal.Principal, error) {
	if !p.Kind.Valid() {
		return principal.Principal{}, principal.ErrNotFound
	}
	table, cols := tableAndColumns(p.Kind)

	var row principalRow
	q := fmt.Sprintf("UPDATE %s SET name = $2, email = $3, updated_at = now() WHERE id = $1 RETURNING %s", table, cols)
	err := repo.db.GetContext(ctx, &row, q, p.ID, p.Name, strings.ToLower(p.Email))
	switch {
	case err == nil:
		return repo.hydrate(ctx, p.Kind, row)
	case isNoRows(err):
		return principal.Principal{}, principal.ErrNotFound
	case violates(err, uniqueViolation, ""):
		return principal.Principal{}, principal.ErrEmailExists
	default:
		return principal.Principal{}, errors.Wrapf(err, "updating %s", p.Ref)
	}
}

// DeletePrincipal relies on ON DELETE CASCADE for roles, ownership history, enrollments and group memberships.
func (repo *PrincipalRepository) DeletePrincipal(ctx context.Context, ref principal.Ref) error {
	if !ref.Kind.Valid() {
		return principal.ErrNotFound
	}
	if ref.Kind == principal.KindStudent {
		res, err := repo.db.ExecContext(ctx, "DELETE FROM students WHERE id = $1", ref.ID)
		if err != nil {
			return errors.Wrapf(err, "deleting %s", ref)
		}
		return checkAffected(res, principal.ErrNotFound)
	}

	return core.WithTx(ctx, repo.db, func(tx core.DBExecutor) error {
		var inUse bool
		q := `SELECT EXISTS (
			SELECT 1 FROM coordinations c JOIN staff_roles r ON r.id = c.staff_role_id
			WHERE r.staff_id = $1 AND c.revoked_at IS NULL
			UNION ALL
			SELECT 1 FROM teachings t JOIN staff_roles r ON r.id = t.staff_role_id
			WHERE r.staff_id = $1 AND t.revoked_at IS NULL
		)`
		if err := tx.GetContext(ctx, &inUse, q, ref.ID); err != nil {
			return errors.Wrap(err, "checking staff ownerships")
		}
		if inUse {
			return principal.ErrRoleInUse
		}

		res, err := tx.ExecContext(ctx, "DELETE FROM staff WHERE id = $1", ref.ID)
		if err != nil {
			return errors.Wrapf(err, "deleting %s", ref)
		}
		return checkAffected(res, principal.ErrNotFound)
	})
}
