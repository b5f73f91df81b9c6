package inmemdb

import (
	"context"
	"strings"

	"github.com/trezcool/fatracker/core/principal"
)

func (db *DB) table(kind principal.Kind) map[int64]principal.Principal {
	if kind == principal.KindStudent {
		return db.students
	}
	return db.staff
}

func tableName(kind principal.Kind) string {
	if kind == principal.KindStudent {
		return studentsTable
	}
	return staffTable
}

// activeAssignments must be called with the lock held.
func (db *DB) activeAssignments(staffID int64) []principal.RoleAssignment {
	var as []principal.RoleAssignment
	for _, id := range sortedKeys(db.roles) {
		r := db.roles[id]
		if r.StaffID == staffID && r.revokedAt == nil {
			as = append(as, r.RoleAssignment)
		}
	}
	return as
}

// hydrate must be called with the lock held.
func (db *DB) hydrate(p principal.Principal) principal.Principal {
	if p.Kind == principal.KindStaff {
		p.Assignments = db.activeAssignments(p.ID)
	}
	p.Roles = principal.DeriveRoles(p.Kind, p.Assignments)
	p.PasswordHash = append([]byte(nil), p.PasswordHash...)
	return p
}

func (db *DB) GetPrincipal(_ context.Context, ref principal.Ref) (principal.Principal, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if !ref.Kind.Valid() {
		return principal.Principal{}, principal.ErrNotFound
	}
	p, ok := db.table(ref.Kind)[ref.ID]
	if !ok {
		return principal.Principal{}, principal.ErrNotFound
	}
	return db.hydrate(p), nil
}

func (db *DB) FindByEmail(_ context.Context, email string) ([]principal.Principal, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var found []principal.Principal
	for _, kind := range []principal.Kind{principal.KindStaff, principal.KindStudent} {
		tbl := db.table(kind)
		for _, id := range sortedKeys(tbl) {
			if strings.EqualFold(tbl[id].Email, email) {
				found = append(found, db.hydrate(tbl[id]))
			}
		}
	}
	return found, nil
}

func (db *DB) FindByRegistration(_ context.Context, registration string) ([]principal.Principal, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var found []principal.Principal
	for _, id := range sortedKeys(db.students) {
		if strings.EqualFold(db.students[id].Registration, registration) {
			found = append(found, db.hydrate(db.students[id]))
		}
	}
	return found, nil
}

func (db *DB) create(kind principal.Kind, p principal.Principal) (principal.Principal, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	tbl := db.table(kind)
	for _, other := range tbl {
		if strings.EqualFold(other.Email, p.Email) {
			return principal.Principal{}, principal.ErrEmailExists
		}
		if kind == principal.KindStudent && strings.EqualFold(other.Registration, p.Registration) {
			return principal.Principal{}, principal.ErrRegistrationExists
		}
	}

	p.ID = db.nextID(tableName(kind))
	p.Kind = kind
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now()
		p.UpdatedAt = p.CreatedAt
	}
	p.Assignments = nil
	tbl[p.ID] = p
	return db.hydrate(p), nil
}

func (db *DB) CreateStaff(_ context.Context, p principal.Principal) (principal.Principal, error) {
	return db.create(principal.KindStaff, p)
}

func (db *DB) CreateStudent(_ context.Context, p principal.Principal) (principal.Principal, error) {
	return db.create(principal.KindStudent, p)
}

func (db *DB) UpdatePassword(_ context.Context, ref principal.Ref, hash []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tbl := db.table(ref.Kind)
	p, ok := tbl[ref.ID]
	if !ok {
		return principal.ErrNotFound
	}
	p.PasswordHash = append([]byte(nil), hash...)
	p.UpdatedAt = now()
	tbl[ref.ID] = p
	return nil
}

func (db *DB) EmailExists(_ context.Context, kind principal.Kind, email string) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, p := range db.table(kind) {
		if strings.EqualFold(p.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (db *DB) RegistrationExists(_ context.Context, registration string) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, p := range db.students {
		if strings.EqualFold(p.Registration, registration) {
			return true, nil
		}
	}
	return false, nil
}

func (db *DB) GetRoleAssignment(_ context.Context, staffID int64, role principal.Role) (principal.RoleAssignment, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, a := range db.activeAssignments(staffID) {
		if a.Role == role {
			return a, nil
		}
	}
	return principal.RoleAssignment{}, principal.ErrNotFound
}

func (db *DB) AddRoleAssignment(_ context.Context, staffID int64, role principal.Role) (principal.RoleAssignment, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.staff[staffID]; !ok {
		return principal.RoleAssignment{}, principal.ErrNotFound
	}
	for _, a := range db.activeAssignments(staffID) {
		if a.Role == role {
			return a, nil
		}
	}
	a := principal.RoleAssignment{ID: db.nextID(rolesTable), StaffID: staffID, Role: role, CreatedAt: now()}
	db.roles[a.ID] = &roleRow{RoleAssignment: a}
	return a, nil
}

func (db *DB) RevokeRoleAssignment(_ context.Context, id int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	r, ok := db.roles[id]
	if !ok || r.revokedAt != nil {
		return principal.ErrNotFound
	}
	t := now()
	r.revokedAt = &t
	return nil
}

func (db *DB) RoleAssignmentInUse(_ context.Context, id int64) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, c := range db.coordinations {
		if c.assignmentID == id && c.revokedAt == nil {
			return true, nil
		}
	}
	for _, t := range db.teachings {
		if t.assignmentID == id && t.revokedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

func (db *DB) ListPrincipals(_ context.Context, kind principal.Kind) ([]principal.Principal, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	tbl := db.table(kind)
	ps := make([]principal.Principal, 0, len(tbl))
	for _, id := range sortedKeys(tbl) {
		ps = append(ps, db.hydrate(tbl[id]))
	}
	return ps, nil
}

func (db *DB) UpdateProfile(_ context.Context, p principal.Principal) (principal.Principal, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	tbl := db.table(p.Kind)
	current, ok := tbl[p.ID]
	if !ok || !p.Kind.Valid() {
		return principal.Principal{}, principal.ErrNotFound
	}
	for id, other := range tbl {
		if id != p.ID && strings.EqualFold(other.Email, p.Email) {
			return principal.Principal{}, principal.ErrEmailExists
		}
	}
	current.Name = p.Name
	current.Email = strings.ToLower(p.Email)
	current.UpdatedAt = now()
	tbl[p.ID] = current
	return db.hydrate(current), nil
}

func (db *DB) DeletePrincipal(_ context.Context, ref principal.Ref) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !ref.Kind.Valid() {
		return principal.ErrNotFound
	}
	if _, ok := db.table(ref.Kind)[ref.ID]; !ok {
		return principal.ErrNotFound
	}

	if ref.Kind == principal.KindStudent {
		for eid, e := range db.enrollments {
			if e.StudentID == ref.ID {
				delete(db.enrollments, eid)
			}
		}
		for _, g := range db.groups {
			g.removeMember(ref.ID)
		}
		delete(db.students, ref.ID)
		return nil
	}

	var assignments []int64
	for id, r := range db.roles {
		if r.StaffID == ref.ID {
			assignments = append(assignments, id)
		}
	}
	for _, c := range db.coordinations {
		if c.revokedAt == nil && containsID(assignments, c.assignmentID) {
			return principal.ErrRoleInUse
		}
	}
	for _, t := range db.teachings {
		if t.revokedAt == nil && containsID(assignments, t.assignmentID) {
			return principal.ErrRoleInUse
		}
	}

	for id, c := range db.coordinations {
		if containsID(assignments, c.assignmentID) {
			delete(db.coordinations, id)
		}
	}
	for id, t := range db.teachings {
		if containsID(assignments, t.assignmentID) {
			delete(db.teachings, id)
		}
	}
	for _, id := range assignments {
		delete(db.roles, id)
	}
	delete(db.staff, ref.ID)
	return nil
}
