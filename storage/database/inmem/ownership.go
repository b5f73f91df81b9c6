package inmemdb

import (
	"context"

	"github.com/trezcool/fatracker/core/academic"
	"github.com/trezcool/fatracker/core/access"
	"github.com/trezcool/fatracker/core/principal"
)

// Graph (reads)

func (db *DB) SectionCourse(_ context.Context, sectionID int64) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	s, ok := db.sections[sectionID]
	if !ok {
		return 0, access.ErrNotFound
	}
	return s.CourseID, nil
}

// assignment must be called with the lock held.
func (db *DB) assignment(id int64) principal.RoleAssignment {
	if r, ok := db.roles[id]; ok {
		return r.RoleAssignment
	}
	return principal.RoleAssignment{ID: id}
}

func (db *DB) ActiveCoordination(_ context.Context, courseID int64) (access.Coordination, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, c := range db.coordinations {
		if c.courseID == courseID && c.revokedAt == nil {
			return db.coordination(c), nil
		}
	}
	return access.Coordination{}, access.ErrNotFound
}

func (db *DB) coordination(c *coordinationRow) access.Coordination {
	return access.Coordination{
		ID:         c.id,
		CourseID:   c.courseID,
		Assignment: db.assignment(c.assignmentID),
		CreatedAt:  c.createdAt,
		RevokedAt:  c.revokedAt,
	}
}

func (db *DB) ActiveTeaching(_ context.Context, sectionID int64) (access.Teaching, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, t := range db.teachings {
		if t.sectionID == sectionID && t.revokedAt == nil {
			return db.teaching(t), nil
		}
	}
	return access.Teaching{}, access.ErrNotFound
}

func (db *DB) teaching(t *teachingRow) access.Teaching {
	return access.Teaching{
		ID:         t.id,
		SectionID:  t.sectionID,
		Assignment: db.assignment(t.assignmentID),
		CreatedAt:  t.createdAt,
		RevokedAt:  t.revokedAt,
	}
}

func (db *DB) IsEnrolled(_ context.Context, studentID, sectionID int64) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, e := range db.enrollments {
		if e.StudentID == studentID && e.SectionID == sectionID {
			return true, nil
		}
	}
	return false, nil
}

func (db *DB) CoordinatedCourses(_ context.Context, staffID int64) ([]int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var ids []int64
	for _, id := range sortedKeys(db.coordinations) {
		c := db.coordinations[id]
		if c.revokedAt == nil && db.assignment(c.assignmentID).StaffID == staffID {
			ids = append(ids, c.courseID)
		}
	}
	return ids, nil
}

func (db *DB) TaughtSections(_ context.Context, staffID int64) ([]int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var ids []int64
	for _, id := range sortedKeys(db.teachings) {
		t := db.teachings[id]
		if t.revokedAt == nil && db.assignment(t.assignmentID).StaffID == staffID {
			ids = append(ids, t.sectionID)
		}
	}
	return ids, nil
}

func (db *DB) EnrolledSections(_ context.Context, studentID int64) ([]int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var ids []int64
	for _, id := range sortedKeys(db.enrollments) {
		if e := db.enrollments[id]; e.StudentID == studentID {
			ids = append(ids, e.SectionID)
		}
	}
	return ids, nil
}

// Ownership (writes)

func (db *DB) ReplaceCoordination(_ context.Context, courseID, assignmentID int64) (access.Coordination, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.courses[courseID]; !ok {
		return access.Coordination{}, academic.ErrNotFound
	}
	if _, ok := db.roles[assignmentID]; !ok {
		return access.Coordination{}, principal.ErrNotFound
	}

	t := now()
	for _, c := range db.coordinations {
		if c.courseID == courseID && c.revokedAt == nil {
			c.revokedAt = &t
		}
	}
	c := &coordinationRow{id: db.nextID(coordinationsTable), courseID: courseID, assignmentID: assignmentID, createdAt: t}
	db.coordinations[c.id] = c
	return db.coordination(c), nil
}

func (db *DB) RevokeCoordination(_ context.Context, courseID int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	t := now()
	for _, c := range db.coordinations {
		if c.courseID == courseID && c.revokedAt == nil {
			c.revokedAt = &t
			return nil
		}
	}
	return academic.ErrNotFound
}

func (db *DB) ReplaceTeaching(_ context.Context, sectionID, assignmentID int64) (access.Teaching, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.sections[sectionID]; !ok {
		return access.Teaching{}, academic.ErrNotFound
	}
	if _, ok := db.roles[assignmentID]; !ok {
		return access.Teaching{}, principal.ErrNotFound
	}

	t := now()
	for _, row := range db.teachings {
		if row.sectionID == sectionID && row.revokedAt == nil {
			row.revokedAt = &t
		}
	}
	row := &teachingRow{id: db.nextID(teachingsTable), sectionID: sectionID, assignmentID: assignmentID, createdAt: t}
	db.teachings[row.id] = row
	return db.teaching(row), nil
}

func (db *DB) RevokeTeaching(_ context.Context, sectionID int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	t := now()
	for _, row := range db.teachings {
		if row.sectionID == sectionID && row.revokedAt == nil {
			row.revokedAt = &t
			return nil
		}
	}
	return academic.ErrNotFound
}

func (db *DB) Enroll(_ context.Context, studentID, sectionID int64) (access.Enrollment, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.sections[sectionID]; !ok {
		return access.Enrollment{}, academic.ErrNotFound
	}
	if _, ok := db.students[studentID]; !ok {
		return access.Enrollment{}, principal.ErrNotFound
	}
	for _, e := range db.enrollments {
		if e.StudentID == studentID && e.SectionID == sectionID {
			return access.Enrollment{}, academic.ErrAlreadyEnrolled
		}
	}
	e := access.Enrollment{ID: db.nextID(enrollmentsTable), StudentID: studentID, SectionID: sectionID, CreatedAt: now()}
	db.enrollments[e.ID] = e
	return e, nil
}

func (db *DB) Unenroll(_ context.Context, studentID, sectionID int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for id, e := range db.enrollments {
		if e.StudentID == studentID && e.SectionID == sectionID {
			delete(db.enrollments, id)
			return nil
		}
	}
	return academic.ErrNotFound
}
