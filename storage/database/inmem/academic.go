package inmemdb

import (
	"context"
	"strings"

	"github.com/trezcool/fatracker/core/academic"
)

// Courses

func (db *DB) CreateCourse(_ context.Context, c academic.Course) (academic.Course, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, other := range db.courses {
		if strings.EqualFold(other.Code, c.Code) {
			return academic.Course{}, academic.ErrCourseExists
		}
	}
	c.ID = db.nextID(coursesTable)
	db.courses[c.ID] = c
	return c, nil
}

func (db *DB) GetCourse(_ context.Context, id int64) (academic.Course, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	c, ok := db.courses[id]
	if !ok {
		return academic.Course{}, academic.ErrNotFound
	}
	return c, nil
}

func (db *DB) ListCourses(_ context.Context, all bool, courseIDs, sectionIDs []int64) ([]academic.Course, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	courses := make([]academic.Course, 0)
	for _, id := range sortedKeys(db.courses) {
		if all || containsID(courseIDs, id) || db.courseHasSection(id, sectionIDs) {
			courses = append(courses, db.courses[id])
		}
	}
	return courses, nil
}

func (db *DB) courseHasSection(courseID int64, sectionIDs []int64) bool {
	for _, sid := range sectionIDs {
		if s, ok := db.sections[sid]; ok && s.CourseID == courseID {
			return true
		}
	}
	return false
}

func (db *DB) UpdateCourse(_ context.Context, c academic.Course) (academic.Course, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.courses[c.ID]; !ok {
		return academic.Course{}, academic.ErrNotFound
	}
	for id, other := range db.courses {
		if id != c.ID && strings.EqualFold(other.Code, c.Code) {
			return academic.Course{}, academic.ErrCourseExists
		}
	}
	db.courses[c.ID] = c
	return c, nil
}

// DeleteCourse cascades to the course's sections and everything hanging off them.
func (db *DB) DeleteCourse(_ context.Context, id int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.courses[id]; !ok {
		return academic.ErrNotFound
	}
	for sid, s := range db.sections {
		if s.CourseID == id {
			db.deleteSection(sid)
		}
	}
	for cid, c := range db.coordinations {
		if c.courseID == id {
			delete(db.coordinations, cid)
		}
	}
	delete(db.courses, id)
	return nil
}

// Sections

func (db *DB) CreateSection(_ context.Context, s academic.Section) (academic.Section, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.courses[s.CourseID]; !ok {
		return academic.Section{}, academic.ErrNotFound
	}
	for _, other := range db.sections {
		if other.Code == s.Code {
			return academic.Section{}, academic.ErrSectionExists
		}
	}
	s.ID = db.nextID(sectionsTable)
	db.sections[s.ID] = s
	return s, nil
}

func (db *DB) GetSection(_ context.Context, id int64) (academic.Section, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	s, ok := db.sections[id]
	if !ok {
		return academic.Section{}, academic.ErrNotFound
	}
	return s, nil
}

func (db *DB) ListSections(_ context.Context, all bool, courseIDs, sectionIDs []int64) ([]academic.Section, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	sections := make([]academic.Section, 0)
	for _, id := range sortedKeys(db.sections) {
		s := db.sections[id]
		if all || containsID(courseIDs, s.CourseID) || containsID(sectionIDs, id) {
			sections = append(sections, s)
		}
	}
	return sections, nil
}

func (db *DB) UpdateSection(_ context.Context, s academic.Section) (academic.Section, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.sections[s.ID]; !ok {
		return academic.Section{}, academic.ErrNotFound
	}
	db.sections[s.ID] = s
	return s, nil
}

func (db *DB) DeleteSection(_ context.Context, id int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.sections[id]; !ok {
		return academic.ErrNotFound
	}
	db.deleteSection(id)
	return nil
}

// deleteSection must be called with the write lock held.
func (db *DB) deleteSection(id int64) {
	for aid, a := range db.assignments {
		if a.SectionID == id {
			delete(db.assignments, aid)
		}
	}
	for tid, t := range db.teachings {
		if t.sectionID == id {
			delete(db.teachings, tid)
		}
	}
	for eid, e := range db.enrollments {
		if e.SectionID == id {
			delete(db.enrollments, eid)
		}
	}
	for gid, g := range db.groups {
		if g.sectionID == id {
			delete(db.groups, gid)
		}
	}
	delete(db.sections, id)
}

// Assignments

func (db *DB) CreateAssignment(_ context.Context, a academic.Assignment) (academic.Assignment, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.sections[a.SectionID]; !ok {
		return academic.Assignment{}, academic.ErrNotFound
	}
	a.ID = db.nextID(assignmentsTable)
	db.assignments[a.ID] = a
	return a, nil
}

func (db *DB) GetAssignment(_ context.Context, id int64) (academic.Assignment, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	a, ok := db.assignments[id]
	if !ok {
		return academic.Assignment{}, academic.ErrNotFound
	}
	return a, nil
}

func (db *DB) ListAssignments(_ context.Context, all bool, courseIDs, sectionIDs []int64) ([]academic.Assignment, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	assignments := make([]academic.Assignment, 0)
	for _, id := range sortedKeys(db.assignments) {
		a := db.assignments[id]
		s, ok := db.sections[a.SectionID]
		if !ok {
			continue
		}
		if all || containsID(courseIDs, s.CourseID) || containsID(sectionIDs, s.ID) {
			assignments = append(assignments, a)
		}
	}
	return assignments, nil
}

func (db *DB) UpdateAssignment(_ context.Context, a academic.Assignment) (academic.Assignment, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.assignments[a.ID]; !ok {
		return academic.Assignment{}, academic.ErrNotFound
	}
	db.assignments[a.ID] = a
	return a, nil
}

func (db *DB) DeleteAssignment(_ context.Context, id int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.assignments[id]; !ok {
		return academic.ErrNotFound
	}
	delete(db.assignments, id)
	return nil
}
