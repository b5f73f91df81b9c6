package inmemdb

import (
	"context"

	"github.com/trezcool/fatracker/core/academic"
)

func (g *groupRow) removeMember(studentID int64) {
	members := g.members[:0]
	for _, m := range g.members {
		if m.studentID != studentID {
			members = append(members, m)
		}
	}
	g.members = members
}

// group must be called with the lock held.
func (db *DB) group(g *groupRow) academic.Group {
	members := make([]academic.GroupMember, 0, len(g.members))
	for _, m := range g.members {
		s := db.students[m.studentID]
		members = append(members, academic.GroupMember{
			StudentID:    m.studentID,
			Registration: s.Registration,
			Name:         s.Name,
			IsLeader:     m.isLeader,
		})
	}
	return academic.Group{ID: g.id, SectionID: g.sectionID, Name: g.name, Members: members, CreatedAt: g.createdAt}
}

// groupedStudents must be called with the lock held.
func (db *DB) groupedStudents(sectionID int64, studentIDs []int64) []int64 {
	var ids []int64
	for _, gid := range sortedKeys(db.groups) {
		g := db.groups[gid]
		if g.sectionID != sectionID {
			continue
		}
		for _, m := range g.members {
			if containsID(studentIDs, m.studentID) {
				ids = append(ids, m.studentID)
			}
		}
	}
	return ids
}

func (db *DB) CreateGroup(_ context.Context, g academic.Group) (academic.Group, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.sections[g.SectionID]; !ok {
		return academic.Group{}, academic.ErrNotFound
	}
	row := &groupRow{sectionID: g.SectionID, name: g.Name, createdAt: g.CreatedAt}
	var ids []int64
	for _, m := range g.Members {
		if _, ok := db.students[m.StudentID]; !ok {
			return academic.Group{}, academic.ErrStudentNotFound
		}
		row.members = append(row.members, groupMemberRow{studentID: m.StudentID, isLeader: m.IsLeader})
		ids = append(ids, m.StudentID)
	}
	if len(db.groupedStudents(g.SectionID, ids)) > 0 {
		return academic.Group{}, academic.ErrAlreadyInGroup
	}
	if row.createdAt.IsZero() {
		row.createdAt = now()
	}

	row.id = db.nextID(groupsTable)
	db.groups[row.id] = row
	return db.group(row), nil
}

func (db *DB) GetGroup(_ context.Context, id int64) (academic.Group, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	g, ok := db.groups[id]
	if !ok {
		return academic.Group{}, academic.ErrNotFound
	}
	return db.group(g), nil
}

func (db *DB) ListGroups(_ context.Context, all bool, courseIDs, sectionIDs []int64) ([]academic.Group, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	groups := make([]academic.Group, 0)
	for _, id := range sortedKeys(db.groups) {
		g := db.groups[id]
		s, ok := db.sections[g.sectionID]
		if !ok {
			continue
		}
		if all || containsID(courseIDs, s.CourseID) || containsID(sectionIDs, s.ID) {
			groups = append(groups, db.group(g))
		}
	}
	return groups, nil
}

func (db *DB) DeleteGroup(_ context.Context, id int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.groups[id]; !ok {
		return academic.ErrNotFound
	}
	delete(db.groups, id)
	return nil
}

func (db *DB) GroupedStudents(_ context.Context, sectionID int64, studentIDs []int64) ([]int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.groupedStudents(sectionID, studentIDs), nil
}
