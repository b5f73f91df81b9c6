// Package inmemdb keeps every repository in process memory. It backs the tests and the `memory` database engine.
package inmemdb

import (
	"sort"
	"sync"
	"time"

	"github.com/trezcool/fatracker/core/academic"
	"github.com/trezcool/fatracker/core/access"
	"github.com/trezcool/fatracker/core/principal"
)

type (
	roleRow struct {
		principal.RoleAssignment
		revokedAt *time.Time
	}

	coordinationRow struct {
		id, courseID, assignmentID int64
		createdAt                  time.Time
		revokedAt                  *time.Time
	}

	groupMemberRow struct {
		studentID int64
		isLeader  bool
	}

	groupRow struct {
		id, sectionID int64
		name          string
		members       []groupMemberRow
		createdAt     time.Time
	}

	teachingRow struct {
		id, sectionID, assignmentID int64
		createdAt                   time.Time
		revokedAt                   *time.Time
	}

	// DB holds all tables behind a single lock, so multi-table changes are atomic.
	DB struct {
		mu sync.RWMutex
		pk map[string]int64 // last id per table

		staff         map[int64]principal.Principal
		students      map[int64]principal.Principal
		roles         map[int64]*roleRow
		courses       map[int64]academic.Course
		sections      map[int64]academic.Section
		assignments   map[int64]academic.Assignment
		coordinations map[int64]*coordinationRow
		teachings     map[int64]*teachingRow
		enrollments   map[int64]access.Enrollment
		groups        map[int64]*groupRow
	}
)

var (
	_ principal.Repository         = (*DB)(nil)
	_ academic.Repository          = (*DB)(nil)
	_ academic.OwnershipRepository = (*DB)(nil)
)

func NewDB() *DB {
	return &DB{
		pk:            make(map[string]int64),
		staff:         make(map[int64]principal.Principal),
		students:      make(map[int64]principal.Principal),
		roles:         make(map[int64]*roleRow),
		courses:       make(map[int64]academic.Course),
		sections:      make(map[int64]academic.Section),
		assignments:   make(map[int64]academic.Assignment),
		coordinations: make(map[int64]*coordinationRow),
		teachings:     make(map[int64]*teachingRow),
		enrollments:   make(map[int64]access.Enrollment),
		groups:        make(map[int64]*groupRow),
	}
}

// tables, each numbered from 1 like a postgres BIGSERIAL
const (
	staffTable         = "staff"
	studentsTable      = "students"
	rolesTable         = "staff_roles"
	coursesTable       = "courses"
	sectionsTable      = "sections"
	assignmentsTable   = "assignments"
	coordinationsTable = "coordinations"
	teachingsTable     = "teachings"
	enrollmentsTable   = "enrollments"
	groupsTable        = "groups"
)

// nextID must be called with the write lock held.
func (db *DB) nextID(table string) int64 {
	db.pk[table]++
	return db.pk[table]
}

func now() time.Time {
	return time.Now().UTC()
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func containsID(ids []int64, id int64) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}
	return false
}
