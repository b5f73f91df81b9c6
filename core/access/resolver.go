package access

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/fatracker/core/principal"
)

var (
	// errors
	ErrForbidden = errors.New("permission denied")
	// ErrNotFound is returned by Graph lookups; the resolver treats it as "no relation".
	ErrNotFound = errors.New("ownership relation not found")
)

type (
	// Permissions a principal holds on an entity.
	Permissions struct {
		View bool `json:"view"`
		Edit bool `json:"edit"`
	}

	// Coordination binds a course to the COORDINATOR role assignment that owns it.
	Coordination struct {
		ID         int64                    `json:"id"`
		CourseID   int64                    `json:"course_id"`
		Assignment principal.RoleAssignment `json:"assignment"`
		CreatedAt  time.Time                `json:"created_at"`
		RevokedAt  *time.Time               `json:"revoked_at,omitempty"`
	}

	// Teaching binds a section to the PROFESSOR role assignment that teaches it.
	Teaching struct {
		ID         int64                    `json:"id"`
		SectionID  int64                    `json:"section_id"`
		Assignment principal.RoleAssignment `json:"assignment"`
		CreatedAt  time.Time                `json:"created_at"`
		RevokedAt  *time.Time               `json:"revoked_at,omitempty"`
	}

	Enrollment struct {
		ID        int64     `json:"id"`
		StudentID int64     `json:"student_id"`
		SectionID int64     `json:"section_id"`
		CreatedAt time.Time `json:"created_at"`
	}

	// Graph reads the ownership graph. Only active (non revoked) relations are returned.
	Graph interface {
		SectionCourse(ctx context.Context, sectionID int64) (int64, error)
		ActiveCoordination(ctx context.Context, courseID int64) (Coordination, error)
		ActiveTeaching(ctx context.Context, sectionID int64) (Teaching, error)
		IsEnrolled(ctx context.Context, studentID, sectionID int64) (bool, error)

		CoordinatedCourses(ctx context.Context, staffID int64) ([]int64, error)
		TaughtSections(ctx context.Context, staffID int64) ([]int64, error)
		EnrolledSections(ctx context.Context, studentID int64) ([]int64, error)
	}

	// Scope is the set of entities a principal may list. Entities under any of CourseIDs,
	// or belonging to any of SectionIDs, are visible. All overrides both.
	Scope struct {
		All        bool
		CourseIDs  []int64
		SectionIDs []int64
	}
)

var (
	full     = Permissions{View: true, Edit: true}
	viewOnly = Permissions{View: true}
	none     = Permissions{}
)

func (s Scope) Empty() bool {
	return !s.All && len(s.CourseIDs) == 0 && len(s.SectionIDs) == 0
}

func (s Scope) HasCourse(id int64) bool  { return s.All || contains(s.CourseIDs, id) }
func (s Scope) HasSection(id int64) bool { return s.All || contains(s.SectionIDs, id) }

// Resolver decides what a principal may do on sections and courses by walking the ownership graph.
type Resolver struct {
	graph Graph
}

func NewResolver(graph Graph) *Resolver {
	return &Resolver{graph: graph}
}

// Resolve returns p's permissions on a section. The first matching rule wins:
//  1. ADMIN: view & edit
//  2. PROFESSOR teaching the section: view & edit
//  3. COORDINATOR of the section's course: view & edit
//  4. STUDENT enrolled in the section: view
//  5. anyone else: nothing
//
// A section or course that does not exist resolves to nothing.
func (r *Resolver) Resolve(ctx context.Context, p principal.Principal, sectionID int64) (Permissions, error) {
	if p.HasRole(principal.RoleAdmin) {
		return full, nil
	}

	if p.HasRole(principal.RoleProfessor) {
		t, err := r.graph.ActiveTeaching(ctx, sectionID)
		if err = ignoreNotFound(err); err != nil {
			return none, errors.Wrap(err, "getting section teaching")
		}
		if t.ID != 0 && p.OwnsAssignment(t.Assignment) {
			return full, nil
		}
	}

	if p.HasRole(principal.RoleCoordinator) {
		courseID, err := r.graph.SectionCourse(ctx, sectionID)
		if err = ignoreNotFound(err); err != nil {
			return none, errors.Wrap(err, "getting section course")
		}
		if courseID != 0 {
			owns, err := r.coordinates(ctx, p, courseID)
			if err != nil {
				return none, err
			}
			if owns {
				return full, nil
			}
		}
	}

	if p.HasRole(principal.RoleStudent) {
		enrolled, err := r.graph.IsEnrolled(ctx, p.ID, sectionID)
		if err = ignoreNotFound(err); err != nil {
			return none, errors.Wrap(err, "checking enrollment")
		}
		if enrolled {
			return viewOnly, nil
		}
	}

	return none, nil
}

// ResolveCourse returns p's permissions on a course: ADMIN and the course's coordinator may edit it,
// anyone who can see one of its sections may view it.
func (r *Resolver) ResolveCourse(ctx context.Context, p principal.Principal, courseID int64) (Permissions, error) {
	if p.HasRole(principal.RoleAdmin) {
		return full, nil
	}
	if p.HasRole(principal.RoleCoordinator) {
		owns, err := r.coordinates(ctx, p, courseID)
		if err != nil {
			return none, err
		}
		if owns {
			return full, nil
		}
	}

	scope, err := r.Scope(ctx, p)
	if err != nil {
		return none, err
	}
	for _, sectionID := range scope.SectionIDs {
		cid, err := r.graph.SectionCourse(ctx, sectionID)
		if err = ignoreNotFound(err); err != nil {
			return none, errors.Wrap(err, "getting section course")
		}
		if cid == courseID {
			return viewOnly, nil
		}
	}
	return none, nil
}

// Scope applies the Resolve rules in aggregate: ADMIN sees everything, a COORDINATOR the courses they own,
// a PROFESSOR the sections they teach and a STUDENT the sections they are enrolled in.
func (r *Resolver) Scope(ctx context.Context, p principal.Principal) (Scope, error) {
	if p.HasRole(principal.RoleAdmin) {
		return Scope{All: true}, nil
	}

	var scope Scope
	if p.HasRole(principal.RoleCoordinator) {
		ids, err := r.graph.CoordinatedCourses(ctx, p.ID)
		if err != nil {
			return Scope{}, errors.Wrap(err, "listing coordinated courses")
		}
		scope.CourseIDs = append(scope.CourseIDs, ids...)
	}
	if p.HasRole(principal.RoleProfessor) {
		ids, err := r.graph.TaughtSections(ctx, p.ID)
		if err != nil {
			return Scope{}, errors.Wrap(err, "listing taught sections")
		}
		scope.SectionIDs = appendUnique(scope.SectionIDs, ids...)
	}
	if p.HasRole(principal.RoleStudent) {
		ids, err := r.graph.EnrolledSections(ctx, p.ID)
		if err != nil {
			return Scope{}, errors.Wrap(err, "listing enrolled sections")
		}
		scope.SectionIDs = appendUnique(scope.SectionIDs, ids...)
	}
	return scope, nil
}

func (r *Resolver) RequireView(ctx context.Context, p principal.Principal, sectionID int64) error {
	perms, err := r.Resolve(ctx, p, sectionID)
	if err != nil {
		return err
	}
	if !perms.View {
		return ErrForbidden
	}
	return nil
}

func (r *Resolver) RequireEdit(ctx context.Context, p principal.Principal, sectionID int64) error {
	perms, err := r.Resolve(ctx, p, sectionID)
	if err != nil {
		return err
	}
	if !perms.Edit {
		return ErrForbidden
	}
	return nil
}

func (r *Resolver) RequireCourseEdit(ctx context.Context, p principal.Principal, courseID int64) error {
	perms, err := r.ResolveCourse(ctx, p, courseID)
	if err != nil {
		return err
	}
	if !perms.Edit {
		return ErrForbidden
	}
	return nil
}

func (r *Resolver) RequireCourseView(ctx context.Context, p principal.Principal, courseID int64) error {
	perms, err := r.ResolveCourse(ctx, p, courseID)
	if err != nil {
		return err
	}
	if !perms.View {
		return ErrForbidden
	}
	return nil
}

func (r *Resolver) coordinates(ctx context.Context, p principal.Principal, courseID int64) (bool, error) {
	c, err := r.graph.ActiveCoordination(ctx, courseID)
	if err = ignoreNotFound(err); err != nil {
		return false, errors.Wrap(err, "getting course coordination")
	}
	return c.ID != 0 && p.OwnsAssignment(c.Assignment), nil
}

func ignoreNotFound(err error) error {
	if errors.Cause(err) == ErrNotFound {
		return nil
	}
	return err
}

func contains(ids []int64, id int64) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}
	return false
}

func appendUnique(ids []int64, more ...int64) []int64 {
	for _, id := range more {
		if !contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}
