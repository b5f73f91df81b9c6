package academic

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/fatracker/core"
	"github.com/trezcool/fatracker/core/access"
	"github.com/trezcool/fatracker/core/principal"
)

var (
	// errors
	ErrNotFound        = errors.New("not found")
	ErrCourseExists    = errors.New("a course with this code already exists")
	ErrSectionExists   = errors.New("this section already exists")
	ErrAlreadyEnrolled = errors.New("student is already enrolled in this section")
	ErrNotStaff        = errors.New("only staff can own courses and sections")
	ErrNotStudent      = errors.New("only students can be enrolled")
)

// RoleGranter hands out role assignments; it creates the assignment if the staff member lacks it.
type RoleGranter interface {
	EnsureRole(ctx context.Context, staffID int64, role principal.Role) (principal.RoleAssignment, error)
}

// Service exposes courses, sections and assignments to principals. Every operation on an existing entity
// goes through the permission resolver first.
type Service struct {
	repo      Repository
	ownership OwnershipRepository
	resolver  *access.Resolver
	roles     RoleGranter
	dir       principal.Directory
	validate  *validator.Validate
	logger    core.Logger
}

func NewService(
	repo Repository,
	ownership OwnershipRepository,
	resolver *access.Resolver,
	roles RoleGranter,
	dir principal.Directory,
	validate *validator.Validate,
	logger core.Logger,
) *Service {
	return &Service{
		repo:      repo,
		ownership: ownership,
		resolver:  resolver,
		roles:     roles,
		dir:       dir,
		validate:  validate,
		logger:    logger,
	}
}

func requireAdmin(actor principal.Principal) error {
	if !actor.HasRole(principal.RoleAdmin) {
		return access.ErrForbidden
	}
	return nil
}

// Courses

func (svc *Service) CreateCourse(ctx context.Context, actor principal.Principal, nc NewCourse) (Course, error) {
	if err := requireAdmin(actor); err != nil {
		return Course{}, err
	}
	if err := nc.Validate(svc.validate); err != nil {
		return Course{}, err
	}
	now := time.Now().UTC()
	c, err := svc.repo.CreateCourse(ctx, Course{
		Code:      nc.Code,
		Name:      nc.Name,
		IsAnnual:  nc.IsAnnual,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		if errors.Cause(err) == ErrCourseExists {
			return Course{}, core.NewValidationError(err, core.FieldError{Field: "code", Error: err.Error()})
		}
		return Course{}, errors.Wrap(err, "creating course")
	}
	return c, nil
}

func (svc *Service) GetCourse(ctx context.Context, actor principal.Principal, id int64) (Course, error) {
	if err := svc.resolver.RequireCourseView(ctx, actor, id); err != nil {
		return Course{}, err
	}
	return svc.repo.GetCourse(ctx, id)
}

func (svc *Service) ListCourses(ctx context.Context, actor principal.Principal) ([]Course, error) {
	scope, err := svc.resolver.Scope(ctx, actor)
	if err != nil {
		return nil, err
	}
	if scope.Empty() {
		return []Course{}, nil
	}
	return svc.repo.ListCourses(ctx, scope.All, scope.CourseIDs, scope.SectionIDs)
}

// UpdateCourse is reserved to ADMIN; a coordinator manages the course's sections, not the course itself.
func (svc *Service) UpdateCourse(ctx context.Context, actor principal.Principal, id int64, uc UpdateCourse) (Course, error) {
	if err := requireAdmin(actor); err != nil {
		return Course{}, err
	}
	if err := uc.Validate(svc.validate); err != nil {
		return Course{}, err
	}
	c, err := svc.repo.GetCourse(ctx, id)
	if err != nil {
		return Course{}, err
	}
	if uc.Code != "" {
		c.Code = uc.Code
	}
	if uc.Name != "" {
		c.Name = uc.Name
	}
	if uc.IsAnnual != nil {
		c.IsAnnual = *uc.IsAnnual
	}
	c.UpdatedAt = time.Now().UTC()

	c, err = svc.repo.UpdateCourse(ctx, c)
	if err != nil {
		if errors.Cause(err) == ErrCourseExists {
			return Course{}, core.NewValidationError(err, core.FieldError{Field: "code", Error: err.Error()})
		}
		return Course{}, errors.Wrap(err, "updating course")
	}
	return c, nil
}

func (svc *Service) DeleteCourse(ctx context.Context, actor principal.Principal, id int64) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	return svc.repo.DeleteCourse(ctx, id)
}

// SetCoordinator makes staffID the coordinator of the course, granting them the COORDINATOR role if needed.
// The previous coordination, if any, is revoked in the same transaction.
func (svc *Service) SetCoordinator(ctx context.Context, actor principal.Principal, courseID, staffID int64) (access.Coordination, error) {
	if err := requireAdmin(actor); err != nil {
		return access.Coordination{}, err
	}
	if _, err := svc.repo.GetCourse(ctx, courseID); err != nil {
		return access.Coordination{}, err
	}
	a, err := svc.grant(ctx, staffID, principal.RoleCoordinator)
	if err != nil {
		return access.Coordination{}, err
	}
	c, err := svc.ownership.ReplaceCoordination(ctx, courseID, a.ID)
	if err != nil {
		return access.Coordination{}, errors.Wrap(err, "replacing coordination")
	}
	svc.logger.Info(fmt.Sprintf("course %d now coordinated by staff %d", courseID, staffID))
	return c, nil
}

func (svc *Service) RemoveCoordinator(ctx context.Context, actor principal.Principal, courseID int64) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	return svc.ownership.RevokeCoordination(ctx, courseID)
}

// Sections

func (svc *Service) CreateSection(ctx context.Context, actor principal.Principal, ns NewSection) (Section, error) {
	if err := ns.Validate(svc.validate); err != nil {
		return Section{}, err
	}
	if err := svc.resolver.RequireCourseEdit(ctx, actor, ns.CourseID); err != nil {
		return Section{}, err
	}
	c, err := svc.repo.GetCourse(ctx, ns.CourseID)
	if err != nil {
		return Section{}, err
	}

	now := time.Now().UTC()
	s, err := svc.repo.CreateSection(ctx, Section{
		CourseID:     c.ID,
		Code:         SectionCode(c.Code, ns.Semester, ns.Period, ns.YearSemester, ns.Year),
		Period:       ns.Period,
		Year:         ns.Year,
		YearSemester: ns.YearSemester,
		Semester:     ns.Semester,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Cause(err) == ErrSectionExists {
			return Section{}, err
		}
		return Section{}, errors.Wrap(err, "creating section")
	}
	return s, nil
}

func (svc *Service) GetSection(ctx context.Context, actor principal.Principal, id int64) (Section, error) {
	if err := svc.resolver.RequireView(ctx, actor, id); err != nil {
		return Section{}, err
	}
	return svc.repo.GetSection(ctx, id)
}

func (svc *Service) ListSections(ctx context.Context, actor principal.Principal) ([]Section, error) {
	scope, err := svc.resolver.Scope(ctx, actor)
	if err != nil {
		return nil, err
	}
	if scope.Empty() {
		return []Section{}, nil
	}
	return svc.repo.ListSections(ctx, scope.All, scope.CourseIDs, scope.SectionIDs)
}

func (svc *Service) UpdateSection(ctx context.Context, actor principal.Principal, id int64, us UpdateSection) (Section, error) {
	if err := svc.resolver.RequireEdit(ctx, actor, id); err != nil {
		return Section{}, err
	}
	if err := us.Validate(svc.validate); err != nil {
		return Section{}, err
	}
	s, err := svc.repo.GetSection(ctx, id)
	if err != nil {
		return Section{}, err
	}
	s.IsActive = *us.IsActive
	s.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateSection(ctx, s)
}

func (svc *Service) DeleteSection(ctx context.Context, actor principal.Principal, id int64) error {
	if err := svc.resolver.RequireEdit(ctx, actor, id); err != nil {
		return err
	}
	return svc.repo.DeleteSection(ctx, id)
}

// Permissions returns what actor may do on the section.
func (svc *Service) Permissions(ctx context.Context, actor principal.Principal, sectionID int64) (access.Permissions, error) {
	return svc.resolver.Resolve(ctx, actor, sectionID)
}

// SetProfessor makes staffID the professor of the section, granting them the PROFESSOR role if needed.
// Only whoever may edit the section's course (ADMIN or its coordinator) can do so.
func (svc *Service) SetProfessor(ctx context.Context, actor principal.Principal, sectionID, staffID int64) (access.Teaching, error) {
	s, err := svc.sectionForCourseEdit(ctx, actor, sectionID)
	if err != nil {
		return access.Teaching{}, err
	}
	a, err := svc.grant(ctx, staffID, principal.RoleProfessor)
	if err != nil {
		return access.Teaching{}, err
	}
	t, err := svc.ownership.ReplaceTeaching(ctx, s.ID, a.ID)
	if err != nil {
		return access.Teaching{}, errors.Wrap(err, "replacing teaching")
	}
	svc.logger.Info(fmt.Sprintf("section %d now taught by staff %d", sectionID, staffID))
	return t, nil
}

func (svc *Service) RemoveProfessor(ctx context.Context, actor principal.Principal, sectionID int64) error {
	s, err := svc.sectionForCourseEdit(ctx, actor, sectionID)
	if err != nil {
		return err
	}
	return svc.ownership.RevokeTeaching(ctx, s.ID)
}

func (svc *Service) Enroll(ctx context.Context, actor principal.Principal, sectionID, studentID int64) (access.Enrollment, error) {
	if err := svc.resolver.RequireEdit(ctx, actor, sectionID); err != nil {
		return access.Enrollment{}, err
	}
	if _, err := svc.repo.GetSection(ctx, sectionID); err != nil {
		return access.Enrollment{}, err
	}
	if _, err := svc.dir.GetPrincipal(ctx, principal.Ref{ID: studentID, Kind: principal.KindStudent}); err != nil {
		if errors.Cause(err) == principal.ErrNotFound {
			return access.Enrollment{}, ErrNotStudent
		}
		return access.Enrollment{}, errors.Wrap(err, "getting student")
	}
	return svc.ownership.Enroll(ctx, studentID, sectionID)
}

func (svc *Service) Unenroll(ctx context.Context, actor principal.Principal, sectionID, studentID int64) error {
	if err := svc.resolver.RequireEdit(ctx, actor, sectionID); err != nil {
		return err
	}
	return svc.ownership.Unenroll(ctx, studentID, sectionID)
}

// Assignments

func (svc *Service) CreateAssignment(ctx context.Context, actor principal.Principal, na NewAssignment) (Assignment, error) {
	if err := na.Validate(svc.validate); err != nil {
		return Assignment{}, err
	}
	if err := svc.resolver.RequireEdit(ctx, actor, na.SectionID); err != nil {
		return Assignment{}, err
	}
	if _, err := svc.repo.GetSection(ctx, na.SectionID); err != nil {
		return Assignment{}, err
	}
	now := time.Now().UTC()
	return svc.repo.CreateAssignment(ctx, Assignment{
		SectionID: na.SectionID,
		Title:     na.Title,
		Content:   na.Content,
		DueDate:   na.DueDate,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (svc *Service) GetAssignment(ctx context.Context, actor principal.Principal, id int64) (Assignment, error) {
	a, err := svc.repo.GetAssignment(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if err = svc.resolver.RequireView(ctx, actor, a.SectionID); err != nil {
		return Assignment{}, err
	}
	return a, nil
}

func (svc *Service) ListAssignments(ctx context.Context, actor principal.Principal) ([]Assignment, error) {
	scope, err := svc.resolver.Scope(ctx, actor)
	if err != nil {
		return nil, err
	}
	if scope.Empty() {
		return []Assignment{}, nil
	}
	return svc.repo.ListAssignments(ctx, scope.All, scope.CourseIDs, scope.SectionIDs)
}

func (svc *Service) UpdateAssignment(ctx context.Context, actor principal.Principal, id int64, ua UpdateAssignment) (Assignment, error) {
	a, err := svc.repo.GetAssignment(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if err = svc.resolver.RequireEdit(ctx, actor, a.SectionID); err != nil {
		return Assignment{}, err
	}
	if err = ua.Validate(svc.validate); err != nil {
		return Assignment{}, err
	}
	if ua.Title != "" {
		a.Title = ua.Title
	}
	if ua.Content != nil {
		a.Content = *ua.Content
	}
	if ua.DueDate != nil {
		a.DueDate = ua.DueDate
	}
	a.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateAssignment(ctx, a)
}

func (svc *Service) DeleteAssignment(ctx context.Context, actor principal.Principal, id int64) error {
	a, err := svc.repo.GetAssignment(ctx, id)
	if err != nil {
		return err
	}
	if err = svc.resolver.RequireEdit(ctx, actor, a.SectionID); err != nil {
		return err
	}
	return svc.repo.DeleteAssignment(ctx, id)
}

func (svc *Service) sectionForCourseEdit(ctx context.Context, actor principal.Principal, sectionID int64) (Section, error) {
	s, err := svc.repo.GetSection(ctx, sectionID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound && !actor.HasRole(principal.RoleAdmin) {
			return Section{}, access.ErrForbidden
		}
		return Section{}, err
	}
	if err = svc.resolver.RequireCourseEdit(ctx, actor, s.CourseID); err != nil {
		return Section{}, err
	}
	return s, nil
}

func (svc *Service) grant(ctx context.Context, staffID int64, role principal.Role) (principal.RoleAssignment, error) {
	a, err := svc.roles.EnsureRole(ctx, staffID, role)
	if err != nil {
		if errors.Cause(err) == principal.ErrNotFound {
			return principal.RoleAssignment{}, ErrNotStaff
		}
		return principal.RoleAssignment{}, errors.Wrapf(err, "granting %s", role)
	}
	return a, nil
}
