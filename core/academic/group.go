package academic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/fatracker/core"
	"github.com/trezcool/fatracker/core/access"
	"github.com/trezcool/fatracker/core/principal"
)

var (
	// errors
	ErrStudentNotFound  = errors.New("student not found")
	ErrLeaderNotMember  = errors.New("leader must be a member of the group")
	ErrAlreadyInGroup   = errors.New("student is already in a group in this section")
	errDuplicateMembers = errors.New("members must be distinct")
)

type (
	// Group is a set of students of one section working together; at most one of them leads it.
	Group struct {
		ID        int64         `json:"id"`
		SectionID int64         `json:"section_id"`
		Name      string        `json:"name"`
		Members   []GroupMember `json:"members"`
		CreatedAt time.Time     `json:"created_at"` // UTC
	}

	GroupMember struct {
		StudentID    int64  `json:"student_id"`
		Registration string `json:"registration"`
		Name         string `json:"name"`
		IsLeader     bool   `json:"is_leader"`
	}
)

// Leader returns the leading member, if any.
func (g Group) Leader() (GroupMember, bool) {
	for _, m := range g.Members {
		if m.IsLeader {
			return m, true
		}
	}
	return GroupMember{}, false
}

// NewGroup contains information needed to create a Group. Members and Leader are registration numbers.
type NewGroup struct {
	SectionID int64    `json:"section_id" validate:"required,gt=0"`
	Name      string   `json:"name" validate:"required,max=100"`
	Members   []string `json:"members" validate:"required,min=1,dive,required,registration"`
	Leader    string   `json:"leader" validate:"omitempty,registration"`
}

func (ng *NewGroup) Validate(validate *validator.Validate) error {
	ng.Name = core.CleanString(ng.Name)
	ng.Leader = strings.ToUpper(core.CleanString(ng.Leader))
	seen := make(map[string]struct{}, len(ng.Members))
	for i, m := range ng.Members {
		m = strings.ToUpper(core.CleanString(m))
		if _, ok := seen[m]; ok {
			return core.NewValidationError(errDuplicateMembers, core.FieldError{Field: "members", Error: errDuplicateMembers.Error()})
		}
		seen[m] = struct{}{}
		ng.Members[i] = m
	}
	if err := validate.Struct(ng); err != nil {
		return err
	}
	if _, ok := seen[ng.Leader]; ng.Leader != "" && !ok {
		return core.NewValidationError(ErrLeaderNotMember, core.FieldError{Field: "leader", Error: ErrLeaderNotMember.Error()})
	}
	return nil
}

// GroupRepository persists groups. A student belongs to at most one group per section.
type GroupRepository interface {
	// CreateGroup returns ErrAlreadyInGroup if a member is already in a group of the section.
	CreateGroup(ctx context.Context, g Group) (Group, error)
	GetGroup(ctx context.Context, id int64) (Group, error)
	// ListGroups returns the groups whose section is in scope.
	ListGroups(ctx context.Context, all bool, courseIDs, sectionIDs []int64) ([]Group, error)
	DeleteGroup(ctx context.Context, id int64) error
	// GroupedStudents returns those of studentIDs that are already in a group of the section.
	GroupedStudents(ctx context.Context, sectionID int64, studentIDs []int64) ([]int64, error)
}

// CreateGroup groups students of a section; only whoever may edit the section can do so.
// Every member must be a registered student that is not yet in a group of the section.
func (svc *Service) CreateGroup(ctx context.Context, actor principal.Principal, ng NewGroup) (Group, error) {
	if err := ng.Validate(svc.validate); err != nil {
		return Group{}, err
	}
	if err := svc.resolver.RequireEdit(ctx, actor, ng.SectionID); err != nil {
		return Group{}, err
	}
	if _, err := svc.repo.GetSection(ctx, ng.SectionID); err != nil {
		return Group{}, err
	}

	members := make([]GroupMember, 0, len(ng.Members))
	ids := make([]int64, 0, len(ng.Members))
	for _, reg := range ng.Members {
		found, err := svc.dir.FindByRegistration(ctx, reg)
		if err != nil {
			return Group{}, errors.Wrap(err, "finding student by registration")
		}
		if len(found) != 1 {
			return Group{}, errors.Wrapf(ErrStudentNotFound, "%s", reg)
		}
		s := found[0]
		members = append(members, GroupMember{StudentID: s.ID, Registration: s.Registration, Name: s.Name, IsLeader: reg == ng.Leader})
		ids = append(ids, s.ID)
	}

	grouped, err := svc.repo.GroupedStudents(ctx, ng.SectionID, ids)
	if err != nil {
		return Group{}, errors.Wrap(err, "checking grouped students")
	}
	if len(grouped) > 0 {
		return Group{}, alreadyGrouped(members, grouped)
	}

	g, err := svc.repo.CreateGroup(ctx, Group{
		SectionID: ng.SectionID,
		Name:      ng.Name,
		Members:   members,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		if errors.Cause(err) == ErrAlreadyInGroup {
			return Group{}, core.NewValidationError(ErrAlreadyInGroup, core.FieldError{Field: "members", Error: ErrAlreadyInGroup.Error()})
		}
		return Group{}, errors.Wrap(err, "creating group")
	}
	svc.logger.Info(fmt.Sprintf("group %d created in section %d", g.ID, g.SectionID))
	return g, nil
}

// alreadyGrouped names the members found in another group of the section.
func alreadyGrouped(members []GroupMember, grouped []int64) error {
	var regs []string
	for _, m := range members {
		for _, id := range grouped {
			if m.StudentID == id {
				regs = append(regs, m.Registration)
			}
		}
	}
	msg := fmt.Sprintf("students %s are already in a group in this section", strings.Join(regs, ", "))
	return core.NewValidationError(ErrAlreadyInGroup, core.FieldError{Field: "members", Error: msg})
}

func (svc *Service) GetGroup(ctx context.Context, actor principal.Principal, id int64) (Group, error) {
	g, err := svc.repo.GetGroup(ctx, id)
	if err != nil {
		return Group{}, err
	}
	if err = svc.resolver.RequireView(ctx, actor, g.SectionID); err != nil {
		return Group{}, err
	}
	return g, nil
}

// ListGroups returns the groups actor can see; a non-zero sectionID narrows them to that section.
func (svc *Service) ListGroups(ctx context.Context, actor principal.Principal, sectionID int64) ([]Group, error) {
	if sectionID != 0 {
		if err := svc.resolver.RequireView(ctx, actor, sectionID); err != nil {
			return nil, err
		}
		return svc.repo.ListGroups(ctx, false, nil, []int64{sectionID})
	}

	scope, err := svc.resolver.Scope(ctx, actor)
	if err != nil {
		return nil, err
	}
	if scope.Empty() {
		return []Group{}, nil
	}
	return svc.repo.ListGroups(ctx, scope.All, scope.CourseIDs, scope.SectionIDs)
}

func (svc *Service) DeleteGroup(ctx context.Context, actor principal.Principal, id int64) error {
	g, err := svc.repo.GetGroup(ctx, id)
	if err != nil {
		return err
	}
	if err = svc.resolver.RequireEdit(ctx, actor, g.SectionID); err != nil {
		return err
	}
	return svc.repo.DeleteGroup(ctx, id)
}

// StudentSections returns the sections the student is enrolled in. Students may only list their own.
func (svc *Service) StudentSections(ctx context.Context, actor principal.Principal, studentID int64) ([]Section, error) {
	if actor.IsStudent() && actor.ID != studentID {
		return nil, access.ErrForbidden
	}
	ids, err := svc.ownership.EnrolledSections(ctx, studentID)
	if err != nil {
		return nil, errors.Wrap(err, "listing enrolled sections")
	}
	if len(ids) == 0 {
		return []Section{}, nil
	}
	return svc.repo.ListSections(ctx, false, nil, ids)
}
