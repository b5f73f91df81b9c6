package principal

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/fatracker/core"
)

const generatedPasswordLength = 12

type newAccountMailData struct {
	Name     string
	Email    string
	Password string
}

// Service manages principals: creation, passwords and role assignments.
type Service struct {
	repo     Repository
	mailSvc  core.EmailService
	logger   core.Logger
	validate *validator.Validate
}

func NewService(repo Repository, mailSvc core.EmailService, logger core.Logger, validate *validator.Validate) *Service {
	return &Service{
		repo:     repo,
		mailSvc:  mailSvc,
		logger:   logger,
		validate: validate,
	}
}

func (svc *Service) Get(ctx context.Context, ref Ref) (Principal, error) {
	return svc.repo.GetPrincipal(ctx, ref)
}

// Resolve finds the principal identified by username (email or registration), see Resolve.
func (svc *Service) Resolve(ctx context.Context, username string, kind Kind) (Principal, error) {
	return Resolve(ctx, svc.repo, username, kind)
}

// CreateStaff creates a staff member with the given roles.
// When ns.Password is empty a random one is generated and emailed to the new staff member.
func (svc *Service) CreateStaff(ctx context.Context, ns NewStaff) (Principal, error) {
	if err := ns.Validate(ctx, svc.validate, svc.repo); err != nil {
		return Principal{}, err
	}

	pwd := ns.Password
	generated := pwd == ""
	if generated {
		var err error
		if pwd, err = core.RandomPassword(generatedPasswordLength); err != nil {
			return Principal{}, errors.Wrap(err, "generating password")
		}
	}

	p := Principal{
		Ref:   Ref{Kind: KindStaff},
		Name:  ns.Name,
		Email: ns.Email,
	}
	if err := p.SetPassword(pwd); err != nil {
		return Principal{}, errors.Wrap(err, "hashing password")
	}
	p, err := svc.repo.CreateStaff(ctx, p)
	if err != nil {
		return Principal{}, errors.Wrap(err, "creating staff")
	}

	for _, r := range ns.Roles {
		if _, err = svc.EnsureRole(ctx, p.ID, r); err != nil {
			return Principal{}, err
		}
	}
	if len(ns.Roles) > 0 {
		if p, err = svc.repo.GetPrincipal(ctx, p.Ref); err != nil {
			return Principal{}, errors.Wrap(err, "reloading staff")
		}
	}

	if generated {
		svc.sendAccount(p, pwd)
	}
	svc.logger.Info(fmt.Sprintf("staff %s created", p.Ref))
	return p, nil
}

// CreateStudent creates a student; when ns.Password is empty a random one is generated and emailed to them.
func (svc *Service) CreateStudent(ctx context.Context, ns NewStudent) (Principal, error) {
	if err := ns.Validate(ctx, svc.validate, svc.repo); err != nil {
		return Principal{}, err
	}

	pwd := ns.Password
	generated := pwd == ""
	if generated {
		var err error
		if pwd, err = core.RandomPassword(generatedPasswordLength); err != nil {
			return Principal{}, errors.Wrap(err, "generating password")
		}
	}

	p := Principal{
		Ref:          Ref{Kind: KindStudent},
		Name:         ns.Name,
		Email:        ns.Email,
		Registration: ns.Registration,
	}
	if err := p.SetPassword(pwd); err != nil {
		return Principal{}, errors.Wrap(err, "hashing password")
	}
	p, err := svc.repo.CreateStudent(ctx, p)
	if err != nil {
		return Principal{}, errors.Wrap(err, "creating student")
	}

	if generated {
		svc.sendAccount(p, pwd)
	}
	svc.logger.Info(fmt.Sprintf("student %s created", p.Ref))
	return p, nil
}

// FindOrCreateStudent returns the student registered under ns.Registration, creating them first if needed.
// created reports whether the student is new.
func (svc *Service) FindOrCreateStudent(ctx context.Context, ns NewStudent) (p Principal, created bool, err error) {
	p, err = svc.GetStudent(ctx, ns.Registration)
	if err == nil {
		return p, false, nil
	}
	if errors.Cause(err) != ErrNotFound {
		return Principal{}, false, err
	}
	if p, err = svc.CreateStudent(ctx, ns); err != nil {
		return Principal{}, false, err
	}
	return p, true, nil
}

// GetStudent returns the student with the given registration number.
func (svc *Service) GetStudent(ctx context.Context, registration string) (Principal, error) {
	registration = strings.ToUpper(core.CleanString(registration))
	if registration == "" {
		return Principal{}, ErrNotFound
	}
	found, err := svc.repo.FindByRegistration(ctx, registration)
	if err != nil {
		return Principal{}, errors.Wrap(err, "finding student by registration")
	}
	if len(found) != 1 {
		return Principal{}, ErrNotFound
	}
	return found[0], nil
}

func (svc *Service) ListStaff(ctx context.Context, filter StaffFilter) ([]Principal, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	all, err := svc.repo.ListPrincipals(ctx, KindStaff)
	if err != nil {
		return nil, errors.Wrap(err, "listing staff")
	}
	staff := make([]Principal, 0, len(all))
	for _, p := range all {
		if filter.match(p) {
			staff = append(staff, p)
		}
	}
	return staff, nil
}

func (svc *Service) ListStudents(ctx context.Context) ([]Principal, error) {
	students, err := svc.repo.ListPrincipals(ctx, KindStudent)
	return students, errors.Wrap(err, "listing students")
}

// Update changes the name and/or email of the principal. Emails stay unique within the principal's namespace.
func (svc *Service) Update(ctx context.Context, ref Ref, up UpdatePrincipal) (Principal, error) {
	if err := up.Validate(svc.validate); err != nil {
		return Principal{}, err
	}
	p, err := svc.repo.GetPrincipal(ctx, ref)
	if err != nil {
		return Principal{}, err
	}

	if up.Name != "" {
		p.Name = up.Name
	}
	if up.Email != "" && !strings.EqualFold(up.Email, p.Email) {
		exists, err := svc.repo.EmailExists(ctx, ref.Kind, up.Email)
		if err != nil {
			return Principal{}, errors.Wrap(err, "checking email uniqueness")
		}
		if exists {
			return Principal{}, core.NewValidationError(ErrEmailExists, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
		}
		p.Email = up.Email
	}
	p.UpdatedAt = time.Now().UTC()

	if p, err = svc.repo.UpdateProfile(ctx, p); err != nil {
		if errors.Cause(err) == ErrEmailExists {
			return Principal{}, core.NewValidationError(ErrEmailExists, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
		}
		return Principal{}, errors.Wrapf(err, "updating %s", ref)
	}
	return p, nil
}

func (svc *Service) Delete(ctx context.Context, ref Ref) error {
	if err := svc.repo.DeletePrincipal(ctx, ref); err != nil {
		return errors.Wrapf(err, "deleting %s", ref)
	}
	svc.logger.Info(fmt.Sprintf("%s deleted", ref))
	return nil
}

func (svc *Service) sendAccount(p Principal, pwd string) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: p.Name, Address: p.Email}},
		Subject:      "Your account",
		TemplateName: core.TemplateNewAccount,
		TemplateData: newAccountMailData{Name: p.Name, Email: p.Email, Password: pwd},
	})
}

// ResetPassword sets a new password for the principal identified by username.
func (svc *Service) ResetPassword(ctx context.Context, username string, kind Kind, pwd string) error {
	p, err := svc.Resolve(ctx, username, kind)
	if err != nil {
		return err
	}
	if err = ValidatePassword(pwd, p); err != nil {
		return err
	}
	hash, err := HashPassword(pwd)
	if err != nil {
		return errors.Wrap(err, "hashing password")
	}
	return errors.Wrap(svc.repo.UpdatePassword(ctx, p.Ref, hash), "updating password")
}

// EnsureRole returns the staff member's assignment for role, creating it if missing.
func (svc *Service) EnsureRole(ctx context.Context, staffID int64, role Role) (RoleAssignment, error) {
	if !role.Assignable() {
		return RoleAssignment{}, ErrRoleNotAssignable
	}
	if _, err := svc.repo.GetPrincipal(ctx, Ref{ID: staffID, Kind: KindStaff}); err != nil {
		return RoleAssignment{}, err
	}

	a, err := svc.repo.GetRoleAssignment(ctx, staffID, role)
	if err == nil {
		return a, nil
	}
	if errors.Cause(err) != ErrNotFound {
		return RoleAssignment{}, errors.Wrap(err, "getting role assignment")
	}
	a, err = svc.repo.AddRoleAssignment(ctx, staffID, role)
	return a, errors.Wrap(err, "adding role assignment")
}

// RemoveRole revokes the staff member's assignment for role.
// It refuses to do so while an active coordination or teaching is bound to that assignment.
func (svc *Service) RemoveRole(ctx context.Context, staffID int64, role Role) error {
	if !role.Assignable() {
		return ErrRoleNotAssignable
	}
	a, err := svc.repo.GetRoleAssignment(ctx, staffID, role)
	if err != nil {
		return err
	}
	inUse, err := svc.repo.RoleAssignmentInUse(ctx, a.ID)
	if err != nil {
		return errors.Wrap(err, "checking role assignment usage")
	}
	if inUse {
		return ErrRoleInUse
	}
	return errors.Wrap(svc.repo.RevokeRoleAssignment(ctx, a.ID), "revoking role assignment")
}
