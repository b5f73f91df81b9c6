package echoapi

import (
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/fatracker/core"
	"github.com/trezcool/fatracker/core/academic"
	"github.com/trezcool/fatracker/core/access"
	"github.com/trezcool/fatracker/core/principal"
)

type principalApi struct {
	svc      *principal.Service
	academic *academic.Service
	validate *validator.Validate
}

// registerPrincipalAPI mounts the staff and student endpoints; all of them are authenticated.
func registerPrincipalAPI(e *echo.Echo, authed echo.MiddlewareFunc, svc *principal.Service, academicSvc *academic.Service, validate *validator.Validate) {
	api := principalApi{svc: svc, academic: academicSvc, validate: validate}

	admin := roleMiddleware(principal.RoleAdmin)
	managers := roleMiddleware(principal.RoleAdmin, principal.RoleCoordinator, principal.RolePrincipal)
	teachers := roleMiddleware(principal.RoleAdmin, principal.RoleCoordinator, principal.RoleProfessor)

	stg := e.Group("/staff", authed)
	stg.GET("", api.listStaff, managers)
	stg.POST("", api.createStaff, admin)
	stg.GET("/:id", api.retrieveStaff, managers)
	stg.PATCH("/:id", api.updateStaff)
	stg.DELETE("/:id", api.destroyStaff, admin)
	stg.POST("/:id/roles", api.addRole, managers)

	sg := e.Group("/students", authed)
	sg.GET("", api.listStudents, teachers)
	sg.POST("", api.findOrCreateStudent, teachers)
	sg.GET("/:registration", api.retrieveStudent, teachers)
	sg.PATCH("/:registration", api.updateStudent)
	sg.DELETE("/:registration", api.destroyStudent, teachers)
	sg.GET("/:registration/sections", api.studentSections)
	sg.POST("/:registration/sections", api.addStudentToSection, teachers)
	sg.DELETE("/:registration/sections/:sectionId", api.removeStudentFromSection, teachers)
}

// rolesQuery parses a comma separated list of roles, case-insensitively.
func rolesQuery(ctx echo.Context, name string) ([]principal.Role, error) {
	raw := core.CleanString(ctx.QueryParam(name))
	if raw == "" {
		return nil, nil
	}
	var roles []principal.Role
	for _, s := range strings.Split(raw, ",") {
		r, err := principal.ParseRole(strings.ToUpper(strings.TrimSpace(s)))
		if err != nil {
			return nil, core.NewValidationError(err, core.FieldError{Field: name, Error: err.Error()})
		}
		roles = append(roles, r)
	}
	return roles, nil
}

// Staff

func (api *principalApi) listStaff(ctx echo.Context) error {
	var (
		filter principal.StaffFilter
		err    error
	)
	if filter.Roles, err = rolesQuery(ctx, "roles"); err != nil {
		return err
	}
	if filter.ExcludeRoles, err = rolesQuery(ctx, "exclude_roles"); err != nil {
		return err
	}
	staff, err := api.svc.ListStaff(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "listing staff")
	}
	return ctx.JSON(http.StatusOK, staff)
}

func (api *principalApi) createStaff(ctx echo.Context) error {
	var data NewStaffRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStaffRequest")
	}
	p, err := api.svc.CreateStaff(ctx.Request().Context(), principal.NewStaff{
		Name:  data.Name,
		Email: data.Email,
		Roles: data.Roles,
	})
	if err != nil {
		return errors.Wrap(err, "creating staff")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *principalApi) retrieveStaff(ctx echo.Context) error {
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	p, err := api.svc.Get(ctx.Request().Context(), principal.Ref{ID: id, Kind: principal.KindStaff})
	if err != nil {
		return errors.Wrap(err, "getting staff")
	}
	return ctx.JSON(http.StatusOK, p)
}

// updateStaff lets staff members edit their own profile; admins may edit anyone's.
func (api *principalApi) updateStaff(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	ref := principal.Ref{ID: id, Kind: principal.KindStaff}
	if actor.Ref != ref && !actor.HasRole(principal.RoleAdmin) {
		return access.ErrForbidden
	}
	var data principal.UpdatePrincipal
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdatePrincipal")
	}
	p, err := api.svc.Update(ctx.Request().Context(), ref, data)
	if err != nil {
		return errors.Wrap(err, "updating staff")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *principalApi) destroyStaff(ctx echo.Context) error {
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), principal.Ref{ID: id, Kind: principal.KindStaff}); err != nil {
		return errors.Wrap(err, "deleting staff")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// addRole grants a role to a staff member. Only admins may grant ADMIN.
func (api *principalApi) addRole(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	var data RoleRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RoleRequest")
	}
	role, err := data.Validate(api.validate)
	if err != nil {
		return err
	}
	if role == principal.RoleAdmin && !actor.HasRole(principal.RoleAdmin) {
		return access.ErrForbidden
	}

	c := ctx.Request().Context()
	if _, err = api.svc.EnsureRole(c, id, role); err != nil {
		return errors.Wrap(err, "adding role")
	}
	p, err := api.svc.Get(c, principal.Ref{ID: id, Kind: principal.KindStaff})
	if err != nil {
		return errors.Wrap(err, "reloading staff")
	}
	return ctx.JSON(http.StatusOK, p)
}

// Students

func (api *principalApi) listStudents(ctx echo.Context) error {
	students, err := api.svc.ListStudents(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, students)
}

// findOrCreateStudent answers 201 when the student had to be created, 200 when it was already registered.
func (api *principalApi) findOrCreateStudent(ctx echo.Context) error {
	var data principal.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	data.Password = ""
	p, created, err := api.svc.FindOrCreateStudent(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "finding or creating student")
	}
	if created {
		return ctx.JSON(http.StatusCreated, p)
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *principalApi) student(ctx echo.Context) (principal.Principal, error) {
	p, err := api.svc.GetStudent(ctx.Request().Context(), ctx.Param("registration"))
	return p, errors.Wrap(err, "getting student")
}

func (api *principalApi) retrieveStudent(ctx echo.Context) error {
	p, err := api.student(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, p)
}

// updateStudent is open to teaching staff and to the student themselves.
func (api *principalApi) updateStudent(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	if !actor.Roles.HasAny(principal.RoleAdmin, principal.RoleCoordinator, principal.RoleProfessor, principal.RoleStudent) {
		return access.ErrForbidden
	}
	p, err := api.student(ctx)
	if err != nil {
		return err
	}
	if actor.IsStudent() && actor.Ref != p.Ref {
		return access.ErrForbidden
	}
	var data principal.UpdatePrincipal
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdatePrincipal")
	}
	if p, err = api.svc.Update(ctx.Request().Context(), p.Ref, data); err != nil {
		return errors.Wrap(err, "updating student")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *principalApi) destroyStudent(ctx echo.Context) error {
	p, err := api.student(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), p.Ref); err != nil {
		return errors.Wrap(err, "deleting student")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *principalApi) studentSections(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	p, err := api.student(ctx)
	if err != nil {
		return err
	}
	sections, err := api.academic.StudentSections(ctx.Request().Context(), actor, p.ID)
	if err != nil {
		return errors.Wrap(err, "listing student sections")
	}
	return ctx.JSON(http.StatusOK, sections)
}

func (api *principalApi) addStudentToSection(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	p, err := api.student(ctx)
	if err != nil {
		return err
	}
	var data SectionRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SectionRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}
	e, err := api.academic.Enroll(ctx.Request().Context(), actor, data.SectionID, p.ID)
	if err != nil {
		return errors.Wrap(err, "enrolling student")
	}
	return ctx.JSON(http.StatusCreated, e)
}

func (api *principalApi) removeStudentFromSection(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	p, err := api.student(ctx)
	if err != nil {
		return err
	}
	sectionID, err := idParam(ctx, "sectionId")
	if err != nil {
		return err
	}
	if err = api.academic.Unenroll(ctx.Request().Context(), actor, sectionID, p.ID); err != nil {
		return errors.Wrap(err, "unenrolling student")
	}
	return ctx.NoContent(http.StatusNoContent)
}

type (
	NewStaffRequest struct {
		Name  string           `json:"name"`
		Email string           `json:"email"`
		Roles []principal.Role `json:"roles"`
	}

	RoleRequest struct {
		Role string `json:"role" validate:"required"`
	}

	SectionRequest struct {
		SectionID int64 `json:"section_id" validate:"required,gt=0"`
	}
)

func (rr *RoleRequest) Validate(validate *validator.Validate) (principal.Role, error) {
	rr.Role = strings.ToUpper(core.CleanString(rr.Role))
	if err := validate.Struct(rr); err != nil {
		return "", err
	}
	role, err := principal.ParseRole(rr.Role)
	if err != nil {
		return "", core.NewValidationError(err, core.FieldError{Field: "role", Error: err.Error()})
	}
	return role, nil
}
