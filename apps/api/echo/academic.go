package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/fatracker/core/academic"
)

var errHttpNotFound = echo.NewHTTPError(http.StatusNotFound, "not found")

type academicApi struct {
	svc      *academic.Service
	validate *validator.Validate
}

// registerAcademicAPI mounts the course, section, assignment and group endpoints; all of them are authenticated.
func registerAcademicAPI(e *echo.Echo, authed echo.MiddlewareFunc, svc *academic.Service, validate *validator.Validate) {
	api := academicApi{svc: svc, validate: validate}

	cg := e.Group("/courses", authed)
	cg.GET("", api.listCourses)
	cg.POST("", api.createCourse)
	cg.GET("/:id", api.retrieveCourse)
	cg.PATCH("/:id", api.updateCourse)
	cg.DELETE("/:id", api.destroyCourse)
	cg.PUT("/:id/coordinator", api.setCoordinator)
	cg.DELETE("/:id/coordinator", api.removeCoordinator)

	sg := e.Group("/sections", authed)
	sg.GET("", api.listSections)
	sg.POST("", api.createSection)
	sg.GET("/:id", api.retrieveSection)
	sg.PATCH("/:id", api.updateSection)
	sg.DELETE("/:id", api.destroySection)
	sg.GET("/:id/permissions", api.sectionPermissions)
	sg.PUT("/:id/professor", api.setProfessor)
	sg.DELETE("/:id/professor", api.removeProfessor)
	sg.POST("/:id/students", api.enroll)
	sg.DELETE("/:id/students/:studentId", api.unenroll)

	ag := e.Group("/assignments", authed)
	ag.GET("", api.listAssignments)
	ag.POST("", api.createAssignment)
	ag.GET("/:id", api.retrieveAssignment)
	ag.PATCH("/:id", api.updateAssignment)
	ag.DELETE("/:id", api.destroyAssignment)

	registerGroupAPI(e, authed, api)
}

// idParam parses an integer path param; anything else cannot name an entity.
func idParam(ctx echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(ctx.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errHttpNotFound
	}
	return id, nil
}

// Courses

func (api *academicApi) listCourses(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	courses, err := api.svc.ListCourses(ctx.Request().Context(), actor)
	if err != nil {
		return errors.Wrap(err, "listing courses")
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *academicApi) createCourse(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	var data academic.NewCourse
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	c, err := api.svc.CreateCourse(ctx.Request().Context(), actor, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *academicApi) retrieveCourse(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	c, err := api.svc.GetCourse(ctx.Request().Context(), actor, id)
	if err != nil {
		return errors.Wrap(err, "getting course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *academicApi) updateCourse(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	var data academic.UpdateCourse
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCourse")
	}
	c, err := api.svc.UpdateCourse(ctx.Request().Context(), actor, id, data)
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *academicApi) destroyCourse(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.svc.DeleteCourse(ctx.Request().Context(), actor, id); err != nil {
		return errors.Wrap(err, "deleting course")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *academicApi) setCoordinator(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	var data OwnerRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to OwnerRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}
	c, err := api.svc.SetCoordinator(ctx.Request().Context(), actor, id, data.StaffID)
	if err != nil {
		return errors.Wrap(err, "setting coordinator")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *academicApi) removeCoordinator(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.svc.RemoveCoordinator(ctx.Request().Context(), actor, id); err != nil {
		return errors.Wrap(err, "removing coordinator")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Sections

func (api *academicApi) listSections(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	sections, err := api.svc.ListSections(ctx.Request().Context(), actor)
	if err != nil {
		return errors.Wrap(err, "listing sections")
	}
	return ctx.JSON(http.StatusOK, sections)
}

func (api *academicApi) createSection(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	var data academic.NewSection
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSection")
	}
	s, err := api.svc.CreateSection(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating section")
	}
	return ctx.JSON(http.StatusCreated, s)
}

func (api *academicApi) retrieveSection(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	s, err := api.svc.GetSection(ctx.Request().Context(), actor, id)
	if err != nil {
		return errors.Wrap(err, "getting section")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *academicApi) updateSection(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	var data academic.UpdateSection
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSection")
	}
	s, err := api.svc.UpdateSection(ctx.Request().Context(), actor, id, data)
	if err != nil {
		return errors.Wrap(err, "updating section")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *academicApi) destroySection(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.svc.DeleteSection(ctx.Request().Context(), actor, id); err != nil {
		return errors.Wrap(err, "deleting section")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *academicApi) sectionPermissions(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	perms, err := api.svc.Permissions(ctx.Request().Context(), actor, id)
	if err != nil {
		return errors.Wrap(err, "resolving permissions")
	}
	return ctx.JSON(http.StatusOK, perms)
}

func (api *academicApi) setProfessor(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	var data OwnerRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to OwnerRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}
	t, err := api.svc.SetProfessor(ctx.Request().Context(), actor, id, data.StaffID)
	if err != nil {
		return errors.Wrap(err, "setting professor")
	}
	return ctx.JSON(http.StatusOK, t)
}

func (api *academicApi) removeProfessor(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.svc.RemoveProfessor(ctx.Request().Context(), actor, id); err != nil {
		return errors.Wrap(err, "removing professor")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *academicApi) enroll(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	var data EnrollRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EnrollRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}
	e, err := api.svc.Enroll(ctx.Request().Context(), actor, id, data.StudentID)
	if err != nil {
		return errors.Wrap(err, "enrolling student")
	}
	return ctx.JSON(http.StatusCreated, e)
}

func (api *academicApi) unenroll(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	studentID, err := idParam(ctx, "studentId")
	if err != nil {
		return err
	}
	if err = api.svc.Unenroll(ctx.Request().Context(), actor, id, studentID); err != nil {
		return errors.Wrap(err, "unenrolling student")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Assignments

func (api *academicApi) listAssignments(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	assignments, err := api.svc.ListAssignments(ctx.Request().Context(), actor)
	if err != nil {
		return errors.Wrap(err, "listing assignments")
	}
	return ctx.JSON(http.StatusOK, assignments)
}

func (api *academicApi) createAssignment(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	var data academic.NewAssignment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAssignment")
	}
	a, err := api.svc.CreateAssignment(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating assignment")
	}
	return ctx.JSON(http.StatusCreated, a)
}

func (api *academicApi) retrieveAssignment(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	a, err := api.svc.GetAssignment(ctx.Request().Context(), actor, id)
	if err != nil {
		return errors.Wrap(err, "getting assignment")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *academicApi) updateAssignment(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	var data academic.UpdateAssignment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateAssignment")
	}
	a, err := api.svc.UpdateAssignment(ctx.Request().Context(), actor, id, data)
	if err != nil {
		return errors.Wrap(err, "updating assignment")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *academicApi) destroyAssignment(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.svc.DeleteAssignment(ctx.Request().Context(), actor, id); err != nil {
		return errors.Wrap(err, "deleting assignment")
	}
	return ctx.NoContent(http.StatusNoContent)
}

type (
	OwnerRequest struct {
		StaffID int64 `json:"staff_id" validate:"required,gt=0"`
	}

	EnrollRequest struct {
		StudentID int64 `json:"student_id" validate:"required,gt=0"`
	}
)
