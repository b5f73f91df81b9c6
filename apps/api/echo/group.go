package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/fatracker/core"
	"github.com/trezcool/fatracker/core/academic"
	"github.com/trezcool/fatracker/core/principal"
)

func registerGroupAPI(e *echo.Echo, authed echo.MiddlewareFunc, api academicApi) {
	editors := roleMiddleware(principal.RoleAdmin, principal.RoleProfessor)

	gg := e.Group("/groups", authed)
	gg.GET("", api.listGroups)
	gg.POST("", api.createGroup, editors)
	gg.GET("/:id", api.retrieveGroup)
	gg.DELETE("/:id", api.destroyGroup, editors)
}

func (api *academicApi) listGroups(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	var sectionID int64
	if raw := ctx.QueryParam("section_id"); raw != "" {
		if sectionID, err = strconv.ParseInt(raw, 10, 64); err != nil || sectionID <= 0 {
			return core.NewValidationError(err, core.FieldError{Field: "section_id", Error: "must be a positive integer"})
		}
	}
	groups, err := api.svc.ListGroups(ctx.Request().Context(), actor, sectionID)
	if err != nil {
		return errors.Wrap(err, "listing groups")
	}
	return ctx.JSON(http.StatusOK, groups)
}

func (api *academicApi) createGroup(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	var data academic.NewGroup
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGroup")
	}
	g, err := api.svc.CreateGroup(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating group")
	}
	return ctx.JSON(http.StatusCreated, g)
}

func (api *academicApi) retrieveGroup(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	g, err := api.svc.GetGroup(ctx.Request().Context(), actor, id)
	if err != nil {
		return errors.Wrap(err, "getting group")
	}
	return ctx.JSON(http.StatusOK, g)
}

func (api *academicApi) destroyGroup(ctx echo.Context) error {
	actor, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.svc.DeleteGroup(ctx.Request().Context(), actor, id); err != nil {
		return errors.Wrap(err, "deleting group")
	}
	return ctx.NoContent(http.StatusNoContent)
}
