package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ListModels handles GET /api/models. It never fails: without a broker the
// list holds just the mock model.
func (c *Controller) ListModels(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.models.List(ctx.Request().Context()))
}
