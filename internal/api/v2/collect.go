package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/digitlab/digitlab/internal/errors"
	"github.com/digitlab/digitlab/internal/saga"
)

// CollectResponse is returned with 201 when a drawing was stored.
type CollectResponse struct {
	Message  string `json:"message"`
	ImageID  string `json:"imageId"`
	EntityID string `json:"entityId"`
}

// Collect handles POST /api/collect.
func (c *Controller) Collect(ctx echo.Context) error {
	var req saga.CollectRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, errors.New(err).
			Component("api").
			Category(errors.CategoryInvalidInput).
			Public(saga.MsgMissingLabelOrImage).
			Build())
	}

	result, err := c.collector.Collect(ctx.Request().Context(), req)
	if err != nil {
		return c.HandleError(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, CollectResponse{
		Message:  fmt.Sprintf("Digit %d received and stored.", result.Label),
		ImageID:  result.ImageID,
		EntityID: result.EntityID,
	})
}
