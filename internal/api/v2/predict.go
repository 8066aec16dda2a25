package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/digitlab/digitlab/internal/errors"
	"github.com/digitlab/digitlab/internal/imagestore"
	"github.com/digitlab/digitlab/internal/saga"
)

// Predict handles POST /api/predict.
func (c *Controller) Predict(ctx echo.Context) error {
	var req saga.PredictRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, errors.New(err).
			Component("api").
			Category(errors.CategoryInvalidInput).
			Public(imagestore.MsgMissingImage).
			Build())
	}

	result, err := c.predictor.Predict(ctx.Request().Context(), req)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, result)
}
