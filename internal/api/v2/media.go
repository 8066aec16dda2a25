package api

import (
	"github.com/labstack/echo/v4"

	"github.com/digitlab/digitlab/internal/imagestore"
)

// initMediaRoutes exposes both image roots. Paths are resolved inside the
// store's rooted filesystem, so traversal attempts end in 400 or 404.
func (c *Controller) initMediaRoutes() {
	for _, kind := range []imagestore.Kind{imagestore.Collected, imagestore.Predicted} {
		c.Echo.GET(kind.URLPrefix()+"/*", c.serveImage(kind))
	}
}

func (c *Controller) serveImage(kind imagestore.Kind) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		return c.images.Serve(ctx, kind, ctx.Param("*"))
	}
}
