package httpcontroller

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/digitlab/digitlab/internal/buildinfo"
	"github.com/digitlab/digitlab/internal/errors"
	"github.com/digitlab/digitlab/internal/logger"
)

// PageRouteConfig defines the structure for each full page route.
type PageRouteConfig struct {
	Path         string
	TemplateName string
	Title        string
}

// pageRoutes lists the pages in navigation order.
var pageRoutes = []PageRouteConfig{
	{Path: "/", TemplateName: "index", Title: "Digit Recognition App"},
	{Path: "/collect", TemplateName: "collect", Title: "Collect Digits"},
	{Path: "/predict", TemplateName: "predict", Title: "Predict Digits"},
}

// Pages renders the HTML front end.
type Pages struct {
	renderer *TemplateRenderer
	build    *buildinfo.Context
	log      logger.Logger
}

// New parses the embedded templates.
func New(build *buildinfo.Context, log logger.Logger) (*Pages, error) {
	if log == nil {
		log = logger.Global().Module("httpcontroller")
	}
	renderer, err := newTemplateRenderer(log)
	if err != nil {
		return nil, errors.New(err).
			Component("httpcontroller").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &Pages{renderer: renderer, build: build, log: log}, nil
}

// RegisterRoutes installs the renderer, the page routes and /assets on e.
func (p *Pages) RegisterRoutes(e *echo.Echo) {
	e.Renderer = p.renderer

	for _, route := range pageRoutes {
		e.GET(route.Path, p.pageHandler(route))
	}

	e.StaticFS("/assets", echo.MustSubFS(AssetsFs, "assets"))
	p.log.Debug("Page routes registered", logger.Int("pages", len(pageRoutes)))
}

func (p *Pages) pageHandler(route PageRouteConfig) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.Render(http.StatusOK, route.TemplateName, PageData{
			Page:    route.TemplateName,
			Title:   route.Title,
			Version: p.build.Version(),
		})
	}
}
