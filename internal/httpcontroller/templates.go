// Package httpcontroller serves the HTML pages and their static assets.
package httpcontroller

import (
	"bytes"
	"embed"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"

	"github.com/digitlab/digitlab/internal/logger"
)

// ViewsFs holds the page templates.
//
//go:embed views/*.html
var ViewsFs embed.FS

// AssetsFs holds the scripts and stylesheets served under /assets.
//
//go:embed assets
var AssetsFs embed.FS

// PageData represents data for rendering a page.
type PageData struct {
	Page    string // identifier of the current page, used for nav highlighting
	Title   string
	Version string
}

// TemplateRenderer is a custom HTML template renderer for Echo framework.
type TemplateRenderer struct {
	templates *template.Template
	log       logger.Logger
}

// Render renders a template with the given data.
func (t *TemplateRenderer) Render(w io.Writer, name string, data any, c echo.Context) error {
	// Render into a buffer so a failing template never sends half a page.
	var buf bytes.Buffer
	if err := t.templates.ExecuteTemplate(&buf, name, data); err != nil {
		t.log.Error("Error executing template",
			logger.String("template", name),
			logger.Error(err))
		return err
	}

	_, err := buf.WriteTo(w)
	if err != nil {
		t.log.Warn("Error writing template result", logger.Error(err))
	}
	return err
}

// newTemplateRenderer parses every embedded view.
func newTemplateRenderer(log logger.Logger) (*TemplateRenderer, error) {
	tmpl, err := template.New("").ParseFS(ViewsFs, "views/*.html")
	if err != nil {
		return nil, err
	}
	return &TemplateRenderer{templates: tmpl, log: log}, nil
}
