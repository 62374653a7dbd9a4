// Package renderer turns template node bodies plus resolved inputs into
// output content.
package renderer

import (
	"bytes"
	"os"
	"strings"
	"text/template"
	"time"

	liverrors "github.com/conneroisu/livegen/internal/errors"
)

// Renderer renders a template body against a variable map.
type Renderer interface {
	Render(body string, vars map[string]interface{}) (string, error)
}

// TemplateRenderer renders with Go's text/template. Unresolved variables are
// an error rather than "<no value>" so a dangling input is surfaced at build
// time instead of being written into the output.
type TemplateRenderer struct {
	funcs template.FuncMap
}

// NewTemplateRenderer creates a renderer with the standard helper functions.
func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{
		funcs: template.FuncMap{
			"now": func(layout ...string) string {
				if len(layout) > 0 {
					return time.Now().Format(layout[0])
				}
				return time.Now().Format(time.RFC3339)
			},
			"env": os.Getenv,
			"readFile": func(path string) (string, error) {
				data, err := os.ReadFile(path)
				if err != nil {
					return "", err
				}
				return string(data), nil
			},
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
			"trim":  strings.TrimSpace,
			"join":  strings.Join,
		},
	}
}

// Render executes the body with vars as the template context.
func (r *TemplateRenderer) Render(body string, vars map[string]interface{}) (string, error) {
	tmpl, err := template.New("node").Funcs(r.funcs).Option("missingkey=error").Parse(body)
	if err != nil {
		return "", liverrors.NewConfigError("template_parse", "parsing template body").WithCause(err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", liverrors.NewExecutionError("rendering template: "+err.Error(), "")
	}
	return buf.String(), nil
}
