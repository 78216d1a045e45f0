package templates

import (
	"embed"
	"fmt"
	"html/template"
)

// ResultsTemplate is the name of the HTML run report template.
const ResultsTemplate = "results.html.tmpl"

//go:embed *.html.tmpl
var templateFS embed.FS

// GetHTMLTemplate parses the embedded template with the given name.
func GetHTMLTemplate(name string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(GetTemplateFunc()).ParseFS(templateFS, name)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	return tmpl, nil
}
