// Package render turns notification kinds into user-facing titles and bodies
// using templates embedded in the binary.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Engine renders templates embedded in the package.
type Engine struct {
	templates *template.Template
}

// New initialises an Engine by parsing all embedded templates.
func New() (*Engine, error) {
	t, err := template.New("render").Funcs(template.FuncMap{
		"rupees": func(v float64) string { return fmt.Sprintf("₹%.2f", v) },
		"join":   strings.Join,
	}).ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Engine{templates: t}, nil
}

// Render executes the named template with the provided data and returns the rendered string.
func (e *Engine) Render(name string, data any) (string, error) {
	if e == nil || e.templates == nil {
		return "", fmt.Errorf("nil engine")
	}

	buf := bytes.NewBuffer(nil)
	if err := e.templates.ExecuteTemplate(buf, name, data); err != nil {
		return "", err
	}

	return strings.TrimSpace(buf.String()), nil
}

// Message renders the "<kind>.title" and "<kind>.body" templates.
func (e *Engine) Message(kind string, data any) (title, body string, err error) {
	if title, err = e.Render(kind+".title", data); err != nil {
		return "", "", err
	}
	if body, err = e.Render(kind+".body", data); err != nil {
		return "", "", err
	}
	return title, body, nil
}
