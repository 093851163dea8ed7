// internal/service/template_service.go
package service

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html"
	"html/template"
	"strings"
)

//go:embed templates/email.html
var defaultTemplates embed.FS

// RenderTemplate replaces {key} placeholders with the matching value.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// TemplateData is what a personalised email is rendered from.
type TemplateData struct {
	Subject string
	Body    string
	Name    string
	Email   string
}

type Renderer interface {
	Render(ctx context.Context, data TemplateData) (string, error)
}

// TemplateService wraps the campaign body in an HTML layout. {name} and
// {email} in the body are replaced with the recipient's escaped values.
type TemplateService struct {
	layout *template.Template
}

// NewTemplateService parses the layout at path, or the built-in one when path is empty.
func NewTemplateService(path string) (*TemplateService, error) {
	var (
		t   *template.Template
		err error
	)
	if path == "" {
		t, err = template.ParseFS(defaultTemplates, "templates/email.html")
	} else {
		t, err = template.ParseFiles(path)
	}
	if err != nil {
		return nil, fmt.Errorf("parse email layout: %w", err)
	}
	return &TemplateService{layout: t.Option("missingkey=error")}, nil
}

func (s *TemplateService) Render(ctx context.Context, data TemplateData) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body := RenderTemplate(data.Body, map[string]string{
		"name":  html.EscapeString(data.Name),
		"email": html.EscapeString(data.Email),
	})

	var buf bytes.Buffer
	err := s.layout.Execute(&buf, struct {
		Subject string
		Name    string
		Email   string
		Body    template.HTML
	}{
		Subject: data.Subject,
		Name:    data.Name,
		Email:   data.Email,
		Body:    template.HTML(body),
	})
	if err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}
