// Package prompt renders task prompt and repair templates.
package prompt

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"text/template"

	"github.com/c360studio/albench/task"
)

// Data is the template context for prompt rendering.
type Data struct {
	// TaskID is the manifest id.
	TaskID string

	// Description is the task description.
	Description string

	// TargetFile is the file name the generated code will be written to.
	TargetFile string

	// PreviousCode is the last extracted code (fix templates only).
	PreviousCode string

	// Failures lists the previous attempt's failure reasons (fix templates only).
	Failures []string

	// Overrides exposes the manifest's named prompt fragments.
	Overrides map[string]string
}

// Renderer loads and renders prompt templates, caching parsed templates by
// path.
type Renderer struct {
	mu    sync.Mutex
	cache map[string]*template.Template
}

// NewRenderer creates a template renderer.
func NewRenderer() *Renderer {
	return &Renderer{cache: make(map[string]*template.Template)}
}

// Render renders the template at path with the given data.
func (r *Renderer) Render(path string, data Data) (string, error) {
	tmpl, err := r.load(path)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", path, err)
	}
	return b.String(), nil
}

// RenderTask renders the initial prompt for a manifest.
func (r *Renderer) RenderTask(m *task.Manifest, targetFile string) (string, error) {
	return r.Render(m.PromptTemplate, Data{
		TaskID:      m.ID,
		Description: m.Description,
		TargetFile:  targetFile,
		Overrides:   m.Prompts,
	})
}

// RenderFix renders the repair prompt for a manifest. Falls back to the task
// template when no fix template is declared.
func (r *Renderer) RenderFix(m *task.Manifest, targetFile, previousCode string, failures []string) (string, error) {
	path := m.FixTemplate
	if path == "" {
		path = m.PromptTemplate
	}
	return r.Render(path, Data{
		TaskID:       m.ID,
		Description:  m.Description,
		TargetFile:   targetFile,
		PreviousCode: previousCode,
		Failures:     failures,
		Overrides:    m.Prompts,
	})
}

func (r *Renderer) load(path string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tmpl, ok := r.cache[path]; ok {
		return tmpl, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	tmpl, err := template.New(path).Option("missingkey=zero").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", path, err)
	}
	r.cache[path] = tmpl
	return tmpl, nil
}
