// Package email implements the template registry for transactional emails.
// A template is a pure function pair producing a subject and an HTML body
// from an opaque props map; the registry maps component names to templates.
// Rendering performs no I/O.
package email

import (
	"fmt"

	"dripline/internal/types"
)

// RenderedEmail is the output of a template render.
type RenderedEmail struct {
	Subject string
	HTML    string
}

// Template is a pure function pair. Both functions must tolerate missing
// props fields by falling back to defaults; props are structurally untyped
// and validity is the template's responsibility, not the registry's.
type Template struct {
	Subject func(props types.Props) string
	HTML    func(props types.Props) string
}

// Registry maps component names to templates. It is stateless after
// construction and safe for concurrent reads.
type Registry struct {
	templates map[string]Template
}

// NewRegistry creates an empty registry. Most callers want DefaultRegistry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]Template)}
}

// Register adds a template under the given component name, replacing any
// existing entry. Not safe for concurrent use with Render; register
// everything at startup.
func (r *Registry) Register(component string, t Template) {
	r.templates[component] = t
}

// Components returns the registered component names, in unspecified order.
func (r *Registry) Components() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	return names
}

// Render looks up the component and invokes its subject and HTML renderers.
// An unregistered component yields an unknown_template AppError; the
// dispatcher treats that as fatal for the row (left pending for operator
// investigation) rather than skipping it.
func (r *Registry) Render(component string, props types.Props) (*RenderedEmail, error) {
	t, ok := r.templates[component]
	if !ok {
		return nil, types.NewAppError(
			types.ErrCodeUnknownTemplate,
			fmt.Sprintf("unknown template %q", component),
			nil,
		)
	}

	return &RenderedEmail{
		Subject: t.Subject(props),
		HTML:    t.HTML(props),
	}, nil
}

// IsUnknownTemplate reports whether err is an unknown_template error.
func IsUnknownTemplate(err error) bool {
	return types.HasCode(err, types.ErrCodeUnknownTemplate)
}
