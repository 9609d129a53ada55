// internal/engine/filters.go
package engine

import (
	"context"
	"fmt"
	"strings"

	"notification-engine/internal/models"

	"github.com/xeipuuv/gojsonschema"
)

// Outbound is the notification content flowing through the delivery
// pipeline, before recipient resolution.
type Outbound struct {
	Type         models.NotificationType
	Subject      string
	TemplateName string
	Context      map[string]interface{}
	Priority     models.Priority
}

// PreSendFilter is a gate evaluated before recipient resolution. Returning
// false or an error aborts the entire send; no recipient is attempted.
type PreSendFilter interface {
	Name() string
	Evaluate(ctx context.Context, o *Outbound) (bool, error)
}

// PostSendHook is an observer invoked after delivery attempts complete.
// Errors are logged and never propagated.
type PostSendHook interface {
	Name() string
	Run(ctx context.Context, id string, typ models.NotificationType, recipients []string) error
}

type filterFunc struct {
	name string
	fn   func(ctx context.Context, o *Outbound) (bool, error)
}

func (f *filterFunc) Name() string { return f.name }
func (f *filterFunc) Evaluate(ctx context.Context, o *Outbound) (bool, error) {
	return f.fn(ctx, o)
}

// FilterFunc wraps a plain function as a named PreSendFilter.
func FilterFunc(name string, fn func(ctx context.Context, o *Outbound) (bool, error)) PreSendFilter {
	return &filterFunc{name: name, fn: fn}
}

type hookFunc struct {
	name string
	fn   func(ctx context.Context, id string, typ models.NotificationType, recipients []string) error
}

func (h *hookFunc) Name() string { return h.name }
func (h *hookFunc) Run(ctx context.Context, id string, typ models.NotificationType, recipients []string) error {
	return h.fn(ctx, id, typ, recipients)
}

// HookFunc wraps a plain function as a named PostSendHook.
func HookFunc(name string, fn func(ctx context.Context, id string, typ models.NotificationType, recipients []string) error) PostSendHook {
	return &hookFunc{name: name, fn: fn}
}

// ==========================
// Built-in filters
// ==========================

// SubjectBlocklistFilter rejects notifications whose subject contains any
// blocked word, case-insensitively.
type SubjectBlocklistFilter struct {
	Blocked []string
}

func (f *SubjectBlocklistFilter) Name() string { return "subject-blocklist" }

func (f *SubjectBlocklistFilter) Evaluate(_ context.Context, o *Outbound) (bool, error) {
	subject := strings.ToLower(o.Subject)
	for _, word := range f.Blocked {
		if strings.Contains(subject, strings.ToLower(word)) {
			return false, nil
		}
	}
	return true, nil
}

// SchemaFilter validates the notification context payload against a JSON
// schema per type. Types without a schema pass unless a default schema is
// configured.
type SchemaFilter struct {
	schemas       map[models.NotificationType]*gojsonschema.Schema
	defaultSchema *gojsonschema.Schema
}

// NewSchemaFilter compiles the given schemas. defaultSchema may be empty.
func NewSchemaFilter(schemas map[models.NotificationType]string, defaultSchema string) (*SchemaFilter, error) {
	f := &SchemaFilter{schemas: make(map[models.NotificationType]*gojsonschema.Schema, len(schemas))}
	for typ, raw := range schemas {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", typ, err)
		}
		f.schemas[typ] = compiled
	}
	if defaultSchema != "" {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(defaultSchema))
		if err != nil {
			return nil, fmt.Errorf("compile default schema: %w", err)
		}
		f.defaultSchema = compiled
	}
	return f, nil
}

func (f *SchemaFilter) Name() string { return "context-schema" }

func (f *SchemaFilter) Evaluate(_ context.Context, o *Outbound) (bool, error) {
	schema, ok := f.schemas[o.Type]
	if !ok {
		schema = f.defaultSchema
	}
	if schema == nil {
		return true, nil
	}

	doc := o.Context
	if doc == nil {
		doc = map[string]interface{}{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return false, fmt.Errorf("validate context: %w", err)
	}
	return result.Valid(), nil
}
