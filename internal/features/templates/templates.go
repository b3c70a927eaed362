// Package templates is the message template feature: named templates made of
// titled sections, stored in the "templates" collection. A built-in "Custom"
// template is always listed first and is never persisted.
package templates

import (
	"context"
	"strings"

	goslug "github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/pantry/internal/hook"
	"github.com/mesh-intelligence/pantry/internal/manager"
	"github.com/mesh-intelligence/pantry/internal/schema"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Collection is the name of the backing collection.
const Collection = "templates"

// CustomID identifies the built-in Custom template.
const CustomID = types.VirtualPrefix + "custom"

// Section is one titled block of a template.
type Section struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

// Template is a named, slugged list of sections.
type Template struct {
	Name     string    `json:"name"`
	Slug     string    `json:"slug"`
	Sections []Section `json:"sections,omitempty"`
}

// Custom is the built-in template offered when no stored one fits.
var Custom = Template{Name: "Custom", Slug: "custom"}

const cueSchema = `
#Template: {
	name: string & != ""
	slug: =~"^[a-z0-9]+(-[a-z0-9]+)*$"
	sections?: [...#Section]
}

#Section: {
	title: string & != ""
	body?: string
}
`

var templateSchema = schema.MustCompile(cueSchema, "#Template")

// Schema returns the CUE schema enforced on the templates collection.
func Schema() *schema.Schema { return templateSchema }

// Slug derives the slug stored for name.
func Slug(name string) string { return goslug.Make(name) }

// Templates is the typed facade over a templates manager.
type Templates struct {
	h *hook.Hook[Template]
}

// New wraps m, which must manage the templates collection.
func New(m *manager.Manager, logger *zap.Logger) *Templates {
	return &Templates{h: hook.New[Template](m, hook.JSONCodec[Template]{},
		hook.WithVirtual(hook.Virtual[Template]{ID: CustomID, Value: Custom}),
		hook.WithLogger[Template](logger),
	)}
}

// Hook exposes the generic hook.
func (t *Templates) Hook() *hook.Hook[Template] { return t.h }

// Refresh reloads templates from the store.
func (t *Templates) Refresh(ctx context.Context) error { return t.h.Refresh(ctx) }

// Err returns the last refresh error.
func (t *Templates) Err() error { return t.h.Err() }

// Templates returns stored templates only.
func (t *Templates) Templates() []hook.Record[Template] { return t.h.Items() }

// AllTemplates returns the Custom template followed by stored templates.
func (t *Templates) AllTemplates() []hook.Record[Template] { return t.h.All() }

// AddTemplate stores a new template named name.
func (t *Templates) AddTemplate(ctx context.Context, name string, sections ...Section) (hook.Record[Template], error) {
	name = strings.TrimSpace(name)
	slug := Slug(name)
	if slug == "" {
		return hook.Record[Template]{}, &types.ValidationError{Collection: Collection, Field: "name", Reason: "must contain a letter or digit"}
	}
	return t.h.Add(ctx, Template{Name: name, Slug: slug, Sections: sections})
}

// GetTemplateByID resolves id, including the Custom template.
func (t *Templates) GetTemplateByID(id string) (hook.Record[Template], bool) {
	return t.h.Get(id)
}

// FindBySlug returns the first template, virtual or stored, with slug.
func (t *Templates) FindBySlug(slug string) (hook.Record[Template], bool) {
	for _, r := range t.h.All() {
		if r.Value.Slug == slug {
			return r, true
		}
	}
	return hook.Record[Template]{}, false
}

// RenameTemplate changes the name and slug of a stored template.
func (t *Templates) RenameTemplate(ctx context.Context, id, name string) (hook.Record[Template], error) {
	name = strings.TrimSpace(name)
	slug := Slug(name)
	if slug == "" {
		return hook.Record[Template]{}, &types.ValidationError{Collection: Collection, Field: "name", Reason: "must contain a letter or digit"}
	}
	return t.h.Update(ctx, id, types.Patch{"name": name, "slug": slug})
}

// DeleteTemplate removes a stored template.
func (t *Templates) DeleteTemplate(ctx context.Context, id string) error {
	return t.h.Delete(ctx, id)
}
