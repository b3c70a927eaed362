// Package schema validates entity payloads against CUE definitions before
// they reach a persistence adapter.
//
// A Schema is compiled once from CUE source and names one definition, e.g.
//
//	#Template: {
//		name: string & != ""
//		...
//	}
//
// Create payloads must be concrete instances of the definition. Update
// patches are checked twice: the keys they set must unify with the
// definition, and the stored entity with the patch applied must again be a
// concrete instance, so a patch cannot remove a required field or switch a
// tagged union to another variant.
package schema

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Schema is a compiled CUE definition. Safe for concurrent use.
type Schema struct {
	name string

	mu  sync.Mutex // guards ctx; cue.Context is not safe for concurrent use
	ctx *cue.Context
	def cue.Value
}

// Compile compiles src and looks up definition (for example "#Template").
func Compile(src, definition string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return nil, fmt.Errorf("definition %s not found in schema", definition)
	}
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("definition %s: %w", definition, err)
	}
	return &Schema{name: definition, ctx: ctx, def: def}, nil
}

// MustCompile is like Compile but panics on error. For package-level schemas.
func MustCompile(src, definition string) *Schema {
	s, err := Compile(src, definition)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the definition name.
func (s *Schema) Name() string { return s.name }

// Check validates a complete attribute set. The returned error is a
// *types.ValidationError with Field set to the first offending path.
func (s *Schema) Check(collection string, attrs map[string]any) error {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return s.validate(collection, attrs, cue.Concrete(true))
}

// CheckPatch validates the keys a patch sets. Removals are not checked.
func (s *Schema) CheckPatch(collection string, patch types.Patch) error {
	return s.validate(collection, patch.Sets())
}

func (s *Schema) validate(collection string, data map[string]any, opts ...cue.Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.ctx.Encode(data)
	if err := v.Err(); err != nil {
		return &types.ValidationError{Collection: collection, Reason: err.Error(), Err: err}
	}
	u := s.def.Unify(v)
	if err := u.Validate(opts...); err != nil {
		return toValidationError(collection, err)
	}
	return nil
}

func toValidationError(collection string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &types.ValidationError{Collection: collection, Reason: err.Error(), Err: err}
	}
	first := errs[0]
	format, args := first.Msg()
	return &types.ValidationError{
		Collection: collection,
		Field:      strings.Join(first.Path(), "."),
		Reason:     fmt.Sprintf(format, args...),
		Err:        err,
	}
}

// Adapter validates payloads before delegating to the wrapped adapter.
// Invalid payloads never reach it.
type Adapter struct {
	inner  types.Adapter
	schema *Schema
}

var _ types.Adapter = (*Adapter)(nil)

// Wrap returns inner guarded by s.
func Wrap(inner types.Adapter, s *Schema) *Adapter {
	return &Adapter{inner: inner, schema: s}
}

func (a *Adapter) Collection() string { return a.inner.Collection() }

func (a *Adapter) List(ctx context.Context) ([]types.Entity, error) {
	return a.inner.List(ctx)
}

func (a *Adapter) Create(ctx context.Context, attrs map[string]any) (types.Entity, error) {
	if err := a.schema.Check(a.inner.Collection(), attrs); err != nil {
		return types.Entity{}, err
	}
	return a.inner.Create(ctx, attrs)
}

// Update checks the patch and the merged result. An id the inner adapter
// does not list is passed through so it reports the miss itself.
func (a *Adapter) Update(ctx context.Context, id string, patch types.Patch) (types.Entity, error) {
	collection := a.inner.Collection()
	if err := a.schema.CheckPatch(collection, patch); err != nil {
		return types.Entity{}, err
	}
	current, err := a.inner.List(ctx)
	if err != nil {
		return types.Entity{}, err
	}
	for _, e := range current {
		if e.ID != id {
			continue
		}
		if err := a.schema.Check(collection, patch.Apply(e).Attributes); err != nil {
			return types.Entity{}, err
		}
		break
	}
	return a.inner.Update(ctx, id, patch)
}

func (a *Adapter) Delete(ctx context.Context, id string) error {
	return a.inner.Delete(ctx, id)
}

// Store wraps the collections of inner that have a registered schema.
// Collections without one pass through unchanged.
type Store struct {
	inner   types.Store
	schemas map[string]*Schema
}

var _ types.Store = (*Store)(nil)

// NewStore returns inner with schemas applied by collection name.
func NewStore(inner types.Store, schemas map[string]*Schema) *Store {
	cp := make(map[string]*Schema, len(schemas))
	for k, v := range schemas {
		cp[k] = v
	}
	return &Store{inner: inner, schemas: cp}
}

func (s *Store) Collection(name string) (types.Adapter, error) {
	a, err := s.inner.Collection(name)
	if err != nil {
		return nil, err
	}
	if sc, ok := s.schemas[name]; ok {
		return Wrap(a, sc), nil
	}
	return a, nil
}

func (s *Store) Close() error { return s.inner.Close() }
