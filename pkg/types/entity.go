package types

import (
	"strings"
	"time"
)

// VirtualPrefix marks ids of display-only entities that are merged into read
// views but never persisted.
const VirtualPrefix = "virtual:"

// PendingPrefix marks placeholder ids the manager assigns to optimistic
// inserts until the adapter returns the real id.
const PendingPrefix = "pending-"

// Entity is a uniquely identified record in one collection. ID is assigned by
// the adapter on Create; Attributes holds the feature-specific fields.
type Entity struct {
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the entity. Nested maps and slices are copied
// so the clone shares no mutable state with e.
func (e Entity) Clone() Entity {
	out := e
	out.Attributes = CloneAttributes(e.Attributes)
	return out
}

// String returns the attribute as a string, or "" when it is absent or not a
// string.
func (e Entity) String(key string) string {
	s, _ := e.Attributes[key].(string)
	return s
}

// CloneAttributes deep-copies an attribute map. A nil map stays nil.
func CloneAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneAttributes(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = cloneValue(item)
		}
		return cp
	case []string:
		cp := make([]string, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}

// CloneEntities deep-copies a slice of entities. The result is never nil.
func CloneEntities(entities []Entity) []Entity {
	out := make([]Entity, len(entities))
	for i, e := range entities {
		out[i] = e.Clone()
	}
	return out
}

// IsVirtualID reports whether id names a virtual entity.
func IsVirtualID(id string) bool {
	return strings.HasPrefix(id, VirtualPrefix)
}

// IsPendingID reports whether id is an optimistic placeholder.
func IsPendingID(id string) bool {
	return strings.HasPrefix(id, PendingPrefix)
}

// Patch is a partial update with top-level merge semantics. A key with a
// non-nil value replaces the attribute, a key with a nil value removes it,
// and absent keys are left untouched.
type Patch map[string]any

// Apply returns a copy of e with the patch merged into its attributes.
// Timestamps are not changed; adapters own UpdatedAt.
func (p Patch) Apply(e Entity) Entity {
	out := e.Clone()
	if out.Attributes == nil {
		out.Attributes = make(map[string]any, len(p))
	}
	for k, v := range p {
		if v == nil {
			delete(out.Attributes, k)
			continue
		}
		out.Attributes[k] = cloneValue(v)
	}
	return out
}

// Sets returns the patch without its removals, that is the keys whose value
// is non-nil.
func (p Patch) Sets() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		if v != nil {
			out[k] = v
		}
	}
	return out
}
