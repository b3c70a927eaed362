// Package vault is the vault item feature. An Item has a title and exactly one
// kind-specific payload: a login, a note or a card. The kind is stored in the
// "kind" attribute and the CUE schema checks each payload against its kind.
package vault

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/pantry/internal/hook"
	"github.com/mesh-intelligence/pantry/internal/manager"
	"github.com/mesh-intelligence/pantry/internal/schema"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Collection is the name of the backing collection.
const Collection = "vault"

// Kind discriminates Item payloads.
type Kind string

// Item kinds.
const (
	KindLogin Kind = "login"
	KindNote  Kind = "note"
	KindCard  Kind = "card"
)

// Kinds lists every kind in display order.
var Kinds = []Kind{KindLogin, KindNote, KindCard}

// ParseKind validates s as a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", &types.ValidationError{Collection: Collection, Field: "kind", Reason: fmt.Sprintf("unknown kind %q", s)}
}

// Payload is the kind-specific part of an Item.
type Payload interface {
	Kind() Kind
	attributes() map[string]any
}

// Login is a site account.
type Login struct {
	Username string
	URL      string
	Password string
}

func (Login) Kind() Kind { return KindLogin }

func (l Login) attributes() map[string]any {
	return nonEmpty(map[string]string{"username": l.Username, "url": l.URL, "password": l.Password})
}

// Note is free text.
type Note struct {
	Body string
}

func (Note) Kind() Kind { return KindNote }

func (n Note) attributes() map[string]any {
	return nonEmpty(map[string]string{"body": n.Body})
}

// Card is a payment card reference. Only the last four digits are kept.
type Card struct {
	Holder string
	Last4  string
}

func (Card) Kind() Kind { return KindCard }

func (c Card) attributes() map[string]any {
	return nonEmpty(map[string]string{"holder": c.Holder, "last4": c.Last4})
}

// Item is one vault entry.
type Item struct {
	Title   string
	Payload Payload
}

// Kind returns the payload kind, or "" when the payload is unset.
func (i Item) Kind() Kind {
	if i.Payload == nil {
		return ""
	}
	return i.Payload.Kind()
}

const cueSchema = `
#Item: #Login | #Note | #Card

#Login: {
	kind:      "login"
	title:     string & != ""
	username?: string
	url?:      string
	password?: string
}

#Note: {
	kind:  "note"
	title: string & != ""
	body?: string
}

#Card: {
	kind:    "card"
	title:   string & != ""
	holder?: string
	last4?:  =~"^[0-9]{4}$"
}
`

var itemSchema = schema.MustCompile(cueSchema, "#Item")

// Schema returns the CUE schema enforced on the vault collection.
func Schema() *schema.Schema { return itemSchema }

// Codec converts Items to and from entity attributes.
type Codec struct{}

// Encode flattens an item into its kind, title and payload fields.
func (Codec) Encode(i Item) (map[string]any, error) {
	if i.Payload == nil {
		return nil, fmt.Errorf("item %q has no payload", i.Title)
	}
	attrs := i.Payload.attributes()
	attrs["kind"] = string(i.Payload.Kind())
	attrs["title"] = i.Title
	return attrs, nil
}

// Decode rebuilds an item from its attributes.
func (Codec) Decode(e types.Entity) (Item, error) {
	kind, err := ParseKind(e.String("kind"))
	if err != nil {
		return Item{}, err
	}
	item := Item{Title: e.String("title")}
	switch kind {
	case KindLogin:
		item.Payload = Login{Username: e.String("username"), URL: e.String("url"), Password: e.String("password")}
	case KindNote:
		item.Payload = Note{Body: e.String("body")}
	case KindCard:
		item.Payload = Card{Holder: e.String("holder"), Last4: e.String("last4")}
	}
	return item, nil
}

// Vault is the typed facade over a vault manager.
type Vault struct {
	h *hook.Hook[Item]
}

// New wraps m, which must manage the vault collection. Deleting an item that
// is already gone succeeds.
func New(m *manager.Manager, logger *zap.Logger) *Vault {
	return &Vault{h: hook.New[Item](m, Codec{},
		hook.WithDropMissingOnDelete[Item](),
		hook.WithLogger[Item](logger),
	)}
}

// Hook exposes the generic hook.
func (v *Vault) Hook() *hook.Hook[Item] { return v.h }

// Refresh reloads items from the store.
func (v *Vault) Refresh(ctx context.Context) error { return v.h.Refresh(ctx) }

// Err returns the last refresh error.
func (v *Vault) Err() error { return v.h.Err() }

// Items returns every item.
func (v *Vault) Items() []hook.Record[Item] { return v.h.Items() }

// ByKind returns the items of kind k.
func (v *Vault) ByKind(k Kind) []hook.Record[Item] {
	var out []hook.Record[Item]
	for _, r := range v.h.Items() {
		if r.Value.Kind() == k {
			out = append(out, r)
		}
	}
	return out
}

// AddItem stores a new item.
func (v *Vault) AddItem(ctx context.Context, item Item) (hook.Record[Item], error) {
	return v.h.Add(ctx, item)
}

// GetItemByID returns the cached item with id.
func (v *Vault) GetItemByID(id string) (hook.Record[Item], bool) {
	return v.h.Get(id)
}

// UpdateItem patches an item. The kind of an item cannot change, and when the
// item is cached the patched result must still match its kind.
func (v *Vault) UpdateItem(ctx context.Context, id string, patch types.Patch) (hook.Record[Item], error) {
	cur, found := v.h.Get(id)
	if k, ok := patch["kind"]; ok && (!found || k != string(cur.Value.Kind())) {
		return hook.Record[Item]{}, &types.ValidationError{Collection: Collection, Field: "kind", Reason: "kind cannot be changed"}
	}
	if found {
		attrs, err := Codec{}.Encode(cur.Value)
		if err != nil {
			return hook.Record[Item]{}, err
		}
		merged := patch.Apply(types.Entity{Attributes: attrs})
		if err := itemSchema.Check(Collection, merged.Attributes); err != nil {
			return hook.Record[Item]{}, err
		}
	}
	return v.h.Update(ctx, id, patch)
}

// DeleteItem removes an item.
func (v *Vault) DeleteItem(ctx context.Context, id string) error {
	return v.h.Delete(ctx, id)
}

func nonEmpty(fields map[string]string) map[string]any {
	out := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
