package rest

import (
	"context"
	"encoding/json"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Paths of the wire contract, relative to the base URL.
const (
	entitiesPath = "/v1/collections/{collection}/entities"
	entityPath   = "/v1/collections/{collection}/entities/{id}"
)

// ListResponse is the body of a list call.
type ListResponse struct {
	Entities []types.Entity `json:"entities"`
}

// CreateRequest is the body of a create call.
type CreateRequest struct {
	Attributes map[string]any `json:"attributes"`
}

// UpdateRequest is the body of an update call.
type UpdateRequest struct {
	Patch types.Patch `json:"patch"`
}

// collection implements types.Adapter over HTTP.
type collection struct {
	name  string
	store *Store
}

var _ types.Adapter = (*collection)(nil)

func (c *collection) Collection() string { return c.name }

func (c *collection) List(ctx context.Context) ([]types.Entity, error) {
	req, err := c.store.request(ctx)
	if err != nil {
		return nil, &types.TransportError{Op: "list", Collection: c.name, Err: err}
	}
	var out ListResponse
	resp, err := req.
		SetPathParam("collection", c.name).
		SetResult(&out).
		SetError(&errorBody{}).
		Get(entitiesPath)
	if err := classify("list", c.name, "", resp, err); err != nil {
		return nil, err
	}
	if out.Entities == nil {
		out.Entities = []types.Entity{}
	}
	for i := range out.Entities {
		if out.Entities[i].Attributes == nil {
			out.Entities[i].Attributes = map[string]any{}
		}
	}
	return out.Entities, nil
}

func (c *collection) Create(ctx context.Context, attrs map[string]any) (types.Entity, error) {
	req, err := c.store.request(ctx)
	if err != nil {
		return types.Entity{}, &types.TransportError{Op: "create", Collection: c.name, Err: err}
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	if _, err := json.Marshal(attrs); err != nil {
		return types.Entity{}, &types.ValidationError{Collection: c.name, Reason: "attributes are not JSON serializable", Err: err}
	}
	var out types.Entity
	resp, err := req.
		SetPathParam("collection", c.name).
		SetBody(CreateRequest{Attributes: attrs}).
		SetResult(&out).
		SetError(&errorBody{}).
		Post(entitiesPath)
	if err := classify("create", c.name, "", resp, err); err != nil {
		return types.Entity{}, err
	}
	if out.ID == "" {
		return types.Entity{}, &types.TransportError{Op: "create", Collection: c.name, Status: resp.StatusCode(), Message: "response has no entity id"}
	}
	return out, nil
}

func (c *collection) Update(ctx context.Context, id string, patch types.Patch) (types.Entity, error) {
	if id == "" {
		return types.Entity{}, types.ErrInvalidID
	}
	if _, err := json.Marshal(patch); err != nil {
		return types.Entity{}, &types.ValidationError{Collection: c.name, Reason: "patch is not JSON serializable", Err: err}
	}
	req, err := c.store.request(ctx)
	if err != nil {
		return types.Entity{}, &types.TransportError{Op: "update", Collection: c.name, Err: err}
	}
	var out types.Entity
	resp, err := req.
		SetPathParams(map[string]string{"collection": c.name, "id": id}).
		SetBody(UpdateRequest{Patch: patch}).
		SetResult(&out).
		SetError(&errorBody{}).
		Patch(entityPath)
	if err := classify("update", c.name, id, resp, err); err != nil {
		return types.Entity{}, err
	}
	return out, nil
}

func (c *collection) Delete(ctx context.Context, id string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	req, err := c.store.request(ctx)
	if err != nil {
		return &types.TransportError{Op: "delete", Collection: c.name, Err: err}
	}
	resp, err := req.
		SetPathParams(map[string]string{"collection": c.name, "id": id}).
		SetError(&errorBody{}).
		Delete(entityPath)
	return classify("delete", c.name, id, resp, err)
}
