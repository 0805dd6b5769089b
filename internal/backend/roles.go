package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/flightdeck/flightdeck/internal/roles"
)

// permissionList accepts permissions as names or {name} objects.
type permissionList []string

func (p *permissionList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			out = append(out, name)
			continue
		}
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(item, &obj); err == nil && obj.Name != "" {
			out = append(out, obj.Name)
		}
	}
	*p = out
	return nil
}

type roleWire struct {
	ID              int64          `json:"id"`
	Name            string         `json:"name"`
	Permissions     permissionList `json:"permissions"`
	AdminIdentifyID *int64         `json:"admin_identify_id"`
}

func (w roleWire) entry() roles.Entry {
	return roles.Entry{
		ID:              w.ID,
		Name:            w.Name,
		Permissions:     []string(w.Permissions),
		AdminIdentifyID: w.AdminIdentifyID,
	}
}

// ListRoles returns the role catalog with permissions.
func (c *Client) ListRoles(ctx context.Context, token string) ([]roles.Entry, error) {
	var wire []roleWire
	if err := c.do(ctx, http.MethodGet, "/roles?include=permissions", token, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]roles.Entry, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.entry())
	}
	return out, nil
}

// GetRole returns a single role.
func (c *Client) GetRole(ctx context.Context, token string, id int64) (roles.Entry, error) {
	var wire roleWire
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/roles/%d", id), token, nil, &wire); err != nil {
		return roles.Entry{}, err
	}
	return wire.entry(), nil
}

// CreateRole creates a role.
func (c *Client) CreateRole(ctx context.Context, token string, draft roles.Draft) (roles.Entry, error) {
	var wire roleWire
	if err := c.do(ctx, http.MethodPost, "/roles", token, draft, &wire); err != nil {
		return roles.Entry{}, err
	}
	return wire.entry(), nil
}

// RenameRole changes a role's name.
func (c *Client) RenameRole(ctx context.Context, token string, id int64, name string) (roles.Entry, error) {
	var wire roleWire
	body := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/roles/%d", id), token, body, &wire); err != nil {
		return roles.Entry{}, err
	}
	return wire.entry(), nil
}

// DeleteRole removes a role.
func (c *Client) DeleteRole(ctx context.Context, token string, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/roles/%d", id), token, nil, nil)
}

// ListPermissions returns every grantable permission name.
func (c *Client) ListPermissions(ctx context.Context, token string) ([]string, error) {
	var perms permissionList
	if err := c.do(ctx, http.MethodGet, "/permissions", token, nil, &perms); err != nil {
		return nil, err
	}
	return []string(perms), nil
}

// UpdateRolePermissions replaces a role's permissions. When the backend
// answers with a different role id it has forked a shared system role into an
// organization copy, and the update is reported as such.
func (c *Client) UpdateRolePermissions(ctx context.Context, token string, id int64, permissions []string) (roles.Update, error) {
	if permissions == nil {
		permissions = []string{}
	}
	var wire roleWire
	body := map[string][]string{"permissions": permissions}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/roles/%d/permissions", id), token, body, &wire); err != nil {
		return roles.Update{}, err
	}
	entry := wire.entry()
	if entry.ID == 0 {
		entry.ID = id
	}
	if entry.ID != id {
		return roles.Forked(id, entry), nil
	}
	return roles.Applied(entry), nil
}
