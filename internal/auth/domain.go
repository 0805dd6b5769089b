package auth

import (
	"encoding/json"
	"fmt"

	"github.com/flightdeck/flightdeck/internal/platform/httpx"
	"github.com/flightdeck/flightdeck/internal/rbac"
)

// ErrUnauthorized is returned by a Gateway when the backend rejects the
// token or credentials.
var ErrUnauthorized = fmt.Errorf("auth: %w", httpx.ErrUnauthorized)

// Organization is the flight school a principal belongs to.
type Organization struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Logo string `json:"logo,omitempty"`
}

// Principal is the signed-in user as reported by the backend. Roles are
// normalized when decoded.
type Principal struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Email        string          `json:"email"`
	ProfileImage string          `json:"profile_image,omitempty"`
	Organization *Organization   `json:"organization,omitempty"`
	Roles        []rbac.RoleName `json:"roles"`
	Permissions  []string        `json:"permissions"`
}

type principalWire struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	Email        string         `json:"email"`
	ProfileImage string         `json:"profile_image"`
	Organization *Organization  `json:"organization"`
	Roles        []rbac.RoleRef `json:"roles"`
	Permissions  []string       `json:"permissions"`
}

// UnmarshalJSON accepts roles as strings or {name} objects.
func (p *Principal) UnmarshalJSON(data []byte) error {
	var wire principalWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*p = Principal{
		ID:           wire.ID,
		Name:         wire.Name,
		Email:        wire.Email,
		ProfileImage: wire.ProfileImage,
		Organization: wire.Organization,
		Roles:        rbac.NormalizeRoles(wire.Roles),
		Permissions:  wire.Permissions,
	}
	return nil
}

// OrganizationID returns the organization id, or zero when unset.
func (p Principal) OrganizationID() int64 {
	if p.Organization == nil {
		return 0
	}
	return p.Organization.ID
}

// Grant is a successful login or registration.
type Grant struct {
	Token string
	User  Principal
}

// Registration carries the fields of a sign-up request.
type Registration struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
	OrganizationName     string `json:"organization_name,omitempty"`
}

// State is the lifecycle of an identity store.
type State uint8

const (
	StateLoading State = iota
	StateUnauthenticated
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Result reports the outcome of a login or registration.
type Result struct {
	Success bool
	Message string
}

// RefreshResult reports the outcome of a principal refresh.
type RefreshResult struct {
	Success bool
	User    *Principal
}
