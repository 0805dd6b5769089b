package rbac

import (
	"bytes"
	"encoding/json"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// RoleName is the canonical, trimmed and lowercased identifier of a role.
type RoleName string

// Well-known role names.
const (
	RoleSuperAdmin RoleName = "super admin"
	RoleAdmin      RoleName = "admin"
	RoleInstructor RoleName = "instructor"
	RoleStudent    RoleName = "student"
)

var superAdminAliases = []RoleName{RoleSuperAdmin, "super-admin", "superadmin"}

// SuperAdminAliases returns the normalized names accepted as Super Admin.
func SuperAdminAliases() []RoleName {
	out := make([]RoleName, len(superAdminAliases))
	copy(out, superAdminAliases)
	return out
}

// String returns the raw value.
func (n RoleName) String() string {
	return string(n)
}

// Normalized returns the canonical form of n.
func (n RoleName) Normalized() RoleName {
	return normalize(string(n))
}

// RefKind tags the shape a role arrived in.
type RefKind uint8

const (
	// RefInvalid marks a role reference that could not be interpreted.
	RefInvalid RefKind = iota
	// RefString marks a bare string role.
	RefString
	// RefObject marks an object role carrying a name field.
	RefObject
)

// RoleRef is a role as received from the backend: either a bare string or an
// object exposing a name. Decoding never fails on an unexpected shape; the
// reference becomes RefInvalid and normalizes to the empty name.
type RoleRef struct {
	Kind  RefKind
	Value string
}

// StringRef builds a RoleRef for a bare string role.
func StringRef(name string) RoleRef {
	return RoleRef{Kind: RefString, Value: name}
}

// ObjectRef builds a RoleRef for a {name} object role.
func ObjectRef(name string) RoleRef {
	return RoleRef{Kind: RefObject, Value: name}
}

// Name returns the normalized role name.
func (r RoleRef) Name() RoleName {
	switch r.Kind {
	case RefString, RefObject:
		return normalize(r.Value)
	default:
		return ""
	}
}

// UnmarshalJSON accepts "name", {"name": "..."} or anything else.
func (r *RoleRef) UnmarshalJSON(data []byte) error {
	*r = RoleRef{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			*r = StringRef(s)
		}
	case '{':
		var obj struct {
			Name *string `json:"name"`
		}
		if err := json.Unmarshal(data, &obj); err == nil && obj.Name != nil {
			*r = ObjectRef(*obj.Name)
		}
	}
	return nil
}

// MarshalJSON writes the reference back in the shape it arrived in.
func (r RoleRef) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case RefString:
		return json.Marshal(r.Value)
	case RefObject:
		return json.Marshal(map[string]string{"name": r.Value})
	default:
		return []byte("null"), nil
	}
}

type named interface {
	GetName() string
}

// NormalizeRoleName converts any role representation into its canonical
// name. Unknown shapes and empty values yield the empty name.
func NormalizeRoleName(role any) RoleName {
	switch v := role.(type) {
	case nil:
		return ""
	case RoleName:
		return normalize(string(v))
	case string:
		return normalize(v)
	case RoleRef:
		return v.Name()
	case *RoleRef:
		if v == nil {
			return ""
		}
		return v.Name()
	case named:
		return normalize(safeName(v))
	case map[string]any:
		if name, ok := v["name"].(string); ok {
			return normalize(name)
		}
		return ""
	case map[string]string:
		return normalize(v["name"])
	default:
		return ""
	}
}

// NormalizeRoles normalizes each reference, preserving order.
func NormalizeRoles(refs []RoleRef) []RoleName {
	out := make([]RoleName, 0, len(refs))
	for _, ref := range refs {
		out = append(out, ref.Name())
	}
	return out
}

func safeName(v named) (name string) {
	defer func() {
		if recover() != nil {
			name = ""
		}
	}()
	return v.GetName()
}

func normalize(s string) RoleName {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return RoleName(cases.Lower(language.Und).String(s))
}
