package rbac

import (
	"fmt"
	"strings"
)

// PublicEntryPath is where unauthenticated visitors are sent.
const PublicEntryPath = "/welcome"

// Subject is the session state a guard decision is made against.
type Subject interface {
	Loading() bool
	IsAuthenticated() bool
	HasRole(roles ...RoleName) bool
	HasPermission(permission string) bool
}

// Requirement lists what a protected page needs. When Roles is non-empty,
// Role is ignored.
type Requirement struct {
	Role       RoleName
	Roles      []RoleName
	Permission string
}

// Outcome is the result class of a guard decision.
type Outcome uint8

const (
	OutcomePending Outcome = iota
	OutcomeRedirect
	OutcomeDeny
	OutcomeAllow
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeRedirect:
		return "redirect"
	case OutcomeDeny:
		return "deny"
	case OutcomeAllow:
		return "allow"
	default:
		return "unknown"
	}
}

// Decision is the guard verdict for one request.
type Decision struct {
	Outcome  Outcome
	Location string
	Message  string
}

// Decide applies the guard rules in precedence order: loading, unauthenticated,
// required roles, required role, required permission.
func Decide(subject Subject, req Requirement) Decision {
	if subject == nil {
		return Decision{Outcome: OutcomeRedirect, Location: PublicEntryPath}
	}
	if subject.Loading() {
		return Decision{Outcome: OutcomePending}
	}
	if !subject.IsAuthenticated() {
		return Decision{Outcome: OutcomeRedirect, Location: PublicEntryPath}
	}
	if len(req.Roles) > 0 {
		if !subject.HasRole(req.Roles...) {
			return Decision{
				Outcome: OutcomeDeny,
				Message: fmt.Sprintf("You need one of the following roles to access this page: %s.", joinLabels(req.Roles)),
			}
		}
	} else if req.Role != "" {
		if !subject.HasRole(req.Role) {
			return Decision{
				Outcome: OutcomeDeny,
				Message: fmt.Sprintf("You need the %s role to access this page.", label(req.Role)),
			}
		}
	}
	if perm := strings.TrimSpace(req.Permission); perm != "" && !subject.HasPermission(perm) {
		return Decision{
			Outcome: OutcomeDeny,
			Message: fmt.Sprintf("You need the %q permission to access this page.", perm),
		}
	}
	return Decision{Outcome: OutcomeAllow}
}

func joinLabels(roles []RoleName) string {
	labels := make([]string, 0, len(roles))
	for _, r := range roles {
		if l := label(r); l != "" {
			labels = append(labels, l)
		}
	}
	return strings.Join(labels, ", ")
}

func label(r RoleName) string {
	if t := TierOf(r); t > TierOther {
		return t.Label()
	}
	return strings.TrimSpace(string(r))
}
