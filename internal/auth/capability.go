package auth

import (
	"fmt"
	"strings"
)

// Capability is a (resource, action) pair gating one operation.
type Capability struct {
	Resource string
	Action   string
}

func (c Capability) String() string {
	return c.Resource + ":" + c.Action
}

// ParseCapability parses "resource:action".
func ParseCapability(raw string) (Capability, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Capability{}, fmt.Errorf("%w: capability must be resource:action", ErrInvalidInput)
	}
	return Capability{Resource: parts[0], Action: parts[1]}, nil
}

// Capabilities used across the HTTP surface.
var (
	CapTransactionsRead  = Capability{Resource: "transactions", Action: "read"}
	CapTransactionsWrite = Capability{Resource: "transactions", Action: "write"}
	CapModelsRead        = Capability{Resource: "models", Action: "read"}
	CapModelsWrite       = Capability{Resource: "models", Action: "write"}
	CapUsersRead         = Capability{Resource: "user-management", Action: "read"}
	CapUsersWrite        = Capability{Resource: "user-management", Action: "write"}
	CapAuditRead         = Capability{Resource: "audit", Action: "read"}
)

// roleGrants is the static role-to-capability table. "*" is a wildcard for
// either side of the pair.
var roleGrants = map[Role][]Capability{
	RoleAdmin: {
		{Resource: "*", Action: "*"},
	},
	RoleAnalyst: {
		CapTransactionsRead,
		CapTransactionsWrite,
		CapModelsRead,
		CapModelsWrite,
	},
	RoleViewer: {
		{Resource: "*", Action: "read"},
	},
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	// Capability is the denied capability name, set only on deny. It is the
	// one piece of policy surfaced to callers.
	Capability string
}

// Authorize maps a role and a required capability to an allow/deny decision.
// Pure function of the static table; it performs no I/O and emits no audit.
// The pipeline records denials.
func Authorize(role Role, required Capability) Decision {
	for _, grant := range roleGrants[role] {
		if matches(grant.Resource, required.Resource) && matches(grant.Action, required.Action) {
			return Decision{Allowed: true}
		}
	}
	return Decision{Allowed: false, Capability: required.String()}
}

// CapabilitiesFor lists the concrete capabilities a role holds, with
// wildcards expanded against the known capability set. Used by /v1/me.
func CapabilitiesFor(role Role) []string {
	known := []Capability{
		CapTransactionsRead, CapTransactionsWrite,
		CapModelsRead, CapModelsWrite,
		CapUsersRead, CapUsersWrite,
		CapAuditRead,
	}
	var out []string
	for _, c := range known {
		if Authorize(role, c).Allowed {
			out = append(out, c.String())
		}
	}
	return out
}

func matches(grant, required string) bool {
	return grant == "*" || grant == required
}
