// Package permission evaluates role-based capabilities for billing-sensitive
// operations. The role table is closed: roles map to fixed capability sets
// and role membership is owned by the external membership collaborator.
package permission

import (
	"context"
	"strings"
)

// Role is a membership role within an application.
type Role string

const (
	// RoleOwner owns the application and its billing relationship.
	RoleOwner Role = "owner"
	// RoleCustomer is a metered end user of the application.
	RoleCustomer Role = "customer"
	// RoleAdmin is a platform operator with every capability.
	RoleAdmin Role = "admin"
)

// Capability is a named permission granted to a role.
type Capability string

const (
	CapabilityManageBilling    Capability = "MANAGE_BILLING"
	CapabilityManageAllAPIKeys Capability = "MANAGE_ALL_API_KEYS"
	CapabilityManageOwnAPIKeys Capability = "MANAGE_OWN_API_KEYS"
	CapabilityViewAllUsage     Capability = "VIEW_ALL_USAGE"
	CapabilityViewOwnUsage     Capability = "VIEW_OWN_USAGE"
	CapabilityEditApp          Capability = "EDIT_APP"
)

// roleCapabilities is the fixed role to capability-set table.
var roleCapabilities = map[Role]map[Capability]struct{}{
	RoleOwner: {
		CapabilityManageBilling:    {},
		CapabilityManageAllAPIKeys: {},
		CapabilityManageOwnAPIKeys: {},
		CapabilityViewAllUsage:     {},
		CapabilityViewOwnUsage:     {},
		CapabilityEditApp:          {},
	},
	RoleCustomer: {
		CapabilityManageOwnAPIKeys: {},
		CapabilityViewOwnUsage:     {},
	},
}

// ParseRole returns the role for a stored value.
func ParseRole(value string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleOwner:
		return RoleOwner, true
	case RoleCustomer:
		return RoleCustomer, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

// ParseCapability returns the capability for a request value.
func ParseCapability(value string) (Capability, bool) {
	capability := Capability(strings.ToUpper(strings.TrimSpace(value)))
	switch capability {
	case CapabilityManageBilling,
		CapabilityManageAllAPIKeys,
		CapabilityManageOwnAPIKeys,
		CapabilityViewAllUsage,
		CapabilityViewOwnUsage,
		CapabilityEditApp:
		return capability, true
	}
	return "", false
}

// Has reports whether the role grants the capability.
func (r Role) Has(c Capability) bool {
	if r == RoleAdmin {
		return true
	}
	_, ok := roleCapabilities[r][c]
	return ok
}

// MembershipSource resolves a user's role for an application.
type MembershipSource interface {
	MembershipRole(ctx context.Context, userID, appID string) (Role, bool, error)
}

// Evaluator answers capability checks against role memberships.
type Evaluator struct {
	memberships MembershipSource
}

// NewEvaluator builds an evaluator over the given membership source.
func NewEvaluator(memberships MembershipSource) *Evaluator {
	return &Evaluator{memberships: memberships}
}

// Allowed reports whether the user holds the capability on the application.
//
// A missing membership and a missing application both evaluate to false; the
// caller learns nothing about which one it was.
func (e *Evaluator) Allowed(ctx context.Context, userID, appID string, c Capability) (bool, error) {
	if e == nil || e.memberships == nil {
		return false, nil
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(appID) == "" {
		return false, nil
	}
	role, ok, err := e.memberships.MembershipRole(ctx, userID, appID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return role.Has(c), nil
}
