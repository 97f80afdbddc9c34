// Package access holds role membership sets and the pause circuit breaker.
// Roles are independent capability sets; holding one never implies another.
package access

import (
	"OptionEscrow/internal/errs"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Role names a capability.
type Role string

const (
	RoleAdmin         Role = "ADMIN"
	RoleSecurityStaff Role = "SECURITY_STAFF"
	RoleFeeCollector  Role = "FEE_COLLECTOR"
)

// AllRoles lists the known roles in display order.
var AllRoles = []Role{RoleAdmin, RoleSecurityStaff, RoleFeeCollector}

// ParseRole accepts the role name with or without the _ROLE suffix.
func ParseRole(v string) (Role, error) {
	name := strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(v)), "_ROLE")
	for _, r := range AllRoles {
		if string(r) == name {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", v)
}

// Roles is a set of membership sets keyed by role. Not safe for concurrent
// use; the registry serializes access.
type Roles struct {
	members map[Role]map[common.Address]struct{}
}

func NewRoles() *Roles {
	return &Roles{members: make(map[Role]map[common.Address]struct{})}
}

func (r *Roles) Has(role Role, account common.Address) bool {
	_, ok := r.members[role][account]
	return ok
}

// Require returns Unauthorized unless account holds role.
func (r *Roles) Require(role Role, account common.Address) error {
	if !r.Has(role, account) {
		return errs.Unauthorized(errs.ReasonMissingRole, "role=%s account=%s", role, account.Hex())
	}
	return nil
}

// Grant adds account to role. Returns false if it was already a member.
func (r *Roles) Grant(role Role, account common.Address) bool {
	set, ok := r.members[role]
	if !ok {
		set = make(map[common.Address]struct{})
		r.members[role] = set
	}
	if _, exists := set[account]; exists {
		return false
	}
	set[account] = struct{}{}
	return true
}

// Revoke removes account from role. Returns false if it was not a member.
func (r *Roles) Revoke(role Role, account common.Address) bool {
	set := r.members[role]
	if _, exists := set[account]; !exists {
		return false
	}
	delete(set, account)
	return true
}

// Members returns the members of role sorted by address.
func (r *Roles) Members(role Role) []common.Address {
	out := make([]common.Address, 0, len(r.members[role]))
	for a := range r.members[role] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].Hex(), out[j].Hex()) < 0
	})
	return out
}

// Clone returns a deep copy.
func (r *Roles) Clone() *Roles {
	c := NewRoles()
	for role, set := range r.members {
		for a := range set {
			c.Grant(role, a)
		}
	}
	return c
}
