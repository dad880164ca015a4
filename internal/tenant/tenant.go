// Package tenant holds the tenant registry and the shard router.
//
// The registry is a small, always-available Postgres database mapping each
// tenant to its display name, routing domain, lifecycle status, and shard.
// The router turns a resolved tenant identifier into a handle on that
// tenant's shard, caching the read-mostly mapping in an immutable snapshot
// that is swapped atomically on invalidation.
package tenant

import (
	"errors"
	"fmt"
)

// Status is a tenant's lifecycle state. Tenants are never deleted, only
// suspended or marked inactive.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusInactive  Status = "inactive"
)

// ErrUnavailable is returned when a tenant is unknown, suspended, or
// inactive. No write is ever attempted for an unavailable tenant.
var ErrUnavailable = errors.New("tenant unavailable")

// Tenant is a registry row.
type Tenant struct {
	ID           string
	Name         string
	Domain       string
	Shard        int // 1-based shard number, assigned at provisioning, stable
	Status       Status
	ContactEmail string
}

// Available reports whether the tenant may be routed to.
func (t *Tenant) Available() bool {
	return t.Status == StatusActive
}

func validStatus(s Status) error {
	switch s {
	case StatusActive, StatusSuspended, StatusInactive:
		return nil
	}
	return fmt.Errorf("invalid tenant status %q", s)
}
