package pim

import (
	"fmt"
	"sync"
)

// Role classifies a Check as participating in identity matching (Key)
// or only in full-equality comparison (Conflict).
type Role int

const (
	Key Role = iota
	Conflict
)

// Check is one entry in the per-item-type check registry.
type Check struct {
	FieldName string
	Role      Role
	Enabled   bool
}

// Registry is the process-wide, per-item-type check configuration. It
// is genuinely shared mutable state: callers must not mutate it while
// any streaming iterator or sync run that reads it is in flight.
type Registry struct {
	mu     sync.RWMutex
	checks map[Type][]*Check
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{checks: map[Type][]*Check{}}
}

// Add appends a new check for the given item type. It fails if a check
// with the same field name already exists for that type.
func (r *Registry) Add(t Type, fieldName string, role Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.checks[t] {
		if c.FieldName == fieldName {
			return fmt.Errorf("pim: check %q already registered for %s", fieldName, t)
		}
	}
	r.checks[t] = append(r.checks[t], &Check{FieldName: fieldName, Role: role, Enabled: true})
	return nil
}

// Remove deletes the named check for the given item type, if present.
func (r *Registry) Remove(t Type, fieldName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	checks := r.checks[t]
	for i, c := range checks {
		if c.FieldName == fieldName {
			r.checks[t] = append(checks[:i], checks[i+1:]...)
			return
		}
	}
}

// Disable excludes a check (in practice, a Conflict-role field) from
// equality comparison until Enable or EnableAll is called. It is a
// run-scoped exclusion, not a permanent removal.
func (r *Registry) Disable(t Type, fieldName string) {
	r.setEnabled(t, fieldName, false)
}

// Enable reverses Disable for a single check.
func (r *Registry) Enable(t Type, fieldName string) {
	r.setEnabled(t, fieldName, true)
}

func (r *Registry) setEnabled(t Type, fieldName string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.checks[t] {
		if c.FieldName == fieldName {
			c.Enabled = enabled
			return
		}
	}
}

// EnableAll re-enables every check for the given item type.
func (r *Registry) EnableAll(t Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.checks[t] {
		c.Enabled = true
	}
}

// GetAll returns a snapshot copy of the checks registered for t, in
// registration order.
func (r *Registry) GetAll(t Type) []Check {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Check, len(r.checks[t]))
	for i, c := range r.checks[t] {
		out[i] = *c
	}
	return out
}

// disabledFieldNames returns the set of currently-disabled check field
// names for t (scanned fresh each call, never cached, since Disable/
// Enable may run between phases).
func (r *Registry) disabledFieldNames(t Type) map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]bool{}
	for _, c := range r.checks[t] {
		if !c.Enabled {
			out[c.FieldName] = true
		}
	}
	return out
}
