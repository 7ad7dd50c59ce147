package policy

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry is the closed set of resources and the actions each accepts.
// Roles are checked against it before they can be stored, and it is frozen
// once setup completes.
type Registry struct {
	mu        sync.RWMutex
	resources map[string]map[string]struct{}
	frozen    bool
}

// NewRegistry returns an empty, unfrozen Registry.
func NewRegistry() *Registry {
	return &Registry{
		resources: make(map[string]map[string]struct{}),
	}
}

// Register adds a resource with its actions. Registering an existing
// resource adds to its action set. Must be called before Freeze.
func (r *Registry) Register(resource string, actions ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	if resource == "" {
		return errors.New("resource name cannot be empty")
	}
	if len(actions) == 0 {
		return errors.New("resource must declare at least one action")
	}

	set, ok := r.resources[resource]
	if !ok {
		set = make(map[string]struct{}, len(actions))
		r.resources[resource] = set
	}
	for _, a := range actions {
		if a == "" {
			return errors.New("action name cannot be empty")
		}
		set[a] = struct{}{}
	}
	return nil
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Count returns the number of registered resources.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.resources)
}

// Known reports whether resource is registered.
func (r *Registry) Known(resource string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.resources[resource]
	return ok
}

// Actions returns the sorted actions of resource.
func (r *Registry) Actions(resource string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.resources[resource]
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// ValidateRole checks every permission of role against the registry.
func (r *Registry) ValidateRole(role *Role) error {
	if role == nil || role.ID == "" || role.Name == "" {
		return fmt.Errorf("%w: id and name required", ErrInvalidRole)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range role.Permissions {
		set, ok := r.resources[p.Resource]
		if !ok {
			return fmt.Errorf("%w: %q in permission %q of role %q", ErrUnknownResource, p.Resource, p.Name, role.Name)
		}
		if len(p.Actions) == 0 {
			return fmt.Errorf("%w: permission %q has no actions", ErrInvalidRole, p.Name)
		}
		for _, a := range p.Actions {
			if _, ok := set[a]; !ok {
				return fmt.Errorf("%w: %q on %q in permission %q", ErrUnknownAction, a, p.Resource, p.Name)
			}
		}
	}
	return nil
}
