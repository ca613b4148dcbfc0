package registry

import (
	"sort"
	"sync"

	"github.com/ent0n29/profileswitch/internal/profile"
)

type ownerEntry struct {
	profiles map[string]profile.Record
	active   string
}

// Registry is the in-memory view of loaded owners: their profiles and which
// one is active. Reads return copies.
type Registry struct {
	mu       sync.RWMutex
	owners   map[string]*ownerEntry
	onChange func(loaded int)
}

func New() *Registry {
	return &Registry{owners: make(map[string]*ownerEntry)}
}

// SetChangeHook is called with the loaded owner count after Load and Unload.
func (r *Registry) SetChangeHook(hook func(loaded int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = hook
}

// Load replaces the owner's entry. An empty active picks the most recently
// used profile.
func (r *Registry) Load(ownerID string, profiles map[string]profile.Record, active string) {
	copied := profile.CloneMap(profiles)
	if _, ok := copied[active]; !ok {
		active = profile.MostRecentlyUsed(copied)
	}

	r.mu.Lock()
	r.owners[ownerID] = &ownerEntry{profiles: copied, active: active}
	n, hook := len(r.owners), r.onChange
	r.mu.Unlock()
	if hook != nil {
		hook(n)
	}
}

func (r *Registry) Unload(ownerID string) bool {
	r.mu.Lock()
	_, ok := r.owners[ownerID]
	delete(r.owners, ownerID)
	n, hook := len(r.owners), r.onChange
	r.mu.Unlock()
	if ok && hook != nil {
		hook(n)
	}
	return ok
}

func (r *Registry) Loaded(ownerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.owners[ownerID]
	return ok
}

func (r *Registry) Get(ownerID, name string) (profile.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.owners[ownerID]
	if !ok {
		return profile.Record{}, profile.ErrOwnerNotFound
	}
	rec, ok := e.profiles[name]
	if !ok {
		return profile.Record{}, profile.ErrNotFound
	}
	return *rec.Clone(), nil
}

func (r *Registry) Has(ownerID, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.owners[ownerID]
	if !ok {
		return false
	}
	_, ok = e.profiles[name]
	return ok
}

func (r *Registry) ListNames(ownerID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.owners[ownerID]
	if !ok {
		return nil, profile.ErrOwnerNotFound
	}
	return profile.SortedNames(e.profiles), nil
}

func (r *Registry) Count(ownerID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.owners[ownerID]
	if !ok {
		return 0
	}
	return len(e.profiles)
}

func (r *Registry) Active(ownerID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.owners[ownerID]
	if !ok {
		return "", profile.ErrOwnerNotFound
	}
	return e.active, nil
}

func (r *Registry) SetActive(ownerID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.owners[ownerID]
	if !ok {
		return profile.ErrOwnerNotFound
	}
	if _, ok := e.profiles[name]; !ok {
		return profile.ErrNotFound
	}
	e.active = name
	return nil
}

// Put adds or replaces one profile of a loaded owner.
func (r *Registry) Put(rec profile.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.owners[rec.OwnerID]
	if !ok {
		return profile.ErrOwnerNotFound
	}
	e.profiles[rec.Name] = *rec.Clone()
	return nil
}

// Remove deletes a profile; the active profile cannot be removed.
func (r *Registry) Remove(ownerID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.owners[ownerID]
	if !ok {
		return profile.ErrOwnerNotFound
	}
	if _, ok := e.profiles[name]; !ok {
		return profile.ErrNotFound
	}
	if e.active == name {
		return profile.ErrActiveProfile
	}
	delete(e.profiles, name)
	return nil
}

// Owners lists loaded owner IDs in ascending order.
func (r *Registry) Owners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.owners))
	for id := range r.owners {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) LoadedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}
