package profile

import (
	"sort"
	"time"

	"github.com/huandu/go-clone"
)

// Key identifies one profile of one owner.
type Key struct {
	OwnerID string
	Name    string
}

// String renders the cache key form "owner:name".
func (k Key) String() string {
	return k.OwnerID + ":" + k.Name
}

// Record is a named, persisted snapshot of an owner's live state. State is
// opaque to this package; the host's snapshot provider owns its encoding.
type Record struct {
	OwnerID    string    `json:"owner_id"`
	Name       string    `json:"name"`
	State      []byte    `json:"state,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

func (r Record) Key() Key {
	return Key{OwnerID: r.OwnerID, Name: r.Name}
}

// Clone returns a deep copy so callers never share the State buffer.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return clone.Clone(r).(*Record)
}

// CloneMap deep-copies a name -> record map.
func CloneMap(in map[string]Record) map[string]Record {
	out := make(map[string]Record, len(in))
	for name, rec := range in {
		out[name] = *rec.Clone()
	}
	return out
}

// SortedNames returns the keys of profiles in ascending order.
func SortedNames(profiles map[string]Record) []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MostRecentlyUsed picks the profile with the latest LastUsedAt, breaking
// ties by name so the choice is stable.
func MostRecentlyUsed(profiles map[string]Record) string {
	best := ""
	var bestAt time.Time
	for _, name := range SortedNames(profiles) {
		at := profiles[name].LastUsedAt
		if best == "" || at.After(bestAt) {
			best = name
			bestAt = at
		}
	}
	return best
}
