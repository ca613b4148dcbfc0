package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/ent0n29/profileswitch/internal/profile"
)

func sample() map[string]profile.Record {
	base := time.Unix(1000, 0)
	return map[string]profile.Record{
		"main": {OwnerID: "o1", Name: "main", State: []byte("m"), LastUsedAt: base.Add(time.Hour)},
		"pvp":  {OwnerID: "o1", Name: "pvp", State: []byte("p"), LastUsedAt: base},
	}
}

func TestLoadPicksMostRecentlyUsed(t *testing.T) {
	r := New()
	r.Load("o1", sample(), "")

	active, err := r.Active("o1")
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if active != "main" {
		t.Fatalf("Active() = %q, want %q", active, "main")
	}

	names, err := r.ListNames("o1")
	if err != nil {
		t.Fatalf("ListNames() error = %v", err)
	}
	if len(names) != 2 || names[0] != "main" || names[1] != "pvp" {
		t.Fatalf("ListNames() = %v, want [main pvp]", names)
	}
}

func TestLoadHonoursExplicitActive(t *testing.T) {
	r := New()
	r.Load("o1", sample(), "pvp")
	if active, _ := r.Active("o1"); active != "pvp" {
		t.Fatalf("Active() = %q, want %q", active, "pvp")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := New()
	r.Load("o1", sample(), "")
	rec, err := r.Get("o1", "main")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	rec.State[0] = 'x'

	again, _ := r.Get("o1", "main")
	if string(again.State) != "m" {
		t.Fatalf("State = %q, want %q", again.State, "m")
	}
}

func TestSetActiveAndRemove(t *testing.T) {
	r := New()
	r.Load("o1", sample(), "main")

	if err := r.SetActive("o1", "missing"); !errors.Is(err, profile.ErrNotFound) {
		t.Fatalf("SetActive(missing) error = %v, want ErrNotFound", err)
	}
	if err := r.Remove("o1", "main"); !errors.Is(err, profile.ErrActiveProfile) {
		t.Fatalf("Remove(active) error = %v, want ErrActiveProfile", err)
	}
	if err := r.SetActive("o1", "pvp"); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}
	if err := r.Remove("o1", "main"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if r.Has("o1", "main") {
		t.Fatalf("Has(main) = true after Remove")
	}
}

func TestUnknownOwner(t *testing.T) {
	r := New()
	if _, err := r.Active("ghost"); !errors.Is(err, profile.ErrOwnerNotFound) {
		t.Fatalf("Active() error = %v, want ErrOwnerNotFound", err)
	}
	if err := r.Put(profile.Record{OwnerID: "ghost", Name: "x"}); !errors.Is(err, profile.ErrOwnerNotFound) {
		t.Fatalf("Put() error = %v, want ErrOwnerNotFound", err)
	}
	if r.Unload("ghost") {
		t.Fatalf("Unload(ghost) = true, want false")
	}
}

func TestChangeHookTracksLoadedOwners(t *testing.T) {
	r := New()
	var last int
	r.SetChangeHook(func(n int) { last = n })

	r.Load("o1", sample(), "")
	r.Load("o2", nil, "")
	if last != 2 {
		t.Fatalf("hook = %d, want 2", last)
	}
	r.Unload("o1")
	if last != 1 {
		t.Fatalf("hook = %d, want 1", last)
	}
	if got := r.Owners(); len(got) != 1 || got[0] != "o2" {
		t.Fatalf("Owners() = %v, want [o2]", got)
	}
}
