package backend

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ent0n29/profileswitch/internal/profile"
)

var errHandleClosed = errors.New("backend handle closed")

// FailHook lets tests inject backend failures. op is one of "load", "save",
// "delete" or "exists".
type FailHook func(op string, key profile.Key) error

// InMemoryData is process-local profile storage shared by every handle opened
// from it. Useful for local/dev and tests.
type InMemoryData struct {
	mu       sync.RWMutex
	records  map[string]map[string]profile.Record
	failHook FailHook
	calls    map[string]int
}

func NewInMemoryData() *InMemoryData {
	return &InMemoryData{
		records: make(map[string]map[string]profile.Record),
		calls:   make(map[string]int),
	}
}

func (d *InMemoryData) Opener() Opener {
	return func(context.Context) (Backend, error) {
		return &InMemoryBackend{data: d}, nil
	}
}

func (d *InMemoryData) SetFailHook(hook FailHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failHook = hook
}

// Calls reports how many times op reached the data, failed attempts included.
func (d *InMemoryData) Calls(op string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.calls[op]
}

// Get reads a record directly, bypassing hooks.
func (d *InMemoryData) Get(ownerID, name string) (profile.Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.records[ownerID][name]
	if !ok {
		return profile.Record{}, false
	}
	return *rec.Clone(), true
}

func (d *InMemoryData) check(op string, key profile.Key) error {
	d.calls[op]++
	if d.failHook == nil {
		return nil
	}
	return d.failHook(op, key)
}

// InMemoryBackend is a single handle onto InMemoryData.
type InMemoryBackend struct {
	data   *InMemoryData
	mu     sync.Mutex
	closed bool
}

func (b *InMemoryBackend) ensureOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errHandleClosed
	}
	return nil
}

func (b *InMemoryBackend) LoadProfiles(_ context.Context, ownerID string) (map[string]profile.Record, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	d := b.data
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("load", profile.Key{OwnerID: ownerID}); err != nil {
		return nil, err
	}
	return profile.CloneMap(d.records[ownerID]), nil
}

func (b *InMemoryBackend) SaveProfile(_ context.Context, record profile.Record) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	d := b.data
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("save", record.Key()); err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	owned, ok := d.records[record.OwnerID]
	if !ok {
		owned = make(map[string]profile.Record)
		d.records[record.OwnerID] = owned
	}
	if prev, ok := owned[record.Name]; ok {
		record.CreatedAt = prev.CreatedAt
	}
	owned[record.Name] = *record.Clone()
	return nil
}

func (b *InMemoryBackend) DeleteProfile(_ context.Context, ownerID, name string) (bool, error) {
	if err := b.ensureOpen(); err != nil {
		return false, err
	}
	d := b.data
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("delete", profile.Key{OwnerID: ownerID, Name: name}); err != nil {
		return false, err
	}
	owned := d.records[ownerID]
	if _, ok := owned[name]; !ok {
		return false, nil
	}
	delete(owned, name)
	if len(owned) == 0 {
		delete(d.records, ownerID)
	}
	return true, nil
}

func (b *InMemoryBackend) ProfileExists(_ context.Context, ownerID, name string) (bool, error) {
	if err := b.ensureOpen(); err != nil {
		return false, err
	}
	d := b.data
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("exists", profile.Key{OwnerID: ownerID, Name: name}); err != nil {
		return false, err
	}
	_, ok := d.records[ownerID][name]
	return ok, nil
}

func (b *InMemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
