package accessory

import (
	"sync"
)

// Registry holds the set of known device records in insertion order.
// Mutations come only from the manager's run loop, and every record-field
// write goes through Mutate (or the lock-holding Insert/Remove paths), so
// UI readers taking snapshots under the read lock never observe a record
// mid-mutation.
type Registry struct {
	mu      sync.RWMutex
	records []*Record

	// onChange fires after every successful insert or removal, carrying
	// the affected position and id.
	onChange func(position int, id string, inserted bool)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// SetChangeListener registers the registry-changed callback. Must be set
// before the registry is mutated.
func (g *Registry) SetChangeListener(fn func(position int, id string, inserted bool)) {
	g.onChange = fn
}

// Insert appends a record and returns its assigned position.
// Fails with ErrDuplicateDevice if the unique id is already present.
func (g *Registry) Insert(r *Record) (int, error) {
	g.mu.Lock()
	for _, existing := range g.records {
		if existing.UniqueID == r.UniqueID {
			g.mu.Unlock()
			return 0, ErrDuplicateDevice
		}
	}
	g.records = append(g.records, r)
	position := len(g.records) - 1
	g.mu.Unlock()

	if g.onChange != nil {
		g.onChange(position, r.UniqueID, true)
	}
	return position, nil
}

// Remove deletes the record at position and releases its channel handles.
// Fails with ErrIndexOutOfRange if position is invalid.
func (g *Registry) Remove(position int) error {
	g.mu.Lock()
	if position < 0 || position >= len(g.records) {
		g.mu.Unlock()
		return ErrIndexOutOfRange
	}
	removed := g.records[position]
	removed.clearChannels()
	g.records = append(g.records[:position], g.records[position+1:]...)
	g.mu.Unlock()

	if g.onChange != nil {
		g.onChange(position, removed.UniqueID, false)
	}
	return nil
}

// Mutate runs fn under the registry write lock. All record-field writes
// happen inside Mutate so Snapshot readers are excluded while a record
// changes. fn must not call other registry methods.
func (g *Registry) Mutate(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn()
}

// Lookup returns the record for id, or nil if absent. Never mutates.
func (g *Registry) Lookup(id string) *Record {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, r := range g.records {
		if r.UniqueID == id {
			return r
		}
	}
	return nil
}

// IndexOf returns the current position of id, or -1 if absent.
func (g *Registry) IndexOf(id string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for i, r := range g.records {
		if r.UniqueID == id {
			return i
		}
	}
	return -1
}

// Len returns the number of records.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}

// Snapshot returns copies of the current records for UI consumption.
// Safe against concurrent mutation: the result is detached from registry
// state and never yields dangling references.
func (g *Registry) Snapshot() []DeviceView {
	g.mu.RLock()
	defer g.mu.RUnlock()
	views := make([]DeviceView, 0, len(g.records))
	for _, r := range g.records {
		views = append(views, r.view())
	}
	return views
}

// all returns a stable copy of the record pointers for sweep iteration.
// Removal during the sweep cannot corrupt this slice.
func (g *Registry) all() []*Record {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Record, len(g.records))
	copy(out, g.records)
	return out
}
