// Package location is the in-memory location index of public profiles.
// Only key based insert/update/query is provided; the cache stores the
// per-account iterator state handed out by ResetIterator.
package location

import (
	"sync"

	"github.com/and161185/livesync/internal/model"
	"github.com/gofrs/uuid/v5"
)

// IteratorState is the position of one account's profile browsing iterator.
type IteratorState struct {
	Origin model.LocationKey
	Step   uint32
}

// Index is the location index contract consumed by the cache.
type Index interface {
	// ResetIterator returns a fresh iterator state starting from key.
	ResetIterator(prev IteratorState, key model.LocationKey) IteratorState
	// Update moves id from the prev cell to next. A nil prev inserts.
	Update(id uuid.UUID, prev *model.LocationKey, next model.LocationKey)
	// Remove deletes id from the cell.
	Remove(id uuid.UUID, key model.LocationKey)
	// Query returns the ids stored in the cell.
	Query(key model.LocationKey) []uuid.UUID
}

// Grid is a map backed Index keyed by cell.
type Grid struct {
	mu    sync.RWMutex
	cells map[model.LocationKey]map[uuid.UUID]struct{}
}

var _ Index = (*Grid)(nil)

// NewGrid constructs an empty index.
func NewGrid() *Grid {
	return &Grid{cells: make(map[model.LocationKey]map[uuid.UUID]struct{})}
}

// ResetIterator implements Index.
func (g *Grid) ResetIterator(_ IteratorState, key model.LocationKey) IteratorState {
	return IteratorState{Origin: key}
}

// Update implements Index.
func (g *Grid) Update(id uuid.UUID, prev *model.LocationKey, next model.LocationKey) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev != nil {
		g.removeLocked(id, *prev)
	}
	cell, ok := g.cells[next]
	if !ok {
		cell = make(map[uuid.UUID]struct{})
		g.cells[next] = cell
	}
	cell[id] = struct{}{}
}

// Remove implements Index.
func (g *Grid) Remove(id uuid.UUID, key model.LocationKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(id, key)
}

func (g *Grid) removeLocked(id uuid.UUID, key model.LocationKey) {
	cell, ok := g.cells[key]
	if !ok {
		return
	}
	delete(cell, id)
	if len(cell) == 0 {
		delete(g.cells, key)
	}
}

// Query implements Index.
func (g *Grid) Query(key model.LocationKey) []uuid.UUID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cell := g.cells[key]
	out := make([]uuid.UUID, 0, len(cell))
	for id := range cell {
		out = append(out, id)
	}
	return out
}
