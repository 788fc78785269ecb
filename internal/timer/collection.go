package timer

import (
	"sort"

	"github.com/google/uuid"
)

// Collection is the local replica of a room's timers. Authoritative events
// from the relay overwrite entries unconditionally; optimistic mutations go
// through Mutate, which hands back the prior value for rollback.
//
// The collection itself is not synchronized: all access is expected to
// happen on the owning session's event loop.
type Collection struct {
	byID  map[uuid.UUID]Timer
	order []uuid.UUID // newest first, the display order of the room
}

func NewCollection() *Collection {
	return &Collection{byID: make(map[uuid.UUID]Timer)}
}

// Get returns the timer with the given id, if present.
func (c *Collection) Get(id uuid.UUID) (Timer, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// List returns the timers in display order (newest first).
func (c *Collection) List() []Timer {
	out := make([]Timer, 0, len(c.order))
	for _, id := range c.order {
		if t, ok := c.byID[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (c *Collection) Len() int { return len(c.order) }

// Mutate applies fn to the timer with the given id and returns the value
// before and after the change. The before value is what a rollback must
// restore.
func (c *Collection) Mutate(id uuid.UUID, fn func(Timer) Timer) (before, after Timer, ok bool) {
	before, ok = c.byID[id]
	if !ok {
		return Timer{}, Timer{}, false
	}
	after = fn(before)
	c.byID[id] = after
	return before, after, true
}

// Put inserts or overwrites a timer locally (optimistic create).
func (c *Collection) Put(t Timer) {
	if _, exists := c.byID[t.ID]; !exists {
		c.order = append([]uuid.UUID{t.ID}, c.order...)
	}
	c.byID[t.ID] = t
}

// Remove deletes a timer locally and returns the removed value for
// rollback.
func (c *Collection) Remove(id uuid.UUID) (Timer, bool) {
	t, ok := c.byID[id]
	if !ok {
		return Timer{}, false
	}
	delete(c.byID, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return t, true
}

// ApplyAuthoritative overwrites the local entry with a relay-confirmed
// value, superseding any optimistic state for the same id.
func (c *Collection) ApplyAuthoritative(t Timer) {
	c.Put(t)
}

// ApplyAuthoritativeDelete removes a timer on relay confirmation.
func (c *Collection) ApplyAuthoritativeDelete(id uuid.UUID) {
	c.Remove(id)
}

// Replace swaps the entire replica for a full snapshot from the relay,
// keeping newest-first display order.
func (c *Collection) Replace(timers []Timer) {
	sorted := make([]Timer, len(timers))
	copy(sorted, timers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	c.byID = make(map[uuid.UUID]Timer, len(sorted))
	c.order = c.order[:0]
	for _, t := range sorted {
		c.byID[t.ID] = t
		c.order = append(c.order, t.ID)
	}
}

// Clear drops all local timers, e.g. on room teardown.
func (c *Collection) Clear() {
	c.byID = make(map[uuid.UUID]Timer)
	c.order = nil
}
