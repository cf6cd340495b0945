// Package correlation provides the call-correlation table every service
// adapter builds on: a generation-checked slot table that mints one opaque
// Handle per in-flight call and resolves it back to the adapter's
// reply-routing context at most once, from any thread, in any order.
package correlation

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Handle is an opaque correlation token for one in-flight service call. It
// is only meaningful to the Table that minted it; every other component
// passes it through unchanged. The zero Handle is never live.
type Handle struct {
	slot uint32
	gen  uint32
}

// IsZero reports whether the handle is the zero value.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("call(%d:%d)", h.slot, h.gen)
}

type entry[T any] struct {
	gen  uint32
	live bool
	val  T
}

// Table maps live Handles to reply-routing contexts of type T. Insert,
// Resolve, Drop and DropIf are all safe under concurrent use; a Handle
// resolves at most once, and resolving an unknown or already-resolved
// handle fails soft without disturbing other entries.
//
// Slots are recycled through a free list; the generation counter bumps on
// every release so a stale handle to a recycled slot can never alias a new
// call.
type Table[T any] struct {
	mu     sync.Mutex
	slots  []entry[T]
	free   []uint32
	live   int
	recent *lru.Cache[Handle, time.Time]
}

// DefaultRecentSize bounds the ring of recently released handles kept for
// late-response diagnostics.
const DefaultRecentSize = 1024

// NewTable creates an empty table. recentSize bounds the diagnostic ring of
// recently released handles; zero or negative selects DefaultRecentSize.
func NewTable[T any](recentSize int) *Table[T] {
	if recentSize <= 0 {
		recentSize = DefaultRecentSize
	}
	// Error only fires for non-positive sizes, which we just excluded.
	recent, _ := lru.New[Handle, time.Time](recentSize)
	return &Table[T]{recent: recent}
}

// Insert records a new in-flight call and mints its handle.
func (t *Table[T]) Insert(val T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var slot uint32
	if n := len(t.free); n > 0 {
		slot = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, entry[T]{})
		slot = uint32(len(t.slots) - 1)
	}

	e := &t.slots[slot]
	e.gen++
	if e.gen == 0 {
		// Generation wrapped; zero is reserved for dead handles.
		e.gen = 1
	}
	e.live = true
	e.val = val
	t.live++
	return Handle{slot: slot, gen: e.gen}
}

// Resolve returns the context for a live handle and releases it. The second
// return is false for unknown, stale, or already-resolved handles.
func (t *Table[T]) Resolve(h Handle) (T, bool) {
	return t.take(h)
}

// Drop releases a live handle without resolving it, e.g. when the
// originating caller has disappeared. Returns false if the handle was not
// live.
func (t *Table[T]) Drop(h Handle) bool {
	_, ok := t.take(h)
	return ok
}

// DropIf releases every live entry whose context matches pred and returns
// how many were released. Used for bounded cleanup when a transport-level
// connection goes away and all of its calls must be abandoned.
func (t *Table[T]) DropIf(pred func(T) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := 0
	for slot := range t.slots {
		e := &t.slots[slot]
		if e.live && pred(e.val) {
			t.release(uint32(slot), e)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of in-flight calls.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// ReleasedAt reports when a handle was resolved or dropped, if that release
// is still within the diagnostic ring. Adapters use it to tell a late
// response for a completed call apart from a handle that was never ours.
func (t *Table[T]) ReleasedAt(h Handle) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recent.Get(h)
}

func (t *Table[T]) take(h Handle) (T, bool) {
	var zero T

	t.mu.Lock()
	defer t.mu.Unlock()

	if h.IsZero() || int(h.slot) >= len(t.slots) {
		return zero, false
	}
	e := &t.slots[h.slot]
	if !e.live || e.gen != h.gen {
		return zero, false
	}
	val := e.val
	t.release(h.slot, e)
	return val, true
}

// release marks a slot dead and recycles it. Caller holds t.mu.
func (t *Table[T]) release(slot uint32, e *entry[T]) {
	var zero T
	t.recent.Add(Handle{slot: slot, gen: e.gen}, time.Now())
	e.live = false
	e.val = zero
	t.free = append(t.free, slot)
	t.live--
}
