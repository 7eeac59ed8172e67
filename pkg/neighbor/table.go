package neighbor

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wisp-protocol/wisp-go/pkg/mesh"
)

// Table limits and defaults.
const (
	// DefaultMaxNeighbors is the default maximum neighbor count.
	DefaultMaxNeighbors = 32

	// DefaultChildTimeout is the default child liveness timeout.
	DefaultChildTimeout = 240 * time.Second

	// childIndexBits is the number of short-address bits carrying the
	// child index; the remaining high bits identify the parent router.
	childIndexBits = 10

	// maxChildIndex is the highest assignable child index.
	maxChildIndex = 1<<childIndexBits - 1

	// MaxRouterID is the highest assignable router ID. Higher IDs would
	// collide with the reserved short address range.
	MaxRouterID = 62
)

// RouterBase returns the router base of a short address: the high bits
// identifying the owning router, with the child index cleared.
func RouterBase(addr mesh.ShortAddress) mesh.ShortAddress {
	return addr &^ mesh.ShortAddress(maxChildIndex)
}

// RouterShort returns the short address owned by the given router ID.
func RouterShort(id uint8) mesh.ShortAddress {
	return mesh.ShortAddress(id) << childIndexBits
}

// RouterID returns the router ID encoded in a short address.
func RouterID(addr mesh.ShortAddress) uint8 {
	return uint8(addr >> childIndexBits)
}

// Table errors.
var (
	// ErrTableFull indicates the table is at capacity. The request is
	// rejected; existing neighbors are never evicted.
	ErrTableFull = errors.New("neighbor table full")

	// ErrNoChildAddress indicates no free child index under the current
	// router base.
	ErrNoChildAddress = errors.New("no free child short address")
)

// Kind is the relationship of a neighbor to this node.
type Kind uint8

const (
	// KindChild is a node attached through this node.
	KindChild Kind = iota

	// KindRouter is a peer router in the same partition.
	KindRouter
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindChild:
		return "CHILD"
	case KindRouter:
		return "ROUTER"
	default:
		return "UNKNOWN"
	}
}

// Entry is one registered neighbor.
type Entry struct {
	// ExtAddress is the neighbor's extended address.
	ExtAddress mesh.ExtAddress

	// ShortAddress is the neighbor's short address (assigned by this
	// node for children, self-owned for routers).
	ShortAddress mesh.ShortAddress

	// LinkMode is the neighbor's advertised link-mode configuration.
	LinkMode mesh.LinkMode

	// Kind is the relationship (child or peer router).
	Kind Kind

	// LastSeen is when the neighbor was last heard from.
	LastSeen time.Time

	// Timeout is the liveness window; the entry expires at
	// LastSeen.Add(Timeout).
	Timeout time.Duration
}

// Deadline returns the instant the entry expires.
func (e *Entry) Deadline() time.Time {
	return e.LastSeen.Add(e.Timeout)
}

// Config holds table configuration.
type Config struct {
	// MaxNeighbors caps the table size. Zero selects DefaultMaxNeighbors.
	MaxNeighbors int

	// ChildTimeout is the liveness timeout for children. Zero selects
	// DefaultChildTimeout.
	ChildTimeout time.Duration

	// Clock supplies time. Nil selects the real clock.
	Clock clock.Clock
}

// Table tracks attached children and peer routers.
type Table struct {
	clock clock.Clock

	max     int
	timeout time.Duration

	// routerBase is the high-bit pattern shared by this node and its
	// children's short addresses.
	routerBase mesh.ShortAddress

	byExt   map[mesh.ExtAddress]*Entry
	byShort map[mesh.ShortAddress]*Entry

	onChildRemoved func(Entry)
}

// NewTable creates a neighbor table.
func NewTable(cfg Config) *Table {
	if cfg.MaxNeighbors <= 0 {
		cfg.MaxNeighbors = DefaultMaxNeighbors
	}
	if cfg.ChildTimeout <= 0 {
		cfg.ChildTimeout = DefaultChildTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Table{
		clock:   cfg.Clock,
		max:     cfg.MaxNeighbors,
		timeout: cfg.ChildTimeout,
		byExt:   make(map[mesh.ExtAddress]*Entry),
		byShort: make(map[mesh.ShortAddress]*Entry),
	}
}

// OnChildRemoved sets the callback raised for every removed child,
// whether by sweep or explicit detach.
func (t *Table) OnChildRemoved(fn func(Entry)) {
	t.onChildRemoved = fn
}

// SetRouterBase sets the short-address base used for child allocation.
// Called when this node's own short address changes.
func (t *Table) SetRouterBase(base mesh.ShortAddress) {
	t.routerBase = base &^ mesh.ShortAddress(maxChildIndex)
}

// AcceptAttach registers a child or refreshes its liveness, returning
// the assigned short address. isNew reports whether a new entry was
// created (callers raise the child-added event only then).
func (t *Table) AcceptAttach(ext mesh.ExtAddress, mode mesh.LinkMode) (addr mesh.ShortAddress, isNew bool, err error) {
	if existing, ok := t.byExt[ext]; ok {
		existing.LinkMode = mode
		existing.LastSeen = t.clock.Now()
		return existing.ShortAddress, false, nil
	}

	if len(t.byExt) >= t.max {
		return mesh.ShortAddressInvalid, false, fmt.Errorf("%w (%d neighbors)", ErrTableFull, t.max)
	}

	addr, err = t.allocateChildAddress()
	if err != nil {
		return mesh.ShortAddressInvalid, false, err
	}

	entry := &Entry{
		ExtAddress:   ext,
		ShortAddress: addr,
		LinkMode:     mode,
		Kind:         KindChild,
		LastSeen:     t.clock.Now(),
		Timeout:      t.timeout,
	}
	t.byExt[ext] = entry
	t.byShort[addr] = entry
	return addr, true, nil
}

// AddRouter tracks a peer router under its own short address, or
// refreshes it if already present.
func (t *Table) AddRouter(ext mesh.ExtAddress, short mesh.ShortAddress, mode mesh.LinkMode) error {
	if existing, ok := t.byExt[ext]; ok {
		existing.LinkMode = mode
		existing.LastSeen = t.clock.Now()
		return nil
	}
	if len(t.byExt) >= t.max {
		return fmt.Errorf("%w (%d neighbors)", ErrTableFull, t.max)
	}
	entry := &Entry{
		ExtAddress:   ext,
		ShortAddress: short,
		LinkMode:     mode,
		Kind:         KindRouter,
		LastSeen:     t.clock.Now(),
		Timeout:      t.timeout,
	}
	t.byExt[ext] = entry
	t.byShort[short] = entry
	return nil
}

// Refresh extends the liveness of the neighbor with the given short
// address. Returns mesh.ErrNotFound for unknown addresses.
func (t *Table) Refresh(short mesh.ShortAddress) error {
	entry, ok := t.byShort[short]
	if !ok {
		return fmt.Errorf("%w: neighbor %#04x", mesh.ErrNotFound, uint16(short))
	}
	entry.LastSeen = t.clock.Now()
	return nil
}

// Sweep removes every entry whose deadline has passed, raising the
// child-removed callback per removed child. It returns the removed
// entries.
func (t *Table) Sweep() []Entry {
	now := t.clock.Now()
	var removed []Entry
	for ext, entry := range t.byExt {
		if now.Before(entry.Deadline()) {
			continue
		}
		delete(t.byExt, ext)
		delete(t.byShort, entry.ShortAddress)
		removed = append(removed, *entry)
	}

	sort.Slice(removed, func(i, j int) bool {
		return removed[i].ExtAddress.Compare(removed[j].ExtAddress) < 0
	})
	for _, entry := range removed {
		if entry.Kind == KindChild && t.onChildRemoved != nil {
			t.onChildRemoved(entry)
		}
	}
	return removed
}

// Detach immediately removes the neighbor with the given short address.
// A removed child raises the child-removed callback.
func (t *Table) Detach(short mesh.ShortAddress) (Entry, error) {
	entry, ok := t.byShort[short]
	if !ok {
		return Entry{}, fmt.Errorf("%w: neighbor %#04x", mesh.ErrNotFound, uint16(short))
	}
	delete(t.byExt, entry.ExtAddress)
	delete(t.byShort, short)
	if entry.Kind == KindChild && t.onChildRemoved != nil {
		t.onChildRemoved(*entry)
	}
	return *entry, nil
}

// Get returns the entry for an extended address.
func (t *Table) Get(ext mesh.ExtAddress) (Entry, bool) {
	entry, ok := t.byExt[ext]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// GetByShort returns the entry for a short address.
func (t *Table) GetByShort(short mesh.ShortAddress) (Entry, bool) {
	entry, ok := t.byShort[short]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Count returns the number of registered neighbors.
func (t *Table) Count() int {
	return len(t.byExt)
}

// CountKind returns the number of neighbors of the given kind.
func (t *Table) CountKind(kind Kind) int {
	n := 0
	for _, entry := range t.byExt {
		if entry.Kind == kind {
			n++
		}
	}
	return n
}

// List returns all entries sorted by extended address.
func (t *Table) List() []Entry {
	out := make([]Entry, 0, len(t.byExt))
	for _, entry := range t.byExt {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExtAddress.Compare(out[j].ExtAddress) < 0
	})
	return out
}

// Clear drops every entry without raising callbacks. Used on disable,
// where derived state is cleared synchronously and no per-child events
// are emitted.
func (t *Table) Clear() {
	t.byExt = make(map[mesh.ExtAddress]*Entry)
	t.byShort = make(map[mesh.ShortAddress]*Entry)
}

// allocateChildAddress finds the lowest free child index under the
// router base.
func (t *Table) allocateChildAddress() (mesh.ShortAddress, error) {
	for idx := 1; idx <= maxChildIndex; idx++ {
		candidate := t.routerBase | mesh.ShortAddress(idx)
		if !candidate.Valid() {
			continue
		}
		if _, inUse := t.byShort[candidate]; !inUse {
			return candidate, nil
		}
	}
	return mesh.ShortAddressInvalid, ErrNoChildAddress
}
