package netdata

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/wisp-protocol/wisp-go/pkg/mesh"
	"github.com/wisp-protocol/wisp-go/pkg/wire"
)

// DefaultSizeBudget is the default serialized-size budget in bytes. It
// corresponds to the mesh payload reserved for network data.
const DefaultSizeBudget = 254

// Store errors.
var (
	// ErrSizeBudgetExceeded indicates stable data alone would exceed the
	// size budget. The rejected mutation left the store unchanged.
	ErrSizeBudgetExceeded = errors.New("network data size budget exceeded")

	// ErrInconsistent indicates an incremental update could not be
	// reconciled with the store's state. The caller should request a
	// full snapshot.
	ErrInconsistent = errors.New("network data inconsistent")
)

// slot is one origin's record for one prefix, with insertion bookkeeping.
type slot struct {
	entry wire.NetDataEntry
	local bool   // registered by this node, survives full snapshots
	seq   uint64 // insertion order, for eviction age
}

// Store holds the replicated network-data set for one node.
// It is guarded by a single mutex, matching the engine's
// single-logical-thread discipline.
type Store struct {
	mu sync.Mutex

	budget      int
	localOrigin mesh.ShortAddress

	// entries maps each prefix to a small ordered collection of
	// per-origin slots. The external view is derived by projection.
	entries map[mesh.Prefix][]slot

	version       uint32
	stableVersion uint32
	nextSeq       uint64
}

// NewStore creates a store with the given serialized-size budget.
// A budget of 0 selects DefaultSizeBudget.
func NewStore(budget int) *Store {
	if budget <= 0 {
		budget = DefaultSizeBudget
	}
	return &Store{
		budget:      budget,
		localOrigin: mesh.ShortAddressInvalid,
		entries:     make(map[mesh.Prefix][]slot),
	}
}

// SetLocalOrigin records the node's short address and restamps local
// entries with it. Called when a short address is assigned or revoked.
func (s *Store) SetLocalOrigin(origin mesh.ShortAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.localOrigin = origin
	for prefix, slots := range s.entries {
		for i := range slots {
			if slots[i].local {
				slots[i].entry.Key.Origin = origin
			}
		}
		s.entries[prefix] = slots
	}
}

// RegisterLocal adds or replaces this node's record for the entry's
// prefix. The entry's origin is stamped with the local origin. On a
// budget violation that eviction cannot resolve, the store is left
// unchanged and ErrSizeBudgetExceeded is returned.
//
// Versions are leader-owned and do not change here; the caller sends
// the registration upward and adopts the version from the resulting
// push (a leader bumps explicitly via BumpVersion).
func (s *Store) RegisterLocal(entry wire.NetDataEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Key.Origin = s.localOrigin

	saved := s.cloneEntries()
	s.put(entry, true)
	if err := s.evictToBudget(); err != nil {
		s.entries = saved
		return err
	}
	return nil
}

// WithdrawLocal removes this node's record for the given prefix.
// Returns mesh.ErrNotFound if no local record for the prefix exists.
// Like RegisterLocal, it leaves the versions untouched.
func (s *Store) WithdrawLocal(prefix mesh.Prefix) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slots := s.entries[prefix]
	for i := range slots {
		if slots[i].local {
			s.removeSlot(prefix, i)
			return nil
		}
	}
	return fmt.Errorf("%w: no local entry for %s", mesh.ErrNotFound, prefix)
}

// ApplyUpdate applies a registration received by the leader: entries
// are inserted under their carried origins and removed keys withdrawn.
// Removals of unknown keys are ignored (the origin may already have
// been swept). The versions are bumped on success; the caller
// broadcasts the resulting delta.
func (s *Store) ApplyUpdate(entries []wire.NetDataEntry, removed []wire.NetDataKey) error {
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.cloneEntries()

	stableTouched := false
	for _, key := range removed {
		slots := s.entries[key.Prefix]
		for i := range slots {
			if slots[i].entry.Key.Origin == key.Origin {
				stableTouched = stableTouched || slots[i].entry.Stable
				s.removeSlot(key.Prefix, i)
				break
			}
		}
	}
	for _, entry := range entries {
		stableTouched = stableTouched || entry.Stable
		s.put(entry, false)
	}

	if err := s.evictToBudget(); err != nil {
		s.entries = saved
		return err
	}

	s.bump(stableTouched)
	return nil
}

// BumpVersion advances the data version, and the stable version too
// when stable data was touched. Leader-only: replicas adopt versions
// from pushes instead.
func (s *Store) BumpVersion(stableTouched bool) (version, stableVersion uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bump(stableTouched)
	return s.version, s.stableVersion
}

// MergeSnapshot applies a full or incremental push from the parent or
// leader. A full snapshot replaces every remote-origin record; local
// records survive. An incremental push must directly follow the store's
// current version; otherwise, or if it withdraws an unknown entry,
// ErrInconsistent is returned and the store is unchanged.
func (s *Store) MergeSnapshot(push *wire.NetDataPush) error {
	for i := range push.Entries {
		if err := push.Entries[i].Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.cloneEntries()
	savedVersion, savedStable := s.version, s.stableVersion

	if push.Full {
		// Drop all remote rows, keep local ones.
		for prefix, slots := range s.entries {
			kept := slots[:0]
			for _, sl := range slots {
				if sl.local {
					kept = append(kept, sl)
				}
			}
			if len(kept) == 0 {
				delete(s.entries, prefix)
			} else {
				s.entries[prefix] = kept
			}
		}
	} else {
		// Duplicate delivery of the current version is a no-op.
		if push.Version == s.version {
			return nil
		}
		if push.Version != s.version+1 {
			return fmt.Errorf("%w: push version %d does not follow %d",
				ErrInconsistent, push.Version, s.version)
		}
		for _, key := range push.Removed {
			if !s.remove(key) {
				// This node's own withdrawals echo back through the
				// leader after the local row is already gone.
				if key.Origin == s.localOrigin {
					continue
				}
				s.entries = saved
				return fmt.Errorf("%w: withdrawal of unknown entry %s from %#04x",
					ErrInconsistent, key.Prefix, uint16(key.Origin))
			}
		}
	}

	for _, entry := range push.Entries {
		s.put(entry, false)
	}

	if err := s.evictToBudget(); err != nil {
		s.entries = saved
		s.version, s.stableVersion = savedVersion, savedStable
		return err
	}

	s.version = push.Version
	s.stableVersion = push.StableVersion
	return nil
}

// RemoveOrigin removes every record contributed by the given origin,
// e.g. when a child departs. It returns the removed keys and whether
// any of them was stable, for the caller to broadcast as a withdrawal.
func (s *Store) RemoveOrigin(origin mesh.ShortAddress) (removed []wire.NetDataKey, stableTouched bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for prefix, slots := range s.entries {
		kept := slots[:0]
		for _, sl := range slots {
			if !sl.local && sl.entry.Key.Origin == origin {
				removed = append(removed, sl.entry.Key)
				stableTouched = stableTouched || sl.entry.Stable
				continue
			}
			kept = append(kept, sl)
		}
		if len(kept) == 0 {
			delete(s.entries, prefix)
		} else {
			s.entries[prefix] = kept
		}
	}
	return removed, stableTouched
}

// OriginKeys returns the keys contributed by the given origin without
// removing them. Routers use it to forward a departed child's
// withdrawal to the leader; the rows themselves leave the replica when
// the leader's delta comes back.
func (s *Store) OriginKeys(origin mesh.ShortAddress) []wire.NetDataKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []wire.NetDataKey
	for _, slots := range s.entries {
		for _, sl := range slots {
			if !sl.local && sl.entry.Key.Origin == origin {
				keys = append(keys, sl.entry.Key)
			}
		}
	}
	return keys
}

// Clear drops every record and resets the versions. Used on disable.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[mesh.Prefix][]slot)
	s.version = 0
	s.stableVersion = 0
}

// Versions returns the data version and stable-data version.
func (s *Store) Versions() (version, stableVersion uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, s.stableVersion
}

// ViewEntry is one row of the deduplicated merged view: all origins'
// contributions for one prefix projected together.
type ViewEntry struct {
	// Prefix is the advertised prefix.
	Prefix mesh.Prefix

	// Preference is the highest preference among contributing origins.
	Preference int8

	// Stable is set if any contributing origin marked the row stable.
	Stable bool

	// BorderRouter is set if any contribution is a border-router record.
	BorderRouter bool

	// SlaacPreferred, SlaacValid, Dhcp, Configure, and DefaultRoute are
	// the union of the contributing border-router flags.
	SlaacPreferred bool
	SlaacValid     bool
	Dhcp           bool
	Configure      bool
	DefaultRoute   bool

	// Origins is the number of origins contributing this prefix.
	Origins int
}

// View returns the deduplicated merged view: one row per live prefix,
// sorted by prefix bytes then length for determinism.
func (s *Store) View() []ViewEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := make([]ViewEntry, 0, len(s.entries))
	for prefix, slots := range s.entries {
		row := ViewEntry{Prefix: prefix, Preference: wire.PreferenceLow}
		for _, sl := range slots {
			e := sl.entry
			if e.Preference > row.Preference {
				row.Preference = e.Preference
			}
			row.Stable = row.Stable || e.Stable
			row.BorderRouter = row.BorderRouter || e.BorderRouter
			row.SlaacPreferred = row.SlaacPreferred || e.SlaacPreferred
			row.SlaacValid = row.SlaacValid || e.SlaacValid
			row.Dhcp = row.Dhcp || e.Dhcp
			row.Configure = row.Configure || e.Configure
			row.DefaultRoute = row.DefaultRoute || e.DefaultRoute
			row.Origins++
		}
		view = append(view, row)
	}

	sort.Slice(view, func(i, j int) bool {
		a, b := view[i].Prefix, view[j].Prefix
		if c := bytes.Compare(a.Address[:], b.Address[:]); c != 0 {
			return c < 0
		}
		return a.Length < b.Length
	})
	return view
}

// Snapshot builds a full push suitable for priming a newly attached
// node. With stableOnly set, non-stable entries are omitted (for nodes
// that do not request full network data).
func (s *Store) Snapshot(stableOnly bool) *wire.NetDataPush {
	s.mu.Lock()
	defer s.mu.Unlock()

	push := &wire.NetDataPush{
		Full:          true,
		Version:       s.version,
		StableVersion: s.stableVersion,
	}
	for _, sl := range s.sortedSlots() {
		if stableOnly && !sl.entry.Stable {
			continue
		}
		push.Entries = append(push.Entries, sl.entry)
	}
	return push
}

// LocalEntries returns this node's own records, for pushing upward to
// the parent after attach.
func (s *Store) LocalEntries() []wire.NetDataEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []wire.NetDataEntry
	for _, sl := range s.sortedSlots() {
		if sl.local {
			out = append(out, sl.entry)
		}
	}
	return out
}

// SerializedSize returns the canonical CBOR size of the record set.
func (s *Store) SerializedSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serializedSizeLocked()
}

// Len returns the number of stored records across all origins.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, slots := range s.entries {
		n += len(slots)
	}
	return n
}

// put inserts or replaces the record for (prefix, origin). A replace
// keeps the original insertion sequence so age-based eviction is not
// reset by refreshes.
func (s *Store) put(entry wire.NetDataEntry, local bool) {
	prefix := entry.Key.Prefix
	slots := s.entries[prefix]
	for i := range slots {
		same := slots[i].entry.Key.Origin == entry.Key.Origin
		if local {
			same = slots[i].local
		}
		if same {
			slots[i].entry = entry
			// A local row stays local when its own registration echoes
			// back from the leader.
			slots[i].local = slots[i].local || local
			return
		}
	}
	s.nextSeq++
	s.entries[prefix] = append(slots, slot{entry: entry, local: local, seq: s.nextSeq})
}

// remove deletes the record for key, reporting whether it existed.
func (s *Store) remove(key wire.NetDataKey) bool {
	slots := s.entries[key.Prefix]
	for i := range slots {
		if slots[i].entry.Key.Origin == key.Origin {
			s.removeSlot(key.Prefix, i)
			return true
		}
	}
	return false
}

func (s *Store) removeSlot(prefix mesh.Prefix, i int) {
	slots := s.entries[prefix]
	slots = append(slots[:i], slots[i+1:]...)
	if len(slots) == 0 {
		delete(s.entries, prefix)
	} else {
		s.entries[prefix] = slots
	}
}

// evictToBudget removes non-stable entries until the serialized form
// fits: lowest preference first, oldest insertion first within equal
// preference. If stable data alone still exceeds the budget it returns
// ErrSizeBudgetExceeded; the caller rolls back.
func (s *Store) evictToBudget() error {
	for s.serializedSizeLocked() > s.budget {
		var victimPrefix mesh.Prefix
		victimIdx := -1
		var victim slot
		for prefix, slots := range s.entries {
			for i, sl := range slots {
				if sl.entry.Stable {
					continue
				}
				if victimIdx < 0 ||
					sl.entry.Preference < victim.entry.Preference ||
					(sl.entry.Preference == victim.entry.Preference && sl.seq < victim.seq) {
					victimPrefix, victimIdx, victim = prefix, i, sl
				}
			}
		}
		if victimIdx < 0 {
			return ErrSizeBudgetExceeded
		}
		s.removeSlot(victimPrefix, victimIdx)
	}
	return nil
}

func (s *Store) serializedSizeLocked() int {
	slots := s.sortedSlots()
	entries := make([]wire.NetDataEntry, len(slots))
	for i, sl := range slots {
		entries[i] = sl.entry
	}
	size, err := wire.EncodedSize(entries)
	if err != nil {
		// Entries are validated before insertion; encoding cannot fail
		// for well-formed records.
		panic(fmt.Sprintf("netdata: failed to size entries: %v", err))
	}
	return size
}

// sortedSlots returns every slot ordered by insertion sequence.
func (s *Store) sortedSlots() []slot {
	var out []slot
	for _, slots := range s.entries {
		out = append(out, slots...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// bump increments the data version, and the stable version too when a
// stable record was touched.
func (s *Store) bump(stable bool) {
	s.version++
	if stable {
		s.stableVersion++
	}
}

func (s *Store) cloneEntries() map[mesh.Prefix][]slot {
	clone := make(map[mesh.Prefix][]slot, len(s.entries))
	for prefix, slots := range s.entries {
		cp := make([]slot, len(slots))
		copy(cp, slots)
		clone[prefix] = cp
	}
	return clone
}
