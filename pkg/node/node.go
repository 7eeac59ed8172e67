package node

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/wisp-protocol/wisp-go/pkg/config"
	"github.com/wisp-protocol/wisp-go/pkg/counters"
	"github.com/wisp-protocol/wisp-go/pkg/events"
	"github.com/wisp-protocol/wisp-go/pkg/log"
	"github.com/wisp-protocol/wisp-go/pkg/mesh"
	"github.com/wisp-protocol/wisp-go/pkg/neighbor"
	"github.com/wisp-protocol/wisp-go/pkg/netdata"
	"github.com/wisp-protocol/wisp-go/pkg/persistence"
	"github.com/wisp-protocol/wisp-go/pkg/scan"
)

// protocolVersion is the 4-bit protocol version advertised in beacons
// and attach requests.
const protocolVersion = 2

// tickInterval is the period of the node's housekeeping timer. Liveness
// sweeps, leader timeouts, and heartbeat transmission are checked once
// per tick.
const tickInterval = time.Second

// Config holds node configuration.
type Config struct {
	// ExtAddress is the factory-assigned extended address. Required.
	ExtAddress mesh.ExtAddress

	// NetworkName, ExtendedPanID, and PanID seed the network identity.
	// They are adopted from the parent on attach; a node that may form
	// its own partition must set them up front.
	NetworkName   mesh.NetworkName
	ExtendedPanID mesh.ExtendedPanID
	PanID         mesh.PanID

	// LinkMode is the node's link-mode configuration. A node that never
	// sets FullFunctionDevice stays a child forever.
	LinkMode mesh.LinkMode

	// Engine is the engine configuration. The zero value selects
	// config.Default().
	Engine config.Config

	// Radio performs channel scanning. Required.
	Radio scan.Radio

	// Transport transmits frames. Required.
	Transport Transport

	// Clock supplies time and timers. Nil selects the real clock.
	Clock clock.Clock

	// Logger receives engine events. Nil disables logging.
	Logger log.Logger

	// StatePath enables state persistence at the given file path.
	// Empty disables persistence.
	StatePath string
}

// pendingAttach is the single outstanding attach handshake.
type pendingAttach struct {
	token   uuid.UUID
	target  scan.Result
	promote bool // router-ID request from an already attached node
	timer   *clock.Timer
}

// Node is one device's control-plane engine.
type Node struct {
	mu sync.Mutex

	cfg       config.Config
	clock     clock.Clock
	transport Transport
	logger    log.Logger

	identity  mesh.DeviceIdentity
	linkMode  mesh.LinkMode
	meshLocal mesh.Ip6Address

	scanner  *scan.Scanner
	store    *netdata.Store
	table    *neighbor.Table
	counters counters.Set
	notifier *events.Notifier
	states   *persistence.NodeStateStore

	enabled   bool
	role      mesh.Role
	partition *mesh.Partition
	filter    mesh.AttachFilter
	keySeq    uint32

	// Parent and leader tracking while attached.
	parentExt     mesh.ExtAddress
	parentShort   mesh.ShortAddress
	parentLQI     uint8
	leaderExt     mesh.ExtAddress
	leaderShort   mesh.ShortAddress
	lastHeartbeat time.Time

	// Attach cycle state.
	scanToken     uuid.UUID
	pending       *pendingAttach
	attemptsLeft  int
	backoff       time.Duration
	backoffTimer  *clock.Timer
	lastScanCount int

	// User-requested scan, delivered through its own callback.
	userScanToken uuid.UUID
	userScanFn    func(results []scan.Result, err error)

	// Leader state: router-ID allocations and heartbeat pacing.
	routerIDs         map[uint8]mesh.ExtAddress
	lastHeartbeatSent time.Time

	tickTimer *clock.Timer
}

// New creates a node in the Disabled role.
func New(cfg Config) (*Node, error) {
	if cfg.ExtAddress.IsZero() {
		return nil, fmt.Errorf("%w: extended address is required", mesh.ErrInvalidArgs)
	}
	if cfg.Radio == nil {
		return nil, fmt.Errorf("%w: radio is required", mesh.ErrInvalidArgs)
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("%w: transport is required", mesh.ErrInvalidArgs)
	}
	if err := cfg.NetworkName.Validate(); err != nil {
		return nil, err
	}
	if cfg.Engine == (config.Config{}) {
		cfg.Engine = config.Default()
	}
	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NoopLogger{}
	}

	n := &Node{
		cfg:       cfg.Engine,
		clock:     cfg.Clock,
		transport: cfg.Transport,
		logger:    cfg.Logger,
		identity: mesh.DeviceIdentity{
			ExtAddress:    cfg.ExtAddress,
			ShortAddress:  mesh.ShortAddressInvalid,
			PanID:         cfg.PanID,
			ExtendedPanID: cfg.ExtendedPanID,
			NetworkName:   cfg.NetworkName,
		},
		linkMode: cfg.LinkMode,
		store:    netdata.NewStore(cfg.Engine.NetData.BudgetBytes),
		notifier: events.NewNotifier(),
		role:     mesh.RoleDisabled,
		filter:   mesh.AttachAnyPartition,
	}

	n.table = neighbor.NewTable(neighbor.Config{
		MaxNeighbors: cfg.Engine.Registry.MaxNeighbors,
		ChildTimeout: cfg.Engine.ChildTimeout(),
		Clock:        cfg.Clock,
	})
	n.table.OnChildRemoved(n.onChildRemoved)

	scanner, err := scan.NewScanner(scan.Config{
		Radio: cfg.Radio,
		Dwell: cfg.Engine.Dwell(),
		Clock: cfg.Clock,
	})
	if err != nil {
		return nil, err
	}
	scanner.OnComplete(n.onScanComplete)
	n.scanner = scanner

	if cfg.StatePath != "" {
		n.states = persistence.NewNodeStateStore(cfg.StatePath)
		if err := n.restoreState(); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// restoreState adopts persisted identity fields not overridden by
// configuration. The node always starts Disabled; the persisted role is
// informational only.
func (n *Node) restoreState() error {
	state, err := n.states.Load()
	if err != nil {
		return fmt.Errorf("failed to load node state: %w", err)
	}
	if state == nil || state.ExtAddress != n.identity.ExtAddress.String() {
		return nil
	}
	saved, err := state.Identity()
	if err != nil {
		return err
	}
	if n.identity.PanID == 0 {
		n.identity.PanID = saved.PanID
	}
	if n.identity.ExtendedPanID == (mesh.ExtendedPanID{}) {
		n.identity.ExtendedPanID = saved.ExtendedPanID
	}
	if n.identity.NetworkName == "" {
		n.identity.NetworkName = saved.NetworkName
	}
	n.keySeq = state.KeySequence
	return nil
}

// Enable brings the node from Disabled to Detached and starts the
// attach cycle. Fails with mesh.ErrInvalidState unless disabled.
func (n *Node) Enable() error {
	n.mu.Lock()
	defer n.notifier.Flush()
	defer n.mu.Unlock()

	if n.role != mesh.RoleDisabled {
		return fmt.Errorf("%w: node is %s", mesh.ErrInvalidState, n.role)
	}

	n.enabled = true
	n.setRole(mesh.RoleDetached, "enabled")
	n.notifier.Raise(mesh.FlagNetState | mesh.FlagNetRole)

	n.attemptsLeft = n.cfg.Attach.RetryBudget
	n.backoff = n.cfg.BackoffBase()
	n.startScan()

	n.tickTimer = n.clock.AfterFunc(tickInterval, n.onTick)
	return nil
}

// Disable stops the node: any role to Disabled. Derived state (short
// address, partition, network data, neighbors) is cleared synchronously
// before Disable returns. Fails with mesh.ErrInvalidState if already
// disabled.
func (n *Node) Disable() error {
	n.mu.Lock()
	defer n.notifier.Flush()
	defer n.mu.Unlock()

	if n.role == mesh.RoleDisabled {
		return fmt.Errorf("%w: node is already disabled", mesh.ErrInvalidState)
	}

	n.enabled = false
	n.cancelAttachCycle()
	if n.tickTimer != nil {
		n.tickTimer.Stop()
		n.tickTimer = nil
	}

	flags := mesh.FlagNetState | mesh.FlagNetRole
	if n.partition != nil {
		flags |= mesh.FlagNetPartitionID | mesh.FlagAddressRemoved
	}

	n.clearAttachedState()
	n.store.Clear()
	n.setRole(mesh.RoleDisabled, "disabled")
	n.notifier.Raise(flags)
	n.persist()
	return nil
}

// Role returns the node's current role.
func (n *Node) Role() mesh.Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

// Identity returns the node's addressing identity.
func (n *Node) Identity() mesh.DeviceIdentity {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.identity
}

// Partition returns the node's partition. ok is false while detached
// or disabled.
func (n *Node) Partition() (p mesh.Partition, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.partition == nil {
		return mesh.Partition{}, false
	}
	return *n.partition, true
}

// MeshLocal returns the node's mesh-local address. ok is false while
// the node holds no address.
func (n *Node) MeshLocal() (addr mesh.Ip6Address, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.meshLocal == (mesh.Ip6Address{}) {
		return mesh.Ip6Address{}, false
	}
	return n.meshLocal, true
}

// KeySequence returns the current key sequence counter.
func (n *Node) KeySequence() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.keySeq
}

// SetKeySequence rotates the key sequence counter. Leader only; the new
// value propagates through heartbeats.
func (n *Node) SetKeySequence(seq uint32) error {
	n.mu.Lock()
	defer n.notifier.Flush()
	defer n.mu.Unlock()

	if n.role != mesh.RoleLeader {
		return fmt.Errorf("%w: only the leader rotates the key sequence", mesh.ErrInvalidState)
	}
	if seq == n.keySeq {
		return nil
	}
	n.keySeq = seq
	n.notifier.Raise(mesh.FlagNetKeySequence)
	n.sendHeartbeat()
	n.persist()
	return nil
}

// Counters returns the node's MAC counter set.
func (n *Node) Counters() *counters.Set {
	return &n.counters
}

// Neighbors returns the registered neighbors sorted by extended address.
func (n *Node) Neighbors() []neighbor.Entry {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.table.List()
}

// NetworkData returns the deduplicated merged network-data view.
func (n *Node) NetworkData() []netdata.ViewEntry {
	return n.store.View()
}

// NetDataVersions returns the network-data version and stable version.
func (n *Node) NetDataVersions() (version, stableVersion uint32) {
	return n.store.Versions()
}

// AttachFilter returns the active attach filter.
func (n *Node) AttachFilter() mesh.AttachFilter {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.filter
}

// SetAttachFilter sets the attach filter applied to future attach
// cycles.
func (n *Node) SetAttachFilter(f mesh.AttachFilter) error {
	if !f.Valid() {
		return fmt.Errorf("%w: attach filter %d", mesh.ErrInvalidArgs, uint8(f))
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.filter = f
	return nil
}

// Subscribe registers a change handler and returns its subscription ID.
// The handler runs synchronously at the end of the entry point that
// raised the change.
func (n *Node) Subscribe(fn events.Handler) uint32 {
	return n.notifier.Subscribe(fn)
}

// Unsubscribe removes a change subscription.
func (n *Node) Unsubscribe(id uint32) error {
	return n.notifier.Unsubscribe(id)
}

// setRole records a role transition and logs it. Callers raise the
// matching change flags themselves.
func (n *Node) setRole(role mesh.Role, reason string) {
	if role == n.role {
		return
	}
	old := n.role
	n.role = role
	n.logState(log.StateEntityRole, old.String(), role.String(), reason)
}

// clearAttachedState drops everything derived from partition
// membership. The network-data store is left to the caller: detach
// keeps it for the next attach, disable clears it.
func (n *Node) clearAttachedState() {
	n.partition = nil
	n.identity.ShortAddress = mesh.ShortAddressInvalid
	n.store.SetLocalOrigin(mesh.ShortAddressInvalid)
	n.meshLocal = mesh.Ip6Address{}
	n.parentExt = mesh.ExtAddress{}
	n.parentShort = mesh.ShortAddressInvalid
	n.parentLQI = 0
	n.leaderExt = mesh.ExtAddress{}
	n.leaderShort = mesh.ShortAddressInvalid
	n.routerIDs = nil
	n.table.Clear()
}

// onTick runs the housekeeping timer: child liveness sweeps, leader
// heartbeats, and leader-loss detection.
func (n *Node) onTick() {
	n.mu.Lock()
	defer n.notifier.Flush()
	defer n.mu.Unlock()

	if !n.enabled {
		return
	}
	n.tickTimer = n.clock.AfterFunc(tickInterval, n.onTick)

	switch n.role {
	case mesh.RoleRouter, mesh.RoleLeader:
		n.table.Sweep()
	}

	switch n.role {
	case mesh.RoleLeader:
		now := n.clock.Now()
		if now.Sub(n.lastHeartbeatSent) >= n.cfg.HeartbeatPeriod() {
			n.sendHeartbeat()
		}
	case mesh.RoleChild, mesh.RoleRouter:
		n.checkLeaderLiveness()
	}
}

// persist saves the node's stable state when persistence is enabled.
func (n *Node) persist() {
	if n.states == nil {
		return
	}
	state := &persistence.NodeState{
		SavedAt:      n.clock.Now(),
		ExtAddress:   n.identity.ExtAddress.String(),
		ShortAddress: uint16(n.identity.ShortAddress),
		PanID:        uint16(n.identity.PanID),
		NetworkName:  string(n.identity.NetworkName),
		Role:         uint8(n.role),
		KeySequence:  n.keySeq,
	}
	if n.identity.ExtendedPanID != (mesh.ExtendedPanID{}) {
		state.ExtendedPanID = n.identity.ExtendedPanID.String()
	}
	if n.partition != nil {
		state.PartitionID = n.partition.ID
		state.PartitionWeight = n.partition.Weight
	}
	if err := n.states.Save(state); err != nil {
		n.logError(err, "persisting node state")
	}
}

// Log helpers. Events are built under the node mutex; loggers must not
// call back into the node.

func (n *Node) logState(entity log.StateEntity, from, to, reason string) {
	n.logger.Log(log.Event{
		Timestamp: n.clock.Now(),
		NodeID:    n.identity.ExtAddress.String(),
		Category:  log.CategoryState,
		Role:      n.role.String(),
		StateChange: &log.StateChangeEvent{
			Entity:   entity,
			OldState: from,
			NewState: to,
			Reason:   reason,
		},
	})
}

func (n *Node) logMessage(dir log.Direction, msgType string, peer mesh.ShortAddress, size int) {
	ev := log.Event{
		Timestamp: n.clock.Now(),
		NodeID:    n.identity.ExtAddress.String(),
		Category:  log.CategoryMessage,
		Role:      n.role.String(),
		Message: &log.MessageEvent{
			Direction: dir,
			Type:      msgType,
			Size:      size,
		},
	}
	if peer.Valid() {
		ev.Message.Peer = uint16(peer)
	}
	n.logger.Log(ev)
}

func (n *Node) logError(err error, context string) {
	n.logger.Log(log.Event{
		Timestamp: n.clock.Now(),
		NodeID:    n.identity.ExtAddress.String(),
		Category:  log.CategoryError,
		Role:      n.role.String(),
		Error: &log.ErrorEventData{
			Message: err.Error(),
			Context: context,
		},
	})
}
