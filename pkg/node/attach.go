package node

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wisp-protocol/wisp-go/pkg/attach"
	"github.com/wisp-protocol/wisp-go/pkg/counters"
	"github.com/wisp-protocol/wisp-go/pkg/log"
	"github.com/wisp-protocol/wisp-go/pkg/mesh"
	"github.com/wisp-protocol/wisp-go/pkg/neighbor"
	"github.com/wisp-protocol/wisp-go/pkg/scan"
	"github.com/wisp-protocol/wisp-go/pkg/wire"
)

// Scan starts a user-requested beacon scan and returns its
// pending-operation token. fn is invoked once with the observations
// when the scan window closes, or asynchronously with mesh.ErrAbort if
// the node is disabled first. Fails with mesh.ErrBusy while a scan or
// attach handshake is outstanding.
func (n *Node) Scan(mask scan.ChannelMask, fn func(results []scan.Result, err error)) (uuid.UUID, error) {
	if fn == nil {
		return uuid.Nil, fmt.Errorf("%w: scan callback is required", mesh.ErrInvalidArgs)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.enabled {
		return uuid.Nil, fmt.Errorf("%w: node is disabled", mesh.ErrInvalidState)
	}
	if n.pending != nil || n.scanner.InProgress() {
		return uuid.Nil, fmt.Errorf("%w: scan or attach in progress", mesh.ErrBusy)
	}

	token, err := n.scanner.Start(mask)
	if err != nil {
		return uuid.Nil, err
	}
	n.recordScanRequests(mask)
	n.userScanToken = token
	n.userScanFn = fn
	return token, nil
}

// Reattach starts an attach cycle with the given filter. While
// attached, a successful cycle moves the node to the selected
// partition; a failed cycle leaves the current state untouched.
func (n *Node) Reattach(filter mesh.AttachFilter) error {
	if !filter.Valid() {
		return fmt.Errorf("%w: attach filter %d", mesh.ErrInvalidArgs, uint8(filter))
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.enabled {
		return fmt.Errorf("%w: node is disabled", mesh.ErrInvalidState)
	}
	if n.pending != nil || n.scanner.InProgress() {
		return fmt.Errorf("%w: scan or attach in progress", mesh.ErrBusy)
	}
	n.filter = filter
	n.startScan()
	return nil
}

// startScan begins one attach-cycle scan. Callers hold the node mutex.
func (n *Node) startScan() {
	if n.pending != nil || n.scanner.InProgress() {
		return
	}
	mask := scan.ChannelMask(n.cfg.Scan.Channels)
	token, err := n.scanner.Start(mask)
	if err != nil {
		n.logError(err, "starting attach scan")
		n.scheduleRescan()
		return
	}
	n.recordScanRequests(mask)
	n.scanToken = token
}

// recordScanRequests counts one beacon request per scanned channel.
func (n *Node) recordScanRequests(mask scan.ChannelMask) {
	for i := 0; i < mask.Count(); i++ {
		n.counters.RecordTxFrame(counters.FrameBeaconRequest, false)
	}
}

// onScanComplete receives the scanner's completion callback. It runs
// without the node mutex held; cancellation callbacks fire inside the
// cancel site and are ignored here.
func (n *Node) onScanComplete(token uuid.UUID, results []scan.Result, err error) {
	if errors.Is(err, mesh.ErrAbort) {
		return
	}

	var deliver func()

	n.mu.Lock()
	switch token {
	case n.userScanToken:
		out := make([]scan.Result, len(results))
		copy(out, results)
		fn := n.userScanFn
		n.userScanToken = uuid.Nil
		n.userScanFn = nil
		n.logScan(len(out), false)
		deliver = func() { fn(out, nil) }
	case n.scanToken:
		n.scanToken = uuid.Nil
		n.lastScanCount = len(results)
		n.logScan(len(results), false)
		n.handleScanResults(results)
	}
	n.mu.Unlock()

	n.notifier.Flush()
	if deliver != nil {
		deliver()
	}
}

// handleScanResults selects the attach target from one cycle's
// observations and starts the handshake.
func (n *Node) handleScanResults(results []scan.Result) {
	target, err := attach.Select(n.filter, n.partition, results)
	if err != nil {
		if n.role.Attached() {
			// An unsuccessful reattach cycle changes nothing.
			n.logState(log.StateEntityAttach, "", "IDLE", "no eligible partition")
			return
		}
		n.attachFailed("no eligible partition")
		return
	}
	if n.partition != nil && target.Partition.ID == n.partition.ID {
		return
	}
	n.beginAttach(target)
}

// beginAttach sends the attach request and arms the handshake timeout.
func (n *Node) beginAttach(target scan.Result) {
	req := wire.AttachRequest{
		ExtAddress: n.identity.ExtAddress,
		Version:    protocolVersion,
		LinkMode:   n.linkMode,
	}
	if err := n.sendExt(target.ExtAddress, wire.MessageTypeAttachRequest, &req); err != nil {
		n.attachFailed("attach request transmission failed")
		return
	}

	p := &pendingAttach{token: uuid.New(), target: target}
	p.timer = n.clock.AfterFunc(n.cfg.AttachTimeout(), func() { n.onAttachTimeout(p.token) })
	n.pending = p
	n.logState(log.StateEntityAttach, "IDLE", "PENDING", "parent "+target.ExtAddress.String())
}

// onAttachTimeout fires when the handshake window elapses without a
// response. Stale tokens are ignored.
func (n *Node) onAttachTimeout(token uuid.UUID) {
	n.mu.Lock()
	defer n.notifier.Flush()
	defer n.mu.Unlock()

	if n.pending == nil || n.pending.token != token {
		return
	}
	n.pending = nil
	n.attachFailed("attach timeout")
}

// attachFailed accounts one failed attach attempt. A detached node
// either retries with backoff or, once the retry budget is exhausted,
// forms its own partition. An attached node keeps its current state.
func (n *Node) attachFailed(reason string) {
	n.logState(log.StateEntityAttach, "PENDING", "IDLE", reason)
	if n.role.Attached() {
		return
	}

	n.attemptsLeft--
	if n.attemptsLeft <= 0 {
		if n.canStartPartition() {
			n.becomeLeader("attach retry budget exhausted")
			return
		}
		n.attemptsLeft = n.cfg.Attach.RetryBudget
	}
	n.scheduleRescan()
}

// canStartPartition reports whether this node may form a new one-node
// partition.
func (n *Node) canStartPartition() bool {
	return *n.cfg.Attach.AllowLeaderStart && n.linkMode.FullFunctionDevice
}

// scheduleRescan arms the exponential re-scan backoff.
func (n *Node) scheduleRescan() {
	if !n.enabled {
		return
	}
	delay := n.backoff
	n.backoff *= 2
	if limit := n.cfg.BackoffMax(); n.backoff > limit {
		n.backoff = limit
	}
	n.backoffTimer = n.clock.AfterFunc(delay, n.onBackoff)
}

// onBackoff fires when the re-scan backoff elapses.
func (n *Node) onBackoff() {
	n.mu.Lock()
	defer n.notifier.Flush()
	defer n.mu.Unlock()

	n.backoffTimer = nil
	if !n.enabled || n.role.Attached() || n.pending != nil {
		return
	}
	n.startScan()
}

// handleAttachResponse completes the outstanding handshake. Responses
// from anyone but the pending target are ignored.
func (n *Node) handleAttachResponse(f RxFrame, resp *wire.AttachResponse) {
	p := n.pending
	if p == nil || f.SrcExt != p.target.ExtAddress {
		return
	}
	p.timer.Stop()
	n.pending = nil

	if resp.Status != wire.StatusSuccess {
		n.attachFailed("attach rejected: " + resp.Status.String())
		return
	}
	if !resp.ShortAddress.Valid() {
		n.attachFailed("invalid short address assigned")
		return
	}

	if p.promote {
		n.commitPromotion(resp)
		return
	}
	n.commitAttach(f.SrcExt, p.target, resp)
}

// commitAttach applies a successful handshake in one step: all state is
// mutated before the change flags for the epoch are raised, so
// subscribers observe the transition as a single composite event.
func (n *Node) commitAttach(parent mesh.ExtAddress, target scan.Result, resp *wire.AttachResponse) {
	if resp.NetData != nil {
		if err := n.store.MergeSnapshot(resp.NetData); err != nil {
			n.logError(err, "applying attach snapshot")
			n.attachFailed("initial network data rejected")
			return
		}
	}

	flags := mesh.FlagNetState | mesh.FlagNetRole | mesh.FlagNetPartitionID | mesh.FlagAddressAdded

	if n.role.Attached() {
		// Moving partitions: children and router state do not carry over.
		n.table.Clear()
		n.routerIDs = nil
		flags |= mesh.FlagAddressRemoved
	}

	n.identity.ShortAddress = resp.ShortAddress
	n.identity.PanID = target.PanID
	n.identity.ExtendedPanID = target.ExtendedPanID
	n.identity.NetworkName = target.NetworkName
	n.store.SetLocalOrigin(resp.ShortAddress)

	part := resp.Partition
	n.partition = &part
	if resp.KeySequence != n.keySeq {
		n.keySeq = resp.KeySequence
		flags |= mesh.FlagNetKeySequence
	}

	if ml, err := mesh.DeriveMeshLocal(n.identity.ExtendedPanID, n.identity.ExtAddress); err != nil {
		n.logError(err, "deriving mesh-local address")
	} else {
		if ml != n.meshLocal {
			flags |= mesh.FlagMeshLocalChanged
		}
		n.meshLocal = ml
	}

	n.parentExt = parent
	n.parentShort = neighbor.RouterBase(resp.ShortAddress)
	n.parentLQI = target.LQI
	n.leaderExt = mesh.ExtAddress{} // learned from the first heartbeat
	n.leaderShort = mesh.ShortAddressInvalid
	n.lastHeartbeat = n.clock.Now()

	n.setRole(mesh.RoleChild, "attached to "+parent.String())
	n.attemptsLeft = n.cfg.Attach.RetryBudget
	n.backoff = n.cfg.BackoffBase()
	if n.backoffTimer != nil {
		n.backoffTimer.Stop()
		n.backoffTimer = nil
	}

	n.notifier.Raise(flags)
	n.pushLocalEntries(n.parentShort)
	n.persist()
}

// detach drops partition membership and restarts the attach cycle.
// The network-data store is kept; the next attach's full snapshot
// replaces its remote rows.
func (n *Node) detach(reason string) {
	n.clearAttachedState()
	n.setRole(mesh.RoleDetached, reason)
	n.notifier.Raise(mesh.FlagNetState | mesh.FlagNetRole | mesh.FlagNetPartitionID | mesh.FlagAddressRemoved)

	n.attemptsLeft = n.cfg.Attach.RetryBudget
	n.backoff = n.cfg.BackoffBase()
	n.startScan()
	n.persist()
}

// cancelAttachCycle stops every outstanding attach-cycle operation.
// A cancelled user scan is delivered asynchronously with mesh.ErrAbort.
func (n *Node) cancelAttachCycle() {
	if n.backoffTimer != nil {
		n.backoffTimer.Stop()
		n.backoffTimer = nil
	}
	if n.pending != nil {
		n.pending.timer.Stop()
		n.pending = nil
	}
	if n.userScanToken != uuid.Nil {
		fn := n.userScanFn
		token := n.userScanToken
		n.userScanToken = uuid.Nil
		n.userScanFn = nil
		n.scanner.Cancel(token)
		go fn(nil, mesh.ErrAbort)
	}
	if n.scanToken != uuid.Nil {
		n.scanner.Cancel(n.scanToken)
		n.scanToken = uuid.Nil
	}
}

func (n *Node) logScan(results int, cancelled bool) {
	n.logger.Log(log.Event{
		Timestamp: n.clock.Now(),
		NodeID:    n.identity.ExtAddress.String(),
		Category:  log.CategoryScan,
		Role:      n.role.String(),
		Scan: &log.ScanEvent{
			Channels:  n.cfg.Scan.Channels,
			Results:   results,
			Cancelled: cancelled,
		},
	})
}
