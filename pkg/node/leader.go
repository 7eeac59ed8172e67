package node

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/wisp-protocol/wisp-go/pkg/log"
	"github.com/wisp-protocol/wisp-go/pkg/mesh"
	"github.com/wisp-protocol/wisp-go/pkg/neighbor"
	"github.com/wisp-protocol/wisp-go/pkg/scan"
	"github.com/wisp-protocol/wisp-go/pkg/wire"
)

// newPartitionID picks a fresh random partition identifier.
func newPartitionID() uint32 {
	id := uuid.New()
	return binary.BigEndian.Uint32(id[:4])
}

// sendHeartbeat broadcasts the leader liveness advertisement. It
// carries the active router set: routers only ever receive frames
// addressed to them, so the heartbeat is how they learn the election
// candidates.
func (n *Node) sendHeartbeat() {
	var routers []wire.RouterInfo
	for _, e := range n.table.List() {
		if e.Kind != neighbor.KindRouter {
			continue
		}
		routers = append(routers, wire.RouterInfo{
			ExtAddress:   e.ExtAddress,
			ShortAddress: e.ShortAddress,
		})
	}

	version, stableVersion := n.store.Versions()
	_ = n.send(mesh.ShortAddressBroadcast, wire.MessageTypeHeartbeat, &wire.Heartbeat{
		Partition:          *n.partition,
		LeaderExtAddress:   n.identity.ExtAddress,
		LeaderShortAddress: n.identity.ShortAddress,
		Version:            version,
		StableVersion:      stableVersion,
		KeySequence:        n.keySeq,
		Routers:            routers,
	})
	n.lastHeartbeatSent = n.clock.Now()
}

// handleHeartbeat refreshes leader liveness and reconciles the
// advertised key sequence and data versions.
func (n *Node) handleHeartbeat(f RxFrame, hb *wire.Heartbeat) {
	if n.role != mesh.RoleChild && n.role != mesh.RoleRouter {
		return
	}
	if n.partition == nil || hb.Partition.ID != n.partition.ID {
		return
	}

	n.lastHeartbeat = n.clock.Now()
	n.leaderExt = hb.LeaderExtAddress
	n.leaderShort = hb.LeaderShortAddress
	n.partition.Weight = hb.Partition.Weight

	if hb.KeySequence != n.keySeq {
		n.keySeq = hb.KeySequence
		n.notifier.Raise(mesh.FlagNetKeySequence)
		n.persist()
	}

	if version, _ := n.store.Versions(); hb.Version != version {
		n.requestFullNetData()
	}

	if n.role == mesh.RoleRouter {
		n.learnRouters(hb.Routers)
	}
	n.maybePromote()
}

// learnRouters records the router set advertised by the leader's
// heartbeat so the table holds every election candidate.
func (n *Node) learnRouters(routers []wire.RouterInfo) {
	for _, r := range routers {
		if r.ExtAddress == n.identity.ExtAddress || r.ExtAddress == n.leaderExt {
			continue
		}
		if _, known := n.table.Get(r.ExtAddress); known {
			_ = n.table.Refresh(r.ShortAddress)
			continue
		}
		mode := mesh.LinkMode{RxOnWhenIdle: true, FullFunctionDevice: true, FullNetworkData: true}
		if err := n.table.AddRouter(r.ExtAddress, r.ShortAddress, mode); err != nil {
			n.logError(err, "learning advertised router")
		}
	}
}

// checkLeaderLiveness runs once per tick on attached non-leaders. A
// silent leader detaches children; routers hold an election.
func (n *Node) checkLeaderLiveness() {
	if n.clock.Now().Sub(n.lastHeartbeat) <= n.cfg.LeaderTimeout() {
		return
	}

	switch n.role {
	case mesh.RoleChild:
		n.detach("leader timeout")
	case mesh.RoleRouter:
		if n.winsElection() {
			n.becomeLeader("leader timeout, election won")
			return
		}
		// Lost: the winner starts a fresh partition, which this node
		// can only join through a new attach cycle.
		n.detach("leader timeout, election lost")
	}
}

// winsElection compares this node against the known peer routers.
// Candidates within one partition share the leader weight and
// partition ID, which leaves the numerically highest extended address
// as the deciding comparison. The vanished leader is not a candidate.
func (n *Node) winsElection() bool {
	for _, e := range n.table.List() {
		if e.Kind != neighbor.KindRouter || e.ExtAddress == n.leaderExt {
			continue
		}
		if e.ExtAddress.Compare(n.identity.ExtAddress) > 0 {
			return false
		}
	}
	return true
}

// maybePromote asks the leader for a router ID once the promotion
// criteria hold: a router-capable child with adequate parent link
// quality and enough observed neighbors.
func (n *Node) maybePromote() {
	if n.role != mesh.RoleChild || !n.linkMode.FullFunctionDevice {
		return
	}
	if n.pending != nil || !n.leaderShort.Valid() {
		return
	}
	if int(n.parentLQI) < n.cfg.Promotion.MinLinkQuality {
		return
	}
	if n.lastScanCount < n.cfg.Promotion.MinNeighbors {
		return
	}
	n.requestRouterID()
}

// requestRouterID sends the promotion request to the leader. The reply
// travels the attach-response path with the promote flag set.
func (n *Node) requestRouterID() {
	req := wire.AttachRequest{
		ExtAddress:      n.identity.ExtAddress,
		Version:         protocolVersion,
		LinkMode:        n.linkMode,
		RouterIDRequest: true,
	}
	if err := n.send(n.leaderShort, wire.MessageTypeAttachRequest, &req); err != nil {
		return
	}

	p := &pendingAttach{token: uuid.New(), promote: true, target: scan.Result{ExtAddress: n.leaderExt}}
	p.timer = n.clock.AfterFunc(n.cfg.AttachTimeout(), func() { n.onAttachTimeout(p.token) })
	n.pending = p
	n.logState(log.StateEntityAttach, "IDLE", "PENDING", "requesting router ID")
}

// handleRouterIDRequest serves a promotion request. Leader only.
func (n *Node) handleRouterIDRequest(f RxFrame, req *wire.AttachRequest) {
	if n.role != mesh.RoleLeader {
		n.respond(f, wire.MessageTypeAttachResponse, &wire.AttachResponse{Status: wire.StatusRefused})
		return
	}

	id, err := n.allocateRouterID(req.ExtAddress)
	if err != nil {
		n.logError(err, "allocating router ID")
		n.respond(f, wire.MessageTypeAttachResponse, &wire.AttachResponse{Status: wire.StatusNoBufs})
		return
	}
	short := neighbor.RouterShort(id)

	// The requester stops being a child. Its old rows are withdrawn;
	// it re-registers them under the router address.
	if e, ok := n.table.Get(req.ExtAddress); ok && e.Kind == neighbor.KindChild {
		_, _ = n.table.Detach(e.ShortAddress)
	}
	if err := n.table.AddRouter(req.ExtAddress, short, req.LinkMode); err != nil {
		n.logError(err, "registering promoted router")
		n.respond(f, wire.MessageTypeAttachResponse, &wire.AttachResponse{Status: wire.StatusNoBufs})
		return
	}

	n.respond(f, wire.MessageTypeAttachResponse, &wire.AttachResponse{
		Status:       wire.StatusSuccess,
		ShortAddress: short,
		Partition:    *n.partition,
		KeySequence:  n.keySeq,
		NetData:      n.store.Snapshot(!req.LinkMode.FullNetworkData),
	})
}

// allocateRouterID assigns the lowest free router ID, idempotently per
// extended address.
func (n *Node) allocateRouterID(ext mesh.ExtAddress) (uint8, error) {
	if n.routerIDs == nil {
		n.routerIDs = make(map[uint8]mesh.ExtAddress)
	}
	for id, owner := range n.routerIDs {
		if owner == ext {
			return id, nil
		}
	}
	for id := uint8(1); id <= neighbor.MaxRouterID; id++ {
		if _, used := n.routerIDs[id]; !used {
			n.routerIDs[id] = ext
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: no free router ID", mesh.ErrNoBufs)
}

// commitPromotion applies a granted router ID: the node keeps its
// partition but changes short address and role.
func (n *Node) commitPromotion(resp *wire.AttachResponse) {
	n.identity.ShortAddress = resp.ShortAddress
	n.store.SetLocalOrigin(resp.ShortAddress)
	n.table.SetRouterBase(resp.ShortAddress)

	n.setRole(mesh.RoleRouter, "promoted by leader")
	n.notifier.Raise(mesh.FlagNetRole | mesh.FlagAddressAdded | mesh.FlagAddressRemoved)
	n.pushLocalEntries(n.leaderShort)
	n.persist()
}

// becomeLeader forms a partition with this node as leader: a fresh
// partition ID under the configured weight, either from Detached
// (one-node partition start) or from Router (election win). All state
// is mutated before the epoch's flags are raised.
func (n *Node) becomeLeader(reason string) {
	n.cancelAttachCycle()

	flags := mesh.FlagNetRole | mesh.FlagNetPartitionID
	if !n.role.Attached() {
		flags |= mesh.FlagNetState
	}

	part := mesh.Partition{ID: newPartitionID(), Weight: uint8(n.cfg.Leader.Weight)}
	n.partition = &part

	// A partition started from scratch needs a network identity.
	if n.identity.ExtendedPanID == (mesh.ExtendedPanID{}) {
		id := uuid.New()
		copy(n.identity.ExtendedPanID[:], id[:mesh.ExtendedPanIDSize])
	}
	if n.identity.PanID == 0 {
		n.identity.PanID = mesh.PanID(part.ID & 0xfffe)
	}

	n.routerIDs = make(map[uint8]mesh.ExtAddress)
	if n.identity.ShortAddress.Valid() && neighbor.RouterBase(n.identity.ShortAddress) == n.identity.ShortAddress {
		// Election win: the router keeps its short address.
		n.routerIDs[neighbor.RouterID(n.identity.ShortAddress)] = n.identity.ExtAddress
	} else {
		short := neighbor.RouterShort(1)
		n.routerIDs[1] = n.identity.ExtAddress
		n.identity.ShortAddress = short
		n.store.SetLocalOrigin(short)
		n.table.SetRouterBase(short)
		flags |= mesh.FlagAddressAdded
	}
	for _, e := range n.table.List() {
		if e.Kind == neighbor.KindRouter && e.ExtAddress != n.leaderExt {
			n.routerIDs[neighbor.RouterID(e.ShortAddress)] = e.ExtAddress
		}
	}
	if !n.leaderExt.IsZero() {
		if e, ok := n.table.Get(n.leaderExt); ok {
			_, _ = n.table.Detach(e.ShortAddress)
		}
	}

	if ml, err := mesh.DeriveMeshLocal(n.identity.ExtendedPanID, n.identity.ExtAddress); err != nil {
		n.logError(err, "deriving mesh-local address")
	} else {
		if ml != n.meshLocal {
			flags |= mesh.FlagMeshLocalChanged
		}
		n.meshLocal = ml
	}

	n.parentExt = mesh.ExtAddress{}
	n.parentShort = mesh.ShortAddressInvalid
	n.leaderExt = n.identity.ExtAddress
	n.leaderShort = n.identity.ShortAddress

	n.setRole(mesh.RoleLeader, reason)
	n.notifier.Raise(flags)
	n.sendHeartbeat()
	n.persist()
}
