package node

import (
	"errors"

	"github.com/wisp-protocol/wisp-go/pkg/mesh"
	"github.com/wisp-protocol/wisp-go/pkg/neighbor"
	"github.com/wisp-protocol/wisp-go/pkg/netdata"
	"github.com/wisp-protocol/wisp-go/pkg/wire"
)

// RegisterPrefix registers a local border-router or external-route
// record. While attached, the registration propagates to the leader and
// comes back through the partition-wide delta; a leader applies and
// broadcasts it directly.
func (n *Node) RegisterPrefix(entry wire.NetDataEntry) error {
	n.mu.Lock()
	defer n.notifier.Flush()
	defer n.mu.Unlock()

	if err := n.store.RegisterLocal(entry); err != nil {
		return err
	}

	switch n.role {
	case mesh.RoleLeader:
		version, stableVersion := n.store.BumpVersion(entry.Stable)
		entry.Key.Origin = n.identity.ShortAddress
		_ = n.send(mesh.ShortAddressBroadcast, wire.MessageTypeNetDataPush, &wire.NetDataPush{
			Version:       version,
			StableVersion: stableVersion,
			Entries:       []wire.NetDataEntry{entry},
		})
	case mesh.RoleChild, mesh.RoleRouter:
		entry.Key.Origin = n.identity.ShortAddress
		if dst := n.upstream(); dst.Valid() {
			_ = n.send(dst, wire.MessageTypeNetDataPush, &wire.NetDataPush{
				Entries: []wire.NetDataEntry{entry},
			})
		}
	}
	return nil
}

// WithdrawPrefix withdraws this node's record for the given prefix.
func (n *Node) WithdrawPrefix(prefix mesh.Prefix) error {
	n.mu.Lock()
	defer n.notifier.Flush()
	defer n.mu.Unlock()

	// Capture the key before the local row disappears.
	var key *wire.NetDataKey
	stable := false
	for _, e := range n.store.LocalEntries() {
		if e.Key.Prefix == prefix {
			k := e.Key
			key, stable = &k, e.Stable
			break
		}
	}

	if err := n.store.WithdrawLocal(prefix); err != nil {
		return err
	}

	switch n.role {
	case mesh.RoleLeader:
		version, stableVersion := n.store.BumpVersion(stable)
		_ = n.send(mesh.ShortAddressBroadcast, wire.MessageTypeNetDataPush, &wire.NetDataPush{
			Version:       version,
			StableVersion: stableVersion,
			Removed:       []wire.NetDataKey{*key},
		})
	case mesh.RoleChild, mesh.RoleRouter:
		if dst := n.upstream(); dst.Valid() && key != nil {
			_ = n.send(dst, wire.MessageTypeNetDataPush, &wire.NetDataPush{
				Removed: []wire.NetDataKey{*key},
			})
		}
	}
	return nil
}

// upstream is where registrations and snapshot requests go: the parent
// for children, the leader for routers.
func (n *Node) upstream() mesh.ShortAddress {
	if n.role == mesh.RoleRouter {
		return n.leaderShort
	}
	return n.parentShort
}

// pushLocalEntries registers this node's own records upward after an
// attach or promotion.
func (n *Node) pushLocalEntries(dst mesh.ShortAddress) {
	entries := n.store.LocalEntries()
	if len(entries) == 0 || !dst.Valid() {
		return
	}
	_ = n.send(dst, wire.MessageTypeNetDataPush, &wire.NetDataPush{Entries: entries})
}

// requestFullNetData asks upstream for a full snapshot, the recovery
// path after a missed or inconsistent delta.
func (n *Node) requestFullNetData() {
	dst := n.upstream()
	if !dst.Valid() {
		return
	}
	version, _ := n.store.Versions()
	_ = n.send(dst, wire.MessageTypeNetDataRequest, &wire.NetDataRequest{
		Full:       true,
		StableOnly: !n.linkMode.FullNetworkData,
		Version:    version,
	})
}

// handleNetDataPush routes a received push: the leader treats it as a
// registration, replicas merge pushes from upstream, and routers
// forward their children's registrations to the leader.
func (n *Node) handleNetDataPush(f RxFrame, push *wire.NetDataPush) {
	if !n.role.Attached() {
		return
	}

	if n.role == mesh.RoleLeader {
		n.applyRegistration(push)
		return
	}

	fromUpstream := f.SrcShort.Valid() && (f.SrcShort == n.parentShort || f.SrcShort == n.leaderShort)
	if fromUpstream {
		if err := n.store.MergeSnapshot(push); err != nil {
			n.logError(err, "merging network data")
			if errors.Is(err, netdata.ErrInconsistent) {
				n.requestFullNetData()
			}
		}
		return
	}

	if n.role == mesh.RoleRouter && n.leaderShort.Valid() {
		_ = n.send(n.leaderShort, wire.MessageTypeNetDataPush, push)
	}
}

// applyRegistration is the leader's arbitration step: apply the
// registration, advance the versions, and broadcast the delta.
func (n *Node) applyRegistration(push *wire.NetDataPush) {
	if err := n.store.ApplyUpdate(push.Entries, push.Removed); err != nil {
		n.logError(err, "applying network data registration")
		return
	}
	version, stableVersion := n.store.Versions()
	_ = n.send(mesh.ShortAddressBroadcast, wire.MessageTypeNetDataPush, &wire.NetDataPush{
		Version:       version,
		StableVersion: stableVersion,
		Entries:       push.Entries,
		Removed:       push.Removed,
	})
}

// onChildRemoved fires from the neighbor table for swept and detached
// children. The child's network-data contribution is withdrawn.
func (n *Node) onChildRemoved(e neighbor.Entry) {
	n.notifier.Raise(mesh.FlagChildRemoved)

	switch n.role {
	case mesh.RoleLeader:
		removed, stable := n.store.RemoveOrigin(e.ShortAddress)
		if len(removed) == 0 {
			return
		}
		version, stableVersion := n.store.BumpVersion(stable)
		_ = n.send(mesh.ShortAddressBroadcast, wire.MessageTypeNetDataPush, &wire.NetDataPush{
			Version:       version,
			StableVersion: stableVersion,
			Removed:       removed,
		})
	case mesh.RoleRouter:
		keys := n.store.OriginKeys(e.ShortAddress)
		if len(keys) == 0 || !n.leaderShort.Valid() {
			return
		}
		_ = n.send(n.leaderShort, wire.MessageTypeNetDataPush, &wire.NetDataPush{Removed: keys})
	}
}
