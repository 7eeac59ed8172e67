package node

import (
	"errors"
	"fmt"

	"github.com/wisp-protocol/wisp-go/pkg/counters"
	"github.com/wisp-protocol/wisp-go/pkg/log"
	"github.com/wisp-protocol/wisp-go/pkg/mesh"
	"github.com/wisp-protocol/wisp-go/pkg/neighbor"
	"github.com/wisp-protocol/wisp-go/pkg/wire"
)

// HandleFrame processes one received frame. The application (or the
// simulated network) calls it for every frame addressed to this node.
func (n *Node) HandleFrame(f RxFrame) error {
	frame, err := wire.DecodeFrame(f.Payload)
	if err != nil {
		n.counters.RecordRxError(counters.RxErrOther)
		return err
	}

	n.mu.Lock()
	defer n.notifier.Flush()
	defer n.mu.Unlock()

	if n.role == mesh.RoleDisabled {
		return fmt.Errorf("%w: node is disabled", mesh.ErrDrop)
	}

	kind := counters.FrameData
	if frame.Type == wire.MessageTypeBeacon {
		kind = counters.FrameBeacon
	}
	n.counters.RecordRxFrame(kind)
	n.logMessage(log.DirectionIn, frame.Type.String(), f.SrcShort, len(f.Payload))

	if f.SrcShort.Valid() {
		// Best-effort liveness refresh; unknown senders are fine.
		_ = n.table.Refresh(f.SrcShort)
		n.trackRouter(f)
	}

	switch frame.Type {
	case wire.MessageTypeBeacon:
		var b wire.Beacon
		if err := frame.Decode(&b); err != nil {
			return err
		}
		n.scanner.HandleBeacon(f.Channel, f.RSSI, f.LQI, &b)

	case wire.MessageTypeAttachRequest:
		var req wire.AttachRequest
		if err := frame.Decode(&req); err != nil {
			return err
		}
		n.handleAttachRequest(f, &req)

	case wire.MessageTypeAttachResponse:
		var resp wire.AttachResponse
		if err := frame.Decode(&resp); err != nil {
			return err
		}
		n.handleAttachResponse(f, &resp)

	case wire.MessageTypeNetDataRequest:
		var req wire.NetDataRequest
		if err := frame.Decode(&req); err != nil {
			return err
		}
		n.handleNetDataRequest(f, &req)

	case wire.MessageTypeNetDataPush:
		var push wire.NetDataPush
		if err := frame.Decode(&push); err != nil {
			return err
		}
		n.handleNetDataPush(f, &push)

	case wire.MessageTypeHeartbeat:
		var hb wire.Heartbeat
		if err := frame.Decode(&hb); err != nil {
			return err
		}
		n.handleHeartbeat(f, &hb)
	}
	return nil
}

// trackRouter learns peer routers from their traffic: a sender whose
// short address is a bare router base is a router in this partition.
// Routers need to know each other for leader election.
func (n *Node) trackRouter(f RxFrame) {
	if n.role != mesh.RoleRouter && n.role != mesh.RoleLeader {
		return
	}
	if f.SrcExt.IsZero() || f.SrcShort == n.identity.ShortAddress {
		return
	}
	if neighbor.RouterBase(f.SrcShort) != f.SrcShort {
		return
	}
	if _, known := n.table.Get(f.SrcExt); known {
		return
	}
	mode := mesh.LinkMode{RxOnWhenIdle: true, FullFunctionDevice: true, FullNetworkData: true}
	if err := n.table.AddRouter(f.SrcExt, f.SrcShort, mode); err != nil {
		n.logError(err, "tracking peer router")
	}
}

// Beacon returns the beacon this node answers a scan request with, or
// nil while the node is not advertising (only routers and leaders
// beacon). The transmission is counted against the MAC counters.
func (n *Node) Beacon() *wire.Beacon {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.role != mesh.RoleRouter && n.role != mesh.RoleLeader {
		return nil
	}
	n.counters.RecordTxFrame(counters.FrameBeacon, false)
	return &wire.Beacon{
		ExtAddress:    n.identity.ExtAddress,
		NetworkName:   n.identity.NetworkName,
		ExtendedPanID: n.identity.ExtendedPanID,
		PanID:         n.identity.PanID,
		Version:       protocolVersion,
		Partition:     *n.partition,
		Joinable:      true,
	}
}

// handleAttachRequest serves the parent side of the attach handshake.
func (n *Node) handleAttachRequest(f RxFrame, req *wire.AttachRequest) {
	if req.RouterIDRequest {
		n.handleRouterIDRequest(f, req)
		return
	}
	if n.role != mesh.RoleRouter && n.role != mesh.RoleLeader {
		n.respond(f, wire.MessageTypeAttachResponse, &wire.AttachResponse{Status: wire.StatusRefused})
		return
	}

	addr, isNew, err := n.table.AcceptAttach(req.ExtAddress, req.LinkMode)
	if err != nil {
		n.logError(err, "accepting attach")
		n.respond(f, wire.MessageTypeAttachResponse, &wire.AttachResponse{Status: wire.StatusNoBufs})
		return
	}

	if isNew {
		n.notifier.Raise(mesh.FlagChildAdded)
	}
	n.respond(f, wire.MessageTypeAttachResponse, &wire.AttachResponse{
		Status:       wire.StatusSuccess,
		ShortAddress: addr,
		Partition:    *n.partition,
		KeySequence:  n.keySeq,
		NetData:      n.store.Snapshot(!req.LinkMode.FullNetworkData),
	})
}

// handleNetDataRequest serves a replica's snapshot request. Only nodes
// with downstream neighbors answer.
func (n *Node) handleNetDataRequest(f RxFrame, req *wire.NetDataRequest) {
	if n.role != mesh.RoleRouter && n.role != mesh.RoleLeader {
		return
	}
	version, _ := n.store.Versions()
	if !req.Full && req.Version == version {
		return
	}
	n.respond(f, wire.MessageTypeNetDataPush, n.store.Snapshot(req.StableOnly))
}

// send encodes and transmits a frame to a short address, maintaining
// the MAC counters. Broadcasts are unacknowledged.
func (n *Node) send(dst mesh.ShortAddress, t wire.MessageType, payload any) error {
	frame, err := wire.EncodeFrame(t, payload)
	if err != nil {
		n.logError(err, "encoding "+t.String())
		return err
	}

	ack := dst != mesh.ShortAddressBroadcast
	n.counters.RecordTxFrame(counters.FrameData, ack)
	if err := n.transport.Send(dst, frame); err != nil {
		if errors.Is(err, mesh.ErrChannelAccessFailure) {
			n.counters.RecordTxChannelAccessFailure()
		}
		n.logError(err, "sending "+t.String())
		return err
	}
	if ack {
		n.counters.RecordTxAcked()
	}
	n.logMessage(log.DirectionOut, t.String(), dst, len(frame))
	return nil
}

// sendExt encodes and transmits a frame to an extended address.
func (n *Node) sendExt(dst mesh.ExtAddress, t wire.MessageType, payload any) error {
	frame, err := wire.EncodeFrame(t, payload)
	if err != nil {
		n.logError(err, "encoding "+t.String())
		return err
	}

	n.counters.RecordTxFrame(counters.FrameData, true)
	if err := n.transport.SendExt(dst, frame); err != nil {
		if errors.Is(err, mesh.ErrChannelAccessFailure) {
			n.counters.RecordTxChannelAccessFailure()
		}
		n.logError(err, "sending "+t.String())
		return err
	}
	n.counters.RecordTxAcked()
	n.logMessage(log.DirectionOut, t.String(), mesh.ShortAddressInvalid, len(frame))
	return nil
}

// respond replies to a received frame, by short address when the sender
// has one and by extended address otherwise.
func (n *Node) respond(f RxFrame, t wire.MessageType, payload any) {
	if f.SrcShort.Valid() {
		_ = n.send(f.SrcShort, t, payload)
		return
	}
	_ = n.sendExt(f.SrcExt, t, payload)
}
