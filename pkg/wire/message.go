package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/wisp-protocol/wisp-go/pkg/mesh"
)

// MessageType tags a frame with the message it carries.
type MessageType uint8

const (
	// MessageTypeBeacon is a beacon sent in response to a scan request.
	MessageTypeBeacon MessageType = 1

	// MessageTypeAttachRequest starts the attach handshake.
	MessageTypeAttachRequest MessageType = 2

	// MessageTypeAttachResponse completes the attach handshake.
	MessageTypeAttachResponse MessageType = 3

	// MessageTypeNetDataRequest asks a parent or leader for network data.
	MessageTypeNetDataRequest MessageType = 4

	// MessageTypeNetDataPush carries a network-data snapshot or delta.
	MessageTypeNetDataPush MessageType = 5

	// MessageTypeHeartbeat is the periodic leader liveness advertisement.
	MessageTypeHeartbeat MessageType = 6
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MessageTypeBeacon:
		return "BEACON"
	case MessageTypeAttachRequest:
		return "ATTACH_REQUEST"
	case MessageTypeAttachResponse:
		return "ATTACH_RESPONSE"
	case MessageTypeNetDataRequest:
		return "NETDATA_REQUEST"
	case MessageTypeNetDataPush:
		return "NETDATA_PUSH"
	case MessageTypeHeartbeat:
		return "HEARTBEAT"
	default:
		return "UNKNOWN"
	}
}

// Frame is the outer envelope for every transmitted message.
//
// CBOR encoding:
//
//	{
//	  1: type,     // uint8 MessageType
//	  2: payload   // type-specific message, CBOR-encoded
//	}
type Frame struct {
	Type    MessageType     `cbor:"1,keyasint"`
	Payload cbor.RawMessage `cbor:"2,keyasint"`
}

// EncodeFrame wraps a message payload in a Frame and encodes it.
func EncodeFrame(t MessageType, payload any) ([]byte, error) {
	raw, err := Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", t, err)
	}
	return Marshal(&Frame{Type: t, Payload: raw})
}

// DecodeFrame decodes the outer envelope. The payload remains encoded;
// use Frame.Decode to extract it.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: bad frame: %v", mesh.ErrParse, err)
	}
	if f.Type < MessageTypeBeacon || f.Type > MessageTypeHeartbeat {
		return nil, fmt.Errorf("%w: unknown message type %d", mesh.ErrParse, f.Type)
	}
	return &f, nil
}

// Decode extracts the frame payload into v.
func (f *Frame) Decode(v any) error {
	if err := Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("%w: bad %s payload: %v", mesh.ErrParse, f.Type, err)
	}
	return nil
}

// Beacon advertises a partition in response to a scan request. The
// scanner combines it with per-reception radio metrics (RSSI, LQI,
// channel) to form a scan result.
type Beacon struct {
	// ExtAddress is the sender's extended address.
	ExtAddress mesh.ExtAddress `cbor:"1,keyasint"`

	// NetworkName is the advertised network name.
	NetworkName mesh.NetworkName `cbor:"2,keyasint"`

	// ExtendedPanID identifies the network.
	ExtendedPanID mesh.ExtendedPanID `cbor:"3,keyasint"`

	// PanID is the sender's PAN ID.
	PanID mesh.PanID `cbor:"4,keyasint"`

	// Version is the 4-bit protocol version.
	Version uint8 `cbor:"5,keyasint"`

	// Partition is the sender's partition (ID and weight).
	Partition mesh.Partition `cbor:"6,keyasint"`

	// Joinable is set while the sender accepts attach requests.
	Joinable bool `cbor:"7,keyasint,omitempty"`

	// Native is the native-commissioner flag.
	Native bool `cbor:"8,keyasint,omitempty"`
}

// AttachRequest asks a candidate parent to accept this node.
type AttachRequest struct {
	// ExtAddress is the requesting node's extended address.
	ExtAddress mesh.ExtAddress `cbor:"1,keyasint"`

	// Version is the requester's protocol version.
	Version uint8 `cbor:"2,keyasint"`

	// LinkMode advertises the requester's capabilities.
	LinkMode mesh.LinkMode `cbor:"3,keyasint"`

	// RouterIDRequest is set when an attached child asks the leader for
	// a router short address (child-to-router promotion).
	RouterIDRequest bool `cbor:"4,keyasint,omitempty"`
}

// AttachResponse answers an attach request. On success it assigns a
// short address and carries the initial network-data snapshot.
type AttachResponse struct {
	// Status reports acceptance or the rejection reason.
	Status Status `cbor:"1,keyasint"`

	// ShortAddress is the address assigned to the requester (success only).
	ShortAddress mesh.ShortAddress `cbor:"2,keyasint,omitempty"`

	// Partition is the parent's partition, adopted by the requester.
	Partition mesh.Partition `cbor:"3,keyasint,omitempty"`

	// KeySequence is the current key sequence counter.
	KeySequence uint32 `cbor:"4,keyasint,omitempty"`

	// NetData is the full network-data snapshot (success only).
	NetData *NetDataPush `cbor:"5,keyasint,omitempty"`
}

// NetDataRequest asks the parent or leader for network data.
type NetDataRequest struct {
	// Full requests a complete snapshot rather than a delta.
	Full bool `cbor:"1,keyasint,omitempty"`

	// StableOnly requests only stable entries (sleepy end devices that
	// do not set the full-network-data link mode).
	StableOnly bool `cbor:"2,keyasint,omitempty"`

	// Version is the requester's current data version, so the responder
	// can decide whether a delta suffices.
	Version uint32 `cbor:"3,keyasint"`
}

// NetDataPush carries a network-data snapshot or incremental update.
type NetDataPush struct {
	// Full marks a complete snapshot that replaces remote state wholesale.
	Full bool `cbor:"1,keyasint,omitempty"`

	// Version is the sender's data version after this update.
	Version uint32 `cbor:"2,keyasint"`

	// StableVersion is the sender's stable-data version after this update.
	StableVersion uint32 `cbor:"3,keyasint"`

	// Entries are the records carried by this update.
	Entries []NetDataEntry `cbor:"4,keyasint,omitempty"`

	// Removed lists (prefix, origin) pairs withdrawn by this delta.
	Removed []NetDataKey `cbor:"5,keyasint,omitempty"`
}

// Heartbeat is the periodic leader advertisement. Routers use its
// absence to detect leader loss; its version fields let nodes notice
// missed network-data updates.
type Heartbeat struct {
	// Partition is the leader's partition.
	Partition mesh.Partition `cbor:"1,keyasint"`

	// LeaderExtAddress is the leader's extended address.
	LeaderExtAddress mesh.ExtAddress `cbor:"2,keyasint"`

	// Version is the current network-data version.
	Version uint32 `cbor:"3,keyasint"`

	// StableVersion is the current stable network-data version.
	StableVersion uint32 `cbor:"4,keyasint"`

	// KeySequence is the current key sequence counter.
	KeySequence uint32 `cbor:"5,keyasint"`

	// LeaderShortAddress is the leader's short address, the destination
	// for network-data registrations and router-ID requests.
	LeaderShortAddress mesh.ShortAddress `cbor:"6,keyasint"`

	// Routers lists the partition's active routers so every router
	// knows the candidate set for leader election.
	Routers []RouterInfo `cbor:"7,keyasint,omitempty"`
}

// RouterInfo identifies one active router in a heartbeat.
type RouterInfo struct {
	// ExtAddress is the router's extended address.
	ExtAddress mesh.ExtAddress `cbor:"1,keyasint"`

	// ShortAddress is the router's short address.
	ShortAddress mesh.ShortAddress `cbor:"2,keyasint"`
}
