package log

import (
	"time"
)

// Event represents an engine log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// NodeID is the extended address of the reporting node, as hex.
	NodeID string `cbor:"2,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"3,keyasint"`

	// Role is the node's role name at the time of the event.
	Role string `cbor:"4,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Message     *MessageEvent     `cbor:"5,keyasint,omitempty"` // Sent/received control messages
	StateChange *StateChangeEvent `cbor:"6,keyasint,omitempty"` // Role/partition transitions
	Scan        *ScanEvent        `cbor:"7,keyasint,omitempty"` // Scan cycle summaries
	Error       *ErrorEventData   `cbor:"8,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a control message was sent or received.
	CategoryMessage Category = 0
	// CategoryState indicates a role or partition transition.
	CategoryState Category = 1
	// CategoryScan indicates a scan cycle completed.
	CategoryScan Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryScan:
		return "SCAN"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MessageEvent captures a sent or received control message.
type MessageEvent struct {
	// Direction indicates message flow.
	Direction Direction `cbor:"1,keyasint"`

	// Type is the wire message type name (BEACON, ATTACH_REQUEST, ...).
	Type string `cbor:"2,keyasint"`

	// Peer is the remote short address, if known.
	Peer uint16 `cbor:"3,keyasint,omitempty"`

	// Size is the encoded frame size in bytes.
	Size int `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent captures a role or partition transition.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityRole indicates a role transition.
	StateEntityRole StateEntity = 0
	// StateEntityPartition indicates a partition change.
	StateEntityPartition StateEntity = 1
	// StateEntityAttach indicates an attach attempt state change.
	StateEntityAttach StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityRole:
		return "ROLE"
	case StateEntityPartition:
		return "PARTITION"
	case StateEntityAttach:
		return "ATTACH"
	default:
		return "UNKNOWN"
	}
}

// ScanEvent summarizes one completed scan cycle.
type ScanEvent struct {
	// Channels is the scanned channel mask.
	Channels uint32 `cbor:"1,keyasint"`

	// Results is the number of beacons observed.
	Results int `cbor:"2,keyasint"`

	// Cancelled is set if the cycle was aborted.
	Cancelled bool `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Message is the error message.
	Message string `cbor:"1,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"2,keyasint,omitempty"`
}
