package node

import "github.com/wisp-protocol/wisp-go/pkg/mesh"

// Transport is the frame transmission primitive consumed from the
// application. Implementations must not block; delivery is best-effort.
type Transport interface {
	// Send transmits an encoded frame to a short address within the
	// current partition. mesh.ShortAddressBroadcast floods the
	// partition.
	Send(dst mesh.ShortAddress, frame []byte) error

	// SendExt transmits to an extended address. Used for the attach
	// handshake, before the peer relationship has short addresses.
	SendExt(dst mesh.ExtAddress, frame []byte) error
}

// RxFrame is one received frame with its radio metadata.
type RxFrame struct {
	// SrcExt is the sender's extended address.
	SrcExt mesh.ExtAddress

	// SrcShort is the sender's short address, or
	// mesh.ShortAddressInvalid if the sender has none.
	SrcShort mesh.ShortAddress

	// Channel is the channel the frame was received on.
	Channel uint8

	// RSSI is the received signal strength in dBm.
	RSSI int8

	// LQI is the link quality indicator.
	LQI uint8

	// Payload is the encoded wire.Frame.
	Payload []byte
}
