package mesh

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Address and identifier sizes.
const (
	// ExtAddressSize is the size of an IEEE 802.15.4 extended address in bytes.
	ExtAddressSize = 8

	// ExtendedPanIDSize is the size of an extended PAN ID in bytes.
	ExtendedPanIDSize = 8

	// NetworkNameSize is the maximum length of a network name in bytes.
	NetworkNameSize = 16
)

// Well-known short address values.
const (
	// ShortAddressInvalid marks a node that has no assigned short address.
	ShortAddressInvalid ShortAddress = 0xfffe

	// ShortAddressBroadcast is the IEEE 802.15.4 broadcast short address.
	ShortAddressBroadcast ShortAddress = 0xffff
)

// PanID is an IEEE 802.15.4 PAN identifier.
type PanID uint16

// ShortAddress is an IEEE 802.15.4 16-bit short address. It is assigned
// when a node attaches and revoked on detach.
type ShortAddress uint16

// Valid reports whether the short address is an assignable unicast address.
func (a ShortAddress) Valid() bool {
	return a != ShortAddressInvalid && a != ShortAddressBroadcast
}

// ExtAddress is an IEEE 802.15.4 8-byte extended address. It is globally
// unique and immutable for the lifetime of a device.
type ExtAddress [ExtAddressSize]byte

// String returns the address as lowercase hex without separators.
func (a ExtAddress) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether the address is all zeros.
func (a ExtAddress) IsZero() bool {
	return a == ExtAddress{}
}

// Compare orders extended addresses numerically (big-endian). It returns
// -1, 0, or 1. Used as the final tie-break in leader election.
func (a ExtAddress) Compare(other ExtAddress) int {
	return bytes.Compare(a[:], other[:])
}

// ParseExtAddress parses a 16-hex-character extended address.
func ParseExtAddress(s string) (ExtAddress, error) {
	var addr ExtAddress
	b, err := hex.DecodeString(s)
	if err != nil {
		return addr, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(b) != ExtAddressSize {
		return addr, fmt.Errorf("%w: extended address must be %d bytes", ErrInvalidArgs, ExtAddressSize)
	}
	copy(addr[:], b)
	return addr, nil
}

// ExtendedPanID is an 8-byte extended PAN identifier.
type ExtendedPanID [ExtendedPanIDSize]byte

// String returns the extended PAN ID as lowercase hex.
func (e ExtendedPanID) String() string {
	return hex.EncodeToString(e[:])
}

// NetworkName is a human-readable network name, at most NetworkNameSize bytes.
type NetworkName string

// Validate checks the name length.
func (n NetworkName) Validate() error {
	if len(n) > NetworkNameSize {
		return fmt.Errorf("%w: network name exceeds %d bytes", ErrInvalidArgs, NetworkNameSize)
	}
	return nil
}

// DeviceIdentity holds the addressing identity of a node. ExtAddress is
// immutable; the remaining fields are adopted during attach.
type DeviceIdentity struct {
	// ExtAddress is the factory-assigned extended address.
	ExtAddress ExtAddress

	// ShortAddress is the current short address, or ShortAddressInvalid
	// while detached.
	ShortAddress ShortAddress

	// PanID is the PAN the node operates on.
	PanID PanID

	// ExtendedPanID identifies the network.
	ExtendedPanID ExtendedPanID

	// NetworkName is the advertised network name.
	NetworkName NetworkName
}

// LinkMode describes a node's MLE link-mode configuration. Set once by
// configuration, advertised during attach, and stored per neighbor.
type LinkMode struct {
	// RxOnWhenIdle is set if the receiver stays on when not transmitting.
	RxOnWhenIdle bool `cbor:"1,keyasint,omitempty"`

	// SecureDataRequests is set if all data requests are link-layer secured.
	SecureDataRequests bool `cbor:"2,keyasint,omitempty"`

	// FullFunctionDevice is set for full-function (router-capable) devices.
	FullFunctionDevice bool `cbor:"3,keyasint,omitempty"`

	// FullNetworkData is set if the node requires the full network data,
	// including non-stable entries.
	FullNetworkData bool `cbor:"4,keyasint,omitempty"`
}

// Partition identifies the partition a node belongs to while attached.
type Partition struct {
	// ID is the 32-bit partition identifier.
	ID uint32 `cbor:"1,keyasint"`

	// Weight is the leader weight advertised for this partition.
	Weight uint8 `cbor:"2,keyasint"`
}

// Better reports whether p is strictly better than other under the
// lexicographic (weight, partition ID) ordering.
func (p Partition) Better(other Partition) bool {
	if p.Weight != other.Weight {
		return p.Weight > other.Weight
	}
	return p.ID > other.ID
}

// String returns "weight/id" for diagnostics.
func (p Partition) String() string {
	return fmt.Sprintf("%d/%d", p.Weight, p.ID)
}

// AttachFilter restricts which partitions an attach attempt may accept.
type AttachFilter uint8

const (
	// AttachAnyPartition accepts a candidate from any partition.
	AttachAnyPartition AttachFilter = 0

	// AttachSamePartition only accepts candidates from the current partition.
	AttachSamePartition AttachFilter = 1

	// AttachBetterPartition only accepts candidates whose
	// (weight, partition ID) strictly exceeds the current partition's.
	AttachBetterPartition AttachFilter = 2
)

// Valid reports whether the filter is a known value.
func (f AttachFilter) Valid() bool {
	return f <= AttachBetterPartition
}

// String returns the filter name.
func (f AttachFilter) String() string {
	switch f {
	case AttachAnyPartition:
		return "ANY_PARTITION"
	case AttachSamePartition:
		return "SAME_PARTITION"
	case AttachBetterPartition:
		return "BETTER_PARTITION"
	default:
		return "UNKNOWN"
	}
}
