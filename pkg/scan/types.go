package scan

import (
	"fmt"
	"math/bits"
	"time"

	"github.com/wisp-protocol/wisp-go/pkg/mesh"
)

// Channel bounds for the 2.4 GHz O-QPSK PHY.
const (
	// ChannelMin is the lowest usable channel.
	ChannelMin = 11

	// ChannelMax is the highest usable channel.
	ChannelMax = 26
)

// Timing defaults.
const (
	// DefaultDwell is the default per-channel dwell time.
	DefaultDwell = 300 * time.Millisecond

	// DefaultSlack is added to the computed scan duration before the
	// scan is declared complete.
	DefaultSlack = 2 * time.Second
)

// ChannelMask selects the channels to scan, one bit per channel.
type ChannelMask uint32

// AllChannels returns a mask covering every usable channel.
func AllChannels() ChannelMask {
	var m ChannelMask
	for ch := ChannelMin; ch <= ChannelMax; ch++ {
		m |= 1 << ch
	}
	return m
}

// Set returns the mask with the given channel added.
func (m ChannelMask) Set(channel uint8) ChannelMask {
	return m | 1<<channel
}

// Has reports whether the channel is in the mask.
func (m ChannelMask) Has(channel uint8) bool {
	return m&(1<<channel) != 0
}

// Count returns the number of channels in the mask.
func (m ChannelMask) Count() int {
	return bits.OnesCount32(uint32(m))
}

// Validate checks that the mask is non-empty and within channel bounds.
func (m ChannelMask) Validate() error {
	if m == 0 {
		return fmt.Errorf("%w: empty channel mask", mesh.ErrInvalidArgs)
	}
	valid := AllChannels()
	if m&^valid != 0 {
		return fmt.Errorf("%w: channel mask %#x outside channels %d-%d",
			mesh.ErrInvalidArgs, uint32(m), ChannelMin, ChannelMax)
	}
	return nil
}

// Result is one candidate-partition observation: a received beacon
// combined with the radio metrics of its reception. Results are
// produced per scan cycle and discarded after the selection window.
type Result struct {
	// ExtAddress is the beaconing node's extended address.
	ExtAddress mesh.ExtAddress

	// NetworkName is the advertised network name.
	NetworkName mesh.NetworkName

	// ExtendedPanID identifies the advertised network.
	ExtendedPanID mesh.ExtendedPanID

	// PanID is the beaconing node's PAN ID.
	PanID mesh.PanID

	// Channel is the channel the beacon was received on.
	Channel uint8

	// RSSI is the received signal strength in dBm.
	RSSI int8

	// LQI is the link quality indicator.
	LQI uint8

	// Version is the advertised protocol version (4 bits).
	Version uint8

	// Native is the native-commissioner flag.
	Native bool

	// Joinable is set while the sender accepts attach requests.
	Joinable bool

	// Partition is the advertised partition (ID and weight).
	Partition mesh.Partition
}
