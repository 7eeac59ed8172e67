package wire

import (
	"fmt"

	"github.com/wisp-protocol/wisp-go/pkg/mesh"
)

// Preference bounds for the 2-bit signed route preference (RFC 4191).
const (
	// PreferenceLow is the lowest route preference.
	PreferenceLow int8 = -2

	// PreferenceHigh is the highest route preference.
	PreferenceHigh int8 = 1
)

// NetDataKey identifies a network-data entry: one origin's contribution
// for one prefix.
type NetDataKey struct {
	// Prefix is the advertised prefix.
	Prefix mesh.Prefix `cbor:"1,keyasint"`

	// Origin is the short address of the originating node.
	Origin mesh.ShortAddress `cbor:"2,keyasint"`
}

// NetDataEntry is one border-router or external-route record as carried
// on the wire and held in the network-data store.
type NetDataEntry struct {
	// Key identifies the entry.
	Key NetDataKey `cbor:"1,keyasint"`

	// Preference is the 2-bit signed route preference (-2..1).
	Preference int8 `cbor:"2,keyasint"`

	// Stable marks the entry as stable network data: retained and
	// flooded reliably, never auto-evicted.
	Stable bool `cbor:"3,keyasint,omitempty"`

	// BorderRouter distinguishes border-router records from external
	// routes. The flags below apply to border-router records only.
	BorderRouter bool `cbor:"4,keyasint,omitempty"`

	// SlaacPreferred is set if the prefix is preferred for SLAAC.
	SlaacPreferred bool `cbor:"5,keyasint,omitempty"`

	// SlaacValid is set if the prefix is valid for SLAAC.
	SlaacValid bool `cbor:"6,keyasint,omitempty"`

	// Dhcp is set if the origin is a DHCPv6 agent supplying addresses.
	Dhcp bool `cbor:"7,keyasint,omitempty"`

	// Configure is set if the origin supplies other configuration data.
	Configure bool `cbor:"8,keyasint,omitempty"`

	// DefaultRoute is set if the origin is a default route for the prefix.
	DefaultRoute bool `cbor:"9,keyasint,omitempty"`
}

// Validate checks the entry's prefix and preference range.
func (e *NetDataEntry) Validate() error {
	if err := e.Key.Prefix.Validate(); err != nil {
		return err
	}
	if e.Preference < PreferenceLow || e.Preference > PreferenceHigh {
		return fmt.Errorf("%w: preference %d out of range [%d,%d]",
			mesh.ErrInvalidArgs, e.Preference, PreferenceLow, PreferenceHigh)
	}
	return nil
}
