package mesh

import (
	"fmt"
	"net/netip"
)

// Ip6AddressSize is the size of an IPv6 address in bytes.
const Ip6AddressSize = 16

// Ip6Address is a 16-byte IPv6 address.
type Ip6Address [Ip6AddressSize]byte

// String returns the canonical textual form of the address.
func (a Ip6Address) String() string {
	return netip.AddrFrom16(a).String()
}

// IsZero reports whether the address is the unspecified address.
func (a Ip6Address) IsZero() bool {
	return a == Ip6Address{}
}

// Prefix is an IPv6 prefix: an address plus a length in bits.
type Prefix struct {
	// Address holds the prefix bits; bits past Length must be zero.
	Address Ip6Address `cbor:"1,keyasint"`

	// Length is the prefix length in bits (0-128).
	Length uint8 `cbor:"2,keyasint"`
}

// Validate checks the prefix length and that no bits are set past it.
func (p Prefix) Validate() error {
	if p.Length > 128 {
		return fmt.Errorf("%w: prefix length %d exceeds 128", ErrInvalidArgs, p.Length)
	}
	masked := p.masked()
	if masked.Address != p.Address {
		return fmt.Errorf("%w: prefix %s has bits set past length %d", ErrInvalidArgs, p.Address, p.Length)
	}
	return nil
}

// masked returns the prefix with bits past Length cleared.
func (p Prefix) masked() Prefix {
	out := Prefix{Length: p.Length}
	fullBytes := int(p.Length) / 8
	copy(out.Address[:fullBytes], p.Address[:fullBytes])
	if rem := p.Length % 8; rem != 0 && fullBytes < Ip6AddressSize {
		out.Address[fullBytes] = p.Address[fullBytes] & (0xff << (8 - rem))
	}
	return out
}

// String returns the prefix in "addr/len" notation.
func (p Prefix) String() string {
	return fmt.Sprintf("%s/%d", p.Address, p.Length)
}

// ParsePrefix parses an IPv6 prefix in "addr/len" notation.
func ParsePrefix(s string) (Prefix, error) {
	np, err := netip.ParsePrefix(s)
	if err != nil {
		return Prefix{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if !np.Addr().Is6() || np.Addr().Is4In6() {
		return Prefix{}, fmt.Errorf("%w: %q is not an IPv6 prefix", ErrInvalidArgs, s)
	}
	p := Prefix{Address: np.Addr().As16(), Length: uint8(np.Bits())}
	p = p.masked()
	return p, nil
}

// MustParsePrefix is ParsePrefix that panics on error. For tests and
// static configuration.
func MustParsePrefix(s string) Prefix {
	p, err := ParsePrefix(s)
	if err != nil {
		panic(err)
	}
	return p
}
