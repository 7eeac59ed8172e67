package mesh

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// meshLocalInfo is the HKDF info string for mesh-local derivation.
const meshLocalInfo = "WISP mesh-local EID"

// DeriveMeshLocal derives the node's mesh-local endpoint address from
// the extended PAN ID and the node's extended address. The prefix half
// is a function of the network alone (all nodes in a network share it);
// the interface identifier half is a function of the node. The result
// is a ULA (fd00::/8).
func DeriveMeshLocal(extPanID ExtendedPanID, extAddr ExtAddress) (Ip6Address, error) {
	var addr Ip6Address

	reader := hkdf.New(sha256.New, extAddr[:], extPanID[:], []byte(meshLocalInfo))
	if _, err := io.ReadFull(reader, addr[:]); err != nil {
		return Ip6Address{}, fmt.Errorf("failed to derive mesh-local address: %w", err)
	}

	// Force the ULA prefix and keep the prefix half network-determined:
	// bytes 1-7 depend only on the extended PAN ID.
	prefixReader := hkdf.New(sha256.New, extPanID[:], nil, []byte(meshLocalInfo))
	var prefix [8]byte
	if _, err := io.ReadFull(prefixReader, prefix[:]); err != nil {
		return Ip6Address{}, fmt.Errorf("failed to derive mesh-local prefix: %w", err)
	}
	copy(addr[:8], prefix[:])
	addr[0] = 0xfd

	return addr, nil
}
