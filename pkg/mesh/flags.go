package mesh

import "strings"

// ChangeFlags is a bitmask describing which configuration or state
// changed within one processing epoch. Multiple flags may be set in a
// single notification.
type ChangeFlags uint16

const (
	// FlagAddressAdded is set when an IPv6 address was added.
	FlagAddressAdded ChangeFlags = 1 << 0

	// FlagAddressRemoved is set when an IPv6 address was removed.
	FlagAddressRemoved ChangeFlags = 1 << 1

	// FlagNetState is set when the device state (offline, detached,
	// attached) changed.
	FlagNetState ChangeFlags = 1 << 2

	// FlagNetRole is set when the device role changed.
	FlagNetRole ChangeFlags = 1 << 3

	// FlagNetPartitionID is set when the partition ID changed.
	FlagNetPartitionID ChangeFlags = 1 << 4

	// FlagNetKeySequence is set when the key sequence changed.
	FlagNetKeySequence ChangeFlags = 1 << 5

	// FlagChildAdded is set when a child was added.
	FlagChildAdded ChangeFlags = 1 << 6

	// FlagChildRemoved is set when a child was removed.
	FlagChildRemoved ChangeFlags = 1 << 7

	// FlagMeshLocalChanged is set when the mesh-local address changed.
	FlagMeshLocalChanged ChangeFlags = 1 << 8
)

// Has reports whether all bits in mask are set.
func (f ChangeFlags) Has(mask ChangeFlags) bool {
	return f&mask == mask
}

// String returns the set flag names joined by "|", or "NONE".
func (f ChangeFlags) String() string {
	if f == 0 {
		return "NONE"
	}
	names := []struct {
		flag ChangeFlags
		name string
	}{
		{FlagAddressAdded, "ADDR_ADDED"},
		{FlagAddressRemoved, "ADDR_REMOVED"},
		{FlagNetState, "NET_STATE"},
		{FlagNetRole, "NET_ROLE"},
		{FlagNetPartitionID, "NET_PARTITION_ID"},
		{FlagNetKeySequence, "NET_KEY_SEQUENCE"},
		{FlagChildAdded, "CHILD_ADDED"},
		{FlagChildRemoved, "CHILD_REMOVED"},
		{FlagMeshLocalChanged, "ML_ADDR_CHANGED"},
	}
	var set []string
	for _, n := range names {
		if f&n.flag != 0 {
			set = append(set, n.name)
		}
	}
	return strings.Join(set, "|")
}
