package mesh

// Role is the operational role of a node. Exactly one value is active at
// a time; only the role state machine (package node) mutates it.
type Role uint8

const (
	// RoleDisabled indicates the stack is disabled.
	RoleDisabled Role = iota

	// RoleDetached indicates the node is enabled but not participating
	// in any partition.
	RoleDetached

	// RoleChild indicates the node is attached through a parent router.
	RoleChild

	// RoleRouter indicates the node routes for attached children.
	RoleRouter

	// RoleLeader indicates the node leads its partition.
	RoleLeader
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleDisabled:
		return "DISABLED"
	case RoleDetached:
		return "DETACHED"
	case RoleChild:
		return "CHILD"
	case RoleRouter:
		return "ROUTER"
	case RoleLeader:
		return "LEADER"
	default:
		return "UNKNOWN"
	}
}

// Attached reports whether the role participates in a partition.
func (r Role) Attached() bool {
	return r == RoleChild || r == RoleRouter || r == RoleLeader
}
