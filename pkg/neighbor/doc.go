// Package neighbor implements the neighbor/child registry: the table of
// nodes attached through this node, plus peer routers in the same
// partition.
//
// # Attach and Refresh
//
// AcceptAttach creates a child entry and assigns a short address. An
// attach request from an already-registered extended address is a
// liveness refresh, never a duplicate entry: the existing short address
// is returned and the entry's deadline is extended. The table enforces a
// maximum neighbor count; once full, new requests fail with ErrTableFull
// and existing neighbors are never evicted to make room.
//
// # Liveness
//
// Every entry carries a timeout deadline. Sweep removes entries whose
// deadline has passed; each removed child raises the child-removed
// callback. Deadlines are computed against an injected clock so tests
// can drive time explicitly.
//
// # Short Addresses
//
// Child short addresses combine the parent's router-base bits with a
// per-child index, so a child's address identifies its parent. Peer
// routers keep the short address they already own and are tracked with
// AddRouter.
package neighbor
