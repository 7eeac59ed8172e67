// Package mesh defines the core types shared by every layer of the WISP
// engine: device addressing, roles, partitions, link-mode capabilities,
// change-notification flags, and the common error set.
//
// # Addressing
//
// Every node carries an 8-byte extended address that never changes. A
// 16-bit short address is assigned when the node attaches to a partition
// and revoked when it detaches. PAN ID, extended PAN ID, and network name
// identify the network a node participates in.
//
// # Roles and Partitions
//
// A node is in exactly one of five roles: DISABLED, DETACHED, CHILD,
// ROUTER, or LEADER. While attached (CHILD or better) it belongs to
// exactly one partition, identified by a 32-bit partition ID plus an
// 8-bit weight. Partitions are compared lexicographically by
// (weight, partition ID); "better" always means strictly greater under
// that ordering.
//
// # Change Flags
//
// State mutations are reported to subscribers as a bitmask of
// ChangeFlags. Multiple flags may be set in one notification; flags
// raised within one processing epoch are coalesced (see package events).
//
// # Errors
//
// The sentinel errors in this package form the shared taxonomy used
// across the engine. Transient conditions (ErrNoAck,
// ErrChannelAccessFailure, ErrBusy) are retried by callers; capacity
// conditions (ErrNoBufs) reject the operation and leave state unchanged;
// ErrInvalidArgs rejects bad configuration at the call that introduced it.
package mesh
