// Package wire defines the CBOR wire format for WISP control messages.
//
// WISP uses CBOR (RFC 8949) with integer keys for compact encoding on
// constrained links. Encoding is deterministic (canonical key order) so
// that the serialized size of a network-data set is stable and usable
// as the store's size-budget metric.
//
// # Message Types
//
// Every transmitted frame carries a type tag followed by the message
// payload:
//   - Beacon: broadcast in response to a scan, advertises the partition
//   - AttachRequest / AttachResponse: the attach handshake
//   - NetDataRequest / NetDataPush: network-data synchronization
//   - Heartbeat: periodic leader liveness plus data-version advertisement
//
// # Size Budget
//
// EncodedSize reports the canonical CBOR length of any value. The
// network-data store uses it to enforce its payload budget.
package wire
