// Package events implements the change notifier: it coalesces the
// change flags raised by the engine's components within one processing
// epoch and delivers them as a single composite notification.
//
// An epoch is one scan cycle, one network-data mutation batch, or one
// registry sweep: in practice, the span between two Flush calls on the
// node's logical thread. Flags raised inside an epoch accumulate by
// bitwise OR; Flush delivers the combined mask to every subscriber in
// subscription order, synchronously, before the triggering operation
// returns.
//
// Subscribers must not assume exclusivity: an attach that changes role,
// partition ID, and mesh-local address in one epoch arrives as one
// notification with all three flags set. Delivery is at-least-once.
package events
