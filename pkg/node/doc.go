// Package node implements the WISP role state machine.
//
// A Node owns one device's control-plane state: its role, partition,
// addressing identity, network-data replica, neighbor registry, beacon
// scanner, MAC counters, and change notifier. The node is the only
// component that mutates the role; everything else observes it through
// accessors or coalesced change notifications.
//
// # Roles
//
// A node moves between five roles:
//
//   - Disabled: the stack is off. No radio activity, no state.
//   - Detached: enabled but not participating in a partition. The node
//     scans for candidate partitions and attaches with exponential
//     backoff between cycles.
//   - Child: attached through a parent router. The node holds a short
//     address assigned by the parent and tracks leader liveness through
//     heartbeats.
//   - Router: serves attached children and participates in leader
//     election when heartbeats stop.
//   - Leader: owns the partition. The leader assigns router IDs,
//     arbitrates network-data registrations, and advertises liveness
//     through periodic heartbeats.
//
// # Threading
//
// The node runs on a single logical thread: every entry point takes the
// node mutex, performs its work to completion, and releases it. Slow
// operations (scanning, the attach handshake) never block; they return
// a pending-operation token and complete through a callback on a later
// timer tick. Change notifications are flushed once per entry point,
// after the mutex is released, so one external call produces at most
// one composite notification.
//
// # Collaborators
//
// The radio and transport are interfaces supplied by the application
// (or by internal/simnet in tests). The node builds outgoing frames
// with package wire, hands them to the transport, and expects received
// frames back through HandleFrame.
package node
