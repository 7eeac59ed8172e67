// Package attach implements the attach selector: the pure decision
// logic that turns a scan cycle's observations into an attach target.
//
// Candidates failing the active attach filter are rejected first:
//
//   - AnyPartition accepts every candidate.
//   - SamePartition rejects candidates from a different partition than
//     the current one.
//   - BetterPartition rejects candidates whose (weight, partition ID)
//     does not strictly exceed the current partition's, compared
//     lexicographically.
//
// Remaining candidates are ranked by joinable flag, then highest
// weight, then highest partition ID, then strongest RSSI, each acting
// as a tie-break for the previous. Selection has no side effects; the
// role state machine performs the actual handshake.
package attach
