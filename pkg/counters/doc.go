// Package counters accumulates MAC-layer transmit and receive
// statistics.
//
// Counters are monotonically increasing 32-bit values that wrap on
// overflow. They are reset only by an explicit Reset call; no engine
// operation clears them implicitly. The set is a pure data sink: it
// records what the MAC layer reports and exposes an aggregate snapshot
// to the application.
package counters
