// Package log defines the structured event logging interface for the
// WISP engine.
//
// The engine never writes to a global logger. Components accept a
// Logger and emit Event values describing message traffic, role and
// partition transitions, scan cycles, and errors. Applications decide
// what to do with them: discard (NoopLogger), fan out (MultiLogger), or
// bridge into log/slog (SlogAdapter). Event uses CBOR integer keys so
// captures can be stored compactly with the same codec as the wire.
package log
