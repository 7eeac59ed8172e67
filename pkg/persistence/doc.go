// Package persistence provides runtime state persistence for WISP nodes.
//
// The persisted surface is deliberately small: device identity and the
// last-known role, partition, and short address, written on stable role
// transitions and read back at startup. The layout is versioned JSON;
// role, partition ID, and short address round-trip exactly.
package persistence
