// Package scan implements the beacon scanner: it issues scan requests
// over a channel set and collects candidate-partition observations.
//
// # Request/Completion Model
//
// Scanning awaits radio responses but never blocks. Start issues a scan
// request to the radio and returns a pending-operation token; beacons
// observed by the radio are delivered through HandleBeacon; a timer
// derived from the per-channel dwell completes the scan and hands the
// collected results to the completion callback. At most one scan is
// outstanding at a time; a second Start fails with mesh.ErrBusy.
//
// Results are ephemeral: they exist only between completion and the
// callback's return, after which the scanner's buffer is cleared.
package scan
