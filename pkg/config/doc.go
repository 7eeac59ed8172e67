// Package config defines the tunable parameters of the WISP engine and
// loads them from YAML.
//
// The protocol constants that the wider specification leaves open
// (promotion thresholds, election timing, retry budgets, table sizes,
// the network-data size budget) are all configurable here rather than
// hard-coded. Zero values select the documented defaults, so an empty
// file (or no file) yields a working configuration. Durations are
// expressed in integer milliseconds or seconds to keep the YAML surface
// simple on constrained deployments.
//
// Invalid values are rejected by Validate at load time; nothing is
// partially applied.
package config
