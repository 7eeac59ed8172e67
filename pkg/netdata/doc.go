// Package netdata implements the replicated network-data store: the
// set of border-router and external-route records that propagates
// through the mesh.
//
// # Model
//
// Records are keyed by (prefix, origin). Many origins may advertise the
// same prefix; each origin's contribution is retained internally so
// that one origin's departure removes exactly its rows. The externally
// visible view is a projection that deduplicates identical prefixes
// across origins.
//
// Records are split into stable and non-stable subsets. Stable data is
// retained and flooded reliably; non-stable data is best-effort and
// subject to eviction.
//
// # Size Budget
//
// The serialized (canonical CBOR) size of the record set must not
// exceed the configured budget. After every growing mutation the store
// evicts non-stable entries, lowest preference first, then oldest
// insertion first. Stable entries are never auto-evicted: if stable
// data alone exceeds the budget, the mutation fails with
// ErrSizeBudgetExceeded and the store is left exactly as it was.
//
// # Synchronization
//
// On attach the store applies a full snapshot from the parent. After
// that it applies incremental pushes. An incremental push whose version
// does not directly follow the store's, or that withdraws an entry the
// store never had, yields ErrInconsistent; the caller reacts by
// re-requesting a full snapshot.
package netdata
