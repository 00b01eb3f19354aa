// Package rate implements the fixed-window request counter backing the
// engine's rate-limit guard.
//
// # Window semantics
//
// Fixed-window counters: atomic INCR + conditional EXPIRE on the first hit
// of a window. Keys follow rate_limit:<policyKey>:<dimensionValue>. The
// window boundary is set by the first request, so bursts straddling two
// windows can briefly exceed the configured rate; that is the accepted
// trade-off of fixed windows over sliding ones.
//
// # What this package must NOT do
//
//   - Resolve dimension values from HTTP requests (middleware does that).
//   - Decide the fail-open policy on store outage (the engine does that).
//   - Be imported outside the forumauth module.
package rate
