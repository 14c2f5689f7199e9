// Package vector implements the information vector: one entry per node of a
// fixed cluster universe, kept in IP order, together with the window of
// entries selected for the next gossip exchange.
//
// The vector owns every piece of mutable gossip state (entries, window,
// death log, measurement accumulators). Each exported method takes the
// vector's lock for its whole duration, so a periodic tick can never observe
// or interleave with a half-applied merge.
//
// Merge rules:
//   - information never regresses: an entry only accepts strictly newer data
//   - data from the future or older than the retention horizon is dropped
//   - a clock that moves backward resets the whole vector
//   - entries that outlive the horizon are punished lazily on read
package vector
