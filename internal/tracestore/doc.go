// Package tracestore implements append-only, fixed-record-width trace logs
// backed by memory-mapped segments.
//
// A store is one file per record type:
//
//	+------------------+----------------+----------------+-----
//	| file header (4K) | segment 0      | segment 1      | ...
//	+------------------+----------------+----------------+-----
//
// Every segment begins with a 64-byte segment header carrying its index and
// the number of record slots in use, followed by fixed-size record slots.
// Records never straddle segments.
//
// # Invariants
//
//   - PrevAddress is invalid iff the store is empty.
//   - Addresses, once issued, are never relocated. Growth maps additional
//     segments into the reserved logical range [0, MaxSegments); existing
//     mappings are never moved or copied.
//   - A readonly store never allocates.
//   - Append order, address order and timestamp order coincide. Each store
//     has a single writer; this is a precondition, not a lock.
//
// Readers address records through opaque (segment, index) handles. The list
// of mapped segments is published through an atomic pointer so readers never
// block the writer.
package tracestore
