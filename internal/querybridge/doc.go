// Package querybridge projects a session directory of trace stores into an
// external query engine as relational tables and SQL functions.
//
// A Db is created once per query connection by Load, which runs a fixed
// nine-step bring-up:
//
//  1. resolve the heap allocator and string table capabilities
//  2. construct the private allocator
//  3. derive the session directory from the host's database file
//  4. size, allocate and initialize the session
//  5. size the readonly store set, map a large-page buffer for it and
//     initialize the stores over it
//  6. create the general and cancellation pools
//  7. size, allocate and initialize the trace context and wait for
//     loading complete
//  8. check every store schema, then register one table per store
//  9. register every declared function
//
// Any failing step unwinds through one path. If the trace context exists
// its loading-complete signal is awaited (bounded) first; a timed-out wait
// leaves everything allocated, since a pool worker may still be writing into
// it. Otherwise resources are released in reverse order.
//
// A successfully loaded Db is resident: the host's tables reference store
// memory for the rest of the process.
package querybridge
