// Package tracecontext brings up a trace session: the session identity,
// the set of trace stores, a calibrated tick clock and two worker pools.
//
// Construction is two-phase. SizeOfSession, tracestore.SizeOfStores and
// SizeOfContext are pure functions returning the placement buffer each part
// needs; InitializeSession, tracestore.InitializeStores and Initialize then
// construct over caller-supplied buffers of at least that size.
//
// Initialize loads (readonly) or creates (write mode) every store on the
// general pool and closes a one-shot loading-complete channel when all have
// finished. Nothing may read or append before observing it.
//
// Shutdown is requested on the dedicated cancellation pool so it is never
// queued behind general work. Appends that already secured a slot finish
// before Cancel returns.
package tracecontext
