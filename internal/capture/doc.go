// Package capture turns raw trace signals into Event store records.
//
// Each capture samples the enabled resource counters, stamps the record from
// the context clock and appends it. The previous record's Elapsed and delta
// fields are then backpatched in place, so the most recent record always has
// them zero. The backpatch takes no lock: a concurrent reader can see a
// stale delta but never a torn identity field, since identities are written
// once at append.
//
// A counter category whose sample fails is disabled for the rest of the
// session and never re-enabled.
//
// A Capturer is the single writer of its session's Event, Function and Name
// stores. Callers with several producing threads serialize externally.
package capture
