// Package capability assembles the auxiliary capabilities the query bridge
// depends on: a bounded heap allocator and a string table.
//
// Capabilities are looked up by module and symbol name through a Loader and
// collected once into a Capabilities struct that is passed by reference.
// Resolution walks a fixed list in order and stops at the first missing or
// mistyped symbol.
package capability
