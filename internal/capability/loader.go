package capability

import (
	"fmt"
	"sync"
)

// Module and symbol names resolved at startup.
const (
	ModuleHeap        = "Heap"
	ModuleStringTable = "StringTable"

	SymbolNewAllocator = "NewAllocator"
	SymbolParse        = "Parse"
)

// Loader looks up an exported symbol of a capability module.
type Loader interface {
	Lookup(module, symbol string) (any, bool)
}

// Registry is an in-process Loader.
type Registry struct {
	mu      sync.RWMutex
	symbols map[string]any
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{symbols: make(map[string]any)}
}

// DefaultRegistry returns a registry with the built-in capabilities.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(ModuleHeap, SymbolNewAllocator, NewAllocator)
	r.Register(ModuleStringTable, SymbolParse, Parse)
	return r
}

// Register exports value as module!symbol, replacing any previous value.
func (r *Registry) Register(module, symbol string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.symbols[module+"!"+symbol] = value
}

// Remove deletes module!symbol.
func (r *Registry) Remove(module, symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.symbols, module+"!"+symbol)
}

func (r *Registry) Lookup(module, symbol string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.symbols[module+"!"+symbol]
	return v, ok
}

// Capabilities are the resolved entry points.
type Capabilities struct {
	NewAllocator func(limit int64) *Allocator
	Parse        func(s string, sep byte) (*StringTable, error)
}

// ResolveError reports the first symbol that could not be resolved.
type ResolveError struct {
	Module string
	Symbol string
	Reason string
}

func (e *ResolveError) Error() string {
	msg := fmt.Sprintf("failed to resolve %s!%s", e.Module, e.Symbol)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Resolve looks up every capability in order.
func Resolve(l Loader) (*Capabilities, error) {
	caps := &Capabilities{}

	steps := []struct {
		module, symbol string
		bind           func(any) bool
	}{
		{ModuleHeap, SymbolNewAllocator, func(v any) bool {
			fn, ok := v.(func(int64) *Allocator)
			caps.NewAllocator = fn
			return ok
		}},
		{ModuleStringTable, SymbolParse, func(v any) bool {
			fn, ok := v.(func(string, byte) (*StringTable, error))
			caps.Parse = fn
			return ok
		}},
	}

	for _, s := range steps {
		v, ok := l.Lookup(s.module, s.symbol)
		if !ok {
			return nil, &ResolveError{Module: s.module, Symbol: s.symbol}
		}
		if !s.bind(v) {
			return nil, &ResolveError{Module: s.module, Symbol: s.symbol, Reason: fmt.Sprintf("unexpected type %T", v)}
		}
	}
	return caps, nil
}
