package capture

import (
	"strings"
	"sync/atomic"

	"github.com/roach88/tracer/internal/config"
)

// Category is a resource-counter category.
type Category uint32

const (
	CategoryMemory Category = 1 << iota
	CategoryIO
	CategoryHandles
)

func (c Category) String() string {
	var names []string
	if c&CategoryMemory != 0 {
		names = append(names, "memory")
	}
	if c&CategoryIO != 0 {
		names = append(names, "io")
	}
	if c&CategoryHandles != 0 {
		names = append(names, "handles")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// CategoriesFrom returns the categories enabled in cfg.
func CategoriesFrom(cfg config.TracingConfig) Category {
	var c Category
	if cfg.Memory {
		c |= CategoryMemory
	}
	if cfg.IoCounters {
		c |= CategoryIO
	}
	if cfg.HandleCount {
		c |= CategoryHandles
	}
	return c
}

// categorySet holds the enabled categories. Bits are only ever cleared.
type categorySet struct {
	bits atomic.Uint32
}

func (s *categorySet) load() Category {
	return Category(s.bits.Load())
}

// disable clears c and reports whether this call cleared it.
func (s *categorySet) disable(c Category) bool {
	old := s.bits.And(^uint32(c))
	return Category(old)&c != 0
}
