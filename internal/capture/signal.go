package capture

import "github.com/roach88/tracer/internal/tracestore"

// Signal is one raw trace event.
type Signal struct {
	Kind     tracestore.EventKind
	Identity *Identity

	// LineNumber is used for line events, Depth for every other kind.
	LineNumber uint32
	Depth      uint32

	ThreadID  uint32
	CFunction bool
}

func (s Signal) traits() tracestore.EventTraits {
	value := s.Depth
	if s.Kind == tracestore.KindLine {
		value = s.LineNumber
	}
	t := tracestore.NewEventTraits(s.Kind, value)
	if s.CFunction {
		t = t.WithCFunction()
	}
	return t
}
