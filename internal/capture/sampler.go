package capture

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// Sampler reads the process's resource counters.
type Sampler interface {
	Memory() (workingSet, pageFaults, committed uint64, err error)
	IO() (read, write uint64, err error)
	Handles() (uint64, error)
}

// NopSampler reports zero for every counter.
type NopSampler struct{}

func (NopSampler) Memory() (uint64, uint64, uint64, error) { return 0, 0, 0, nil }
func (NopSampler) IO() (uint64, uint64, error)             { return 0, 0, nil }
func (NopSampler) Handles() (uint64, error)                { return 0, nil }

// ProcSampler samples the current process from /proc.
//
// Working set is the resident set size, page faults the sum of minor and
// major faults, committed memory the virtual size, I/O the rchar and wchar
// byte counts and handles the number of open file descriptors.
type ProcSampler struct {
	proc procfs.Proc
}

// NewProcSampler opens /proc for the current process. It fails on systems
// without procfs.
func NewProcSampler() (*ProcSampler, error) {
	p, err := procfs.Self()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &ProcSampler{proc: p}, nil
}

func (s *ProcSampler) Memory() (workingSet, pageFaults, committed uint64, err error) {
	st, err := s.proc.Stat()
	if err != nil {
		return 0, 0, 0, err
	}
	return uint64(st.ResidentMemory()), uint64(st.MinFlt + st.MajFlt), uint64(st.VirtualMemory()), nil
}

func (s *ProcSampler) IO() (read, write uint64, err error) {
	io, err := s.proc.IO()
	if err != nil {
		return 0, 0, err
	}
	return io.RChar, io.WChar, nil
}

func (s *ProcSampler) Handles() (uint64, error) {
	n, err := s.proc.FileDescriptorsLen()
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}
