package handlers

import (
	"sync/atomic"
)

// StrideFilter lets through only every Nth call to Allow.
type StrideFilter struct {
	every uint64
	count atomic.Uint64
}

func NewStrideFilter(every int) *StrideFilter {
	if every < 1 {
		every = 1
	}
	return &StrideFilter{every: uint64(every)}
}

func (f *StrideFilter) Allow() bool {
	return f.count.Add(1)%f.every == 0
}

func (f *StrideFilter) Reset() {
	f.count.Store(0)
}

// SingleFlight admits at most one outstanding operation. Callers that fail
// TryAcquire drop their work instead of waiting.
type SingleFlight struct {
	busy atomic.Bool
}

func (s *SingleFlight) TryAcquire() bool {
	return s.busy.CompareAndSwap(false, true)
}

func (s *SingleFlight) Release() {
	s.busy.Store(false)
}

func (s *SingleFlight) Busy() bool {
	return s.busy.Load()
}
