package lsp

import "sync/atomic"

// IDAllocator hands out request ids. Ids start at 1, strictly increase and
// are never reused. It is safe for concurrent use; share one allocator
// between sessions when ids must be unique process-wide.
type IDAllocator struct {
	last atomic.Int64
}

// NewIDAllocator returns an allocator whose first id is 1.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

// Next returns the next request id.
func (a *IDAllocator) Next() int64 {
	return a.last.Add(1)
}

// Last returns the most recently allocated id, or 0 if none was allocated.
func (a *IDAllocator) Last() int64 {
	return a.last.Load()
}
