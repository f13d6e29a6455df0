package native

import (
	"sync"
	"sync/atomic"
)

// Userdata is an opaque handle to a Go value handed to callbacks. It carries
// no pointer itself; the value lives in a process-wide arena until Delete.
type Userdata uintptr

var (
	arena    sync.Map
	arenaSeq atomic.Uintptr
	arenaLen atomic.Int64
)

// NewUserdata stores v in the arena and returns its handle.
func NewUserdata(v any) Userdata {
	u := Userdata(arenaSeq.Add(1))
	arena.Store(u, v)
	arenaLen.Add(1)
	return u
}

// Value returns the stored value, or nil once the handle was deleted.
func (u Userdata) Value() any {
	v, _ := arena.Load(u)
	return v
}

// Delete releases the handle. Deleting twice is a no-op.
func (u Userdata) Delete() {
	if _, ok := arena.LoadAndDelete(u); ok {
		arenaLen.Add(-1)
	}
}

// LiveUserdata reports how many handles are currently stored.
func LiveUserdata() int {
	return int(arenaLen.Load())
}
