package transfer

import "sync"

// TaskID identifies an in-flight transfer for cancellation.
type TaskID string

// registry maps in-flight task IDs to their contexts. It is the only state
// shared between requests.
type registry struct {
	mu    sync.Mutex
	tasks map[TaskID]*transferContext
}

func newRegistry() *registry {
	return &registry{tasks: make(map[TaskID]*transferContext)}
}

// add registers tc under its task ID. It fails if the ID is already in flight.
func (r *registry) add(tc *transferContext) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[tc.taskID]; ok {
		return false
	}
	r.tasks[tc.taskID] = tc
	return true
}

// remove drops tc if it is still the registered entry for its ID.
func (r *registry) remove(tc *transferContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tasks[tc.taskID] == tc {
		delete(r.tasks, tc.taskID)
	}
}

// cancel flags the task as cancelled and removes it. Unknown IDs are ignored.
func (r *registry) cancel(id TaskID) bool {
	r.mu.Lock()
	tc, ok := r.tasks[id]
	if ok {
		delete(r.tasks, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	tc.cancel()
	return true
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
