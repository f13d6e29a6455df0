package transfer

import "context"

// DefaultConcurrency is the number of transfers that may block in the native
// engine at the same time.
const DefaultConcurrency = 64

// workerPool bounds how many transfers run at once. Each transfer gets its own
// goroutine; the pool only limits how many exist.
type workerPool struct {
	sem chan struct{}
}

func newWorkerPool(size int) *workerPool {
	if size < 1 {
		size = DefaultConcurrency
	}
	return &workerPool{sem: make(chan struct{}, size)}
}

// Go runs fn on a new goroutine once a slot is free. It returns ctx's error
// if ctx is done first, in which case fn never runs.
func (p *workerPool) Go(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	go func() {
		defer func() { <-p.sem }()
		fn()
	}()
	return nil
}

func (p *workerPool) size() int {
	return cap(p.sem)
}
