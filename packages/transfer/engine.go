package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/abdul-hamid-achik/postkit/packages/native"
)

// Executor runs transfers and cancels them by task ID.
type Executor interface {
	Execute(ctx context.Context, req *Request, id TaskID) (*Response, error)
	Cancel(id TaskID)
}

var (
	_ Executor = (*Engine)(nil)
	_ Executor = (*FallbackEngine)(nil)
)

// Engine runs transfers through the native engine on a bounded pool of
// goroutines. If the native engine fails to initialize, the Engine routes
// every request to a FallbackEngine for its whole lifetime.
type Engine struct {
	policy        Policy
	concurrency   int
	logger        *slog.Logger
	metrics       *Metrics
	nativeInit    func() error
	forceFallback bool

	pool     *workerPool
	registry *registry
	fallback *FallbackEngine
	initErr  error
}

func New(opts ...Option) *Engine {
	e := &Engine{
		policy:      DefaultPolicy(),
		concurrency: DefaultConcurrency,
		logger:      discardLogger(),
		nativeInit:  native.GlobalInit,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.policy = e.policy.withDefaults()
	e.pool = newWorkerPool(e.concurrency)
	e.registry = newRegistry()

	if e.forceFallback {
		e.initErr = newError(KindEngineInit, errors.New("native engine disabled"))
		e.logger.Info("using fallback engine", "reason", "forced")
	} else if err := e.nativeInit(); err != nil {
		e.initErr = newError(KindEngineInit, err)
		e.logger.Warn("native engine unavailable, using fallback", "error", err)
	}
	if e.initErr != nil {
		e.fallback = NewFallbackEngine(e.policy,
			WithFallbackLogger(e.logger),
			WithFallbackMetrics(e.metrics),
		)
	}

	return e
}

// Backend reports which engine serves requests.
func (e *Engine) Backend() Backend {
	if e.fallback != nil {
		return BackendFallback
	}
	return BackendNative
}

// InitError returns the native initialization failure, if any.
func (e *Engine) InitError() error {
	return e.initErr
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// InFlight reports the number of registered transfers.
func (e *Engine) InFlight() int {
	if e.fallback != nil {
		return e.fallback.InFlight()
	}
	return e.registry.len()
}

// Execute performs req and blocks until it completes, fails or is cancelled.
// Cancelling ctx has the same effect as Cancel(id). Concurrent calls run in
// parallel up to the configured concurrency; id must be unique among
// in-flight transfers.
func (e *Engine) Execute(ctx context.Context, req *Request, id TaskID) (*Response, error) {
	if e.fallback != nil {
		return e.fallback.Execute(ctx, req, id)
	}

	waitCtx, stopWait := context.WithCancel(ctx)
	defer stopWait()

	tc := newTransferContext(id, e.policy)
	tc.onCancel = stopWait
	if !e.registry.add(tc) {
		return nil, newError(KindNetwork, fmt.Errorf("%w: %s", errDuplicateTask, id))
	}
	defer e.registry.remove(tc)

	stop := context.AfterFunc(ctx, func() { tc.cancel() })
	defer stop()

	e.metrics.started()
	start := time.Now()
	resp, err := e.run(waitCtx, tc, req)
	elapsed := time.Since(start)
	e.metrics.finished(BackendNative, resp, err, elapsed)
	logTransfer(e.logger, BackendNative, id, req, resp, err, elapsed)
	return resp, err
}

// Cancel aborts the transfer registered under id. Unknown or finished IDs
// are ignored.
func (e *Engine) Cancel(id TaskID) {
	if e.fallback != nil {
		e.fallback.Cancel(id)
		return
	}
	if e.registry.cancel(id) {
		e.logger.Debug("transfer cancelled", "task", id)
	}
}

// Close releases idle resources.
func (e *Engine) Close() {
	if e.fallback != nil {
		e.fallback.Close()
	}
}

// run hands the transfer to the pool and waits for its single outcome.
func (e *Engine) run(ctx context.Context, tc *transferContext, req *Request) (*Response, error) {
	err := e.pool.Go(ctx, func() {
		defer func() {
			if r := recover(); r != nil {
				tc.complete(outcome{err: newError(KindNetwork, fmt.Errorf("transfer panicked: %v", r))})
			}
		}()
		resp, err := e.transfer(tc, req)
		tc.complete(outcome{resp: resp, err: err})
	})
	if err != nil {
		return nil, &Error{Kind: KindCancelled, Err: err}
	}
	o := <-tc.done
	return o.resp, o.err
}

// transfer runs on a pool goroutine. The context's callback phase ends with
// seal; whatever the outcome, the sealed result is released before returning,
// which deletes the spill file unless a response took ownership of it.
func (e *Engine) transfer(tc *transferContext, req *Request) (*Response, error) {
	h := native.NewEasy()
	defer h.Cleanup()

	var res *transferResult
	defer func() {
		if res == nil {
			res = tc.seal()
		}
		if err := res.release(); err != nil {
			e.logger.Warn("release spill file", "task", tc.taskID, "error", err)
		}
	}()

	dropped, err := configureHandle(h, req, e.policy)
	if err != nil {
		return nil, err
	}
	if len(dropped) > 0 {
		e.logger.Warn("dropped invalid headers", "task", tc.taskID, "headers", dropped)
	}
	if tc.isCancelled() {
		return nil, &Error{Kind: KindCancelled}
	}

	code := performPinned(h, tc)
	res = tc.seal()

	if err := mapResult(code, h.ErrorBuffer(), tc.isCancelled(), res.writeErr, e.policy); err != nil {
		return nil, err
	}
	return buildResponse(h, res)
}

func logTransfer(l *slog.Logger, backend Backend, id TaskID, req *Request, resp *Response, err error, elapsed time.Duration) {
	attrs := []any{"task", id, "backend", backend}
	if req != nil {
		attrs = append(attrs, "method", req.Method, "url", req.URL)
	}
	if err != nil {
		attrs = append(attrs, "kind", KindOf(err).String(), "error", err, "elapsed", elapsed)
		l.Debug("transfer failed", attrs...)
		return
	}
	attrs = append(attrs,
		"status", resp.StatusCode,
		"bytes", resp.Size,
		"spilled", resp.IsSpilled(),
		"duration", resp.Duration,
	)
	l.Debug("transfer finished", attrs...)
}
