package transfer

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/abdul-hamid-achik/postkit/packages/timing"
)

const (
	// DefaultMaxIdleConns is the maximum number of idle connections in the pool
	DefaultMaxIdleConns = 100
	// DefaultMaxIdleConnsPerHost is the maximum number of idle connections per host
	DefaultMaxIdleConnsPerHost = 10
	// DefaultIdleConnTimeout is how long idle connections stay in the pool
	DefaultIdleConnTimeout = 90 * time.Second
)

var (
	errTotalTimeout     = errors.New("total timeout reached")
	errStalled          = errors.New("transfer stalled below the minimum rate")
	errCallerCancelled  = errors.New("cancelled by caller")
	errTooManyRedirects = errors.New("maximum redirects followed")
)

type recorderKey struct{}

// FallbackEngine implements Executor on net/http. It shares Policy, the
// buffering and spill logic, and the response assembly with Engine, so both
// produce the same Response for the same server reply.
type FallbackEngine struct {
	httpClient *http.Client
	policy     Policy
	logger     *slog.Logger
	metrics    *Metrics
	registry   *registry
	tlsErr     error
}

type FallbackOption func(*FallbackEngine)

func WithFallbackLogger(l *slog.Logger) FallbackOption {
	return func(f *FallbackEngine) {
		if l != nil {
			f.logger = l
		}
	}
}

func WithFallbackMetrics(m *Metrics) FallbackOption {
	return func(f *FallbackEngine) {
		f.metrics = m
	}
}

func NewFallbackEngine(policy Policy, opts ...FallbackOption) *FallbackEngine {
	f := &FallbackEngine{
		policy:   policy.withDefaults(),
		logger:   discardLogger(),
		registry: newRegistry(),
	}

	for _, opt := range opts {
		opt(f)
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if f.policy.CABundlePath == "" {
		f.tlsErr = errNoTrustStore
	} else if pool, err := loadCABundle(f.policy.CABundlePath); err != nil {
		f.tlsErr = err
	} else {
		tlsConfig.RootCAs = pool
	}

	dialer := &net.Dialer{Timeout: f.policy.ConnectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        DefaultMaxIdleConns,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		TLSHandshakeTimeout: f.policy.ConnectTimeout,
		TLSClientConfig:     tlsConfig,
		DisableCompression:  true,
	}

	redirectPolicy := func(req *http.Request, via []*http.Request) error {
		if f.policy.MaxRedirects == 0 {
			return http.ErrUseLastResponse
		}
		if len(via) > f.policy.MaxRedirects {
			return errTooManyRedirects
		}
		switch req.URL.Scheme {
		case "http":
		case "https":
			if f.tlsErr != nil {
				return f.tlsErr
			}
		default:
			return fmt.Errorf("redirect to unsupported scheme %q", req.URL.Scheme)
		}
		if rec, ok := req.Context().Value(recorderKey{}).(*timing.Recorder); ok {
			rec.Redirected()
		}
		return nil
	}

	f.httpClient = &http.Client{
		Transport:     transport,
		CheckRedirect: redirectPolicy,
	}

	return f
}

// InFlight reports the number of registered transfers.
func (f *FallbackEngine) InFlight() int {
	return f.registry.len()
}

// Close releases idle connections.
func (f *FallbackEngine) Close() {
	f.httpClient.CloseIdleConnections()
}

// Cancel aborts the transfer registered under id. Unknown or finished IDs
// are ignored.
func (f *FallbackEngine) Cancel(id TaskID) {
	if f.registry.cancel(id) {
		f.logger.Debug("transfer cancelled", "task", id, "backend", BackendFallback)
	}
}

// Execute performs req on the calling goroutine. Cancelling ctx has the same
// effect as Cancel(id).
func (f *FallbackEngine) Execute(ctx context.Context, req *Request, id TaskID) (*Response, error) {
	reqCtx, abort := context.WithCancelCause(context.WithoutCancel(ctx))
	defer abort(nil)

	tc := newTransferContext(id, f.policy)
	tc.onCancel = func() { abort(errCallerCancelled) }
	if !f.registry.add(tc) {
		return nil, newError(KindNetwork, fmt.Errorf("%w: %s", errDuplicateTask, id))
	}
	defer f.registry.remove(tc)

	stop := context.AfterFunc(ctx, func() { tc.cancel() })
	defer stop()

	f.metrics.started()
	start := time.Now()
	resp, err := f.transfer(reqCtx, abort, tc, req)
	elapsed := time.Since(start)
	f.metrics.finished(BackendFallback, resp, err, elapsed)
	logTransfer(f.logger, BackendFallback, id, req, resp, err, elapsed)
	return resp, err
}

func (f *FallbackEngine) transfer(ctx context.Context, abort context.CancelCauseFunc, tc *transferContext, req *Request) (*Response, error) {
	var res *transferResult
	defer func() {
		if res == nil {
			res = tc.seal()
		}
		if err := res.release(); err != nil {
			f.logger.Warn("release spill file", "task", tc.taskID, "error", err)
		}
	}()

	if req == nil {
		return nil, newError(KindInvalidURL, errors.New("nil request"))
	}
	rawURL, err := sanitizeURL(req.BuildURL())
	if err != nil {
		return nil, newError(KindInvalidURL, err)
	}
	method, err := sanitizeMethod(req.Method)
	if err != nil {
		return nil, newError(KindNetwork, err)
	}
	if strings.HasPrefix(rawURL, "https:") && f.tlsErr != nil {
		return nil, newError(KindNetwork, f.tlsErr)
	}
	headers, dropped := sanitizeHeaders(req.Headers)
	if len(dropped) > 0 {
		f.logger.Warn("dropped invalid headers", "task", tc.taskID, "headers", dropped)
	}

	ctx, cancel := context.WithTimeoutCause(ctx, req.timeout(f.policy), errTotalTimeout)
	defer cancel()

	rec := timing.NewRecorder()
	ctx = httptrace.WithClientTrace(context.WithValue(ctx, recorderKey{}, rec), rec.Trace())

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, newError(KindInvalidURL, err)
	}
	for k, v := range headers {
		if strings.EqualFold(k, "Host") {
			httpReq.Host = v
			continue
		}
		httpReq.Header.Set(k, v)
	}

	httpResp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, f.classify(ctx, tc, err)
	}
	defer httpResp.Body.Close()

	if method != http.MethodHead && httpResp.ContentLength > f.policy.MaxResponseSize {
		return nil, &Error{Kind: KindResponseTooLarge, Limit: f.policy.MaxResponseSize}
	}
	recordHeaders(tc, httpResp)

	if err := f.readBody(ctx, abort, tc, httpResp.Body); err != nil {
		return nil, err
	}
	rec.Finish()

	res = tc.seal()
	if tc.isCancelled() {
		return nil, &Error{Kind: KindCancelled}
	}
	return assembleResponse(res, httpResp.StatusCode, rec.Counters(), BackendFallback)
}

// readBody feeds the body through the context's write path, the same one the
// native callbacks use, while a watchdog aborts the transfer if it stalls.
func (f *FallbackEngine) readBody(ctx context.Context, abort context.CancelCauseFunc, tc *transferContext, body io.Reader) error {
	var received atomic.Int64
	stopWatch := watchStall(&received, f.policy, abort)
	defer stopWatch()

	buf := make([]byte, f.policy.BufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			received.Add(int64(n))
			if tc.bytesReceived+int64(n) > f.policy.MaxResponseSize {
				return &Error{Kind: KindResponseTooLarge, Limit: f.policy.MaxResponseSize}
			}
			if w := tc.write(buf[:n]); w < n {
				if tc.isCancelled() {
					return &Error{Kind: KindCancelled}
				}
				if tc.writeErr != nil {
					return newError(KindNetwork, tc.writeErr)
				}
				return newError(KindNetwork, errors.New("short write"))
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return f.classify(ctx, tc, err)
		}
	}
}

func (f *FallbackEngine) classify(ctx context.Context, tc *transferContext, err error) error {
	if tc.isCancelled() {
		return &Error{Kind: KindCancelled}
	}
	cause := context.Cause(ctx)
	if errors.Is(cause, errTotalTimeout) || errors.Is(cause, errStalled) {
		return newError(KindTimeout, cause)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(KindTimeout, err)
	}
	return newError(KindNetwork, err)
}

// watchStall aborts with errStalled when fewer than StallLimit bytes per
// second arrive over a whole StallWindow.
func watchStall(received *atomic.Int64, p Policy, abort context.CancelCauseFunc) func() {
	ticker := time.NewTicker(p.StallWindow)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		var last int64
		minBytes := p.StallLimit * stallSeconds(p.StallWindow)
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				now := received.Load()
				if now-last < minBytes {
					abort(errStalled)
					return
				}
				last = now
			}
		}
	}()
	return func() { close(done) }
}

// recordHeaders feeds the status line and header lines to tc in the same form
// the native engine delivers them.
func recordHeaders(tc *transferContext, resp *http.Response) {
	tc.appendHeader([]byte(resp.Proto + " " + resp.Status))
	keys := make([]string, 0, len(resp.Header))
	for k := range resp.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range resp.Header[k] {
			tc.appendHeader([]byte(k + ": " + v))
		}
	}
}

func loadCABundle(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
