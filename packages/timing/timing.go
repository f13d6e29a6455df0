// Package timing records the cumulative phase counters of an HTTP transfer and
// derives the per-phase breakdown reported with every response.
//
// Counters are cumulative offsets from the start of the transfer, in the same
// shape a native transfer library reports them (name lookup, connect, TLS,
// pre-transfer, first byte, total, redirect). A Breakdown is computed from them
// as successive non-negative differences.
package timing

import (
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"
)

// Counters holds cumulative timing counters, each measured from the start of
// the transfer. A counter that never fired reads as the previous one.
type Counters struct {
	NameLookup    time.Duration
	Connect       time.Duration
	AppConnect    time.Duration
	PreTransfer   time.Duration
	StartTransfer time.Duration
	Total         time.Duration
	Redirect      time.Duration
}

// Recorder collects Counters through httptrace hooks. Hooks may fire on
// transport goroutines, so every field is guarded by mu.
type Recorder struct {
	mu    sync.Mutex
	start time.Time
	now   func() time.Time

	nameLookup    time.Duration
	connect       time.Duration
	appConnect    time.Duration
	preTransfer   time.Duration
	startTransfer time.Duration
	total         time.Duration
	redirect      time.Duration
	hops          int
}

// NewRecorder starts a recorder at the current instant.
func NewRecorder() *Recorder {
	return newRecorderWithClock(time.Now)
}

func newRecorderWithClock(now func() time.Time) *Recorder {
	return &Recorder{start: now(), now: now}
}

// Start returns the instant the recorder was created.
func (r *Recorder) Start() time.Time {
	return r.start
}

func (r *Recorder) since() time.Duration {
	return r.now().Sub(r.start)
}

func (r *Recorder) mark(field *time.Duration) {
	d := r.since()
	r.mu.Lock()
	*field = d
	r.mu.Unlock()
}

// Trace returns the httptrace hooks feeding this recorder.
func (r *Recorder) Trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSDone: func(httptrace.DNSDoneInfo) {
			r.mark(&r.nameLookup)
		},
		ConnectDone: func(_, _ string, err error) {
			if err == nil {
				r.mark(&r.connect)
			}
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err == nil {
				r.mark(&r.appConnect)
			}
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			r.mark(&r.preTransfer)
		},
		GotFirstResponseByte: func() {
			r.mark(&r.startTransfer)
		},
	}
}

// Redirected records that a redirect is about to be followed. Phase counters
// of the previous hop are discarded; the redirect counter advances to now.
func (r *Recorder) Redirected() {
	d := r.since()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hops++
	r.redirect = d
	r.nameLookup, r.connect, r.appConnect = 0, 0, 0
	r.preTransfer, r.startTransfer = 0, 0
}

// Redirects returns how many redirects were followed.
func (r *Recorder) Redirects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hops
}

// Finish stamps the total counter.
func (r *Recorder) Finish() {
	r.mark(&r.total)
}

// Counters returns a monotonic snapshot: every counter is at least as large as
// the one preceding it in transfer order.
func (r *Recorder) Counters() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := Counters{Redirect: r.redirect}
	prev := r.redirect
	fill := func(v time.Duration) time.Duration {
		if v > prev {
			prev = v
		}
		return prev
	}
	c.NameLookup = fill(r.nameLookup)
	c.Connect = fill(r.connect)
	c.AppConnect = fill(r.appConnect)
	c.PreTransfer = fill(r.preTransfer)
	c.StartTransfer = fill(r.startTransfer)
	c.Total = fill(r.total)
	return c
}
