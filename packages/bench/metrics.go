package bench

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/abdul-hamid-achik/postkit/packages/timing"
	"github.com/abdul-hamid-achik/postkit/packages/transfer"
)

const (
	// histogram range: 1us to 60s, 3 significant digits
	minLatencyUs = 1
	maxLatencyUs = 60_000_000
	sigFigs      = 3
)

// OutcomeOK labels transfers that completed with a non-error status.
const OutcomeOK = "ok"

// Metrics collects and aggregates bench results
type Metrics struct {
	mu sync.Mutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	errorRequests   atomic.Int64
	spilled         atomic.Int64
	bytesReceived   atomic.Int64

	// wall-clock latency of every attempt, failed ones included
	latency *hdrhistogram.Histogram

	// engine-reported phases of completed transfers
	phases map[string]*hdrhistogram.Histogram

	outcomes map[string]int64

	startTime time.Time
	endTime   time.Time
}

// NewMetrics creates a new Metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{
		latency:  newHistogram(),
		phases:   make(map[string]*hdrhistogram.Histogram),
		outcomes: make(map[string]int64),
	}
	for _, p := range (timing.Breakdown{}).Phases() {
		m.phases[p.Name] = newHistogram()
	}
	return m
}

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(minLatencyUs, maxLatencyUs, sigFigs)
}

// Start marks the beginning of the run
func (m *Metrics) Start() {
	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
}

// Stop marks the end of the run
func (m *Metrics) Stop() {
	m.mu.Lock()
	m.endTime = time.Now()
	m.mu.Unlock()
}

// Record records one transfer attempt. resp is nil when err is non-nil.
func (m *Metrics) Record(elapsed time.Duration, resp *transfer.Response, err error) {
	m.totalRequests.Add(1)

	outcome := Outcome(resp, err)
	if outcome == OutcomeOK {
		m.successRequests.Add(1)
	} else {
		m.errorRequests.Add(1)
	}

	if resp != nil {
		m.bytesReceived.Add(resp.Size)
		if resp.IsSpilled() {
			m.spilled.Add(1)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.outcomes[outcome]++
	_ = m.latency.RecordValue(toMicros(elapsed))
	if resp != nil {
		for _, p := range resp.Timing.Phases() {
			_ = m.phases[p.Name].RecordValue(toMicros(p.Duration))
		}
	}
}

// Outcome labels a transfer result: OutcomeOK, "http_4xx"/"http_5xx" for
// error statuses, or the error kind for failed transfers.
func Outcome(resp *transfer.Response, err error) string {
	if err != nil {
		return transfer.KindOf(err).String()
	}
	if resp == nil {
		return transfer.Kind(0).String()
	}
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("http_%dxx", resp.StatusCode/100)
	}
	return OutcomeOK
}

func toMicros(d time.Duration) int64 {
	us := d.Microseconds()
	if us < minLatencyUs {
		us = minLatencyUs
	}
	if us > maxLatencyUs {
		us = maxLatencyUs
	}
	return us
}

// Summary is the final result of a bench run
type Summary struct {
	Duration      time.Duration `json:"duration"`
	TotalRequests int64         `json:"total"`
	SuccessCount  int64         `json:"success"`
	ErrorCount    int64         `json:"errors"`
	SpilledCount  int64         `json:"spilled"`
	BytesReceived int64         `json:"bytesReceived"`

	RPS         float64 `json:"rps"`
	SuccessRate float64 `json:"successRate"`
	ErrorRate   float64 `json:"errorRate"`

	Latency LatencySummary            `json:"latency"`
	Phases  map[string]LatencySummary `json:"phases"`

	// Outcomes counts attempts by Outcome label.
	Outcomes map[string]int64 `json:"outcomes"`
}

// LatencySummary holds the percentiles of one histogram
type LatencySummary struct {
	P50    time.Duration `json:"p50"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stddev"`
}

func summarize(h *hdrhistogram.Histogram) LatencySummary {
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	if h.TotalCount() == 0 {
		return LatencySummary{}
	}
	return LatencySummary{
		P50:    us(h.ValueAtQuantile(50)),
		P95:    us(h.ValueAtQuantile(95)),
		P99:    us(h.ValueAtQuantile(99)),
		Min:    us(h.Min()),
		Max:    us(h.Max()),
		Mean:   time.Duration(h.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(h.StdDev() * float64(time.Microsecond)),
	}
}

// OutcomeNames returns the recorded outcome labels, OutcomeOK first.
func (s *Summary) OutcomeNames() []string {
	names := make([]string, 0, len(s.Outcomes))
	for name := range s.Outcomes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == OutcomeOK || names[j] == OutcomeOK {
			return names[i] == OutcomeOK
		}
		return names[i] < names[j]
	})
	return names
}

// GetSummary returns the metrics summary
func (m *Metrics) GetSummary() *Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	duration := m.endTime.Sub(m.startTime)
	if m.endTime.IsZero() {
		duration = time.Since(m.startTime)
	}

	total := m.totalRequests.Load()
	success := m.successRequests.Load()
	errors := m.errorRequests.Load()

	summary := &Summary{
		Duration:      duration,
		TotalRequests: total,
		SuccessCount:  success,
		ErrorCount:    errors,
		SpilledCount:  m.spilled.Load(),
		BytesReceived: m.bytesReceived.Load(),
		Latency:       summarize(m.latency),
		Phases:        make(map[string]LatencySummary, len(m.phases)),
		Outcomes:      make(map[string]int64, len(m.outcomes)),
	}
	if duration.Seconds() > 0 {
		summary.RPS = float64(total) / duration.Seconds()
	}
	if total > 0 {
		summary.SuccessRate = float64(success) / float64(total)
		summary.ErrorRate = float64(errors) / float64(total)
	}
	for name, h := range m.phases {
		summary.Phases[name] = summarize(h)
	}
	for name, n := range m.outcomes {
		summary.Outcomes[name] = n
	}

	return summary
}

// CurrentStats returns current statistics for real-time display
type CurrentStats struct {
	Elapsed   time.Duration
	Total     int64
	Success   int64
	Errors    int64
	RPS       float64
	P50       time.Duration
	P95       time.Duration
	Max       time.Duration
	InFlight  int
	ErrorRate float64
}

// GetCurrentStats returns current statistics
func (m *Metrics) GetCurrentStats(inFlight int) CurrentStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := time.Since(m.startTime)
	total := m.totalRequests.Load()
	errors := m.errorRequests.Load()
	lat := summarize(m.latency)

	stats := CurrentStats{
		Elapsed:  elapsed,
		Total:    total,
		Success:  m.successRequests.Load(),
		Errors:   errors,
		P50:      lat.P50,
		P95:      lat.P95,
		Max:      lat.Max,
		InFlight: inFlight,
	}
	if elapsed.Seconds() > 0 {
		stats.RPS = float64(total) / elapsed.Seconds()
	}
	if total > 0 {
		stats.ErrorRate = float64(errors) / float64(total)
	}
	return stats
}

// EvaluateThresholds evaluates the thresholds against the summary
func EvaluateThresholds(summary *Summary, t Thresholds) []ThresholdResult {
	var results []ThresholdResult

	latency := func(name string, limit, actual time.Duration) {
		if limit > 0 {
			results = append(results, ThresholdResult{
				Name:     name,
				Passed:   actual <= limit,
				Expected: "< " + limit.String(),
				Actual:   actual.String(),
			})
		}
	}

	latency("p50", t.P50, summary.Latency.P50)
	latency("p95", t.P95, summary.Latency.P95)
	latency("p99", t.P99, summary.Latency.P99)
	latency("max latency", t.MaxLatency, summary.Latency.Max)
	latency("ttfb p95", t.TTFB, summary.Phases["ttfb"].P95)

	if t.ErrorRate > 0 {
		results = append(results, ThresholdResult{
			Name:     "error rate",
			Passed:   summary.ErrorRate <= t.ErrorRate,
			Expected: formatPercent(t.ErrorRate),
			Actual:   formatPercent(summary.ErrorRate),
		})
	}

	if t.MinRPS > 0 {
		results = append(results, ThresholdResult{
			Name:     "min RPS",
			Passed:   summary.RPS >= t.MinRPS,
			Expected: "> " + formatFloat(t.MinRPS),
			Actual:   formatFloat(summary.RPS),
		})
	}

	return results
}

func formatPercent(f float64) string {
	return formatFloat(f*100) + "%"
}

func formatFloat(f float64) string {
	if f == float64(int(f)) {
		return strconv.Itoa(int(f))
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}
