package bench

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/abdul-hamid-achik/postkit/packages/timing"
)

// progressLines is how many lines Progress draws and ClearProgress erases.
const progressLines = 4

// Reporter handles output for bench runs
type Reporter struct {
	writer     io.Writer
	noColor    bool
	noProgress bool
	verbose    bool

	green  *color.Color
	red    *color.Color
	yellow *color.Color
	cyan   *color.Color
	bold   *color.Color
	dim    *color.Color
}

// ReporterOption configures the reporter
type ReporterOption func(*Reporter)

// WithWriter sets the output writer
func WithWriter(w io.Writer) ReporterOption {
	return func(r *Reporter) {
		r.writer = w
	}
}

// WithNoColor disables colored output
func WithNoColor(noColor bool) ReporterOption {
	return func(r *Reporter) {
		r.noColor = noColor
	}
}

// WithNoProgress disables real-time progress display
func WithNoProgress(noProgress bool) ReporterOption {
	return func(r *Reporter) {
		r.noProgress = noProgress
	}
}

// WithVerbose adds the per-phase latency table to the summary
func WithVerbose(verbose bool) ReporterOption {
	return func(r *Reporter) {
		r.verbose = verbose
	}
}

// NewReporter creates a new reporter
func NewReporter(opts ...ReporterOption) *Reporter {
	r := &Reporter{
		writer: os.Stdout,
	}

	for _, opt := range opts {
		opt(r)
	}

	r.green = r.color(color.FgGreen)
	r.red = r.color(color.FgRed)
	r.yellow = r.color(color.FgYellow)
	r.cyan = r.color(color.FgCyan)
	r.bold = r.color(color.Bold)
	r.dim = r.color(color.Faint)

	return r
}

func (r *Reporter) color(attr color.Attribute) *color.Color {
	c := color.New(attr)
	if r.noColor {
		c.DisableColor()
	}
	return c
}

// Header prints the run header
func (r *Reporter) Header(method, target string, config *Config) {
	fmt.Fprintln(r.writer)
	r.cyan.Fprintf(r.writer, "Benchmarking: %s %s\n", method, target)

	var details []string
	if config.Requests > 0 {
		details = append(details, fmt.Sprintf("Requests: %d", config.Requests))
	}
	if config.Duration > 0 {
		details = append(details, fmt.Sprintf("Duration: %s", config.Duration))
	}
	details = append(details, fmt.Sprintf("Concurrency: %d", config.Concurrency))
	if config.Rate > 0 {
		details = append(details, fmt.Sprintf("Target: %.0f req/s", config.Rate))
	}
	if config.CancelAfter > 0 {
		details = append(details, fmt.Sprintf("Cancel after: %s", config.CancelAfter))
	}

	fmt.Fprintf(r.writer, "%s\n", strings.Join(details, " | "))
	fmt.Fprintln(r.writer)
}

// Progress prints real-time progress
func (r *Reporter) Progress(stats CurrentStats, config *Config) {
	if r.noProgress {
		return
	}

	fmt.Fprint(r.writer, "\r\033[K")

	progress := 0.0
	switch {
	case config.Requests > 0:
		progress = float64(stats.Total) / float64(config.Requests)
	case config.Duration > 0:
		progress = float64(stats.Elapsed) / float64(config.Duration)
	}
	if progress > 1 {
		progress = 1
	}
	barWidth := 30
	filled := int(progress * float64(barWidth))
	bar := strings.Repeat("━", filled) + strings.Repeat("─", barWidth-filled)

	fmt.Fprintf(r.writer, "Progress %s %3.0f%% %s\n", bar, progress*100, formatDuration(stats.Elapsed))

	fmt.Fprintf(r.writer, "Requests: ")
	r.bold.Fprintf(r.writer, "%s", formatNumber(stats.Total))
	fmt.Fprintf(r.writer, " total | ")
	r.green.Fprintf(r.writer, "%s", formatNumber(stats.Success))
	fmt.Fprintf(r.writer, " ok | ")
	if stats.Errors > 0 {
		r.red.Fprintf(r.writer, "%s", formatNumber(stats.Errors))
	} else {
		fmt.Fprintf(r.writer, "%s", formatNumber(stats.Errors))
	}
	fmt.Fprintf(r.writer, " failed (%.2f%%)\n", stats.ErrorRate*100)

	fmt.Fprintf(r.writer, "Rate: ")
	r.cyan.Fprintf(r.writer, "%.1f", stats.RPS)
	fmt.Fprintf(r.writer, " req/s | In flight: %d\n", stats.InFlight)

	fmt.Fprintf(r.writer, "Latency: p50: %s | p95: %s | max: %s\n",
		formatLatency(stats.P50),
		formatLatency(stats.P95),
		formatLatency(stats.Max))

	fmt.Fprintf(r.writer, "\033[%dA", progressLines)
}

// ClearProgress clears the progress display
func (r *Reporter) ClearProgress() {
	if r.noProgress {
		return
	}
	fmt.Fprintf(r.writer, "\033[%dB", progressLines)
	for i := 0; i < progressLines; i++ {
		fmt.Fprint(r.writer, "\r\033[K\033[A")
	}
	fmt.Fprint(r.writer, "\r\033[K")
}

// Summary prints the final summary
func (r *Reporter) Summary(summary *Summary, thresholdResults []ThresholdResult) {
	fmt.Fprintln(r.writer)
	r.bold.Fprintln(r.writer, "BENCH SUMMARY")
	fmt.Fprintln(r.writer, strings.Repeat("─", 40))

	fmt.Fprintf(r.writer, "Duration:   %s\n", formatDuration(summary.Duration))
	fmt.Fprintf(r.writer, "Total:      ")
	r.bold.Fprintf(r.writer, "%s", formatNumber(summary.TotalRequests))
	fmt.Fprintf(r.writer, " requests (%.1f req/s)\n", summary.RPS)

	fmt.Fprintf(r.writer, "Success:    ")
	r.green.Fprintf(r.writer, "%s", formatNumber(summary.SuccessCount))
	fmt.Fprintf(r.writer, " (%.1f%%)\n", summary.SuccessRate*100)

	fmt.Fprintf(r.writer, "Failed:     ")
	if summary.ErrorCount > 0 {
		r.red.Fprintf(r.writer, "%s", formatNumber(summary.ErrorCount))
	} else {
		fmt.Fprintf(r.writer, "%s", formatNumber(summary.ErrorCount))
	}
	fmt.Fprintf(r.writer, " (%.1f%%)\n", summary.ErrorRate*100)

	fmt.Fprintf(r.writer, "Received:   %s bytes", formatNumber(summary.BytesReceived))
	if summary.SpilledCount > 0 {
		r.dim.Fprintf(r.writer, " (%s spilled to disk)", formatNumber(summary.SpilledCount))
	}
	fmt.Fprintln(r.writer)

	if len(summary.Outcomes) > 0 {
		fmt.Fprintln(r.writer)
		r.bold.Fprintln(r.writer, "OUTCOMES")
		for _, name := range summary.OutcomeNames() {
			c := r.yellow
			if name == OutcomeOK {
				c = r.green
			}
			c.Fprintf(r.writer, "  %-20s", name)
			fmt.Fprintf(r.writer, " %s\n", formatNumber(summary.Outcomes[name]))
		}
	}

	fmt.Fprintln(r.writer)
	r.bold.Fprintln(r.writer, "LATENCY (ms)")
	lat := summary.Latency
	fmt.Fprintf(r.writer, "  p50: %-6s | p95: %-6s | p99: %-6s | max: %s\n",
		formatLatencyMs(lat.P50),
		formatLatencyMs(lat.P95),
		formatLatencyMs(lat.P99),
		formatLatencyMs(lat.Max))
	fmt.Fprintf(r.writer, "  min: %-6s | mean: %-5s | stddev: %s\n",
		formatLatencyMs(lat.Min),
		formatLatencyMs(lat.Mean),
		formatLatencyMs(lat.StdDev))

	if r.verbose && len(summary.Phases) > 0 {
		fmt.Fprintln(r.writer)
		r.bold.Fprintln(r.writer, "PHASES (ms)")
		fmt.Fprintf(r.writer, "  %-10s %8s %8s %8s %8s\n", "phase", "p50", "p95", "p99", "max")
		for _, p := range (timing.Breakdown{}).Phases() {
			ps, ok := summary.Phases[p.Name]
			if !ok {
				continue
			}
			fmt.Fprintf(r.writer, "  %-10s %8s %8s %8s %8s\n", p.Name,
				formatLatencyMs(ps.P50),
				formatLatencyMs(ps.P95),
				formatLatencyMs(ps.P99),
				formatLatencyMs(ps.Max))
		}
	}

	if len(thresholdResults) > 0 {
		fmt.Fprintln(r.writer)
		r.bold.Fprintln(r.writer, "THRESHOLDS")
		allPassed := true
		for _, tr := range thresholdResults {
			if tr.Passed {
				r.green.Fprintf(r.writer, "  ✓ ")
			} else {
				r.red.Fprintf(r.writer, "  ✗ ")
				allPassed = false
			}
			fmt.Fprintf(r.writer, "%s %s    (actual: %s)\n", tr.Name, tr.Expected, tr.Actual)
		}

		fmt.Fprintln(r.writer)
		if allPassed {
			r.green.Fprintln(r.writer, "All thresholds passed!")
		} else {
			r.red.Fprintln(r.writer, "Some thresholds failed!")
		}
	}

	fmt.Fprintln(r.writer)
}

// jsonLatency renders a LatencySummary in milliseconds.
type jsonLatency struct {
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

func toJSONLatency(l LatencySummary) jsonLatency {
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	return jsonLatency{
		P50:    ms(l.P50),
		P95:    ms(l.P95),
		P99:    ms(l.P99),
		Min:    ms(l.Min),
		Max:    ms(l.Max),
		Mean:   ms(l.Mean),
		StdDev: ms(l.StdDev),
	}
}

// JSONSummary outputs the summary as JSON. Latencies are in milliseconds.
func (r *Reporter) JSONSummary(summary *Summary, thresholdResults []ThresholdResult) error {
	phases := make(map[string]jsonLatency, len(summary.Phases))
	for name, ps := range summary.Phases {
		phases[name] = toJSONLatency(ps)
	}

	output := map[string]any{
		"duration": summary.Duration.String(),
		"requests": map[string]any{
			"total":   summary.TotalRequests,
			"success": summary.SuccessCount,
			"failed":  summary.ErrorCount,
			"spilled": summary.SpilledCount,
		},
		"rates": map[string]any{
			"rps":         summary.RPS,
			"successRate": summary.SuccessRate,
			"errorRate":   summary.ErrorRate,
		},
		"bytesReceived": summary.BytesReceived,
		"outcomes":      summary.Outcomes,
		"latency":       toJSONLatency(summary.Latency),
		"phases":        phases,
	}

	if len(thresholdResults) > 0 {
		output["thresholds"] = thresholdResults
	}

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

// Error prints an error message
func (r *Reporter) Error(format string, args ...any) {
	r.red.Fprintf(r.writer, "Error: "+format+"\n", args...)
}

// Info prints an info message
func (r *Reporter) Info(format string, args ...any) {
	fmt.Fprintf(r.writer, format+"\n", args...)
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	if seconds == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dm %02ds", minutes, seconds)
}

// formatLatency formats latency for display
func formatLatency(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dμs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// formatLatencyMs formats latency in milliseconds
func formatLatencyMs(d time.Duration) string {
	ms := float64(d.Microseconds()) / 1000
	if ms < 1 {
		return fmt.Sprintf("%.2f", ms)
	}
	if ms < 10 {
		return fmt.Sprintf("%.1f", ms)
	}
	return fmt.Sprintf("%.0f", ms)
}

// formatNumber formats a number with commas
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	s := fmt.Sprintf("%d", n)
	if n < 1000 {
		return s
	}

	result := make([]byte, 0, len(s)+(len(s)-1)/3)

	start := len(s) % 3
	if start == 0 {
		start = 3
	}

	result = append(result, s[:start]...)
	for i := start; i < len(s); i += 3 {
		result = append(result, ',')
		result = append(result, s[i:i+3]...)
	}

	return string(result)
}
