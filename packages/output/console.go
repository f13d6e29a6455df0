package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/abdul-hamid-achik/postkit/packages/transfer"
)

// Formatter renders the outcome of one transfer.
type Formatter interface {
	FormatResponse(req *transfer.Request, resp *transfer.Response, bodyPath string) error
	FormatError(req *transfer.Request, err error) error
}

// timingBarWidth is the width of the longest bar in the timing table.
const timingBarWidth = 30

type ConsoleFormatter struct {
	writer      io.Writer
	showHeaders bool
	showTiming  bool
	query       string
	noColor     bool
}

type ConsoleOption func(*ConsoleFormatter)

func NewConsoleFormatter(opts ...ConsoleOption) *ConsoleFormatter {
	f := &ConsoleFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.writer = w
	}
}

// WithHeaders prints the response headers after the status line.
func WithHeaders(show bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.showHeaders = show
	}
}

// WithTiming prints the phase breakdown after the body.
func WithTiming(show bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.showTiming = show
	}
}

// WithQuery prints the gjson query result instead of the body.
func WithQuery(path string) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.query = path
	}
}

func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.noColor = nc
	}
}

func (f *ConsoleFormatter) color(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if f.noColor {
		c.DisableColor()
	}
	return c
}

func (f *ConsoleFormatter) statusColor(code int) *color.Color {
	switch {
	case code >= 500:
		return f.color(color.FgRed, color.Bold)
	case code >= 400:
		return f.color(color.FgYellow, color.Bold)
	case code >= 300:
		return f.color(color.FgCyan, color.Bold)
	default:
		return f.color(color.FgGreen, color.Bold)
	}
}

// FormatResponse prints resp. A spilled body is streamed from its file;
// when bodyPath is set the body was saved there and only the path is shown.
func (f *ConsoleFormatter) FormatResponse(req *transfer.Request, resp *transfer.Response, bodyPath string) error {
	dim := f.color(color.Faint).SprintFunc()
	cyan := f.color(color.FgCyan).SprintFunc()

	status := strings.TrimSpace(fmt.Sprintf("%d %s", resp.StatusCode, resp.Status))
	fmt.Fprintf(f.writer, "%s %s %s\n",
		f.statusColor(resp.StatusCode).Sprint(status),
		dim(req.Method+" "+req.URL),
		cyan(fmt.Sprintf("(%dms, %s, %s)", resp.DurationMs(), formatBytes(resp.Size), resp.Backend)))

	if f.showHeaders {
		f.formatHeaders(resp.Headers)
	}

	if err := f.formatBody(resp, bodyPath); err != nil {
		return err
	}

	if f.showTiming {
		f.formatTiming(resp)
	}
	return nil
}

func (f *ConsoleFormatter) formatHeaders(headers map[string]string) {
	bold := f.color(color.Bold).SprintFunc()
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(f.writer, "%s: %s\n", bold(k), headers[k])
	}
	fmt.Fprintln(f.writer)
}

func (f *ConsoleFormatter) formatBody(resp *transfer.Response, bodyPath string) error {
	if f.query != "" {
		result, err := resp.Query(f.query)
		if err != nil {
			return fmt.Errorf("query %q: %w", f.query, err)
		}
		if !result.Exists() {
			return fmt.Errorf("query %q matched nothing", f.query)
		}
		fmt.Fprintln(f.writer, result.String())
		return nil
	}

	if bodyPath != "" {
		fmt.Fprintf(f.writer, "%s %s\n", f.color(color.Faint).Sprint("body saved to"), bodyPath)
		return nil
	}

	rc, err := resp.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	tail := &lastByteWriter{w: f.writer}
	if _, err := io.Copy(tail, rc); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if tail.n > 0 && tail.last != '\n' {
		fmt.Fprintln(f.writer)
	}
	return nil
}

func (f *ConsoleFormatter) formatTiming(resp *transfer.Response) {
	bold := f.color(color.Bold).SprintFunc()
	bar := f.color(color.FgCyan).SprintFunc()

	phases := resp.Timing.Phases()
	var longest time.Duration
	for _, p := range phases {
		if p.Name != "total" && p.Duration > longest {
			longest = p.Duration
		}
	}

	fmt.Fprintf(f.writer, "\n%s\n", bold("TIMING"))
	for _, p := range phases {
		width := 0
		if longest > 0 && p.Name != "total" {
			width = int(float64(timingBarWidth) * float64(p.Duration) / float64(longest))
		}
		fmt.Fprintf(f.writer, "  %-9s %10s  %s\n", p.Name, formatDuration(p.Duration), bar(strings.Repeat("█", width)))
	}
}

// FormatError prints the failure of req; req may be nil when the request
// could not be built.
func (f *ConsoleFormatter) FormatError(req *transfer.Request, err error) error {
	red := f.color(color.FgRed).SprintFunc()
	target := ""
	if req != nil {
		target = " " + f.color(color.Faint).Sprint(req.Method+" "+req.URL)
	}
	if kind := transfer.KindOf(err); kind != 0 {
		_, werr := fmt.Fprintf(f.writer, "%s%s [%s] %v\n", red("Error:"), target, kind, err)
		return werr
	}
	_, werr := fmt.Fprintf(f.writer, "%s%s %v\n", red("Error:"), target, err)
	return werr
}

type lastByteWriter struct {
	w    io.Writer
	n    int64
	last byte
}

func (l *lastByteWriter) Write(p []byte) (int, error) {
	n, err := l.w.Write(p)
	if n > 0 {
		l.n += int64(n)
		l.last = p[n-1]
	}
	return n, err
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000)
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
