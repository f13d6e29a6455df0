package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/postkit/packages/bench"
	"github.com/abdul-hamid-achik/postkit/packages/benchstore"
	"github.com/abdul-hamid-achik/postkit/packages/core/env"
	"github.com/abdul-hamid-achik/postkit/packages/transfer"
)

var benchCmd = &cobra.Command{
	Use:   "bench <request-file>",
	Short: "Benchmark the request described in a file",
	Long: `Send the request in a file many times through one engine and report
latency percentiles, per-phase timing and error kinds.

Examples:
  # 1000 requests, 50 at a time
  postkit bench get-user.yaml -n 1000 -c 50

  # Rate limited for one minute, ramping up over 10s
  postkit bench get-user.yaml -d 1m -r 200 --ramp-up 10s

  # Cancel every transfer still running after 500ms
  postkit bench slow.yaml -n 100 --cancel-after 500ms

  # Thresholds for CI, results stored for comparison
  postkit bench get-user.yaml -n 500 --threshold "p95<200ms,errors<1%" --db bench.db

  # Expose engine metrics while the run is going
  postkit bench get-user.yaml -d 5m -r 50 --metrics-addr :9090`,
	Args: cobra.ExactArgs(1),
	RunE: benchCommand,
}

// regressionTolerance is the p95 growth over the previous stored run that
// is reported as a regression.
const regressionTolerance = 0.10

var (
	benchRequestsFlag    int
	benchConcurrencyFlag int
	benchRateFlag        float64
	benchDurationFlag    time.Duration
	benchRampUpFlag      time.Duration
	benchCancelAfterFlag time.Duration
	benchThresholdFlag   string
	benchJSONFlag        bool
	benchNoProgressFlag  bool
	benchVerboseFlag     bool
	benchDBFlag          string
	benchMetricsAddrFlag string
	benchVarFlags        []string
)

func init() {
	defaults := bench.DefaultConfig()
	benchCmd.Flags().IntVarP(&benchRequestsFlag, "requests", "n", defaults.Requests, "Number of requests (0 = until --duration elapses)")
	benchCmd.Flags().IntVarP(&benchConcurrencyFlag, "concurrency", "c", defaults.Concurrency, "Maximum transfers in flight")
	benchCmd.Flags().Float64VarP(&benchRateFlag, "rate", "r", 0, "Target requests per second (0 = unlimited)")
	benchCmd.Flags().DurationVarP(&benchDurationFlag, "duration", "d", 0, "Stop starting requests after this long")
	benchCmd.Flags().DurationVar(&benchRampUpFlag, "ramp-up", 0, "Ramp up to --rate over this long")
	benchCmd.Flags().DurationVar(&benchCancelAfterFlag, "cancel-after", 0, "Cancel each transfer still running after this long")
	benchCmd.Flags().StringVar(&benchThresholdFlag, "threshold", "", "Pass/fail thresholds (e.g., \"p95<200ms,errors<0.1%\")")
	benchCmd.Flags().BoolVar(&benchJSONFlag, "json", false, "Output results as JSON")
	benchCmd.Flags().BoolVar(&benchNoProgressFlag, "no-progress", false, "Disable real-time progress display")
	benchCmd.Flags().BoolVarP(&benchVerboseFlag, "verbose", "v", false, "Show the per-phase latency breakdown")
	benchCmd.Flags().StringVar(&benchDBFlag, "db", "", "Store results in this SQLite database and compare with the previous run")
	benchCmd.Flags().StringVar(&benchMetricsAddrFlag, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	benchCmd.Flags().StringArrayVar(&benchVarFlags, "var", nil, "Set a template variable (name=value), repeatable")
}

func benchCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings(settings)
	if err != nil {
		return err
	}

	benchCfg, err := buildBenchConfig()
	if err != nil {
		return withExitCode(ExitUsageError, err)
	}

	vars, err := env.ParseAssignments(benchVarFlags)
	if err != nil {
		return withExitCode(ExitUsageError, err)
	}
	req, err := buildRequest(args[0], vars, cfg.Headers)
	if err != nil {
		return requestError(err)
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics *transfer.Metrics
	if benchMetricsAddrFlag != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		metrics = transfer.NewMetrics(reg)
		shutdown, err := serveMetrics(benchMetricsAddrFlag, reg, logger)
		if err != nil {
			return withExitCode(ExitUsageError, err)
		}
		defer shutdown()
	}

	engine := newEngine(cfg, logger, benchCfg.Concurrency, metrics)
	defer engine.Close()

	out := cmd.OutOrStdout()
	textOut := out
	if benchJSONFlag {
		textOut = io.Discard
	}
	reporter := bench.NewReporter(
		bench.WithWriter(textOut),
		bench.WithNoColor(cfg.GetNoColor()),
		bench.WithNoProgress(benchNoProgressFlag || benchJSONFlag),
		bench.WithVerbose(benchVerboseFlag),
	)

	runner := bench.NewRunner(benchCfg, engine,
		bench.WithReporter(reporter),
		bench.WithLogger(logger),
	)

	startedAt := time.Now()
	result, err := runner.Run(ctx, req)
	if err != nil {
		return err
	}

	if benchJSONFlag {
		if err := bench.NewReporter(bench.WithWriter(out)).JSONSummary(result.Summary, result.Thresholds); err != nil {
			return err
		}
	}

	if benchDBFlag != "" {
		run := benchstore.NewRun(req.Method, req.BuildURL(), string(engine.Backend()), startedAt, result)
		if err := storeRun(context.WithoutCancel(ctx), textOut, benchDBFlag, run, cfg.GetNoColor()); err != nil {
			return err
		}
	}

	if !result.Passed {
		return withExitCode(ExitThresholdFailure, errors.New("thresholds not met"))
	}
	return nil
}

func buildBenchConfig() (*bench.Config, error) {
	cfg := &bench.Config{
		Requests:    benchRequestsFlag,
		Duration:    benchDurationFlag,
		Concurrency: benchConcurrencyFlag,
		Rate:        benchRateFlag,
		RampUp:      benchRampUpFlag,
		CancelAfter: benchCancelAfterFlag,
	}
	if benchThresholdFlag != "" {
		t, err := bench.ParseThresholds(benchThresholdFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid threshold: %w", err)
		}
		cfg.Thresholds = t
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// serveMetrics exposes reg on addr until the returned shutdown is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String(), "path", "/metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// storeRun saves run and prints how it compares with the previous run
// against the same target.
func storeRun(ctx context.Context, w io.Writer, dbPath string, run *benchstore.Run, noColor bool) error {
	store, err := benchstore.Open(dbPath)
	if err != nil {
		return withExitCode(ExitConfigError, err)
	}
	defer store.Close()

	id, err := store.Save(ctx, run)
	if err != nil {
		return err
	}

	prev, err := store.Previous(ctx, run)
	if errors.Is(err, benchstore.ErrNotFound) {
		fmt.Fprintf(w, "Stored run %s (first for this target)\n", id)
		return nil
	}
	if err != nil {
		return err
	}

	printComparison(w, benchstore.Compare(prev, run), noColor)
	return nil
}

func printComparison(w io.Writer, c *benchstore.Comparison, noColor bool) {
	bold := color.New(color.Bold)
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	if noColor {
		bold.DisableColor()
		red.DisableColor()
		green.DisableColor()
	}

	latency := func(name string, d time.Duration) {
		col := green
		if d > 0 {
			col = red
		}
		fmt.Fprintf(w, "  %-10s %s\n", name, col.Sprintf("%+.2fms", float64(d.Microseconds())/1000))
	}

	fmt.Fprintln(w)
	bold.Fprintf(w, "COMPARED WITH %s (%s)\n", c.Previous.ID, c.Previous.StartedAt.Format(time.RFC3339))
	latency("p50", c.P50Delta)
	latency("p95", c.P95Delta)
	latency("p99", c.P99Delta)
	latency("ttfb p95", c.TTFBP95Delta)
	fmt.Fprintf(w, "  %-10s %+.1f\n", "rps", c.RPSDelta)
	fmt.Fprintf(w, "  %-10s %+.2f%%\n", "errors", c.ErrorRateDelta*100)

	if c.Regressed(regressionTolerance) {
		red.Fprintf(w, "\n  p95 regressed by more than %.0f%%\n", regressionTolerance*100)
	}
}
