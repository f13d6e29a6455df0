// Package bench drives a transfer engine under load. It issues a fixed number
// of requests (or runs for a fixed duration) at a bounded concurrency and an
// optional target rate, records per-phase latency histograms from each
// response's timing breakdown, and counts outcomes by error kind.
package bench

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for a bench run
type Config struct {
	Requests    int           // total requests; 0 runs until Duration elapses
	Duration    time.Duration // wall-clock limit; 0 means no limit
	Concurrency int           // max in-flight requests
	Rate        float64       // requests per second; 0 is unthrottled
	RampUp      time.Duration // linear ramp to Rate
	CancelAfter time.Duration // cancel each request by task ID after this long
	Thresholds  Thresholds    // pass/fail thresholds
}

// Thresholds defines pass/fail criteria for a bench run
type Thresholds struct {
	P50        time.Duration // 50th percentile total latency
	P95        time.Duration // 95th percentile total latency
	P99        time.Duration // 99th percentile total latency
	MaxLatency time.Duration // maximum allowed total latency
	TTFB       time.Duration // 95th percentile time to first byte
	ErrorRate  float64       // maximum error rate (0.0 - 1.0)
	MinRPS     float64       // minimum requests per second
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Requests:    100,
		Concurrency: 10,
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Requests < 0 {
		return fmt.Errorf("requests cannot be negative")
	}
	if c.Requests == 0 && c.Duration <= 0 {
		return fmt.Errorf("either requests or duration must be positive")
	}
	if c.Duration < 0 {
		return fmt.Errorf("duration cannot be negative")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if c.Rate < 0 {
		return fmt.Errorf("rate cannot be negative")
	}
	if c.RampUp < 0 {
		return fmt.Errorf("rampUp cannot be negative")
	}
	if c.RampUp > 0 && c.Rate == 0 {
		return fmt.Errorf("rampUp requires a rate")
	}
	if c.Duration > 0 && c.RampUp > c.Duration {
		return fmt.Errorf("rampUp cannot exceed duration")
	}
	if c.CancelAfter < 0 {
		return fmt.Errorf("cancelAfter cannot be negative")
	}
	return nil
}

var thresholdPattern = regexp.MustCompile(`^(\w+)\s*([<>]=?)\s*(.+)$`)

// ParseThresholds parses a threshold string like "p95<200ms,errors<0.1%"
func ParseThresholds(s string) (Thresholds, error) {
	var t Thresholds

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if err := parseThresholdPart(part, &t); err != nil {
			return t, err
		}
	}

	return t, nil
}

func parseThresholdPart(part string, t *Thresholds) error {
	matches := thresholdPattern.FindStringSubmatch(part)
	if len(matches) != 4 {
		return fmt.Errorf("invalid threshold format: %s", part)
	}

	metric := strings.ToLower(matches[1])
	op := matches[2]
	valueStr := matches[3]
	upper := op == "<" || op == "<="

	latency := func(name string, dst *time.Duration) error {
		d, err := time.ParseDuration(valueStr)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %s", name, valueStr)
		}
		if !upper {
			return fmt.Errorf("%s threshold must use < or <=", name)
		}
		*dst = d
		return nil
	}

	switch metric {
	case "p50":
		return latency("p50", &t.P50)
	case "p95":
		return latency("p95", &t.P95)
	case "p99":
		return latency("p99", &t.P99)
	case "max", "maxlatency":
		return latency("max latency", &t.MaxLatency)
	case "ttfb":
		return latency("ttfb", &t.TTFB)

	case "errors", "error", "errorrate":
		f, err := strconv.ParseFloat(strings.TrimSuffix(valueStr, "%"), 64)
		if err != nil {
			return fmt.Errorf("invalid error rate: %s", valueStr)
		}
		if strings.HasSuffix(valueStr, "%") {
			f = f / 100
		}
		if !upper {
			return fmt.Errorf("error rate threshold must use < or <=")
		}
		t.ErrorRate = f

	case "rps", "rate":
		f, err := strconv.ParseFloat(valueStr, 64)
		if err != nil {
			return fmt.Errorf("invalid RPS: %s", valueStr)
		}
		if upper {
			return fmt.Errorf("RPS threshold must use > or >=")
		}
		t.MinRPS = f

	default:
		return fmt.Errorf("unknown threshold metric: %s", metric)
	}

	return nil
}

// HasThresholds returns true if any thresholds are configured
func (t *Thresholds) HasThresholds() bool {
	return t.P50 > 0 || t.P95 > 0 || t.P99 > 0 || t.MaxLatency > 0 || t.TTFB > 0 || t.ErrorRate > 0 || t.MinRPS > 0
}

// ThresholdResult holds the result of evaluating a threshold
type ThresholdResult struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}
