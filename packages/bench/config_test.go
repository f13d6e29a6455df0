package bench

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 100, cfg.Requests)
	assert.Equal(t, 10, cfg.Concurrency)
	assert.Zero(t, cfg.Rate)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:   "request count",
			config: &Config{Requests: 10, Concurrency: 1},
		},
		{
			name:   "duration only",
			config: &Config{Duration: time.Second, Concurrency: 4, Rate: 10},
		},
		{
			name:    "neither requests nor duration",
			config:  &Config{Concurrency: 1},
			wantErr: true,
		},
		{
			name:    "negative requests",
			config:  &Config{Requests: -1, Concurrency: 1},
			wantErr: true,
		},
		{
			name:    "zero concurrency",
			config:  &Config{Requests: 10},
			wantErr: true,
		},
		{
			name:    "negative rate",
			config:  &Config{Requests: 10, Concurrency: 1, Rate: -1},
			wantErr: true,
		},
		{
			name:    "rampUp without rate",
			config:  &Config{Requests: 10, Concurrency: 1, RampUp: time.Second},
			wantErr: true,
		},
		{
			name:    "rampUp exceeds duration",
			config:  &Config{Duration: time.Second, Concurrency: 1, Rate: 10, RampUp: time.Minute},
			wantErr: true,
		},
		{
			name:    "negative cancelAfter",
			config:  &Config{Requests: 10, Concurrency: 1, CancelAfter: -time.Second},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseThresholds(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Thresholds
		wantErr  bool
	}{
		{
			name:     "empty",
			input:    "",
			expected: Thresholds{},
		},
		{
			name:     "latency percentiles",
			input:    "p50<50ms, p95<200ms, p99<=1s",
			expected: Thresholds{P50: 50 * time.Millisecond, P95: 200 * time.Millisecond, P99: time.Second},
		},
		{
			name:     "max and ttfb",
			input:    "max<2s,ttfb<100ms",
			expected: Thresholds{MaxLatency: 2 * time.Second, TTFB: 100 * time.Millisecond},
		},
		{
			name:     "error rate percent",
			input:    "errors<0.5%",
			expected: Thresholds{ErrorRate: 0.005},
		},
		{
			name:     "error rate decimal",
			input:    "errorrate<0.01",
			expected: Thresholds{ErrorRate: 0.01},
		},
		{
			name:     "min rps",
			input:    "rps>50",
			expected: Thresholds{MinRPS: 50},
		},
		{
			name:    "wrong operator for latency",
			input:   "p95>200ms",
			wantErr: true,
		},
		{
			name:    "wrong operator for rps",
			input:   "rps<50",
			wantErr: true,
		},
		{
			name:    "bad duration",
			input:   "p95<fast",
			wantErr: true,
		},
		{
			name:    "unknown metric",
			input:   "p42<1s",
			wantErr: true,
		},
		{
			name:    "malformed",
			input:   "p95",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseThresholds(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestThresholdsHasThresholds(t *testing.T) {
	var empty Thresholds
	assert.False(t, empty.HasThresholds())

	withTTFB := Thresholds{TTFB: time.Millisecond}
	assert.True(t, withTTFB.HasThresholds())
}
