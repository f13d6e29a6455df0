package benchstore

import "time"

// Comparison describes how a run moved relative to an earlier run against
// the same target. Positive latency deltas are regressions.
type Comparison struct {
	Previous *Run
	Current  *Run

	P50Delta       time.Duration
	P95Delta       time.Duration
	P99Delta       time.Duration
	TTFBP95Delta   time.Duration
	RPSDelta       float64
	ErrorRateDelta float64
}

// Compare returns the deltas from prev to cur.
func Compare(prev, cur *Run) *Comparison {
	return &Comparison{
		Previous:       prev,
		Current:        cur,
		P50Delta:       cur.P50 - prev.P50,
		P95Delta:       cur.P95 - prev.P95,
		P99Delta:       cur.P99 - prev.P99,
		TTFBP95Delta:   cur.TTFBP95 - prev.TTFBP95,
		RPSDelta:       cur.RPS - prev.RPS,
		ErrorRateDelta: cur.ErrorRate() - prev.ErrorRate(),
	}
}

// Regressed reports whether p95 latency grew by more than tolerance, a
// fraction of the previous p95.
func (c *Comparison) Regressed(tolerance float64) bool {
	if c.Previous.P95 <= 0 {
		return false
	}
	return float64(c.P95Delta) > float64(c.Previous.P95)*tolerance
}
