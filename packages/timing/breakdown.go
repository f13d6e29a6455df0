package timing

import "time"

// Breakdown is the per-phase view of a transfer. Every phase is non-negative.
type Breakdown struct {
	DNSLookup       time.Duration `json:"dns_lookup"`
	TCPConnect      time.Duration `json:"tcp_connect"`
	TLSHandshake    time.Duration `json:"tls_handshake"`
	TimeToFirstByte time.Duration `json:"time_to_first_byte"`
	Download        time.Duration `json:"download"`
	Total           time.Duration `json:"total"`
	Redirect        time.Duration `json:"redirect"`
}

// Phase is a named entry of a Breakdown.
type Phase struct {
	Name     string
	Duration time.Duration
}

// Derive computes a Breakdown from cumulative counters. Each phase is the
// difference from the largest counter seen so far, clamped at zero, starting
// from the redirect counter.
func Derive(c Counters) Breakdown {
	prev := c.Redirect
	if prev < 0 {
		prev = 0
	}
	step := func(v time.Duration) time.Duration {
		d := v - prev
		if v > prev {
			prev = v
		}
		if d < 0 {
			return 0
		}
		return d
	}

	b := Breakdown{
		DNSLookup:    step(c.NameLookup),
		TCPConnect:   step(c.Connect),
		TLSHandshake: step(c.AppConnect),
	}
	b.TimeToFirstByte = step(c.StartTransfer)
	b.Download = step(c.Total)
	b.Total = clamp(c.Total)
	b.Redirect = clamp(c.Redirect)
	return b
}

// FromSeconds builds Counters from the floating point seconds a native handle
// reports.
func FromSeconds(nameLookup, connect, appConnect, preTransfer, startTransfer, total, redirect float64) Counters {
	return Counters{
		NameLookup:    seconds(nameLookup),
		Connect:       seconds(connect),
		AppConnect:    seconds(appConnect),
		PreTransfer:   seconds(preTransfer),
		StartTransfer: seconds(startTransfer),
		Total:         seconds(total),
		Redirect:      seconds(redirect),
	}
}

// Phases lists the breakdown in transfer order, total last.
func (b Breakdown) Phases() []Phase {
	return []Phase{
		{"dns", b.DNSLookup},
		{"connect", b.TCPConnect},
		{"tls", b.TLSHandshake},
		{"ttfb", b.TimeToFirstByte},
		{"download", b.Download},
		{"redirect", b.Redirect},
		{"total", b.Total},
	}
}

func seconds(s float64) time.Duration {
	return clamp(time.Duration(s * float64(time.Second)))
}

func clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
