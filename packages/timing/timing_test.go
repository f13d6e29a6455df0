package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDerive_SuccessiveDifferences(t *testing.T) {
	c := Counters{
		NameLookup:    10 * time.Millisecond,
		Connect:       25 * time.Millisecond,
		AppConnect:    60 * time.Millisecond,
		PreTransfer:   61 * time.Millisecond,
		StartTransfer: 100 * time.Millisecond,
		Total:         150 * time.Millisecond,
	}

	b := Derive(c)

	assert.Equal(t, 10*time.Millisecond, b.DNSLookup)
	assert.Equal(t, 15*time.Millisecond, b.TCPConnect)
	assert.Equal(t, 35*time.Millisecond, b.TLSHandshake)
	assert.Equal(t, 40*time.Millisecond, b.TimeToFirstByte)
	assert.Equal(t, 50*time.Millisecond, b.Download)
	assert.Equal(t, 150*time.Millisecond, b.Total)
	assert.Zero(t, b.Redirect)
}

func TestDerive_PlainHTTPHasNoTLSPhase(t *testing.T) {
	// A plain http transfer never reports an app connect time.
	c := Counters{
		NameLookup:    5 * time.Millisecond,
		Connect:       8 * time.Millisecond,
		StartTransfer: 20 * time.Millisecond,
		Total:         22 * time.Millisecond,
	}

	b := Derive(c)

	assert.Zero(t, b.TLSHandshake)
	assert.Equal(t, 12*time.Millisecond, b.TimeToFirstByte)
	assert.Equal(t, 2*time.Millisecond, b.Download)
}

func TestDerive_ClampsNegativeValues(t *testing.T) {
	c := Counters{
		NameLookup:    50 * time.Millisecond,
		Connect:       20 * time.Millisecond,
		StartTransfer: 40 * time.Millisecond,
		Total:         -time.Millisecond,
		Redirect:      -time.Second,
	}

	b := Derive(c)

	for _, p := range b.Phases() {
		assert.GreaterOrEqual(t, p.Duration, time.Duration(0), p.Name)
	}
	assert.Equal(t, 50*time.Millisecond, b.DNSLookup)
	assert.Zero(t, b.TCPConnect)
	assert.Zero(t, b.TimeToFirstByte)
}

func TestDerive_RedirectOffsetsFirstPhase(t *testing.T) {
	c := Counters{
		Redirect:      30 * time.Millisecond,
		NameLookup:    31 * time.Millisecond,
		Connect:       35 * time.Millisecond,
		StartTransfer: 45 * time.Millisecond,
		Total:         50 * time.Millisecond,
	}

	b := Derive(c)

	assert.Equal(t, time.Millisecond, b.DNSLookup)
	assert.Equal(t, 30*time.Millisecond, b.Redirect)
	assert.Equal(t, 50*time.Millisecond, b.Total)
}

func TestFromSeconds(t *testing.T) {
	c := FromSeconds(0.001, 0.002, 0, 0.003, 0.004, 0.005, 0)
	assert.Equal(t, time.Millisecond, c.NameLookup)
	assert.Equal(t, 5*time.Millisecond, c.Total)
}

func TestRecorder_CountersAreMonotonic(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	r := newRecorderWithClock(clock)
	trace := r.Trace()

	now = now.Add(4 * time.Millisecond)
	trace.ConnectDone("tcp", "127.0.0.1:80", nil)
	now = now.Add(6 * time.Millisecond)
	trace.GotFirstResponseByte()
	now = now.Add(5 * time.Millisecond)
	r.Finish()

	c := r.Counters()
	assert.Equal(t, time.Duration(0), c.NameLookup)
	assert.Equal(t, 4*time.Millisecond, c.Connect)
	assert.Equal(t, 4*time.Millisecond, c.AppConnect)
	assert.Equal(t, 4*time.Millisecond, c.PreTransfer)
	assert.Equal(t, 10*time.Millisecond, c.StartTransfer)
	assert.Equal(t, 15*time.Millisecond, c.Total)
}

func TestRecorder_RedirectResetsHop(t *testing.T) {
	now := time.Unix(0, 0)
	r := newRecorderWithClock(func() time.Time { return now })
	trace := r.Trace()

	now = now.Add(3 * time.Millisecond)
	trace.ConnectDone("tcp", "a", nil)
	now = now.Add(7 * time.Millisecond)
	r.Redirected()
	now = now.Add(2 * time.Millisecond)
	trace.GotFirstResponseByte()
	r.Finish()

	c := r.Counters()
	assert.Equal(t, 1, r.Redirects())
	assert.Equal(t, 10*time.Millisecond, c.Redirect)
	assert.Equal(t, 10*time.Millisecond, c.Connect)
	assert.Equal(t, 12*time.Millisecond, c.StartTransfer)
}
