package transfer

import (
	"os"
	"time"
)

const (
	// DefaultMemoryThreshold is the body size above which both engines spill
	// to a temporary file.
	DefaultMemoryThreshold int64 = 10 << 20
	// DefaultMaxResponseSize caps the body size of a single response.
	DefaultMaxResponseSize int64 = 1 << 30
	// DefaultConnectTimeout bounds connection setup including TLS.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultTimeout is used when a request carries no timeout of its own.
	DefaultTimeout = 30 * time.Second
	// DefaultStallLimit and DefaultStallWindow abort transfers that move fewer
	// than DefaultStallLimit bytes per second for a whole window.
	DefaultStallLimit  int64 = 1
	DefaultStallWindow       = 30 * time.Second
	// DefaultMaxRedirects is the maximum number of redirects to follow
	DefaultMaxRedirects = 10
	// DefaultBufferSize is the preferred receive chunk size.
	DefaultBufferSize = 64 << 10
)

// Policy is the engine-wide transfer policy. One Policy is shared by the
// primary and fallback engines.
type Policy struct {
	MemoryThreshold int64
	MaxResponseSize int64
	// CABundlePath is the trust store for https. When empty, https requests
	// are refused rather than verified against a weaker store.
	CABundlePath   string
	ConnectTimeout time.Duration
	DefaultTimeout time.Duration
	StallLimit     int64
	StallWindow    time.Duration
	// MaxRedirects of 0 disables redirect following.
	MaxRedirects int
	BufferSize   int
	// TempDir holds spill files. Empty means os.TempDir().
	TempDir string
}

func DefaultPolicy() Policy {
	return Policy{
		MemoryThreshold: DefaultMemoryThreshold,
		MaxResponseSize: DefaultMaxResponseSize,
		ConnectTimeout:  DefaultConnectTimeout,
		DefaultTimeout:  DefaultTimeout,
		StallLimit:      DefaultStallLimit,
		StallWindow:     DefaultStallWindow,
		MaxRedirects:    DefaultMaxRedirects,
		BufferSize:      DefaultBufferSize,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MemoryThreshold <= 0 {
		p.MemoryThreshold = d.MemoryThreshold
	}
	if p.MaxResponseSize <= 0 {
		p.MaxResponseSize = d.MaxResponseSize
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = d.ConnectTimeout
	}
	if p.DefaultTimeout <= 0 {
		p.DefaultTimeout = d.DefaultTimeout
	}
	if p.StallLimit <= 0 {
		p.StallLimit = d.StallLimit
	}
	if p.StallWindow <= 0 {
		p.StallWindow = d.StallWindow
	}
	if p.MaxRedirects < 0 {
		p.MaxRedirects = d.MaxRedirects
	}
	if p.BufferSize <= 0 {
		p.BufferSize = d.BufferSize
	}
	return p
}

func (p Policy) tempDir() string {
	if p.TempDir != "" {
		return p.TempDir
	}
	return os.TempDir()
}
