package config

import "github.com/abdul-hamid-achik/postkit/packages/transfer"

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		MemoryThreshold: transfer.DefaultMemoryThreshold,
		MaxResponseSize: transfer.DefaultMaxResponseSize,
		ConnectTimeout:  int(transfer.DefaultConnectTimeout.Milliseconds()),
		Timeout:         int(transfer.DefaultTimeout.Milliseconds()),
		StallLimit:      transfer.DefaultStallLimit,
		StallWindow:     int(transfer.DefaultStallWindow.Milliseconds()),
		FollowRedirects: BoolPtr(true),
		MaxRedirects:    transfer.DefaultMaxRedirects,
		BufferSize:      transfer.DefaultBufferSize,
		Concurrency:     transfer.DefaultConcurrency,
		LogLevel:        "info",
		NoColor:         BoolPtr(false),
		ForceFallback:   BoolPtr(false),
	}
}
