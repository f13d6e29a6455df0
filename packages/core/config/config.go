package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/abdul-hamid-achik/postkit/packages/transfer"
)

// Config represents the postkit configuration
type Config struct {
	MemoryThreshold int64             `json:"memoryThreshold,omitempty" yaml:"memoryThreshold,omitempty" validate:"gte=0"` // bytes
	MaxResponseSize int64             `json:"maxResponseSize,omitempty" yaml:"maxResponseSize,omitempty" validate:"gte=0"` // bytes
	CABundle        string            `json:"caBundle,omitempty" yaml:"caBundle,omitempty" validate:"omitempty,file"`
	ConnectTimeout  int               `json:"connectTimeout,omitempty" yaml:"connectTimeout,omitempty" validate:"gte=0"` // milliseconds
	Timeout         int               `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"gte=0"`               // milliseconds
	StallLimit      int64             `json:"stallLimit,omitempty" yaml:"stallLimit,omitempty" validate:"gte=0"`         // bytes per second
	StallWindow     int               `json:"stallWindow,omitempty" yaml:"stallWindow,omitempty" validate:"gte=0"`       // milliseconds
	FollowRedirects *bool             `json:"followRedirects,omitempty" yaml:"followRedirects,omitempty"`
	MaxRedirects    int               `json:"maxRedirects,omitempty" yaml:"maxRedirects,omitempty" validate:"gte=0"`
	BufferSize      int               `json:"bufferSize,omitempty" yaml:"bufferSize,omitempty" validate:"omitempty,min=1024,max=10485760"`
	TempDir         string            `json:"tempDir,omitempty" yaml:"tempDir,omitempty" validate:"omitempty,dir"`
	Concurrency     int               `json:"concurrency,omitempty" yaml:"concurrency,omitempty" validate:"gte=0"` // Number of parallel transfers
	Headers         map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`                          // Default headers for all requests
	LogLevel        string            `json:"logLevel,omitempty" yaml:"logLevel,omitempty" validate:"omitempty,oneof=debug info warn warning error"`
	NoColor         *bool             `json:"noColor,omitempty" yaml:"noColor,omitempty"`
	ForceFallback   *bool             `json:"forceFallback,omitempty" yaml:"forceFallback,omitempty"`
}

// BoolPtr returns a pointer to a bool value
func BoolPtr(b bool) *bool {
	return &b
}

// getBool returns the value of a bool pointer, or the default if nil
func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetFollowRedirects returns the follow redirects setting, defaulting to true
func (c *Config) GetFollowRedirects() bool {
	return getBool(c.FollowRedirects, true)
}

// GetNoColor returns the no color setting, defaulting to false
func (c *Config) GetNoColor() bool {
	return getBool(c.NoColor, false)
}

// GetForceFallback returns the force fallback setting, defaulting to false
func (c *Config) GetForceFallback() bool {
	return getBool(c.ForceFallback, false)
}

// ConfigFilenames contains the possible config file names
var ConfigFilenames = []string{
	".postkit.yaml",
	".postkit.yml",
	"postkit.yaml",
	".postkit.json",
	"postkit.json",
}

// LoadConfig loads configuration from the specified path or searches for config files
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		return loadConfigFromFile(path)
	}

	// Search for config file in current directory
	return FindAndLoadConfig(".")
}

// FindAndLoadConfig searches for a config file in the given directory
func FindAndLoadConfig(dir string) (*Config, error) {
	for _, filename := range ConfigFilenames {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return loadConfigFromFile(configPath)
		}
	}

	// Return defaults if no config file found
	return DefaultConfig(), nil
}

// loadConfigFromFile loads configuration from a specific file. YAML is
// chosen by extension; anything else is read as JSON.
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// Merge merges another config into this one, with other taking precedence
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}

	result := *c // Copy

	if other.MemoryThreshold > 0 {
		result.MemoryThreshold = other.MemoryThreshold
	}
	if other.MaxResponseSize > 0 {
		result.MaxResponseSize = other.MaxResponseSize
	}
	if other.CABundle != "" {
		result.CABundle = other.CABundle
	}
	if other.ConnectTimeout > 0 {
		result.ConnectTimeout = other.ConnectTimeout
	}
	if other.Timeout > 0 {
		result.Timeout = other.Timeout
	}
	if other.StallLimit > 0 {
		result.StallLimit = other.StallLimit
	}
	if other.StallWindow > 0 {
		result.StallWindow = other.StallWindow
	}
	if other.MaxRedirects > 0 {
		result.MaxRedirects = other.MaxRedirects
	}
	if other.BufferSize > 0 {
		result.BufferSize = other.BufferSize
	}
	if other.TempDir != "" {
		result.TempDir = other.TempDir
	}
	if other.Concurrency > 0 {
		result.Concurrency = other.Concurrency
	}
	if other.LogLevel != "" {
		result.LogLevel = other.LogLevel
	}

	// Boolean flags - only override if explicitly set in other config
	if other.FollowRedirects != nil {
		result.FollowRedirects = other.FollowRedirects
	}
	if other.NoColor != nil {
		result.NoColor = other.NoColor
	}
	if other.ForceFallback != nil {
		result.ForceFallback = other.ForceFallback
	}

	// Merge headers without touching either input
	if len(c.Headers) > 0 || len(other.Headers) > 0 {
		result.Headers = make(map[string]string, len(c.Headers)+len(other.Headers))
		for k, v := range c.Headers {
			result.Headers[k] = v
		}
		for k, v := range other.Headers {
			result.Headers[k] = v
		}
	}

	return &result
}

// Policy converts the configuration into the engine's transfer policy.
func (c *Config) Policy() transfer.Policy {
	p := transfer.DefaultPolicy()
	if c.MemoryThreshold > 0 {
		p.MemoryThreshold = c.MemoryThreshold
	}
	if c.MaxResponseSize > 0 {
		p.MaxResponseSize = c.MaxResponseSize
	}
	p.CABundlePath = c.CABundle
	if c.ConnectTimeout > 0 {
		p.ConnectTimeout = millis(c.ConnectTimeout)
	}
	if c.Timeout > 0 {
		p.DefaultTimeout = millis(c.Timeout)
	}
	if c.StallLimit > 0 {
		p.StallLimit = c.StallLimit
	}
	if c.StallWindow > 0 {
		p.StallWindow = millis(c.StallWindow)
	}
	if c.MaxRedirects > 0 {
		p.MaxRedirects = c.MaxRedirects
	}
	if !c.GetFollowRedirects() {
		p.MaxRedirects = 0
	}
	if c.BufferSize > 0 {
		p.BufferSize = c.BufferSize
	}
	p.TempDir = c.TempDir
	return p
}

// SaveConfig saves the configuration to a file, as YAML when the path ends
// in .yaml or .yml and JSON otherwise.
func (c *Config) SaveConfig(path string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
