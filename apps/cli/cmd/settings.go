package cmd

import (
	"log/slog"

	"github.com/spf13/viper"

	"github.com/abdul-hamid-achik/postkit/packages/core/config"
	"github.com/abdul-hamid-achik/postkit/packages/transfer"
)

// loadSettings layers flags and POSTKIT_* variables over the config file and
// the defaults, then validates the result.
func loadSettings(v *viper.Viper) (*config.Config, error) {
	fileCfg, err := config.LoadConfig(v.GetString("config"))
	if err != nil {
		return nil, configError(err)
	}

	cfg := config.DefaultConfig().Merge(fileCfg)
	applyOverrides(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, configError(err)
	}
	return cfg, nil
}

func applyOverrides(v *viper.Viper, cfg *config.Config) {
	if v.IsSet("timeout") {
		cfg.Timeout = int(v.GetDuration("timeout").Milliseconds())
	}
	if v.IsSet("connect-timeout") {
		cfg.ConnectTimeout = int(v.GetDuration("connect-timeout").Milliseconds())
	}
	if v.IsSet("memory-threshold") {
		cfg.MemoryThreshold = v.GetInt64("memory-threshold")
	}
	if v.IsSet("max-response-size") {
		cfg.MaxResponseSize = v.GetInt64("max-response-size")
	}
	if v.IsSet("ca-bundle") {
		cfg.CABundle = v.GetString("ca-bundle")
	}
	if v.IsSet("max-redirects") {
		cfg.MaxRedirects = v.GetInt("max-redirects")
	}
	if v.IsSet("no-follow") {
		cfg.FollowRedirects = config.BoolPtr(!v.GetBool("no-follow"))
	}
	if v.IsSet("temp-dir") {
		cfg.TempDir = v.GetString("temp-dir")
	}
	if v.IsSet("log-level") {
		cfg.LogLevel = v.GetString("log-level")
	}
	if v.IsSet("no-color") {
		cfg.NoColor = config.BoolPtr(v.GetBool("no-color"))
	}
	if v.IsSet("fallback") {
		cfg.ForceFallback = config.BoolPtr(v.GetBool("fallback"))
	}
}

// newEngine builds the transfer engine for cfg. concurrency overrides the
// configured pool size when it is larger.
func newEngine(cfg *config.Config, logger *slog.Logger, concurrency int, metrics *transfer.Metrics) *transfer.Engine {
	if cfg.Concurrency > concurrency {
		concurrency = cfg.Concurrency
	}
	opts := []transfer.Option{
		transfer.WithPolicy(cfg.Policy()),
		transfer.WithLogger(logger),
		transfer.WithMetrics(metrics),
		transfer.WithForceFallback(cfg.GetForceFallback()),
	}
	if concurrency > 0 {
		opts = append(opts, transfer.WithConcurrency(concurrency))
	}
	return transfer.New(opts...)
}
