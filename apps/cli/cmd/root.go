package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/abdul-hamid-achik/postkit/packages/core/env"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const envPrefix = "POSTKIT"

var settings = newSettings()

var rootCmd = &cobra.Command{
	Use:   "postkit",
	Short: "Send HTTP requests from files. Measure them.",
	Long: `postkit executes HTTP requests described in YAML or JSON request files
through a bounded transfer engine. Large bodies spill to disk, every
transfer can be cancelled, and each response carries a timing breakdown.

Settings come from flags, POSTKIT_* environment variables, a .postkit.yaml
file and built-in defaults, in that order.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadEnvFile,
}

func newSettings() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Execute runs the CLI and exits with a code derived from the returned error.
func Execute(v, bt string) {
	version = v
	buildTime = bt
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errSilent) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file (default: search for .postkit.yaml)")
	pf.String("env-file", "", "Load variables from a .env file before anything else")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.Bool("no-color", false, "Disable colored output")
	pf.Bool("fallback", false, "Force the fallback engine")
	pf.Duration("timeout", 0, "Total transfer timeout (e.g. 30s)")
	pf.Duration("connect-timeout", 0, "Connection timeout")
	pf.Int64("memory-threshold", 0, "Bytes kept in memory before the body spills to disk")
	pf.Int64("max-response-size", 0, "Largest accepted response body in bytes")
	pf.String("ca-bundle", "", "PEM file with trusted CA certificates")
	pf.Int("max-redirects", 0, "Maximum redirects to follow")
	pf.Bool("no-follow", false, "Do not follow redirects")
	pf.String("temp-dir", "", "Directory for spilled response bodies")

	pf.VisitAll(func(f *pflag.Flag) {
		_ = settings.BindPFlag(f.Name, f)
	})

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadEnvFile(cmd *cobra.Command, args []string) error {
	path := settings.GetString("env-file")
	if path == "" {
		return nil
	}
	if _, err := env.LoadAndExportDotEnv(path); err != nil {
		return configError(err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
