package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/postkit/packages/core/config"
	"github.com/abdul-hamid-achik/postkit/packages/core/env"
	"github.com/abdul-hamid-achik/postkit/packages/output"
	"github.com/abdul-hamid-achik/postkit/packages/reqfile"
	"github.com/abdul-hamid-achik/postkit/packages/transfer"
)

var sendCmd = &cobra.Command{
	Use:   "send <request-file>",
	Short: "Send the request described in a file",
	Long: `Send the request described in a YAML or JSON request file and print the
response.

Examples:
  postkit send get-user.yaml
  postkit send get-user.yaml -i --timing
  postkit send get-user.yaml --query data.items.#.id
  postkit send upload.yaml --var host=staging.local --timeout 2m
  postkit send big.yaml -o body.bin
  postkit send get-user.yaml --watch`,
	Args: cobra.ExactArgs(1),
	RunE: sendCommand,
}

const (
	// WatchDebounceDelay is the debounce delay for file watch events
	WatchDebounceDelay = 300 * time.Millisecond
)

var (
	sendIncludeFlag bool
	sendTimingFlag  bool
	sendQueryFlag   string
	sendOutputFlag  string
	sendFormatFlag  string
	sendWatchFlag   bool
	sendVarFlags    []string
)

func init() {
	sendCmd.Flags().BoolVarP(&sendIncludeFlag, "include", "i", false, "Print response headers")
	sendCmd.Flags().BoolVar(&sendTimingFlag, "timing", false, "Print the timing breakdown")
	sendCmd.Flags().StringVarP(&sendQueryFlag, "query", "q", "", "Print a gjson path of the JSON body instead of the body")
	sendCmd.Flags().StringVarP(&sendOutputFlag, "output-file", "o", "", "Write the body to this file")
	sendCmd.Flags().StringVar(&sendFormatFlag, "format", "text", "Output format: text, json")
	sendCmd.Flags().BoolVarP(&sendWatchFlag, "watch", "w", false, "Send again whenever the request file changes")
	sendCmd.Flags().StringArrayVar(&sendVarFlags, "var", nil, "Set a template variable (name=value), repeatable")
}

func sendCommand(cmd *cobra.Command, args []string) error {
	path := args[0]

	cfg, err := loadSettings(settings)
	if err != nil {
		return err
	}
	vars, err := env.ParseAssignments(sendVarFlags)
	if err != nil {
		return withExitCode(ExitUsageError, err)
	}
	formatter, err := newFormatter(cmd.OutOrStdout(), cfg)
	if err != nil {
		return withExitCode(ExitUsageError, err)
	}

	logger := newLogger(cfg.LogLevel)
	engine := newEngine(cfg, logger, 0, nil)
	defer engine.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := &sender{
		engine:    engine,
		cfg:       cfg,
		vars:      vars,
		formatter: formatter,
		logger:    logger,
	}

	err = s.send(ctx, path)
	if !sendWatchFlag {
		return err
	}
	return s.watch(ctx, cmd.ErrOrStderr(), path)
}

func newFormatter(w io.Writer, cfg *config.Config) (output.Formatter, error) {
	switch sendFormatFlag {
	case "", "text":
		return output.NewConsoleFormatter(
			output.WithWriter(w),
			output.WithHeaders(sendIncludeFlag),
			output.WithTiming(sendTimingFlag),
			output.WithQuery(sendQueryFlag),
			output.WithNoColor(cfg.GetNoColor()),
		), nil
	case "json":
		return output.NewJSONFormatter(
			output.JSONWithWriter(w),
			output.JSONWithQuery(sendQueryFlag),
		), nil
	}
	return nil, fmt.Errorf("unknown format %q: expected text or json", sendFormatFlag)
}

type sender struct {
	engine    transfer.Executor
	cfg       *config.Config
	vars      map[string]string
	formatter output.Formatter
	logger    *slog.Logger
}

// send executes the request file once. Failures are printed through the
// formatter and returned with errSilent so they are not reported twice.
func (s *sender) send(ctx context.Context, path string) error {
	req, err := buildRequest(path, s.vars, s.cfg.Headers)
	if err != nil {
		_ = s.formatter.FormatError(nil, err)
		return errors.Join(requestError(err), errSilent)
	}

	id := transfer.TaskID(uuid.NewString())
	s.logger.Debug("sending", "task", id, "method", req.Method, "url", req.URL)

	resp, err := s.engine.Execute(ctx, req, id)
	if err != nil {
		_ = s.formatter.FormatError(req, err)
		return errors.Join(err, errSilent)
	}
	kept := false
	defer func() {
		if kept {
			return
		}
		if rerr := resp.Remove(); rerr != nil {
			s.logger.Warn("could not remove spill file", "path", resp.BodyFile, "error", rerr)
		}
	}()

	bodyPath := ""
	if sendOutputFlag != "" {
		if kept, err = saveBody(resp, sendOutputFlag); err != nil {
			_ = s.formatter.FormatError(req, err)
			return errors.Join(err, errSilent)
		}
		bodyPath = sendOutputFlag
	}

	if err := s.formatter.FormatResponse(req, resp, bodyPath); err != nil {
		return err
	}
	return nil
}

// buildRequest loads the request file, expands its placeholders and turns it
// into an engine request. vars override the file's own vars block.
func buildRequest(path string, vars, defaultHeaders map[string]string) (*transfer.Request, error) {
	f, err := reqfile.Load(path)
	if err != nil {
		return nil, err
	}

	resolver := env.NewResolver()
	resolver.SetVariables(f.Vars)
	resolver.SetVariables(vars)

	f, err = f.Interpolate(resolver)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f.Request(defaultHeaders)
}

// saveBody writes the response body to dest. A spilled body is moved there
// when possible, in which case resp.BodyFile becomes dest and moved is true.
func saveBody(resp *transfer.Response, dest string) (moved bool, err error) {
	if resp.IsSpilled() {
		if err := os.Rename(resp.BodyFile, dest); err == nil {
			resp.BodyFile = dest
			return true, nil
		}
	}

	rc, err := resp.Open()
	if err != nil {
		return false, err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return false, fmt.Errorf("create output file: %w", err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return false, fmt.Errorf("write output file: %w", err)
	}
	return false, out.Close()
}

// watch re-sends whenever path is written, until ctx is done.
func (s *sender) watch(ctx context.Context, w io.Writer, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch its directory.
	target, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	fmt.Fprintf(w, "\nWatching %s for changes... (press Ctrl+C to stop)\n\n", path)

	trigger := make(chan struct{}, 1)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, _ := filepath.Abs(event.Name)
			if name != target || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(WatchDebounceDelay, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})

		case <-trigger:
			fmt.Fprintf(w, "\nFile changed: %s\n\n", path)
			_ = s.send(ctx, path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watch error", "error", err)
		}
	}
}
