package cmd

import (
	"errors"

	"github.com/abdul-hamid-achik/postkit/packages/transfer"
)

// Exit codes for postkit CLI
const (
	// ExitSuccess indicates the command completed
	ExitSuccess = 0

	// ExitFailure is any error without a more specific code
	ExitFailure = 1

	// ExitRequestError indicates an unreadable or invalid request file
	ExitRequestError = 2

	// ExitConfigError indicates a configuration error
	ExitConfigError = 3

	// ExitNetworkError indicates a network/connection error
	ExitNetworkError = 4

	// ExitTimeout indicates the transfer exceeded its timeout
	ExitTimeout = 5

	// ExitResponseTooLarge indicates the body exceeded the size limit
	ExitResponseTooLarge = 6

	// ExitThresholdFailure indicates a bench threshold was not met
	ExitThresholdFailure = 7

	// ExitInvalidURL indicates the engine rejected the request URL
	ExitInvalidURL = 8

	// ExitEngineInit indicates no engine could be started
	ExitEngineInit = 9

	// ExitUsageError indicates invalid CLI usage
	ExitUsageError = 64

	// ExitCancelled indicates the transfer was interrupted
	ExitCancelled = 130
)

// errSilent marks a failure that has already been reported.
var errSilent = errors.New("reported")

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func configError(err error) error  { return withExitCode(ExitConfigError, err) }
func requestError(err error) error { return withExitCode(ExitRequestError, err) }

// exitCodeFor maps an error returned by a command to a process exit code.
func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}

	switch transfer.KindOf(err) {
	case transfer.KindInvalidURL:
		return ExitInvalidURL
	case transfer.KindTimeout:
		return ExitTimeout
	case transfer.KindResponseTooLarge:
		return ExitResponseTooLarge
	case transfer.KindCancelled:
		return ExitCancelled
	case transfer.KindEngineInit:
		return ExitEngineInit
	case transfer.KindNetwork:
		return ExitNetworkError
	}
	return ExitFailure
}
