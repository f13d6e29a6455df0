// Package cmd implements the postkit CLI commands using Cobra.
//
// Available commands:
//   - send: Execute one request file and print the response
//   - bench: Execute a request file repeatedly and report latency
//   - validate: Check request files without sending them
//   - version: Show version and engine information
//
// Engine settings are read from flags, POSTKIT_* environment variables and
// the config file, in that order of precedence.
package cmd
