// Package output renders transfer responses for the terminal.
//
// Supported output formats:
//   - Console: status line, optional headers and timing table, then the body
//   - JSON: one document per transfer with timing in milliseconds
//
// Spilled bodies are streamed from their file rather than read into memory,
// unless a gjson query needs the whole document.
package output
