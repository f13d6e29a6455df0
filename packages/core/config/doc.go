// Package config handles configuration loading and management for postkit.
//
// It provides functionality for:
//   - Loading configuration from .postkit.yaml or .postkit.json files
//   - Default configuration values
//   - Validation of ranges and cross-field rules
//   - Conversion into a transfer.Policy
package config
