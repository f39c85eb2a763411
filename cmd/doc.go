// Package cmd implements the command-line interface for the nsKV embedded
// key-value store. Every command opens the configured store, runs and closes
// it again.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for key-value operations on one namespace (get, put, list, perf, ...)
//   - queue: Commands for the circular queues stored in a namespace
//   - admin: Store wide commands (info, health, stats, export, import)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See nskv -help for a list of all commands.
package cmd
