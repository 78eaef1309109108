// Package cmd implements the command-line interface for the stash storage
// server. It provides a hierarchical command structure with operations for
// running the server and interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring the storage server
//   - kv: Commands for key-value operations against a running server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See stash -help for a list of all commands.
package cmd
