// Package cmd implements the command-line interface of fKV. All commands run
// the store in-process; there is no server.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for key-value operations on a disk backed store (get, set, rmw, checkpoint, etc.)
//   - bench: YCSB style benchmarks (trace conversion, population, timed workloads)
//   - sumstore: The concurrent sum-store checkpoint and recovery check
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See fkv -help for a list of all commands.
package cmd
