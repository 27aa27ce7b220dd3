// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics and debug introspection layer of hioload-relay.
//
// Provides concurrent-safe state handling primitives including:
//   - Named atomic counters and sampled gauges
//   - State export and debug probe registration
//
// This package is cross-platform and build-tag-partitioned as needed.
package control
