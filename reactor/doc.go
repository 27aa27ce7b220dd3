// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness Multiplexer: a poll-mode loop that
// applies cross-goroutine interest registrations, polls the OS selector
// (epoll on Linux) and dispatches ready interests to per-channel handlers.
package reactor
