//go:build !linux
// +build !linux

// File: core/concurrency/pin_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "runtime"

// PinCurrentThread locks the goroutine to its OS thread; CPU binding is unsupported here.
func PinCurrentThread(cpuID int) error {
	runtime.LockOSThread()
	return ErrAffinityNotSupported
}
