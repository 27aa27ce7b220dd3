//go:build !linux
// +build !linux

// File: internal/limits/limits_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package limits

import "github.com/momentics/hioload-relay/api"

func NoFile() (soft, hard uint64, err error) { return 0, 0, api.ErrNotSupported }

func RaiseNoFile(want int) (uint64, error) { return 0, api.ErrNotSupported }

func OpenFiles() (int, error) { return 0, api.ErrNotSupported }
