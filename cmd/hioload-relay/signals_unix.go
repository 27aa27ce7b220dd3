//go:build unix

package main

import (
	"os"
	"syscall"
)

// SIGUSR1 dumps probes and metrics, SIGUSR2 toggles debug logging.
var controlSignals = []os.Signal{syscall.SIGUSR1, syscall.SIGUSR2}

func isDumpSignal(s os.Signal) bool  { return s == syscall.SIGUSR1 }
func isLevelSignal(s os.Signal) bool { return s == syscall.SIGUSR2 }
