//go:build !unix

package main

import "os"

var controlSignals []os.Signal

func isDumpSignal(os.Signal) bool  { return false }
func isLevelSignal(os.Signal) bool { return false }
