//go:build windows

package main

import (
	"os"
	"syscall"
)

var watchedSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

func classifySignal(sig os.Signal) (signalAction, string) {
	switch sig {
	case os.Interrupt:
		return signalStop, "CTRL-C"
	case syscall.SIGTERM:
		return signalStop, "TERM"
	}
	return signalIgnore, sig.String()
}
