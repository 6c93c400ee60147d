//go:build !windows

package main

import (
	"os"
	"syscall"
)

var watchedSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT}

func classifySignal(sig os.Signal) (signalAction, string) {
	switch sig {
	case syscall.SIGINT:
		return signalStop, "INT"
	case syscall.SIGTERM:
		return signalStop, "TERM"
	case syscall.SIGHUP:
		return signalRestart, "HUP"
	case syscall.SIGQUIT:
		return signalDump, "QUIT"
	}
	return signalIgnore, sig.String()
}
