package main

import (
	"os"
	"os/signal"

	"github.com/loykin/jwrapper/internal/logger"
)

type signalAction int

const (
	signalIgnore signalAction = iota
	signalStop
	signalRestart
	signalDump
)

// signalTarget is the part of the request mailbox a signal can reach.
type signalTarget interface {
	Stop(code int)
	Restart()
	Dump()
}

// handleSignal turns one trapped signal into a request. The log line goes
// through the signal slot queue and is written by the main loop.
func handleSignal(sig os.Signal, ctl signalTarget, log *logger.Logger) {
	action, name := classifySignal(sig)
	switch action {
	case signalStop:
		log.LogQueued(true, logger.SlotSignal, logger.SourceWrapper, logger.LevelStatus, "%s trapped.  Shutting down.", name)
		ctl.Stop(0)
	case signalRestart:
		log.LogQueued(true, logger.SlotSignal, logger.SourceWrapper, logger.LevelStatus, "%s trapped.  Restarting JVM.", name)
		ctl.Restart()
	case signalDump:
		log.LogQueued(true, logger.SlotSignal, logger.SourceWrapper, logger.LevelStatus, "%s trapped.  Requesting a Thread Dump.", name)
		ctl.Dump()
	default:
		log.LogQueued(true, logger.SlotSignal, logger.SourceWrapper, logger.LevelDebug, "%s trapped, but ignored.", name)
	}
}

// watchSignals routes the process signals to ctl until the returned func is
// called.
func watchSignals(ctl signalTarget, log *logger.Logger) func() {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, watchedSignals...)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-ch:
				handleSignal(sig, ctl, log)
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
