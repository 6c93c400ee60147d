package supervisor

// startupHint is the wait hint reported while the child is coming up.
func (s *Supervisor) startupHint() int {
	if s.cfg.Child.StartupTimeout <= 0 {
		return InfiniteWaitHint
	}
	return s.cfg.Child.StartupTimeout * 1000
}

// shutdownHint is the wait hint reported while the child is going down.
func (s *Supervisor) shutdownHint() int {
	shutdown, exit := s.cfg.Child.ShutdownTimeout, s.cfg.Child.ExitTimeout
	if shutdown <= 0 || exit <= 0 {
		return InfiniteWaitHint
	}
	return max(shutdown, exit) * 1000
}

func (s *Supervisor) wStateHandler() {
	switch s.wState {
	case WStateStarting:
		s.wStateStarting()
	case WStateStarted:
		s.reporter.Report(WStateStarted, 0, 0)
	case WStatePausing:
		s.wStatePausing()
	case WStatePaused:
		s.reporter.Report(WStatePaused, 0, 0)
	case WStateContinuing:
		s.wStateContinuing()
	case WStateStopping:
		s.wStateStopping()
	case WStateStopped:
		s.reporter.Report(WStateStopped, s.exitCode, 0)
	}
}

func (s *Supervisor) wStateStarting() {
	s.reporter.Report(WStateStarting, 0, s.startupHint())
	if s.jState == JStateStarted {
		s.setWState(WStateStarted)
		s.reporter.Report(WStateStarted, 0, 0)
	}
}

func (s *Supervisor) wStatePausing() {
	if !s.cfg.Wrapper.StopOnPause {
		s.setWState(WStatePaused)
		s.reporter.Report(WStatePaused, 0, 0)
		return
	}
	if s.jState == JStateDown {
		s.setWState(WStatePaused)
		s.reporter.Report(WStatePaused, 0, 0)
		return
	}
	s.reporter.Report(WStatePausing, 0, s.shutdownHint())
	if !s.exitRequested && !s.jState.stopping() {
		s.exitRequested = true
		s.restartRequested = RestartConfigured
	}
}

func (s *Supervisor) wStateContinuing() {
	if s.jState == JStateStarted {
		s.setWState(WStateStarted)
		s.reporter.Report(WStateStarted, 0, 0)
		return
	}
	s.reporter.Report(WStateContinuing, 0, s.startupHint())
}

func (s *Supervisor) wStateStopping() {
	s.reporter.Report(WStateStopping, s.exitCode, s.shutdownHint())
	if s.jState == JStateDown {
		s.setWState(WStateStopped)
	}
}
