package supervisor

import (
	"os"

	"github.com/loykin/jwrapper/internal/logger"
	"github.com/loykin/jwrapper/internal/tick"
)

// anchorPoll stops the wrapper once the anchor file disappears.
func (s *Supervisor) anchorPoll(now tick.Tick) {
	path := s.cfg.Wrapper.AnchorFile
	if path == "" || !tick.Expired(now, s.anchorTimeout) {
		return
	}
	if s.diag.loop {
		s.logf(logger.LevelStatus, "    Anchor poll: %s", path)
	}
	if _, err := os.Stat(path); err != nil && os.IsNotExist(err) {
		if !s.exitRequested && s.restartRequested == RestartNo &&
			!s.jState.stopping() && s.jState != JStateDown {
			s.logf(logger.LevelStatus, "Anchor file deleted.  Shutting down.")
			s.stopProcess(0)
			if s.wState != WStateStopping && s.wState != WStateStopped {
				s.setWState(WStateStopping)
			}
		}
	}
	s.anchorTimeout = tick.Add(now, s.cfg.Wrapper.AnchorPollInterval)
}
