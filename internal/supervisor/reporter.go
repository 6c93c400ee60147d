package supervisor

import (
	"github.com/loykin/jwrapper/internal/logger"
)

// InfiniteWaitHint is reported when no timeout bounds the current phase.
const InfiniteWaitHint = 86400000

// StatusReporter is the external service manager. Report is called every
// cycle with the wrapper state, the exit code and a wait hint in millis.
type StatusReporter interface {
	Report(state WState, exitCode int, waitHintMillis int)
}

// NopReporter drops every report. It is used for console runs.
type NopReporter struct{}

func (NopReporter) Report(WState, int, int) {}

// LogReporter writes a DEBUG line whenever the reported tuple changes.
type LogReporter struct {
	Log *logger.Logger

	last  WState
	code  int
	hint  int
	valid bool
}

func (r *LogReporter) Report(state WState, exitCode int, waitHint int) {
	if r.valid && r.last == state && r.code == exitCode && r.hint == waitHint {
		return
	}
	r.last, r.code, r.hint, r.valid = state, exitCode, waitHint, true
	if r.Log != nil {
		r.Log.Log(logger.SourceWrapper, logger.LevelDebug,
			"Service status: %s (exit code %d, wait hint %dms)", state, exitCode, waitHint)
	}
}
