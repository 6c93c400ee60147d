package supervisor

// WState is the lifecycle of the wrapper itself as seen by the service manager.
type WState int

const (
	WStateStarting WState = iota
	WStateStarted
	WStatePausing
	WStatePaused
	WStateContinuing
	WStateStopping
	WStateStopped
)

func (s WState) String() string {
	switch s {
	case WStateStarting:
		return "STARTING"
	case WStateStarted:
		return "STARTED"
	case WStatePausing:
		return "PAUSING"
	case WStatePaused:
		return "PAUSED"
	case WStateContinuing:
		return "CONTINUING"
	case WStateStopping:
		return "STOPPING"
	case WStateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// JState is the lifecycle of the current child invocation.
type JState int

const (
	JStateDown JState = iota
	JStateLaunchDelay
	JStateRestart
	JStateLaunch
	JStateLaunching
	JStateLaunched
	JStateStarting
	JStateStarted
	JStateStop
	JStateStopping
	JStateStopped
	JStateKilling
	JStateKill
)

func (s JState) String() string {
	switch s {
	case JStateDown:
		return "DOWN"
	case JStateLaunchDelay:
		return "LAUNCH(DELAY)"
	case JStateRestart:
		return "RESTART"
	case JStateLaunch:
		return "LAUNCH"
	case JStateLaunching:
		return "LAUNCHING"
	case JStateLaunched:
		return "LAUNCHED"
	case JStateStarting:
		return "STARTING"
	case JStateStarted:
		return "STARTED"
	case JStateStop:
		return "STOP"
	case JStateStopping:
		return "STOPPING"
	case JStateStopped:
		return "STOPPED"
	case JStateKilling:
		return "KILLING"
	case JStateKill:
		return "KILL"
	default:
		return "UNKNOWN"
	}
}

// stopping reports whether the child is already being asked to go away.
func (s JState) stopping() bool {
	switch s {
	case JStateStop, JStateStopping, JStateStopped, JStateKilling, JStateKill:
		return true
	}
	return false
}

// Intent is what the wrapper currently wants from the child. JSTATE
// handlers branch on it instead of looking at WSTATE directly.
type Intent int

const (
	IntentStartup Intent = iota
	IntentSteady
	IntentPausing
	IntentPaused
	IntentContinuing
	IntentShutdown
)

func (i Intent) String() string {
	switch i {
	case IntentStartup:
		return "starting-up"
	case IntentSteady:
		return "steady"
	case IntentPausing:
		return "pausing"
	case IntentPaused:
		return "paused"
	case IntentContinuing:
		return "continuing"
	default:
		return "shutting-down"
	}
}

// wantsChild reports whether a live child is expected under this intent.
func (i Intent) wantsChild() bool {
	return i == IntentStartup || i == IntentSteady || i == IntentContinuing
}

func intentOf(w WState) Intent {
	switch w {
	case WStateStarting:
		return IntentStartup
	case WStateStarted:
		return IntentSteady
	case WStatePausing:
		return IntentPausing
	case WStatePaused:
		return IntentPaused
	case WStateContinuing:
		return IntentContinuing
	default:
		return IntentShutdown
	}
}

// RestartMode records why the next invocation is wanted.
type RestartMode int

const (
	RestartNo RestartMode = iota
	// RestartAutomatic follows a crash, hang or failed launch.
	RestartAutomatic
	// RestartConfigured follows an explicit request or an on_exit rule.
	RestartConfigured
)

func (m RestartMode) String() string {
	switch m {
	case RestartAutomatic:
		return "automatic"
	case RestartConfigured:
		return "configured"
	default:
		return "none"
	}
}
