package breakpoint

// Action is what a breakpoint wants done with the thread that hit it. Values are
// ordered by precedence: Continue < SilentStop < Stop.
type Action int

const (
	// ActionContinue resumes the thread without telling anybody.
	ActionContinue Action = iota
	// ActionSilentStop leaves the thread stopped without notifying observers.
	ActionSilentStop
	// ActionStop leaves the thread stopped and notifies observers.
	ActionStop
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionSilentStop:
		return "silent-stop"
	case ActionStop:
		return "stop"
	default:
		return "unknown"
	}
}

// HighestPrecedence combines two actions, the more intrusive one wins.
func HighestPrecedence(a, b Action) Action {
	if a > b {
		return a
	}
	return b
}
