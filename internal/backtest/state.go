package backtest

import "fmt"

// State is a phase of a run. A run moves strictly forward through
// Init, Running, Deinit and Finalizing, ending in Done or Failed.
type State int

const (
	StateInit State = iota
	StateRunning
	StateDeinit
	StateFinalizing
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInit:       "init",
	StateRunning:    "running",
	StateDeinit:     "deinit",
	StateFinalizing: "finalizing",
	StateDone:       "done",
	StateFailed:     "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown run state %q", b)
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }
