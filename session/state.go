package session

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned while a pipeline run is in flight.
	ErrBusy = errors.New("session busy processing")
	// ErrInvalidState is returned for a command the current state does not accept.
	ErrInvalidState = errors.New("invalid session state")
)

// State is the lifecycle position of a Session.
type State int

const (
	Idle State = iota
	Recording
	Processing
	Completed
)

var stateNames = map[State]string{
	Idle:       "idle",
	Recording:  "recording",
	Processing: "processing",
	Completed:  "completed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name so snapshots read well as JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}
