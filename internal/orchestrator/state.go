package orchestrator

import "fmt"

type State string

const (
	StateIdle                  State = "idle"
	StateRequestingPermissions State = "requesting-permissions"
	StateConnecting            State = "connecting"
	StateListening             State = "listening"
	StateSpeaking              State = "speaking"
	StateClosed                State = "closed"
	StateError                 State = "error"
)

// Active covers both presentation sub-states.
func (s State) Active() bool { return s == StateListening || s == StateSpeaking }

// Terminal states end a session instance. Only a restart leaves them.
func (s State) Terminal() bool { return s == StateClosed || s == StateError }

var transitions = map[State][]State{
	StateIdle:                  {StateRequestingPermissions, StateClosed, StateError},
	StateRequestingPermissions: {StateConnecting, StateClosed, StateError},
	StateConnecting:            {StateListening, StateClosed, StateError},
	StateListening:             {StateSpeaking, StateClosed, StateError},
	StateSpeaking:              {StateListening, StateClosed, StateError},
	StateClosed:                {StateConnecting},
	StateError:                 {StateConnecting, StateClosed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}
