package session

import (
	"errors"
	"fmt"
)

// State is a navigation state of the assistant.
type State string

const (
	StateHome       State = "home"
	StateCheckout   State = "checkout"
	StateEvaluation State = "evaluation"
	StateVault      State = "vault"
	StateSummary    State = "summary"
)

// Action is a user action driving navigation.
type Action string

const (
	ActionStartCheckout Action = "start_checkout"
	ActionSubmit        Action = "submit"
	ActionDefer         Action = "defer"
	ActionAccept        Action = "accept"
	ActionOpenVault     Action = "open_vault"
	ActionClearVault    Action = "clear_vault"
	ActionShowSummary   Action = "show_summary"
	ActionGoHome        Action = "go_home"
)

// ErrInvalidTransition is returned when an action is not allowed in the current state.
var ErrInvalidTransition = errors.New("invalid transition")

// anyState marks a transition allowed from every state.
const anyState State = "*"

var transitions = map[Action]map[State]State{
	ActionStartCheckout: {
		StateHome:       StateCheckout,
		StateEvaluation: StateCheckout,
		StateVault:      StateCheckout,
		StateSummary:    StateCheckout,
	},
	ActionSubmit: {
		StateCheckout: StateEvaluation,
	},
	ActionDefer: {
		StateEvaluation: StateVault,
	},
	ActionAccept: {
		StateEvaluation: StateSummary,
	},
	ActionClearVault: {
		StateVault: StateVault,
	},
	ActionOpenVault:   {anyState: StateVault},
	ActionShowSummary: {anyState: StateSummary},
	ActionGoHome:      {anyState: StateHome},
}

// Actions lists every known action.
func Actions() []Action {
	return []Action{
		ActionStartCheckout,
		ActionSubmit,
		ActionDefer,
		ActionAccept,
		ActionOpenVault,
		ActionClearVault,
		ActionShowSummary,
		ActionGoHome,
	}
}

// States lists every navigation state.
func States() []State {
	return []State{StateHome, StateCheckout, StateEvaluation, StateVault, StateSummary}
}

// Allowed lists the actions that can be applied in current, in Actions order.
func Allowed(current State) []Action {
	out := make([]Action, 0, len(transitions))
	for _, a := range Actions() {
		if _, err := Dispatch(current, a); err == nil {
			out = append(out, a)
		}
	}
	return out
}

// Dispatch returns the state reached by applying a in current.
func Dispatch(current State, a Action) (State, error) {
	table, ok := transitions[a]
	if !ok {
		return current, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, a)
	}
	if next, ok := table[anyState]; ok {
		return next, nil
	}
	next, ok := table[current]
	if !ok {
		return current, fmt.Errorf("%w: %s is not allowed in %s", ErrInvalidTransition, a, current)
	}
	return next, nil
}
