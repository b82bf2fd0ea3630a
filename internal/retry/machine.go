// Package retry executes one provider call with bounded, rate-limit aware
// retries. The control flow is an explicit state machine whose transition
// function is pure; timing lives behind the Sleeper interface.
package retry

import "fmt"

// State of a single attempt.
type State int

const (
	StateIdle State = iota
	StateCalling
	StateBackoffWait
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCalling:
		return "Calling"
	case StateBackoffWait:
		return "BackoffWait"
	case StateSucceeded:
		return "Succeeded"
	case StateFailed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Event drives a transition.
type Event int

const (
	EventStart Event = iota
	EventSuccess
	EventTransientFailure
	EventPermanentFailure
	EventWaitElapsed
	EventCancelled
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "Start"
	case EventSuccess:
		return "Success"
	case EventTransientFailure:
		return "TransientFailure"
	case EventPermanentFailure:
		return "PermanentFailure"
	case EventWaitElapsed:
		return "WaitElapsed"
	case EventCancelled:
		return "Cancelled"
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// Action tells the driver what to do next.
type Action int

const (
	ActionNone Action = iota
	// ActionCall issues the provider call.
	ActionCall
	// ActionWait sleeps for the backoff delay.
	ActionWait
	// ActionReturnResult returns the successful result.
	ActionReturnResult
	// ActionReturnError returns the last observed error.
	ActionReturnError
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "None"
	case ActionCall:
		return "Call"
	case ActionWait:
		return "Wait"
	case ActionReturnResult:
		return "ReturnResult"
	case ActionReturnError:
		return "ReturnError"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Machine is the attempt state. Calls counts provider calls issued so far.
type Machine struct {
	State      State
	Calls      int
	MaxRetries int
}

// NewMachine returns an idle machine allowing maxRetries retries after the first call.
func NewMachine(maxRetries int) Machine {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return Machine{State: StateIdle, MaxRetries: maxRetries}
}

// Retries is the number of retries issued, i.e. calls after the first.
func (m Machine) Retries() int {
	if m.Calls == 0 {
		return 0
	}
	return m.Calls - 1
}

// Terminal reports whether the machine has finished.
func (m Machine) Terminal() bool {
	return m.State == StateSucceeded || m.State == StateFailed
}

// Next is the transition function. It has no side effects: the returned
// machine replaces m and the action is for the driver to perform. Events
// that are not valid in the current state leave it unchanged with ActionNone.
func (m Machine) Next(ev Event) (Machine, Action) {
	if ev == EventCancelled && !m.Terminal() {
		m.State = StateFailed
		return m, ActionReturnError
	}

	switch m.State {
	case StateIdle:
		if ev == EventStart {
			m.State = StateCalling
			m.Calls++
			return m, ActionCall
		}
	case StateCalling:
		switch ev {
		case EventSuccess:
			m.State = StateSucceeded
			return m, ActionReturnResult
		case EventPermanentFailure:
			m.State = StateFailed
			return m, ActionReturnError
		case EventTransientFailure:
			if m.Retries() >= m.MaxRetries {
				m.State = StateFailed
				return m, ActionReturnError
			}
			m.State = StateBackoffWait
			return m, ActionWait
		}
	case StateBackoffWait:
		if ev == EventWaitElapsed {
			m.State = StateCalling
			m.Calls++
			return m, ActionCall
		}
	}
	return m, ActionNone
}
