package worker

import "log/slog"

// State is the lifecycle position of a worker. States only advance, except
// that a failed allocation stays in StateProbed.
type State int

const (
	StateCreated State = iota
	StateInitialized
	StateProbed
	StateReady
	StateServing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateProbed:
		return "probed"
	case StateReady:
		return "ready"
	case StateServing:
		return "serving"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s State) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// CanExecute reports whether steps may be executed in s.
func (s State) CanExecute() bool {
	return s == StateReady || s == StateServing
}
