package reactor

import "sync"

// State is the lifecycle position of a reactor.
type State int

const (
	// StateRunning means the reactor still exchanges messages.
	StateRunning State = iota
	// StateTerminating means termination was requested and its result
	// recorded, but the termination path has not completed yet.
	StateTerminating
	// StateDone means the reactor finished and its result is final.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// StatusHolder is the shared box holding a reactor's lifecycle state and
// final error. It is safe for use from any goroutine.
type StatusHolder struct {
	mu     sync.Mutex
	state  State
	err    error
	acting bool
	done   chan struct{}
}

func NewStatusHolder() *StatusHolder {
	return &StatusHolder{done: make(chan struct{})}
}

// RequestTermination records err as the reactor's result. Only the first
// request is retained; it reports whether this call was that first one.
func (s *StatusHolder) RequestTermination(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return false
	}
	s.state = StateTerminating
	s.err = err
	return true
}

// State returns the current lifecycle state and the recorded error.
func (s *StatusHolder) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err
}

// Running reports whether no termination has been requested.
func (s *StatusHolder) Running() bool {
	st, _ := s.State()
	return st == StateRunning
}

// Done is closed once the reactor reached StateDone. The channel is closed
// even when the reactor finished before anyone started waiting.
func (s *StatusHolder) Done() <-chan struct{} {
	return s.done
}

// Err returns the final error. It is only meaningful after Done is closed.
func (s *StatusHolder) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// claim grants the right to run the termination path to exactly one caller.
func (s *StatusHolder) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTerminating || s.acting {
		return false
	}
	s.acting = true
	return true
}

func (s *StatusHolder) finish(err error) {
	s.mu.Lock()
	s.state = StateDone
	s.err = err
	s.mu.Unlock()
	close(s.done)
}
