package pool

import (
	"sync"
	"sync/atomic"
)

// State captures the state of a pool handle: Initialized, Opening, Open or
// Closed.
type State uint32

const (
	// Initialized is the state of a handle that was never opened.
	Initialized State = iota
	// Opening runs the initial pool ledger catch-up.
	Opening
	// Open accepts requests.
	Open
	// Closed is final.
	Closed
)

// String ...
func (s State) String() string {
	switch s {
	case Initialized:
		return "Initialized"
	case Opening:
		return "Opening"
	case Open:
		return "Open"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

type state struct {
	state State
	wg    sync.WaitGroup
}

func (s *state) getState() State {
	stateAddr := (*uint32)(&s.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (s *state) setState(st State) {
	stateAddr := (*uint32)(&s.state)
	atomic.StoreUint32(stateAddr, uint32(st))
}

// casState moves from old to new and reports whether it did.
func (s *state) casState(old, new State) bool {
	stateAddr := (*uint32)(&s.state)
	return atomic.CompareAndSwapUint32(stateAddr, uint32(old), uint32(new))
}

// goFunc starts a goroutine waited for by waitRoutines.
func (s *state) goFunc(f func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		f()
	}()
}

func (s *state) waitRoutines() {
	s.wg.Wait()
}
