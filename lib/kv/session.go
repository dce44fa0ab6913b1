package kv

import (
	"context"
	"runtime"

	"github.com/ValentinKolb/fKV/lib/engine"
)

type sessionState uint8

const (
	stateUnregistered sessionState = iota
	stateActive
	stateDraining
)

func (s sessionState) String() string {
	return [...]string{"unregistered", "active", "draining"}[s]
}

// Session is one goroutine's registration with the engine. It must only be
// used by the goroutine that started it.
//
// Every RefreshInterval operations the session announces its epoch progress
// and every CompletePendingInterval operations it makes non-blocking progress
// on pending operations (see Builder). Callers that disable both have to call
// Refresh and CompletePending themselves: a session that never refreshes
// stalls memory reuse for every session of the store.
type Session struct {
	store    *Store
	inner    engine.Session
	state    sessionState
	ops      uint64
	failures []PendingFailure
}

// StartSession registers a new session
func (s *Store) StartSession() (*Session, error) {
	if s.closed.Load() {
		return nil, newError(ErrCSession, engine.ErrClosed, "start session")
	}
	inner, err := s.engine.StartSession()
	if err != nil {
		return nil, newError(ErrCSession, err, "start session")
	}
	sessionsStarted.Inc()
	log.Debugf("session %s started", inner.ID())
	return &Session{store: s, inner: inner, state: stateActive}, nil
}

// ContinueSession resumes a session identity restored by Recover. It returns
// the serial of the last operation of that session covered by the
// checkpoint; the caller continues with higher serials.
func (s *Store) ContinueSession(id string) (*Session, uint64, error) {
	if s.closed.Load() {
		return nil, 0, newError(ErrCSession, engine.ErrClosed, "continue session %s", id)
	}
	inner, serial, err := s.engine.ContinueSession(id)
	if err != nil {
		return nil, 0, newError(ErrCRecovery, err, "continue session %s", id)
	}
	sessionsStarted.Inc()
	log.Debugf("session %s continued at serial %d", id, serial)
	return &Session{store: s, inner: inner, state: stateActive}, serial, nil
}

// ID returns the 36 character session identifier
func (s *Session) ID() string {
	return s.inner.ID()
}

// Active reports whether operations may be issued on the session
func (s *Session) Active() bool {
	return s.state == stateActive
}

func (s *Session) check() error {
	if s.state != stateActive {
		return ErrSessionInactive
	}
	return nil
}

// tick runs the automatic refresh and pending drain after an operation
func (s *Session) tick() {
	s.ops++
	if n := s.store.refreshEvery; n > 0 && s.ops%n == 0 {
		s.inner.Refresh()
	}
	if n := s.store.completeEvery; n > 0 && s.ops%n == 0 {
		s.drain(false)
	}
}

// Refresh announces epoch progress. Values handed to read callbacks before
// the refresh may be reused by the engine afterwards.
func (s *Session) Refresh() {
	if s.state != stateActive {
		return
	}
	s.inner.Refresh()
}

// CompletePending drives pending operations of this session. With wait set it
// returns once all of them completed. It reports whether none remain.
func (s *Session) CompletePending(wait bool) bool {
	if s.state == stateUnregistered {
		return true
	}
	return s.drain(wait)
}

// drain runs the engine's CompletePending and collects the writes that failed
// on the way
func (s *Session) drain(wait bool) bool {
	done := s.inner.CompletePending(wait)
	for _, f := range s.inner.Failures() {
		countPendingFailure(f.Status)
		s.failures = append(s.failures, f)
	}
	return done
}

// Failures returns the pending writes that completed with a status other than
// StatusOK since the last call. The synchronous status of such an operation
// was StatusPending, so this is the only place its outcome shows up.
func (s *Session) Failures() []PendingFailure {
	f := s.failures
	s.failures = nil
	return f
}

// CompletePendingContext drains all pending operations or gives up when ctx
// ends, returning ErrSessionStuck. A stuck session should be stopped.
func (s *Session) CompletePendingContext(ctx context.Context) error {
	if s.state == stateUnregistered {
		return nil
	}
	for !s.drain(false) {
		if err := ctx.Err(); err != nil {
			log.Warningf("session %s stuck with pending operations: %v", s.ID(), err)
			return &Error{Code: ErrCSession, Msg: ErrSessionStuck.Msg, Err: err}
		}
		runtime.Gosched()
	}
	return nil
}

// Stop drains outstanding operations and unregisters the session. Calling Stop
// again is a no-op.
func (s *Session) Stop() {
	if s.state != stateActive {
		return
	}
	s.state = stateDraining
	s.drain(true)
	if n := len(s.failures); n > 0 {
		log.Warningf("session %s stopped with %d failed pending operations", s.ID(), n)
	}
	s.inner.Stop()
	s.state = stateUnregistered
	sessionsStopped.Inc()
	log.Debugf("session %s stopped after %d operations", s.ID(), s.ops)
}
