package hlog

import (
	"sync/atomic"

	"github.com/ValentinKolb/fKV/lib/engine"
	"github.com/ValentinKolb/fKV/lib/engine/hlog/internal"
)

// --------------------------------------------------------------------------
// Pending operations
// --------------------------------------------------------------------------

type opKind uint8

const (
	opUpsert opKind = iota
	opRead
	opRmw
	opDelete
)

// pendingOp is an operation that could not complete synchronously. Key and
// value buffers are owned by the operation until it completes.
type pendingOp struct {
	kind   opKind
	key    []byte
	value  []byte
	serial uint64
	readCb engine.ReadCallback
	ctx    any
	rmwCb  engine.RmwCallback
}

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// session implements engine.Session.
//
// Operations of one session apply in issue order: once an operation of the
// session is pending, every later operation is queued behind it. The serial of
// the last applied operation is therefore an exact prefix marker, which is what
// checkpoints record for each session.
type session struct {
	id         string
	e          *hlogImpl
	epoch      *internal.EpochEntry
	lastSerial atomic.Uint64
	busy       atomic.Bool
	stopped    atomic.Bool
	queue      []pendingOp // only touched by the owning goroutine
	failures   []engine.PendingFailure
}

func (s *session) ID() string {
	return s.id
}

// enter marks the session busy. It fails for stopped sessions and when another
// goroutine is inside an operation of this session.
func (s *session) enter() bool {
	if s.stopped.Load() {
		return false
	}
	if !s.busy.CompareAndSwap(false, true) {
		log.Warningf("session %s used by two goroutines at once, operation aborted", s.id)
		return false
	}
	return true
}

func (s *session) exit() {
	s.busy.Store(false)
}

func (s *session) enqueue(op pendingOp) engine.Status {
	s.queue = append(s.queue, op)
	s.e.pending.Add(1)
	return engine.StatusPending
}

func (s *session) Upsert(key, value []byte, serial uint64) engine.Status {
	if !s.enter() {
		return engine.StatusAborted
	}
	defer s.exit()

	if len(s.queue) > 0 {
		return s.enqueue(pendingOp{kind: opUpsert, key: key, value: value, serial: serial})
	}

	s.e.cut.RLock()
	defer s.e.cut.RUnlock()
	status := s.e.applyUpsert(key, value)
	s.lastSerial.Store(serial)
	return status
}

func (s *session) Delete(key []byte, serial uint64) engine.Status {
	if !s.enter() {
		return engine.StatusAborted
	}
	defer s.exit()

	if len(s.queue) > 0 {
		return s.enqueue(pendingOp{kind: opDelete, key: key, serial: serial})
	}

	s.e.cut.RLock()
	defer s.e.cut.RUnlock()
	status := s.e.applyDelete(key)
	s.lastSerial.Store(serial)
	return status
}

func (s *session) Read(key []byte, serial uint64, cb engine.ReadCallback, ctx any) engine.Status {
	if !s.enter() {
		cb(ctx, nil, engine.StatusAborted)
		return engine.StatusAborted
	}
	defer s.exit()

	op := pendingOp{kind: opRead, key: key, serial: serial, readCb: cb, ctx: ctx}
	if len(s.queue) > 0 {
		return s.enqueue(op)
	}

	s.e.cut.RLock()
	value, status := s.e.applyRead(key, false)
	if status == engine.StatusPending {
		s.e.cut.RUnlock()
		return s.enqueue(op)
	}
	s.lastSerial.Store(serial)
	s.e.cut.RUnlock()

	// the slot stays valid until this session refreshes
	cb(ctx, value, status)
	return status
}

func (s *session) Rmw(key, modification []byte, serial uint64, cb engine.RmwCallback) engine.Status {
	if !s.enter() {
		return engine.StatusAborted
	}
	defer s.exit()

	op := pendingOp{kind: opRmw, key: key, value: modification, serial: serial, rmwCb: cb}
	if len(s.queue) > 0 {
		return s.enqueue(op)
	}

	s.e.cut.RLock()
	defer s.e.cut.RUnlock()
	status, err := s.e.applyRmw(key, modification, cb, false)
	if status == engine.StatusPending {
		return s.enqueue(op)
	}
	if err != nil {
		log.Debugf("rmw on session %s aborted: %v", s.id, err)
	}
	s.lastSerial.Store(serial)
	return status
}

// complete applies a queued operation, warming cold records on the way.
// Writes that do not end with StatusOK are kept for Failures.
func (s *session) complete(op pendingOp) {
	var (
		status engine.Status
		err    error
	)
	s.e.cut.RLock()
	switch op.kind {
	case opUpsert:
		status = s.e.applyUpsert(op.key, op.value)
	case opDelete:
		status = s.e.applyDelete(op.key)
	case opRmw:
		status, err = s.e.applyRmw(op.key, op.value, op.rmwCb, true)
	case opRead:
		value, status := s.e.applyRead(op.key, true)
		s.lastSerial.Store(op.serial)
		s.e.cut.RUnlock()
		op.readCb(op.ctx, value, status)
		return
	}
	s.lastSerial.Store(op.serial)
	s.e.cut.RUnlock()

	if status != engine.StatusOK || err != nil {
		log.Warningf("pending operation %d on session %s completed with %s: %v", op.serial, s.id, status, err)
		s.failures = append(s.failures, engine.PendingFailure{Serial: op.serial, Status: status, Err: err})
	}
}

// CompletePending runs queued operations in issue order. Without wait at most
// pendingBatch operations are handled per call.
func (s *session) CompletePending(wait bool) bool {
	if len(s.queue) == 0 {
		return true
	}
	if !s.enter() {
		return false
	}
	defer s.exit()

	n := len(s.queue)
	if !wait && n > pendingBatch {
		n = pendingBatch
	}
	for i := 0; i < n; i++ {
		s.complete(s.queue[i])
		s.queue[i] = pendingOp{}
	}
	s.e.pending.Add(-int64(n))

	s.queue = s.queue[n:]
	if len(s.queue) == 0 {
		s.queue = nil
	}
	return len(s.queue) == 0
}

func (s *session) Failures() []engine.PendingFailure {
	f := s.failures
	s.failures = nil
	return f
}

func (s *session) Refresh() {
	if s.stopped.Load() {
		return
	}
	s.e.epochs.Refresh(s.epoch)
}

// Stop drains remaining operations and unregisters the session. Calling Stop
// again is a no-op.
func (s *session) Stop() {
	if len(s.queue) > 0 {
		s.CompletePending(true)
	}
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.e.unregister(s)
}
