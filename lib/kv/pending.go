package kv

import (
	"context"

	"github.com/ValentinKolb/fKV/lib/engine"
	"github.com/ValentinKolb/fKV/lib/kv/codec"
)

// Pending is the one-shot result of a Read. It is fulfilled exactly once,
// possibly before Read returns, with the decoded value, or closed empty when
// the key does not exist, the read was aborted or decoding failed.
//
// The producer is the engine's read callback, the consumer is a single
// goroutine calling Get, GetContext or TryGet. After the first successful
// consumption the result is remembered and later calls return it again.
type Pending[V any] struct {
	ch     chan V
	status engine.Status // written before ch is closed
	err    error         // written before ch is closed

	// consumer side
	taken bool
	value V
	found bool
}

func newPending[V any]() *Pending[V] {
	return &Pending[V]{ch: make(chan V, 1)}
}

// complete is the body of the read callback. value is owned by the engine and
// decoded (copied out) before returning.
func (p *Pending[V]) complete(value []byte, status engine.Status, values codec.Codec[V]) {
	p.status = status
	if status == engine.StatusOK {
		v, err := values.Decode(value)
		if err == nil {
			pendingFulfilled.Inc()
			p.ch <- v
			close(p.ch)
			return
		}
		codecFailures.Inc()
		log.Warningf("could not decode read result: %v", err)
		p.err = decodeError(err, "value")
	}
	pendingEmpty.Inc()
	close(p.ch)
}

func (p *Pending[V]) take(v V, ok bool) (V, bool) {
	p.taken, p.value, p.found = true, v, ok
	return v, ok
}

// Get blocks until the read completed. The boolean is false if no value was
// delivered. Pending reads only complete while their session drives
// CompletePending, so calling Get for a PENDING read on the session's own
// goroutine before that blocks forever.
func (p *Pending[V]) Get() (V, bool) {
	if p.taken {
		return p.value, p.found
	}
	v, ok := <-p.ch
	return p.take(v, ok)
}

// GetContext is Get bounded by ctx
func (p *Pending[V]) GetContext(ctx context.Context) (V, bool, error) {
	if p.taken {
		return p.value, p.found, nil
	}
	select {
	case v, ok := <-p.ch:
		v, ok = p.take(v, ok)
		return v, ok, nil
	case <-ctx.Done():
		var zero V
		return zero, false, ctx.Err()
	}
}

// TryGet returns without blocking. done is false while the read is pending.
func (p *Pending[V]) TryGet() (value V, found bool, done bool) {
	if p.taken {
		return p.value, p.found, true
	}
	select {
	case v, ok := <-p.ch:
		v, ok = p.take(v, ok)
		return v, ok, true
	default:
		var zero V
		return zero, false, false
	}
}

// Status returns the final engine status of the read. It is only meaningful
// once the result was consumed.
func (p *Pending[V]) Status() Status {
	if !p.taken {
		return engine.StatusPending
	}
	return p.status
}

// Err returns the decode error of a completed read, if any
func (p *Pending[V]) Err() error {
	if !p.taken {
		return nil
	}
	return p.err
}
