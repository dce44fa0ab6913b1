package kv

import (
	"github.com/ValentinKolb/fKV/lib/engine"
	"github.com/ValentinKolb/fKV/lib/kv/codec"
)

// Typed issues operations with keys of type K and values of type V.
//
// Every key, value and modification is encoded into a fresh buffer that is
// handed to the engine and never touched again by this package. Values the
// engine hands back are decoded inside the callback.
//
// A Typed holds no per-session state and can be shared.
type Typed[K, V any] struct {
	keys   codec.Codec[K]
	values codec.Value[V]
	readCb engine.ReadCallback
}

// NewTyped creates a typed accessor from a key codec and a value codec with
// merge semantics
func NewTyped[K, V any](keys codec.Codec[K], values codec.Value[V]) *Typed[K, V] {
	t := &Typed[K, V]{keys: keys, values: values}
	t.readCb = func(ctx any, value []byte, status engine.Status) {
		ctx.(*Pending[V]).complete(value, status, values)
	}
	return t
}

func (t *Typed[K, V]) encodeKey(key K) ([]byte, error) {
	kb, err := t.keys.Encode(key)
	if err != nil {
		codecFailures.Inc()
		return nil, encodeError(err, "key")
	}
	return kb, nil
}

func (t *Typed[K, V]) encodeValue(value V) ([]byte, error) {
	vb, err := t.values.Encode(value)
	if err != nil {
		codecFailures.Inc()
		return nil, encodeError(err, "value")
	}
	return vb, nil
}

// Upsert writes value under key
func (t *Typed[K, V]) Upsert(s *Session, key K, value V, serial uint64) (Status, error) {
	if err := s.check(); err != nil {
		return StatusAborted, err
	}
	kb, err := t.encodeKey(key)
	if err != nil {
		return StatusAborted, err
	}
	vb, err := t.encodeValue(value)
	if err != nil {
		return StatusAborted, err
	}

	status := s.inner.Upsert(kb, vb, serial)
	countOp(opUpsert, status)
	s.tick()
	return status, nil
}

// Read looks up key. The returned Pending is fulfilled inline for StatusOK,
// closed empty for StatusNotFound and StatusAborted, and completes during
// CompletePending of s for StatusPending.
func (t *Typed[K, V]) Read(s *Session, key K, serial uint64) (Status, *Pending[V], error) {
	if err := s.check(); err != nil {
		return StatusAborted, nil, err
	}
	kb, err := t.encodeKey(key)
	if err != nil {
		return StatusAborted, nil, err
	}

	p := newPending[V]()
	status := s.inner.Read(kb, serial, t.readCb, p)
	countOp(opRead, status)
	s.tick()
	return status, p, nil
}

// Rmw merges modification into the value stored under key using the merge
// routine of the value codec. An absent key is set to modification.
//
// A modification that fails to merge (e.g. the stored value does not decode)
// aborts the operation: StatusAborted and ErrDeserialization for a synchronous
// call, a log message when it happens during CompletePending.
func (t *Typed[K, V]) Rmw(s *Session, key K, modification V, serial uint64) (Status, error) {
	if err := s.check(); err != nil {
		return StatusAborted, err
	}
	kb, err := t.encodeKey(key)
	if err != nil {
		return StatusAborted, err
	}
	mb, err := t.encodeValue(modification)
	if err != nil {
		return StatusAborted, err
	}

	var mergeErr error
	status := s.inner.Rmw(kb, mb, serial, t.rmwCallback(&mergeErr))
	countOp(opRmw, status)
	s.tick()

	if status == StatusAborted && mergeErr != nil {
		return status, decodeError(mergeErr, "value for rmw")
	}
	return status, nil
}

// rmwCallback adapts the typed merge routine to the engine's two phase
// callback. The size phase merges and keeps the result, the write phase,
// which the engine runs right after it, copies it out.
func (t *Typed[K, V]) rmwCallback(errOut *error) engine.RmwCallback {
	var merged []byte
	return func(current, modification, dst []byte) (uint64, error) {
		if dst == nil {
			out, err := codec.MergeBytes(t.values, current, modification)
			if err != nil {
				codecFailures.Inc()
				*errOut = err
				return 0, err
			}
			merged = out
			return uint64(len(out)), nil
		}
		return uint64(copy(dst, merged)), nil
	}
}

// Delete removes key
func (t *Typed[K, V]) Delete(s *Session, key K, serial uint64) (Status, error) {
	if err := s.check(); err != nil {
		return StatusAborted, err
	}
	kb, err := t.encodeKey(key)
	if err != nil {
		return StatusAborted, err
	}

	status := s.inner.Delete(kb, serial)
	countOp(opDelete, status)
	s.tick()
	return status, nil
}
