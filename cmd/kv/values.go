package kv

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/ValentinKolb/fKV/lib/kv"
	"github.com/ValentinKolb/fKV/lib/kv/codec"
)

// valueOps runs store operations for one value type given as command line text
type valueOps interface {
	upsert(sess *kv.Session, key, value string, serial uint64) (kv.Status, error)
	rmw(sess *kv.Session, key, modification string, serial uint64) (kv.Status, error)
	read(sess *kv.Session, key string, serial uint64) (value string, found bool, status kv.Status, err error)
	del(sess *kv.Session, key string, serial uint64) (kv.Status, error)
	scan(store *kv.Store, fn func(key, value string) bool) error
}

type typedOps[V any] struct {
	typed  *kv.Typed[string, V]
	parse  func(string) (V, error)
	format func(V) string
}

func newTypedOps[V any](values codec.Value[V], parse func(string) (V, error), format func(V) string) valueOps {
	return typedOps[V]{typed: kv.NewTyped(codec.String(), values), parse: parse, format: format}
}

// opsFor returns the operations of a value type name
func opsFor(typeName string) (valueOps, error) {
	switch typeName {
	case "string":
		return newTypedOps(codec.Concat(),
			func(s string) (string, error) { return s, nil },
			func(v string) string { return v }), nil
	case "u64":
		return newTypedOps(codec.Add(codec.Uint64()),
			func(s string) (uint64, error) { return strconv.ParseUint(s, 10, 64) },
			func(v uint64) string { return strconv.FormatUint(v, 10) }), nil
	case "i64":
		return newTypedOps(codec.Add(codec.Int64()),
			func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) },
			func(v int64) string { return strconv.FormatInt(v, 10) }), nil
	case "f64":
		return newTypedOps(codec.Add(codec.Float64()),
			func(s string) (float64, error) { return strconv.ParseFloat(s, 64) },
			func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }), nil
	case "bytes":
		return newTypedOps(codec.ConcatBytes(), hex.DecodeString, hex.EncodeToString), nil
	default:
		return nil, fmt.Errorf("invalid type %s (expected one of: string, u64, i64, f64, bytes)", typeName)
	}
}

func (o typedOps[V]) upsert(sess *kv.Session, key, value string, serial uint64) (kv.Status, error) {
	v, err := o.parse(value)
	if err != nil {
		return kv.StatusAborted, fmt.Errorf("invalid value %q: %w", value, err)
	}
	return o.typed.Upsert(sess, key, v, serial)
}

func (o typedOps[V]) rmw(sess *kv.Session, key, modification string, serial uint64) (kv.Status, error) {
	m, err := o.parse(modification)
	if err != nil {
		return kv.StatusAborted, fmt.Errorf("invalid modification %q: %w", modification, err)
	}
	return o.typed.Rmw(sess, key, m, serial)
}

func (o typedOps[V]) read(sess *kv.Session, key string, serial uint64) (string, bool, kv.Status, error) {
	status, result, err := o.typed.Read(sess, key, serial)
	if err != nil {
		return "", false, status, err
	}
	if status == kv.StatusPending {
		sess.CompletePending(true)
	}
	v, found := result.Get()
	if err := result.Err(); err != nil {
		return "", false, result.Status(), err
	}
	if !found {
		return "", false, result.Status(), nil
	}
	return o.format(v), true, result.Status(), nil
}

func (o typedOps[V]) del(sess *kv.Session, key string, serial uint64) (kv.Status, error) {
	return o.typed.Delete(sess, key, serial)
}

func (o typedOps[V]) scan(store *kv.Store, fn func(key, value string) bool) error {
	return kv.ScanTyped(store, o.typed, func(key string, value V) bool {
		return fn(key, o.format(value))
	})
}
