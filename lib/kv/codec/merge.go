package codec

import (
	"bytes"
	"cmp"
	"slices"
)

// Value is a codec that also defines how a modification is merged into the
// current value. Merge must be a pure function of its arguments: the engine
// may call it more than once for the same operation.
type Value[V any] interface {
	Codec[V]
	Merge(current, modification V) V
}

// Number is the set of types merged by addition
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64
}

// Mergeable is implemented by types that merge themselves
type Mergeable[T any] interface {
	Merge(modification T) T
}

// MergeFunc combines the current value with a modification
type MergeFunc[V any] func(current, modification V) V

type mergeValue[V any] struct {
	Codec[V]
	merge MergeFunc[V]
}

func (m mergeValue[V]) Merge(current, modification V) V {
	return m.merge(current, modification)
}

// WithMerge pairs an arbitrary codec with a merge function
func WithMerge[V any](c Codec[V], fn MergeFunc[V]) Value[V] {
	return mergeValue[V]{Codec: c, merge: fn}
}

// Add merges numbers by addition. Integers wrap on overflow.
func Add[N Number](c Codec[N]) Value[N] {
	return WithMerge(c, func(current, modification N) N {
		return current + modification
	})
}

// Replace stores the modification, discarding the current value
func Replace[V any](c Codec[V]) Value[V] {
	return WithMerge(c, func(_, modification V) V {
		return modification
	})
}

// Concat appends the modification to the current string
func Concat() Value[string] {
	return WithMerge(String(), func(current, modification string) string {
		return current + modification
	})
}

// ConcatBytes appends the modification to the current byte slice
func ConcatBytes() Value[[]byte] {
	return WithMerge(Bytes(), func(current, modification []byte) []byte {
		return bytes.Join([][]byte{current, modification}, nil)
	})
}

// Append appends the modification's elements to the current slice
func Append[T any](elem Codec[T]) Value[[]T] {
	return WithMerge(Slice(elem), func(current, modification []T) []T {
		return slices.Concat(current, modification)
	})
}

// Union merges sets by union
func Union[T cmp.Ordered](elem Codec[T]) Value[Set[T]] {
	return WithMerge(SetOf(elem), func(current, modification Set[T]) Set[T] {
		out := make(Set[T], len(current)+len(modification))
		for v := range current {
			out[v] = struct{}{}
		}
		for v := range modification {
			out[v] = struct{}{}
		}
		return out
	})
}

// Custom merges through the type's own Merge method
func Custom[T Mergeable[T]](c Codec[T]) Value[T] {
	return WithMerge(c, func(current, modification T) T {
		return current.Merge(modification)
	})
}

// --------------------------------------------------------------------------
// Byte level merge
// --------------------------------------------------------------------------

// MergeBytes decodes both operands, merges them and encodes the result. It is
// the adapter between a typed Value and the engine's byte-level RMW callback.
func MergeBytes[V any](v Value[V], current, modification []byte) ([]byte, error) {
	cur, err := v.Decode(current)
	if err != nil {
		return nil, err
	}
	mod, err := v.Decode(modification)
	if err != nil {
		return nil, err
	}
	return v.Encode(v.Merge(cur, mod))
}
