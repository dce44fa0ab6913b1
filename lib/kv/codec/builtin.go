package codec

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"math"
	"slices"
)

// --------------------------------------------------------------------------
// Fixed-width numbers
// --------------------------------------------------------------------------

type fixed[T any] struct {
	size int
	put  func(b []byte, v T)
	get  func(b []byte) T
}

func (c fixed[T]) Encode(v T) ([]byte, error) {
	return c.appendTo(make([]byte, 0, c.size), v)
}

func (c fixed[T]) Decode(b []byte) (T, error) {
	return decodeAll[T](c, b)
}

func (c fixed[T]) appendTo(dst []byte, v T) ([]byte, error) {
	dst = slices.Grow(dst, c.size)
	dst = dst[:len(dst)+c.size]
	c.put(dst[len(dst)-c.size:], v)
	return dst, nil
}

func (c fixed[T]) readFrom(src []byte) (T, []byte, error) {
	if len(src) < c.size {
		var zero T
		return zero, nil, decodeError[T]("need %d bytes, have %d", c.size, len(src))
	}
	return c.get(src[:c.size]), src[c.size:], nil
}

func Uint8() Codec[uint8] {
	return fixed[uint8]{1, func(b []byte, v uint8) { b[0] = v }, func(b []byte) uint8 { return b[0] }}
}

func Uint16() Codec[uint16] {
	return fixed[uint16]{2, binary.LittleEndian.PutUint16, binary.LittleEndian.Uint16}
}

func Uint32() Codec[uint32] {
	return fixed[uint32]{4, binary.LittleEndian.PutUint32, binary.LittleEndian.Uint32}
}

func Uint64() Codec[uint64] {
	return fixed[uint64]{8, binary.LittleEndian.PutUint64, binary.LittleEndian.Uint64}
}

func Int8() Codec[int8] {
	return fixed[int8]{1, func(b []byte, v int8) { b[0] = byte(v) }, func(b []byte) int8 { return int8(b[0]) }}
}

func Int16() Codec[int16] {
	return fixed[int16]{2,
		func(b []byte, v int16) { binary.LittleEndian.PutUint16(b, uint16(v)) },
		func(b []byte) int16 { return int16(binary.LittleEndian.Uint16(b)) }}
}

func Int32() Codec[int32] {
	return fixed[int32]{4,
		func(b []byte, v int32) { binary.LittleEndian.PutUint32(b, uint32(v)) },
		func(b []byte) int32 { return int32(binary.LittleEndian.Uint32(b)) }}
}

func Int64() Codec[int64] {
	return fixed[int64]{8,
		func(b []byte, v int64) { binary.LittleEndian.PutUint64(b, uint64(v)) },
		func(b []byte) int64 { return int64(binary.LittleEndian.Uint64(b)) }}
}

func Float32() Codec[float32] {
	return fixed[float32]{4,
		func(b []byte, v float32) { binary.LittleEndian.PutUint32(b, math.Float32bits(v)) },
		func(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }}
}

func Float64() Codec[float64] {
	return fixed[float64]{8,
		func(b []byte, v float64) { binary.LittleEndian.PutUint64(b, math.Float64bits(v)) },
		func(b []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(b)) }}
}

// --------------------------------------------------------------------------
// Bool
// --------------------------------------------------------------------------

type boolCodec struct{}

// Bool encodes true as 1 and false as 0. Any other byte is malformed.
func Bool() Codec[bool] {
	return boolCodec{}
}

func (c boolCodec) Encode(v bool) ([]byte, error) { return c.appendTo(nil, v) }
func (c boolCodec) Decode(b []byte) (bool, error) { return decodeAll[bool](c, b) }

func (boolCodec) appendTo(dst []byte, v bool) ([]byte, error) {
	if v {
		return append(dst, 1), nil
	}
	return append(dst, 0), nil
}

func (boolCodec) readFrom(src []byte) (bool, []byte, error) {
	if len(src) < 1 {
		return false, nil, decodeError[bool]("empty input")
	}
	switch src[0] {
	case 0:
		return false, src[1:], nil
	case 1:
		return true, src[1:], nil
	default:
		return false, nil, decodeError[bool]("invalid byte 0x%02x", src[0])
	}
}

// --------------------------------------------------------------------------
// Strings and bytes
// --------------------------------------------------------------------------

type stringCodec struct{}

// String encodes a u64 length followed by the UTF-8 bytes
func String() Codec[string] {
	return stringCodec{}
}

func (c stringCodec) Encode(v string) ([]byte, error) {
	return c.appendTo(make([]byte, 0, 8+len(v)), v)
}

func (c stringCodec) Decode(b []byte) (string, error) { return decodeAll[string](c, b) }

func (stringCodec) appendTo(dst []byte, v string) ([]byte, error) {
	dst = binary.LittleEndian.AppendUint64(dst, uint64(len(v)))
	return append(dst, v...), nil
}

func (stringCodec) readFrom(src []byte) (string, []byte, error) {
	n, rest, err := readLen[string](src)
	if err != nil {
		return "", nil, err
	}
	return string(rest[:n]), rest[n:], nil
}

type bytesCodec struct{}

// Bytes encodes a u64 length followed by the raw bytes. Decoding copies.
func Bytes() Codec[[]byte] {
	return bytesCodec{}
}

func (c bytesCodec) Encode(v []byte) ([]byte, error) {
	return c.appendTo(make([]byte, 0, 8+len(v)), v)
}

func (c bytesCodec) Decode(b []byte) ([]byte, error) { return decodeAll[[]byte](c, b) }

func (bytesCodec) appendTo(dst []byte, v []byte) ([]byte, error) {
	dst = binary.LittleEndian.AppendUint64(dst, uint64(len(v)))
	return append(dst, v...), nil
}

func (bytesCodec) readFrom(src []byte) ([]byte, []byte, error) {
	n, rest, err := readLen[[]byte](src)
	if err != nil {
		return nil, nil, err
	}
	return bytes.Clone(rest[:n]), rest[n:], nil
}

// Raw passes bytes through unchanged. Unlike Bytes it carries no length and
// is the codec to use when keys or values are already encoded.
func Raw() Codec[[]byte] {
	return rawCodec{}
}

type rawCodec struct{}

func (rawCodec) Encode(v []byte) ([]byte, error) { return bytes.Clone(v), nil }
func (rawCodec) Decode(b []byte) ([]byte, error) { return bytes.Clone(b), nil }

// --------------------------------------------------------------------------
// Slices and sets
// --------------------------------------------------------------------------

type sliceCodec[T any] struct {
	elem Codec[T]
}

// Slice encodes a u64 element count followed by the elements
func Slice[T any](elem Codec[T]) Codec[[]T] {
	return sliceCodec[T]{elem: elem}
}

func (c sliceCodec[T]) Encode(v []T) ([]byte, error) { return c.appendTo(nil, v) }
func (c sliceCodec[T]) Decode(b []byte) ([]T, error) { return decodeAll[[]T](c, b) }

func (c sliceCodec[T]) appendTo(dst []byte, v []T) ([]byte, error) {
	dst = binary.LittleEndian.AppendUint64(dst, uint64(len(v)))
	var err error
	for _, e := range v {
		if dst, err = appendElem(c.elem, dst, e); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func (c sliceCodec[T]) readFrom(src []byte) ([]T, []byte, error) {
	if len(src) < 8 {
		return nil, nil, decodeError[[]T]("need 8 bytes for count, have %d", len(src))
	}
	n := binary.LittleEndian.Uint64(src)
	src = src[8:]
	// every element takes at least one byte
	if n > uint64(len(src)) {
		return nil, nil, decodeError[[]T]("count %d exceeds remaining %d bytes", n, len(src))
	}
	out := make([]T, 0, n)
	for i := uint64(0); i < n; i++ {
		e, rest, err := readElem(c.elem, src)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, e)
		src = rest
	}
	return out, src, nil
}

// Set is an unordered collection of distinct values
type Set[T cmp.Ordered] map[T]struct{}

// NewSet returns a set holding items
func NewSet[T cmp.Ordered](items ...T) Set[T] {
	s := make(Set[T], len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func (s Set[T]) Has(v T) bool {
	_, ok := s[v]
	return ok
}

// Sorted returns the elements in ascending order
func (s Set[T]) Sorted() []T {
	out := make([]T, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

type setCodec[T cmp.Ordered] struct {
	items sliceCodec[T]
}

// SetOf encodes a set as a slice of its sorted elements. Decoding rejects
// duplicates.
func SetOf[T cmp.Ordered](elem Codec[T]) Codec[Set[T]] {
	return setCodec[T]{items: sliceCodec[T]{elem: elem}}
}

func (c setCodec[T]) Encode(v Set[T]) ([]byte, error) { return c.appendTo(nil, v) }
func (c setCodec[T]) Decode(b []byte) (Set[T], error) { return decodeAll[Set[T]](c, b) }

func (c setCodec[T]) appendTo(dst []byte, v Set[T]) ([]byte, error) {
	return c.items.appendTo(dst, v.Sorted())
}

func (c setCodec[T]) readFrom(src []byte) (Set[T], []byte, error) {
	items, rest, err := c.items.readFrom(src)
	if err != nil {
		return nil, nil, err
	}
	s := NewSet(items...)
	if len(s) != len(items) {
		return nil, nil, decodeError[Set[T]]("%d duplicate elements", len(items)-len(s))
	}
	return s, rest, nil
}

// --------------------------------------------------------------------------
// Generic structs
// --------------------------------------------------------------------------

type gobCodec[T any] struct{}

// Gob encodes arbitrary types with encoding/gob. Every buffer carries its own
// type description.
func Gob[T any]() Codec[T] {
	return gobCodec[T]{}
}

func (gobCodec[T]) Encode(v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, encodeError[T](err)
	}
	return buf.Bytes(), nil
}

func (gobCodec[T]) Decode(b []byte) (T, error) {
	var v T
	r := bytes.NewReader(b)
	if err := gob.NewDecoder(r).Decode(&v); err != nil {
		return v, decodeError[T]("%w", err)
	}
	if r.Len() != 0 {
		return v, decodeError[T]("%d trailing bytes", r.Len())
	}
	return v, nil
}

type jsonCodec[T any] struct{}

// JSON encodes arbitrary types with encoding/json
func JSON[T any]() Codec[T] {
	return jsonCodec[T]{}
}

func (jsonCodec[T]) Encode(v T) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, encodeError[T](err)
	}
	return b, nil
}

func (jsonCodec[T]) Decode(b []byte) (T, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return v, decodeError[T]("%w", err)
	}
	return v, nil
}
