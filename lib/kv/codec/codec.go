package codec

import (
	"encoding/binary"
	"fmt"
	"reflect"
)

// Codec converts values of type T to and from bytes
type Codec[T any] interface {
	// Encode returns a freshly allocated encoding of v
	Encode(v T) ([]byte, error)
	// Decode parses b, which must hold exactly one encoded value. The codec
	// never retains b.
	Decode(b []byte) (T, error)
}

// streamer is implemented by the built-in codecs so composite codecs can lay
// out elements inline instead of length-prefixing each one
type streamer[T any] interface {
	appendTo(dst []byte, v T) ([]byte, error)
	readFrom(src []byte) (T, []byte, error)
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// Kind tells whether encoding or decoding failed
type Kind uint8

const (
	KindSerialization Kind = iota + 1
	KindDeserialization
)

func (k Kind) String() string {
	switch k {
	case KindSerialization:
		return "serialization"
	case KindDeserialization:
		return "deserialization"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Error is returned by all codecs of this package
type Error struct {
	Kind Kind
	Type string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s of %s failed: %v", e.Kind, e.Type, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func typeName[T any]() string {
	return reflect.TypeFor[T]().String()
}

func encodeError[T any](err error) error {
	return &Error{Kind: KindSerialization, Type: typeName[T](), Err: err}
}

func decodeError[T any](format string, args ...any) error {
	return &Error{Kind: KindDeserialization, Type: typeName[T](), Err: fmt.Errorf(format, args...)}
}

// --------------------------------------------------------------------------
// Framing helpers
// --------------------------------------------------------------------------

// appendElem appends v inline for built-in codecs and length-prefixed otherwise
func appendElem[T any](c Codec[T], dst []byte, v T) ([]byte, error) {
	if s, ok := c.(streamer[T]); ok {
		return s.appendTo(dst, v)
	}
	b, err := c.Encode(v)
	if err != nil {
		return nil, err
	}
	dst = binary.LittleEndian.AppendUint64(dst, uint64(len(b)))
	return append(dst, b...), nil
}

// readElem is the inverse of appendElem
func readElem[T any](c Codec[T], src []byte) (T, []byte, error) {
	if s, ok := c.(streamer[T]); ok {
		return s.readFrom(src)
	}
	n, rest, err := readLen[T](src)
	if err != nil {
		var zero T
		return zero, nil, err
	}
	v, err := c.Decode(rest[:n])
	return v, rest[n:], err
}

// readLen reads a u64 length prefix and checks it against the remaining input
func readLen[T any](src []byte) (int, []byte, error) {
	if len(src) < 8 {
		return 0, nil, decodeError[T]("need 8 bytes for length, have %d", len(src))
	}
	n := binary.LittleEndian.Uint64(src)
	if n > uint64(len(src)-8) {
		return 0, nil, decodeError[T]("length %d exceeds remaining %d bytes", n, len(src)-8)
	}
	return int(n), src[8:], nil
}

// decodeAll runs a streaming decoder and rejects trailing bytes
func decodeAll[T any](s streamer[T], b []byte) (T, error) {
	v, rest, err := s.readFrom(b)
	if err != nil {
		var zero T
		return zero, err
	}
	if len(rest) != 0 {
		var zero T
		return zero, decodeError[T]("%d trailing bytes", len(rest))
	}
	return v, nil
}
