package codec

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type profile struct {
	Name  string
	Age   int
	Tags  []string
	Score float64
}

func roundTrip[T any](t *testing.T, c Codec[T], values ...T) {
	t.Helper()
	for _, v := range values {
		b, err := c.Encode(v)
		require.NoError(t, err)
		got, err := c.Decode(b)
		require.NoError(t, err)
		assert.Equal(t, v, got)

		again, err := c.Encode(v)
		require.NoError(t, err)
		assert.Equal(t, b, again, "encoding must be deterministic")
	}
}

// TestRoundTrip checks every built-in codec against a few edge values
func TestRoundTrip(t *testing.T) {
	t.Run("Uint8", func(t *testing.T) { roundTrip(t, Uint8(), 0, 1, math.MaxUint8) })
	t.Run("Uint16", func(t *testing.T) { roundTrip(t, Uint16(), 0, 513, math.MaxUint16) })
	t.Run("Uint32", func(t *testing.T) { roundTrip(t, Uint32(), 0, 1337, math.MaxUint32) })
	t.Run("Uint64", func(t *testing.T) { roundTrip(t, Uint64(), 0, 1337, math.MaxUint64) })
	t.Run("Int8", func(t *testing.T) { roundTrip(t, Int8(), math.MinInt8, -1, 0, math.MaxInt8) })
	t.Run("Int16", func(t *testing.T) { roundTrip(t, Int16(), math.MinInt16, -1, 0, math.MaxInt16) })
	t.Run("Int32", func(t *testing.T) { roundTrip(t, Int32(), math.MinInt32, -1, 0, math.MaxInt32) })
	t.Run("Int64", func(t *testing.T) { roundTrip(t, Int64(), math.MinInt64, -1, 0, math.MaxInt64) })
	t.Run("Float32", func(t *testing.T) { roundTrip(t, Float32(), 0, -1.5, math.MaxFloat32) })
	t.Run("Float64", func(t *testing.T) { roundTrip(t, Float64(), 0, math.Pi, -math.MaxFloat64) })
	t.Run("Bool", func(t *testing.T) { roundTrip(t, Bool(), true, false) })
	t.Run("String", func(t *testing.T) { roundTrip(t, String(), "", "a", "hello wörld") })
	t.Run("Bytes", func(t *testing.T) { roundTrip(t, Bytes(), []byte{}, []byte{0, 1, 2, 255}) })
	t.Run("Raw", func(t *testing.T) { roundTrip(t, Raw(), []byte("raw")) })
	t.Run("SliceOfNumbers", func(t *testing.T) {
		roundTrip(t, Slice(Uint64()), []uint64{}, []uint64{1, 2, 3})
	})
	t.Run("SliceOfStrings", func(t *testing.T) {
		roundTrip(t, Slice(String()), []string{"a", "", "ccc"})
	})
	t.Run("NestedSlice", func(t *testing.T) {
		roundTrip(t, Slice(Slice(Int32())), [][]int32{{1}, {}, {-2, 3}})
	})
	t.Run("Set", func(t *testing.T) {
		roundTrip(t, SetOf(String()), NewSet[string](), NewSet("x", "a", "m"))
	})
	t.Run("Gob", func(t *testing.T) {
		roundTrip(t, Gob[profile](), profile{Name: "ada", Age: 36, Tags: []string{"math"}, Score: 1.5})
	})
	t.Run("JSON", func(t *testing.T) {
		roundTrip(t, JSON[profile](), profile{Name: "grace", Age: 85, Tags: []string{"cobol"}})
	})
	t.Run("SliceOfGob", func(t *testing.T) {
		roundTrip(t, Slice(Gob[profile]()), []profile{{Name: "a", Tags: []string{"x"}}, {Name: "b", Tags: []string{"y"}}})
	})
}

// TestLayout pins the byte layout of the built-in codecs
func TestLayout(t *testing.T) {
	b, _ := Uint64().Encode(1337)
	assert.Equal(t, []byte{0x39, 0x05, 0, 0, 0, 0, 0, 0}, b)

	b, _ = Int16().Encode(-2)
	assert.Equal(t, []byte{0xfe, 0xff}, b)

	b, _ = Bool().Encode(true)
	assert.Equal(t, []byte{1}, b)

	b, _ = String().Encode("hi")
	assert.Equal(t, []byte{2, 0, 0, 0, 0, 0, 0, 0, 'h', 'i'}, b)

	b, _ = Slice(Uint8()).Encode([]uint8{7, 9})
	assert.Equal(t, []byte{2, 0, 0, 0, 0, 0, 0, 0, 7, 9}, b)

	// sets are written sorted regardless of insertion order
	b, _ = SetOf(Uint8()).Encode(NewSet[uint8](9, 3, 5))
	assert.Equal(t, []byte{3, 0, 0, 0, 0, 0, 0, 0, 3, 5, 9}, b)
}

// TestMalformedInput checks that broken buffers are reported as deserialization errors
func TestMalformedInput(t *testing.T) {
	cases := map[string]func() error{
		"ShortNumber": func() error { _, err := Uint64().Decode([]byte{1, 2, 3}); return err },
		"LongNumber":  func() error { _, err := Uint32().Decode(make([]byte, 5)); return err },
		"BadBool":     func() error { _, err := Bool().Decode([]byte{2}); return err },
		"EmptyBool":   func() error { _, err := Bool().Decode(nil); return err },
		"ShortString": func() error { _, err := String().Decode([]byte{5, 0, 0, 0, 0, 0, 0, 0, 'a'}); return err },
		"HugeLength": func() error {
			_, err := Bytes().Decode([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
			return err
		},
		"HugeCount": func() error {
			_, err := Slice(Uint64()).Decode([]byte{0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0, 1})
			return err
		},
		"TrailingBytes": func() error { _, err := String().Decode([]byte{0, 0, 0, 0, 0, 0, 0, 0, 'x'}); return err },
		"DuplicateSetElements": func() error {
			_, err := SetOf(Uint8()).Decode([]byte{2, 0, 0, 0, 0, 0, 0, 0, 4, 4})
			return err
		},
		"Gob":  func() error { _, err := Gob[profile]().Decode([]byte("not gob")); return err },
		"JSON": func() error { _, err := JSON[profile]().Decode([]byte("{")); return err },
	}

	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			err := fn()
			require.Error(t, err)
			var cerr *Error
			require.True(t, errors.As(err, &cerr), "want *codec.Error, got %T", err)
			assert.Equal(t, KindDeserialization, cerr.Kind)
		})
	}
}

func TestEncodeFailure(t *testing.T) {
	_, err := JSON[float64]().Encode(math.NaN())
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindSerialization, cerr.Kind)
	assert.Contains(t, err.Error(), "float64")
}

func TestBytesDecodeCopies(t *testing.T) {
	buf, err := Bytes().Encode([]byte("abc"))
	require.NoError(t, err)
	got, err := Bytes().Decode(buf)
	require.NoError(t, err)

	buf[8] = 'z'
	assert.Equal(t, []byte("abc"), got)
}

func BenchmarkEncode(b *testing.B) {
	b.Run("Uint64", func(b *testing.B) {
		c := Uint64()
		for i := 0; i < b.N; i++ {
			_, _ = c.Encode(uint64(i))
		}
	})
	b.Run("String", func(b *testing.B) {
		c := String()
		for i := 0; i < b.N; i++ {
			_, _ = c.Encode("medium length value for testing serialization")
		}
	})
	b.Run("Gob", func(b *testing.B) {
		c := Gob[profile]()
		p := profile{Name: "ada", Age: 36, Tags: []string{"math"}}
		for i := 0; i < b.N; i++ {
			_, _ = c.Encode(p)
		}
	})
	b.Run("JSON", func(b *testing.B) {
		c := JSON[profile]()
		p := profile{Name: "ada", Age: 36, Tags: []string{"math"}}
		for i := 0; i < b.N; i++ {
			_, _ = c.Encode(p)
		}
	})
}
