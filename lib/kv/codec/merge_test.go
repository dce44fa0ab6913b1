package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type maxScore struct {
	Best int
}

func (m maxScore) Merge(modification maxScore) maxScore {
	if modification.Best > m.Best {
		return modification
	}
	return m
}

func mergeEncoded[V any](t *testing.T, v Value[V], current, modification V) V {
	t.Helper()
	cur, err := v.Encode(current)
	require.NoError(t, err)
	mod, err := v.Encode(modification)
	require.NoError(t, err)
	out, err := MergeBytes(v, cur, mod)
	require.NoError(t, err)
	got, err := v.Decode(out)
	require.NoError(t, err)
	return got
}

func TestBuiltinMerges(t *testing.T) {
	assert.Equal(t, uint64(1437), mergeEncoded(t, Add(Uint64()), 1337, 100))
	assert.Equal(t, int64(-5), mergeEncoded(t, Add(Int64()), 10, -15))
	assert.InDelta(t, 3.75, mergeEncoded(t, Add(Float64()), 1.5, 2.25), 1e-9)
	assert.Equal(t, false, mergeEncoded(t, Replace(Bool()), true, false))
	assert.Equal(t, "abc", mergeEncoded(t, Concat(), "ab", "c"))
	assert.Equal(t, []byte("xyz"), mergeEncoded(t, ConcatBytes(), []byte("x"), []byte("yz")))
	assert.Equal(t, []uint32{1, 2, 3}, mergeEncoded(t, Append(Uint32()), []uint32{1}, []uint32{2, 3}))

	union := mergeEncoded(t, Union(Uint64()), NewSet[uint64](1, 2, 3), NewSet[uint64](3, 4, 5))
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, union.Sorted())
}

func TestCustomMerges(t *testing.T) {
	v := Custom(Gob[maxScore]())
	assert.Equal(t, maxScore{Best: 9}, mergeEncoded(t, v, maxScore{Best: 9}, maxScore{Best: 4}))
	assert.Equal(t, maxScore{Best: 12}, mergeEncoded(t, v, maxScore{Best: 9}, maxScore{Best: 12}))

	capped := WithMerge(Uint16(), func(current, modification uint16) uint16 {
		return min(current+modification, 100)
	})
	assert.Equal(t, uint16(100), mergeEncoded(t, capped, 90, 20))
}

// TestMergeIsPure checks that merging leaves the operands untouched
func TestMergeIsPure(t *testing.T) {
	v := Append(String())
	current := []string{"a"}
	modification := []string{"b"}
	first := v.Merge(current, modification)
	second := v.Merge(current, modification)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"a"}, current)
	assert.Equal(t, []string{"b"}, modification)
}

func TestMergeBytesRejectsMalformedOperands(t *testing.T) {
	v := Add(Uint64())
	good, _ := v.Encode(1)

	_, err := MergeBytes(v, []byte{1, 2}, good)
	require.Error(t, err)
	_, err = MergeBytes(v, good, []byte{1, 2})
	require.Error(t, err)
}
