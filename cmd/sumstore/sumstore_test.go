package sumstore

import (
	"testing"

	"github.com/ValentinKolb/fKV/lib/engine"
	"github.com/ValentinKolb/fKV/lib/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, dir string) *kv.Store {
	t.Helper()
	s, err := kv.NewBuilder(1<<10, 1<<24).WithDisk(dir).WithCompression(engine.CompressionZstd).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestExpected(t *testing.T) {
	p := &Params{Workers: 2, Ops: 10, Keys: 4}
	assert.Equal(t, []uint64{3, 3, 2, 2}, p.expected([]uint64{10}))
	assert.Equal(t, []uint64{4, 3, 2, 2}, p.expected([]uint64{5, 6}))
	assert.Equal(t, []uint64{0, 0, 0, 0}, p.expected(nil))
}

func TestParamsValidation(t *testing.T) {
	for _, p := range []Params{
		{Workers: 0, Ops: 10, Keys: 1},
		{Workers: 1, Ops: 1, Keys: 1},
		{Workers: 1, Ops: 10, Keys: 0},
	} {
		assert.Error(t, p.validate())
	}
}

func TestParamsPersistence(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadParams(dir)
	assert.Error(t, err)

	p := &Params{Workers: 3, Ops: 100, Keys: 7}
	require.NoError(t, p.Save(dir))
	_, err = LoadParams(dir)
	assert.Error(t, err, "a population without token cannot be recovered")

	p.Token = "00000000-0000-0000-0000-000000000000"
	require.NoError(t, p.Save(dir))
	loaded, err := LoadParams(dir)
	require.NoError(t, err)
	assert.Equal(t, p, loaded)
}

func TestPopulateAndVerify(t *testing.T) {
	dir := t.TempDir()
	p := &Params{Workers: 4, Ops: 2000, Keys: 64}

	store := openStore(t, dir)
	require.NoError(t, Populate(store, p))
	assert.Len(t, p.Token, 36)
	require.NoError(t, p.Save(dir))
	require.NoError(t, store.Close())

	loaded, err := LoadParams(dir)
	require.NoError(t, err)

	restored := openStore(t, dir)
	report, err := Verify(restored, loaded, true)
	require.NoError(t, err)
	assert.True(t, report.OK(), "mismatches: %v", report.Mismatches)
	assert.True(t, report.Replayed)
	assert.Len(t, report.Serials, p.Workers)
	for _, serial := range report.Serials {
		assert.GreaterOrEqual(t, serial, p.Ops/2)
		assert.LessOrEqual(t, serial, p.Ops)
	}
}

func TestVerifyWithoutReplay(t *testing.T) {
	dir := t.TempDir()
	p := &Params{Workers: 2, Ops: 500, Keys: 10}

	store := openStore(t, dir)
	require.NoError(t, Populate(store, p))
	require.NoError(t, store.Close())

	report, err := Verify(openStore(t, dir), p, false)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.False(t, report.Replayed)
}

func TestVerifyUnknownToken(t *testing.T) {
	p := &Params{Workers: 1, Ops: 10, Keys: 1, Token: "00000000-0000-0000-0000-000000000000"}
	_, err := Verify(openStore(t, t.TempDir()), p, false)
	assert.ErrorIs(t, err, kv.ErrRecovery)
}

func TestPopulateFailsOnRejectedIncrement(t *testing.T) {
	// 64 counters of 8 bytes do not fit into 256 bytes of log
	s, err := kv.NewBuilder(1<<10, 256).WithDisk(t.TempDir()).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	p := &Params{Workers: 1, Ops: 100, Keys: 64}
	err = Populate(s, p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OUT_OF_MEMORY")
	assert.Empty(t, p.Token)
}
