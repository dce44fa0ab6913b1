package kv

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/fKV/lib/common"
	"github.com/ValentinKolb/fKV/lib/engine"
	"github.com/ValentinKolb/fKV/lib/kv/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func newMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewBuilder(1<<10, 1<<24).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newDiskStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := NewBuilder(1<<10, 1<<24).WithDisk(dir).WithCompression(engine.CompressionLZ4).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func startSession(t *testing.T, s *Store) *Session {
	t.Helper()
	sess, err := s.StartSession()
	require.NoError(t, err)
	t.Cleanup(sess.Stop)
	return sess
}

// readValue reads key and drives the session until the result is available
func readValue[K, V any](t *testing.T, typed *Typed[K, V], sess *Session, key K, serial uint64) (V, bool) {
	t.Helper()
	status, p, err := typed.Read(sess, key, serial)
	require.NoError(t, err)
	if status == StatusPending {
		require.True(t, sess.CompletePending(true))
	}
	return p.Get()
}

// --------------------------------------------------------------------------
// Builder and Store
// --------------------------------------------------------------------------

func TestBuilderValidation(t *testing.T) {
	cases := map[string]*Builder{
		"ZeroTableSize":     NewBuilder(0, 1<<20),
		"TableSizeNotPow2":  NewBuilder(1000, 1<<20),
		"ZeroLogSize":       NewBuilder(1<<10, 0),
		"MutableZero":       NewBuilder(1<<10, 1<<20).WithLogMutableFraction(0),
		"MutableAboveOne":   NewBuilder(1<<10, 1<<20).WithLogMutableFraction(1.5),
		"UnknownCompressed": NewBuilder(1<<10, 1<<20).WithCompression(engine.Compression(42)),
		"NoFactory":         NewBuilder(1<<10, 1<<20).WithEngine(nil),
		"ConfigCompression": BuilderFromConfig(&common.StoreConfig{
			TableSize: 1 << 10, LogSizeMB: 1, LogMutableFraction: 0.9, Compression: "brotli",
		}),
	}

	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			s, err := b.Build()
			assert.Nil(t, s)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfig), "got %v", err)
		})
	}

	s, err := NewBuilder(1<<10, 1<<20).WithLogMutableFraction(1).Build()
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestBuilderFromConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	s, err := BuilderFromConfig(&common.StoreConfig{
		TableSize:               1 << 12,
		LogSizeMB:               16,
		LogMutableFraction:      0.5,
		StorageDir:              dir,
		Compression:             "none",
		RefreshInterval:         8,
		CompletePendingInterval: 16,
	}).Build()
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, dir, s.StorageDir())
	assert.DirExists(t, dir)
	assert.Equal(t, uint64(8), s.refreshEvery)
	assert.Equal(t, uint64(16), s.completeEvery)
	assert.Equal(t, 0.5, s.Info().LogMutableFraction)
}

func TestCustomEngineFactory(t *testing.T) {
	var opened engine.Options
	factory := func(opts engine.Options) (engine.Engine, error) {
		opened = opts
		return nil, errors.New("no engine today")
	}
	_, err := NewBuilder(1<<10, 1<<20).WithDisk(t.TempDir()).WithEngine(factory).Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
	assert.Equal(t, uint64(1<<10), opened.TableSize)
	assert.NotEmpty(t, opened.StorageDir)
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := NewBuilder(1<<10, 1<<20).Build()
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.StartSession()
	assert.Error(t, err)
}

func TestMemoryStoreRejectsPersistence(t *testing.T) {
	s := newMemStore(t)

	_, err := s.Checkpoint()
	assert.True(t, errors.Is(err, ErrInvalidType))
	_, err = s.CheckpointIndex()
	assert.True(t, errors.Is(err, ErrInvalidType))
	_, err = s.CheckpointHybridLog()
	assert.True(t, errors.Is(err, ErrInvalidType))
	_, err = s.Recover("a", "b")
	assert.True(t, errors.Is(err, ErrInvalidType))
	_, err = s.Checkpoints()
	assert.True(t, errors.Is(err, ErrInvalidType))
	assert.True(t, errors.Is(s.CleanStorage(), ErrInvalidType))
}

func TestCleanStorage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	s := newDiskStore(t, dir)
	sess := startSession(t, s)
	typed := NewTyped(codec.String(), codec.Concat())

	_, err := typed.Upsert(sess, "k", "v", 1)
	require.NoError(t, err)
	_, err = s.Checkpoint()
	require.NoError(t, err)
	assert.DirExists(t, dir)

	require.NoError(t, s.CleanStorage())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	// the in-memory data survives
	v, ok := readValue(t, typed, sess, "k", 2)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestErrorMatching(t *testing.T) {
	cause := errors.New("disk on fire")
	err := newError(ErrCIO, cause, "remove %s", "/tmp/x")

	assert.True(t, errors.Is(err, ErrIO))
	assert.False(t, errors.Is(err, ErrConfig))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "IO")
	assert.Contains(t, err.Error(), "disk on fire")

	assert.True(t, errors.Is(ErrSessionStuck, ErrSessionStuck))
	assert.False(t, errors.Is(ErrSessionStuck, ErrSessionInactive))
}

func TestScanAndSize(t *testing.T) {
	s := newMemStore(t)
	sess := startSession(t, s)
	typed := NewTyped(codec.Uint64(), codec.Add(codec.Uint64()))

	for i := uint64(0); i < 100; i++ {
		_, err := typed.Upsert(sess, i, i*2, i+1)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(100), s.Size())

	var sum uint64
	require.NoError(t, ScanTyped(s, typed, func(k, v uint64) bool {
		assert.Equal(t, k*2, v)
		sum += v
		return true
	}))
	assert.Equal(t, uint64(9900), sum)

	seen := 0
	s.Scan(func(_, _ []byte) bool {
		seen++
		return seen < 10
	})
	assert.Equal(t, 10, seen)

	// records written with another value type do not decode
	strs := NewTyped(codec.Uint64(), codec.Concat())
	err := ScanTyped(s, strs, func(uint64, string) bool { return true })
	assert.True(t, errors.Is(err, ErrDeserialization))

	assert.True(t, s.GrowIndex())
	s.DumpDistribution()
}

func TestWriteMetrics(t *testing.T) {
	s := newMemStore(t)
	sess := startSession(t, s)
	typed := NewTyped(codec.String(), codec.Concat())
	_, err := typed.Upsert(sess, "k", "v", 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	WriteMetrics(&buf)
	assert.Contains(t, buf.String(), `fkv_operations_total{op="upsert",status="OK"}`)
	assert.Contains(t, buf.String(), "fkv_sessions_started_total")
}
