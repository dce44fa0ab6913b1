package hlog

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/fKV/lib/engine"
	enginetesting "github.com/ValentinKolb/fKV/lib/engine/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallOptions() engine.Options {
	opts := DefaultOptions()
	opts.TableSize = 1 << 10
	opts.LogSize = 64 << 20
	return opts
}

func TestHlogEngine(t *testing.T) {
	for _, c := range []engine.Compression{engine.CompressionNone, engine.CompressionLZ4, engine.CompressionZstd} {
		opts := smallOptions()
		opts.Compression = c
		enginetesting.RunEngineTests(t, "hlog-"+c.String(), opts, New)
	}
}

func BenchmarkHlogEngine(b *testing.B) {
	enginetesting.RunEngineBenchmarks(b, "hlog", smallOptions(), New)
}

func newTestEngine(t *testing.T, opts engine.Options) *hlogImpl {
	e, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e.(*hlogImpl)
}

func readValue(t *testing.T, s engine.Session, key string) ([]byte, engine.Status, engine.Status) {
	var (
		value []byte
		final engine.Status
	)
	first := s.Read([]byte(key), 0, func(_ any, v []byte, st engine.Status) {
		value = append([]byte(nil), v...)
		final = st
	}, nil)
	if first == engine.StatusPending {
		require.True(t, s.CompletePending(true))
	}
	return value, first, final
}

func TestOptionsValidation(t *testing.T) {
	for name, mutate := range map[string]func(*engine.Options){
		"zero table size":         func(o *engine.Options) { o.TableSize = 0 },
		"table size not pow2":     func(o *engine.Options) { o.TableSize = 1000 },
		"zero log size":           func(o *engine.Options) { o.LogSize = 0 },
		"mutable fraction zero":   func(o *engine.Options) { o.LogMutableFraction = 0 },
		"mutable fraction above1": func(o *engine.Options) { o.LogMutableFraction = 1.5 },
		"unknown compression":     func(o *engine.Options) { o.Compression = 9 },
	} {
		t.Run(name, func(t *testing.T) {
			opts := smallOptions()
			mutate(&opts)
			_, err := New(opts)
			assert.Error(t, err)
		})
	}

	opts := smallOptions()
	opts.LogMutableFraction = 1
	opts.PreAllocateLog = true
	e := newTestEngine(t, opts)
	assert.Equal(t, 1.0, e.Info().LogMutableFraction)
}

func TestColdRecordsCompleteThroughPending(t *testing.T) {
	opts := smallOptions()
	opts.StorageDir = t.TempDir()

	e := newTestEngine(t, opts)
	s, err := e.StartSession()
	require.NoError(t, err)
	s.Upsert([]byte("a"), []byte("1"), 1)
	s.Upsert([]byte("b"), []byte("2"), 2)
	cp, err := e.Checkpoint()
	require.NoError(t, err)
	s.Stop()

	r := newTestEngine(t, opts)
	_, err = r.Recover(cp.Token, cp.Token)
	require.NoError(t, err)

	rs, err := r.StartSession()
	require.NoError(t, err)
	defer rs.Stop()

	value, first, final := readValue(t, rs, "a")
	assert.Equal(t, engine.StatusPending, first)
	assert.Equal(t, engine.StatusOK, final)
	assert.Equal(t, "1", string(value))

	// the record is resident now
	value, first, _ = readValue(t, rs, "a")
	assert.Equal(t, engine.StatusOK, first)
	assert.Equal(t, "1", string(value))

	// operations queue behind a pending one and apply in order
	var got []byte
	assert.Equal(t, engine.StatusPending, rs.Read([]byte("b"), 3, func(_ any, v []byte, _ engine.Status) {
		got = append([]byte(nil), v...)
	}, nil))
	assert.Equal(t, engine.StatusPending, rs.Upsert([]byte("b"), []byte("3"), 4))
	assert.Equal(t, int64(2), r.Info().PendingOperations)
	assert.True(t, rs.CompletePending(true))
	assert.Equal(t, "2", string(got))

	value, _, _ = readValue(t, rs, "b")
	assert.Equal(t, "3", string(value))
	assert.Equal(t, int64(0), r.Info().PendingOperations)
}

func TestCheckpointRecordsSessionSerials(t *testing.T) {
	opts := smallOptions()
	opts.StorageDir = t.TempDir()
	e := newTestEngine(t, opts)

	s1, _ := e.StartSession()
	s2, _ := e.StartSession()
	for i := uint64(1); i <= 10; i++ {
		s1.Rmw([]byte("counter"), []byte{1}, i, func(current, modification, dst []byte) (uint64, error) {
			if dst != nil {
				dst[0] = current[0] + modification[0]
			}
			return 1, nil
		})
	}
	s2.Upsert([]byte("x"), []byte("y"), 7)

	cp, err := e.Checkpoint()
	require.NoError(t, err)

	r := newTestEngine(t, opts)
	rec, err := r.Recover(cp.Token, cp.Token)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{s1.ID(), s2.ID()}, rec.SessionIDs)
	assert.Equal(t, uint32(1), rec.Version)

	_, serial, err := r.ContinueSession(s1.ID())
	require.NoError(t, err)
	assert.Equal(t, uint64(10), serial)
	_, serial, err = r.ContinueSession(s2.ID())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), serial)

	_, _, err = r.ContinueSession(s2.ID())
	assert.ErrorIs(t, err, engine.ErrSessionActive)
}

func TestContinueSessionRejectsLiveID(t *testing.T) {
	opts := smallOptions()
	opts.StorageDir = t.TempDir()
	e := newTestEngine(t, opts)

	live, _ := e.StartSession()
	live.Upsert([]byte("a"), []byte("1"), 1)
	cp, err := e.Checkpoint()
	require.NoError(t, err)

	rec, err := e.Recover(cp.Token, cp.Token)
	require.NoError(t, err)
	assert.Contains(t, rec.SessionIDs, live.ID())

	_, _, err = e.ContinueSession(live.ID())
	assert.ErrorIs(t, err, engine.ErrSessionActive)
	assert.Equal(t, 1, e.Info().ActiveSessions)

	// the identity is free again once its holder stopped
	live.Stop()
	cont, serial, err := e.ContinueSession(live.ID())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), serial)
	assert.Equal(t, 1, e.Info().ActiveSessions)
	cont.Stop()
	assert.Equal(t, 0, e.Info().ActiveSessions)
}

func TestFailedPendingWritesAreReported(t *testing.T) {
	opts := smallOptions()
	opts.StorageDir = t.TempDir()
	opts.LogSize = 64

	e := newTestEngine(t, opts)
	s, _ := e.StartSession()
	require.Equal(t, engine.StatusOK, s.Upsert([]byte("a"), make([]byte, 16), 1))
	cp, err := e.Checkpoint()
	require.NoError(t, err)
	s.Stop()

	r := newTestEngine(t, opts)
	_, err = r.Recover(cp.Token, cp.Token)
	require.NoError(t, err)
	rs, _ := r.StartSession()
	defer rs.Stop()

	assert.Equal(t, engine.StatusPending, rs.Read([]byte("a"), 1, func(any, []byte, engine.Status) {}, nil))
	assert.Equal(t, engine.StatusPending, rs.Upsert([]byte("b"), make([]byte, 200), 2))
	assert.Equal(t, engine.StatusPending, rs.Upsert([]byte("c"), make([]byte, 8), 3))
	assert.Empty(t, rs.Failures())

	require.True(t, rs.CompletePending(true))
	failures := rs.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, uint64(2), failures[0].Serial)
	assert.Equal(t, engine.StatusOutOfMemory, failures[0].Status)
	assert.Empty(t, rs.Failures(), "failures are handed out once")

	_, _, final := readValue(t, rs, "b")
	assert.Equal(t, engine.StatusNotFound, final)
}

func TestConcurrentCheckpointsCoalesce(t *testing.T) {
	opts := smallOptions()
	opts.StorageDir = t.TempDir()
	e := newTestEngine(t, opts)

	s, _ := e.StartSession()
	for i := 0; i < 5000; i++ {
		s.Upsert([]byte{byte(i), byte(i >> 8)}, make([]byte, 64), uint64(i))
	}
	s.Stop()

	var (
		mu      sync.Mutex
		results []engine.CheckpointResult
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Checkpoint()
			assert.NoError(t, err)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}
	wg.Wait()

	checked := make(map[string]bool)
	for _, res := range results {
		if res.Checked {
			checked[res.Token] = true
		}
	}
	require.NotEmpty(t, checked)
	for _, res := range results {
		assert.Len(t, res.Token, 36)
		assert.True(t, checked[res.Token], "coalesced requests return the token of a checkpoint that was taken")
	}

	infos, err := e.Checkpoints()
	require.NoError(t, err)
	assert.Len(t, infos, len(checked))
	for i := 1; i < len(infos); i++ {
		assert.Greater(t, infos[i-1].Version, infos[i].Version)
	}
}

func TestCorruptSnapshotIsRejected(t *testing.T) {
	opts := smallOptions()
	opts.StorageDir = t.TempDir()
	opts.Compression = engine.CompressionNone
	e := newTestEngine(t, opts)

	s, _ := e.StartSession()
	s.Upsert([]byte("key"), []byte("some value worth keeping"), 1)
	s.Stop()
	cp, err := e.Checkpoint()
	require.NoError(t, err)

	path := filepath.Join(opts.StorageDir, checkpointDir, cp.Token+logSuffix)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-6] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o600))

	r := newTestEngine(t, opts)
	rec, err := r.Recover(cp.Token, cp.Token)
	assert.ErrorIs(t, err, errCorruptSnapshot)
	assert.Equal(t, engine.StatusCorruption, rec.Status)
	assert.Equal(t, uint64(0), r.Size())
}

func TestSlotReuseWaitsForRefresh(t *testing.T) {
	e := newTestEngine(t, smallOptions())

	reader, _ := e.StartSession()
	writer, _ := e.StartSession()
	defer reader.Stop()
	defer writer.Stop()

	writer.Upsert([]byte("k"), []byte("v0"), 0)

	var held []byte
	reader.Read([]byte("k"), 1, func(_ any, v []byte, _ engine.Status) { held = v }, nil)

	for i := 1; i <= 100; i++ {
		writer.Upsert([]byte("k"), []byte("v1"), uint64(i))
		writer.Refresh()
	}

	// the reader has not refreshed, nothing may be reused
	time.Sleep(5 * e.interval)
	assert.Equal(t, int64(100), e.Info().RetiredSlots)
	assert.Equal(t, "v0", string(held))

	reader.Refresh()
	writer.Refresh()
	assert.Eventually(t, func() bool {
		return e.Info().RetiredSlots == 0
	}, 2*time.Second, e.interval)
	assert.Equal(t, uint64(100), e.Info().ReusedSlots)
}

func TestSessionMisuseIsAborted(t *testing.T) {
	e := newTestEngine(t, smallOptions())
	s, _ := e.StartSession()
	defer s.Stop()

	s.Upsert([]byte("k"), []byte("v"), 1)

	var nested engine.Status
	st := s.Read([]byte("k"), 2, func(_ any, _ []byte, _ engine.Status) {
		// the session is still inside Read
		nested = s.Upsert([]byte("k"), []byte("w"), 3)
	}, nil)
	assert.Equal(t, engine.StatusOK, st)
	assert.Equal(t, engine.StatusAborted, nested)
}

func TestLogSizeBudget(t *testing.T) {
	opts := smallOptions()
	opts.LogSize = 64
	e := newTestEngine(t, opts)
	s, _ := e.StartSession()
	defer s.Stop()

	assert.Equal(t, engine.StatusOK, s.Upsert([]byte("a"), make([]byte, 60), 1))
	assert.Equal(t, engine.StatusOutOfMemory, s.Upsert([]byte("b"), make([]byte, 10), 2))
	// deleting returns the bytes to the budget
	assert.Equal(t, engine.StatusOK, s.Delete([]byte("a"), 3))
	assert.Equal(t, engine.StatusOK, s.Upsert([]byte("b"), make([]byte, 10), 4))
}

func TestRmwSizeMismatchPanics(t *testing.T) {
	e := newTestEngine(t, smallOptions())
	s, _ := e.StartSession()

	s.Upsert([]byte("k"), []byte("v"), 1)
	calls := 0
	assert.Panics(t, func() {
		s.Rmw([]byte("k"), []byte("m"), 2, func(_, _, dst []byte) (uint64, error) {
			calls++
			if dst == nil {
				return 4, nil
			}
			return 2, nil
		})
	})
	assert.Equal(t, 2, calls)
}

func TestGrowIndexAndInfo(t *testing.T) {
	e := newTestEngine(t, smallOptions())
	before := e.Info().Metadata.(Metadata).TableSize
	assert.True(t, e.GrowIndex())
	assert.Equal(t, before*2, e.Info().Metadata.(Metadata).TableSize)

	s, _ := e.StartSession()
	defer s.Stop()
	for i := 0; i < 1000; i++ {
		s.Upsert([]byte{byte(i), byte(i >> 8)}, make([]byte, 16), uint64(i))
	}

	info := e.Info()
	assert.Equal(t, engine.ImplHlog, info.Implementation)
	assert.Equal(t, uint64(1000), info.Records)
	assert.Equal(t, 1, info.ActiveSessions)
	meta := info.Metadata.(Metadata)
	assert.Equal(t, int64(16000), meta.LiveBytes)
	assert.Equal(t, 16, meta.MedianValueSize)
	assert.Greater(t, meta.ShardDistribution.DistributionQuality, 0.0)
	assert.True(t, e.SupportsFeature(engine.FeatureScan|engine.FeatureRmw))
}
