package testing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/fKV/lib/engine"
)

// EngineFactory creates a new engine for the given options
type EngineFactory func(opts engine.Options) (engine.Engine, error)

// RunEngineTests runs the conformance suite for an engine implementation.
// base is the option set used for every engine; tests that need storage set
// StorageDir to a temporary directory.
func RunEngineTests(t *testing.T, name string, base engine.Options, factory EngineFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Upsert&Read", func(t *testing.T) {
			testUpsertRead(t, newEngine(t, base, factory))
		})

		t.Run("ReadNotFound", func(t *testing.T) {
			testReadNotFound(t, newEngine(t, base, factory))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, newEngine(t, base, factory))
		})

		t.Run("RmwAbsentKey", func(t *testing.T) {
			testRmwAbsentKey(t, newEngine(t, base, factory))
		})

		t.Run("RmwGrowingValue", func(t *testing.T) {
			testRmwGrowingValue(t, newEngine(t, base, factory))
		})

		t.Run("RmwConcurrent", func(t *testing.T) {
			testRmwConcurrent(t, newEngine(t, base, factory))
		})

		t.Run("SessionLifecycle", func(t *testing.T) {
			testSessionLifecycle(t, newEngine(t, base, factory))
		})

		t.Run("CheckpointWithoutStorage", func(t *testing.T) {
			testCheckpointWithoutStorage(t, newEngine(t, base, factory))
		})

		t.Run("CheckpointRecover", func(t *testing.T) {
			testCheckpointRecover(t, base, factory)
		})

		t.Run("SeparateFacets", func(t *testing.T) {
			testSeparateFacets(t, base, factory)
		})

		t.Run("RecoverUnknownToken", func(t *testing.T) {
			testRecoverUnknownToken(t, base, factory)
		})

		t.Run("Scan", func(t *testing.T) {
			testScan(t, newEngine(t, base, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func newEngine(t testing.TB, opts engine.Options, factory EngineFactory) engine.Engine {
	e, err := factory(opts)
	if err != nil {
		t.Fatalf("Could not create engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func withStorage(t testing.TB, opts engine.Options) engine.Options {
	opts.StorageDir = t.TempDir()
	return opts
}

// Checks if the engine supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, e engine.Engine, feature engine.Feature) {
	if !e.SupportsFeature(feature) {
		t.Skip()
	}
}

func startSession(t testing.TB, e engine.Engine) engine.Session {
	s, err := e.StartSession()
	if err != nil {
		t.Fatalf("Could not start session: %v", err)
	}
	return s
}

// readSync reads key and completes a pending read before returning
func readSync(t testing.TB, s engine.Session, key []byte) ([]byte, engine.Status) {
	var (
		value  []byte
		status engine.Status
		calls  int
	)
	cb := func(_ any, v []byte, st engine.Status) {
		value = append([]byte(nil), v...)
		status = st
		calls++
	}

	if st := s.Read(key, 0, cb, nil); st == engine.StatusPending {
		s.CompletePending(true)
	}
	if calls != 1 {
		t.Fatalf("Expected the read callback to run exactly once, ran %d times", calls)
	}
	return value, status
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// addUint64 merges two little endian uint64 values by addition
func addUint64(current, modification, dst []byte) (uint64, error) {
	if dst == nil {
		return 8, nil
	}
	binary.LittleEndian.PutUint64(dst, binary.LittleEndian.Uint64(current)+binary.LittleEndian.Uint64(modification))
	return 8, nil
}

// concat appends the modification to the current value
func concat(current, modification, dst []byte) (uint64, error) {
	size := uint64(len(current) + len(modification))
	if dst == nil {
		return size, nil
	}
	n := copy(dst, current)
	copy(dst[n:], modification)
	return size, nil
}

func isOKOrPending(status engine.Status) bool {
	return status == engine.StatusOK || status == engine.StatusPending
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testUpsertRead(t *testing.T, e engine.Engine) {
	requireFeature(t, e, engine.FeatureUpsert|engine.FeatureRead)

	s := startSession(t, e)
	defer s.Stop()

	key := []byte("test-key")
	if st := s.Upsert(key, []byte("value-1"), 1); !isOKOrPending(st) {
		t.Fatalf("Expected OK or PENDING for upsert, got %s", st)
	}
	value, st := readSync(t, s, key)
	if st != engine.StatusOK || !bytes.Equal(value, []byte("value-1")) {
		t.Fatalf("Expected value-1 with OK, got %q with %s", value, st)
	}

	s.Upsert(key, []byte("a-longer-value-2"), 2)
	value, st = readSync(t, s, key)
	if st != engine.StatusOK || !bytes.Equal(value, []byte("a-longer-value-2")) {
		t.Fatalf("Expected a-longer-value-2 with OK, got %q with %s", value, st)
	}

	s.Upsert(key, []byte{}, 3)
	value, st = readSync(t, s, key)
	if st != engine.StatusOK || len(value) != 0 {
		t.Fatalf("Expected empty value with OK, got %q with %s", value, st)
	}
	s.Refresh()

	if e.Size() != 1 {
		t.Errorf("Expected size 1, got %d", e.Size())
	}
}

func testReadNotFound(t *testing.T, e engine.Engine) {
	requireFeature(t, e, engine.FeatureRead)

	s := startSession(t, e)
	defer s.Stop()

	ctx := "context"
	var gotCtx any
	st := s.Read([]byte("missing"), 1, func(c any, v []byte, st engine.Status) {
		gotCtx = c
		if v != nil || st != engine.StatusNotFound {
			t.Errorf("Expected nil value with NOT_FOUND in callback, got %q with %s", v, st)
		}
	}, ctx)
	if st != engine.StatusNotFound {
		t.Fatalf("Expected NOT_FOUND, got %s", st)
	}
	if gotCtx != ctx {
		t.Fatalf("Expected the callback to receive the read context")
	}
}

func testDelete(t *testing.T, e engine.Engine) {
	requireFeature(t, e, engine.FeatureUpsert|engine.FeatureRead|engine.FeatureDelete)

	s := startSession(t, e)
	defer s.Stop()

	key := []byte("delete-me")
	s.Upsert(key, u64(1), 1)
	if st := s.Delete(key, 2); !isOKOrPending(st) {
		t.Fatalf("Expected OK or PENDING for delete, got %s", st)
	}
	s.CompletePending(true)

	if _, st := readSync(t, s, key); st != engine.StatusNotFound {
		t.Fatalf("Expected NOT_FOUND after delete, got %s", st)
	}
	if e.Size() != 0 {
		t.Errorf("Expected size 0 after delete, got %d", e.Size())
	}
}

func testRmwAbsentKey(t *testing.T, e engine.Engine) {
	requireFeature(t, e, engine.FeatureRmw|engine.FeatureRead)

	s := startSession(t, e)
	defer s.Stop()

	called := false
	st := s.Rmw([]byte("fresh"), u64(5), 1, func(current, modification, dst []byte) (uint64, error) {
		called = true
		return addUint64(current, modification, dst)
	})
	if !isOKOrPending(st) {
		t.Fatalf("Expected OK or PENDING, got %s", st)
	}
	s.CompletePending(true)
	if called {
		t.Fatalf("The merge callback must not run for an absent key")
	}

	value, st := readSync(t, s, []byte("fresh"))
	if st != engine.StatusOK || binary.LittleEndian.Uint64(value) != 5 {
		t.Fatalf("Expected the modification to be stored as is, got %v with %s", value, st)
	}
}

func testRmwGrowingValue(t *testing.T, e engine.Engine) {
	requireFeature(t, e, engine.FeatureRmw|engine.FeatureRead)

	s := startSession(t, e)
	defer s.Stop()

	key := []byte("alphabet")
	for i := 0; i < 26; i++ {
		if st := s.Rmw(key, []byte{byte('A' + i)}, uint64(i+1), concat); !isOKOrPending(st) {
			t.Fatalf("Expected OK or PENDING for rmw %d, got %s", i, st)
		}
		s.Refresh()
	}
	s.CompletePending(true)

	value, st := readSync(t, s, key)
	if st != engine.StatusOK || string(value) != "ABCDEFGHIJKLMNOPQRSTUVWXYZ" {
		t.Fatalf("Expected the alphabet, got %q with %s", value, st)
	}
}

func testRmwConcurrent(t *testing.T, e engine.Engine) {
	requireFeature(t, e, engine.FeatureUpsert|engine.FeatureRmw|engine.FeatureRead)

	const (
		goroutines = 4
		keys       = 1000
		initial    = 100
		delta      = 30
	)

	setup := startSession(t, e)
	for k := 0; k < keys; k++ {
		setup.Upsert(u64(uint64(k)), u64(initial), uint64(k))
	}
	setup.Stop()

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := e.StartSession()
			if err != nil {
				t.Errorf("Could not start session: %v", err)
				return
			}
			defer s.Stop()
			for k := 0; k < keys; k++ {
				s.Rmw(u64(uint64(k)), u64(delta), uint64(k), addUint64)
				if k%64 == 0 {
					s.Refresh()
				}
			}
			s.CompletePending(true)
		}()
	}
	wg.Wait()

	s := startSession(t, e)
	defer s.Stop()
	for k := 0; k < keys; k++ {
		value, st := readSync(t, s, u64(uint64(k)))
		if st != engine.StatusOK {
			t.Fatalf("Expected OK for key %d, got %s", k, st)
		}
		if got := binary.LittleEndian.Uint64(value); got != initial+goroutines*delta {
			t.Fatalf("Expected %d for key %d, got %d", initial+goroutines*delta, k, got)
		}
	}
}

func testSessionLifecycle(t *testing.T, e engine.Engine) {
	s1 := startSession(t, e)
	s2 := startSession(t, e)

	if len(s1.ID()) != 36 || len(s2.ID()) != 36 {
		t.Fatalf("Expected 36 character session ids, got %q and %q", s1.ID(), s2.ID())
	}
	if s1.ID() == s2.ID() {
		t.Fatalf("Session ids of live sessions must differ")
	}

	if !s1.CompletePending(false) {
		t.Errorf("A session without operations has nothing pending")
	}

	s1.Stop()
	s1.Stop()
	if st := s1.Upsert([]byte("k"), []byte("v"), 1); st != engine.StatusAborted {
		t.Errorf("Expected ABORTED on a stopped session, got %s", st)
	}
	s2.Stop()

	if _, _, err := e.ContinueSession(s1.ID()); err == nil {
		t.Errorf("Expected continuing a never recovered session to fail")
	}
}

func testCheckpointWithoutStorage(t *testing.T, e engine.Engine) {
	requireFeature(t, e, engine.FeatureCheckpoint)

	if _, err := e.Checkpoint(); !errors.Is(err, engine.ErrNoStorage) {
		t.Fatalf("Expected ErrNoStorage, got %v", err)
	}
	if _, err := e.CheckpointIndex(); !errors.Is(err, engine.ErrNoStorage) {
		t.Fatalf("Expected ErrNoStorage, got %v", err)
	}
	if _, err := e.CheckpointHybridLog(); !errors.Is(err, engine.ErrNoStorage) {
		t.Fatalf("Expected ErrNoStorage, got %v", err)
	}
	if _, err := e.Recover("a", "b"); !errors.Is(err, engine.ErrNoStorage) {
		t.Fatalf("Expected ErrNoStorage, got %v", err)
	}
}

func testCheckpointRecover(t *testing.T, base engine.Options, factory EngineFactory) {
	opts := withStorage(t, base)
	e := newEngine(t, opts, factory)
	requireFeature(t, e, engine.FeatureCheckpoint|engine.FeatureRecover)

	const numEntries = 1000
	s := startSession(t, e)
	for i := 0; i < numEntries; i++ {
		s.Upsert([]byte(fmt.Sprintf("key-%d", i)), []byte(fmt.Sprintf("value-%d", i)), uint64(i+1))
	}
	s.CompletePending(true)

	result, err := e.Checkpoint()
	if err != nil {
		t.Fatalf("Unexpected error during checkpoint: %v", err)
	}
	if !result.Checked || len(result.Token) != 36 {
		t.Fatalf("Expected a checked checkpoint with a 36 character token, got %+v", result)
	}
	sessionID := s.ID()

	// writes after the checkpoint are not part of it
	s.Upsert([]byte("after"), []byte("checkpoint"), numEntries+1)
	_ = e.Close()

	recovered := newEngine(t, opts, factory)
	rec, err := recovered.Recover(result.Token, result.Token)
	if err != nil {
		t.Fatalf("Unexpected error during recover: %v", err)
	}
	if rec.Status != engine.StatusOK || rec.Version == 0 {
		t.Fatalf("Expected OK with a version, got %+v", rec)
	}
	if len(rec.SessionIDs) != 1 || rec.SessionIDs[0] != sessionID {
		t.Fatalf("Expected session %s to be recovered, got %v", sessionID, rec.SessionIDs)
	}

	cont, serial, err := recovered.ContinueSession(sessionID)
	if err != nil {
		t.Fatalf("Unexpected error continuing session: %v", err)
	}
	defer cont.Stop()
	if serial != numEntries {
		t.Fatalf("Expected serial %d, got %d", numEntries, serial)
	}
	if cont.ID() != sessionID {
		t.Fatalf("Expected continued session to keep its id")
	}

	if recovered.Size() != numEntries {
		t.Fatalf("Expected %d records, got %d", numEntries, recovered.Size())
	}
	for i := 0; i < numEntries; i++ {
		value, st := readSync(t, cont, []byte(fmt.Sprintf("key-%d", i)))
		if st != engine.StatusOK || string(value) != fmt.Sprintf("value-%d", i) {
			t.Fatalf("Expected value-%d, got %q with %s", i, value, st)
		}
	}
	if _, st := readSync(t, cont, []byte("after")); st != engine.StatusNotFound {
		t.Fatalf("Writes after the checkpoint must not be recovered, got %s", st)
	}

	infos, err := recovered.Checkpoints()
	if err != nil || len(infos) != 1 || infos[0].Token != result.Token {
		t.Fatalf("Expected the catalog to list the checkpoint, got %v (%v)", infos, err)
	}
}

func testSeparateFacets(t *testing.T, base engine.Options, factory EngineFactory) {
	opts := withStorage(t, base)
	e := newEngine(t, opts, factory)
	requireFeature(t, e, engine.FeatureCheckpointIndex|engine.FeatureCheckpointLog|engine.FeatureRecover)

	s := startSession(t, e)
	s.Upsert([]byte("k"), []byte("v"), 1)

	index, err := e.CheckpointIndex()
	if err != nil || len(index.Token) != 36 {
		t.Fatalf("Unexpected index checkpoint result %+v (%v)", index, err)
	}
	hlog, err := e.CheckpointHybridLog()
	if err != nil || len(hlog.Token) != 36 {
		t.Fatalf("Unexpected hybrid log checkpoint result %+v (%v)", hlog, err)
	}
	s.Stop()

	recovered := newEngine(t, opts, factory)
	if _, err := recovered.Recover(hlog.Token, index.Token); err == nil {
		t.Fatalf("Expected recovery with swapped facet tokens to fail")
	}
	if _, err := recovered.Recover(index.Token, hlog.Token); err != nil {
		t.Fatalf("Unexpected error recovering from separate facets: %v", err)
	}

	rs := startSession(t, recovered)
	defer rs.Stop()
	if value, st := readSync(t, rs, []byte("k")); st != engine.StatusOK || string(value) != "v" {
		t.Fatalf("Expected v, got %q with %s", value, st)
	}
}

func testRecoverUnknownToken(t *testing.T, base engine.Options, factory EngineFactory) {
	e := newEngine(t, withStorage(t, base), factory)
	requireFeature(t, e, engine.FeatureRecover)

	unknown := "00000000-0000-0000-0000-000000000000"
	rec, err := e.Recover(unknown, unknown)
	if err == nil {
		t.Fatalf("Expected recovery from an unknown token to fail")
	}
	if rec.Status == engine.StatusOK {
		t.Fatalf("Expected a failure status, got %s", rec.Status)
	}
	if _, err := e.Recover("not-a-token", "not-a-token"); err == nil {
		t.Fatalf("Expected recovery from a malformed token to fail")
	}
}

func testScan(t *testing.T, e engine.Engine) {
	requireFeature(t, e, engine.FeatureScan|engine.FeatureUpsert)

	s := startSession(t, e)
	defer s.Stop()
	for i := 0; i < 100; i++ {
		s.Upsert([]byte(fmt.Sprintf("scan-%d", i)), u64(uint64(i)), uint64(i))
	}
	s.CompletePending(true)

	seen := make(map[string]uint64)
	e.Scan(func(key, value []byte) bool {
		seen[string(key)] = binary.LittleEndian.Uint64(value)
		return true
	})
	if len(seen) != 100 {
		t.Fatalf("Expected 100 records from scan, got %d", len(seen))
	}
	for i := 0; i < 100; i++ {
		if seen[fmt.Sprintf("scan-%d", i)] != uint64(i) {
			t.Fatalf("Unexpected value for scan-%d", i)
		}
	}

	visited := 0
	e.Scan(func(_, _ []byte) bool {
		visited++
		return visited < 10
	})
	if visited != 10 {
		t.Fatalf("Expected scan to stop after 10 records, visited %d", visited)
	}
}
