package testing

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/fKV/lib/engine"
)

// refreshEvery is how often benchmark sessions refresh their epoch
const refreshEvery = 64

// RunEngineBenchmarks runs all benchmarks for an engine implementation
func RunEngineBenchmarks(b *testing.B, name string, base engine.Options, factory EngineFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Upsert", func(b *testing.B) {
			benchmarkUpsert(b, newEngine(b, base, factory))
		})

		b.Run("Read", func(b *testing.B) {
			benchmarkRead(b, newEngine(b, base, factory))
		})

		b.Run("Rmw", func(b *testing.B) {
			benchmarkRmw(b, newEngine(b, base, factory))
		})

		b.Run("ReadUpsert5050", func(b *testing.B) {
			benchmarkReadUpsert(b, newEngine(b, base, factory))
		})

		b.Run("Checkpoint", func(b *testing.B) {
			benchmarkCheckpoint(b, newEngine(b, withStorage(b, base), factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// runParallel runs fn on one session per goroutine, refreshing regularly
func runParallel(b *testing.B, e engine.Engine, fn func(s engine.Session, i int)) {
	var sessions atomic.Int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		s, err := e.StartSession()
		if err != nil {
			b.Errorf("Could not start session: %v", err)
			return
		}
		defer s.Stop()
		offset := int(sessions.Add(1)) << 20

		i := 0
		for pb.Next() {
			fn(s, offset+i)
			i++
			if i%refreshEvery == 0 {
				s.Refresh()
				s.CompletePending(false)
			}
		}
		s.CompletePending(true)
	})
}

func populate(b *testing.B, e engine.Engine, n int) {
	s, err := e.StartSession()
	if err != nil {
		b.Fatalf("Could not start session: %v", err)
	}
	defer s.Stop()
	for i := 0; i < n; i++ {
		s.Upsert(u64(uint64(i)), u64(42), uint64(i))
		if i%refreshEvery == 0 {
			s.Refresh()
		}
	}
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkUpsert(b *testing.B, e engine.Engine) {
	requireFeature(b, e, engine.FeatureUpsert)

	runParallel(b, e, func(s engine.Session, i int) {
		s.Upsert(u64(uint64(i)), []byte(fmt.Sprintf("value-%d", i)), uint64(i))
	})
}

func benchmarkRead(b *testing.B, e engine.Engine) {
	requireFeature(b, e, engine.FeatureUpsert|engine.FeatureRead)

	const numKeys = 1 << 16
	populate(b, e, numKeys)

	cb := func(_ any, _ []byte, _ engine.Status) {}
	runParallel(b, e, func(s engine.Session, i int) {
		s.Read(u64(uint64(i%numKeys)), uint64(i), cb, nil)
	})
}

func benchmarkRmw(b *testing.B, e engine.Engine) {
	requireFeature(b, e, engine.FeatureUpsert|engine.FeatureRmw)

	const numKeys = 1 << 16
	populate(b, e, numKeys)

	runParallel(b, e, func(s engine.Session, i int) {
		s.Rmw(u64(uint64(i%numKeys)), u64(1), uint64(i), addUint64)
	})
}

func benchmarkReadUpsert(b *testing.B, e engine.Engine) {
	requireFeature(b, e, engine.FeatureUpsert|engine.FeatureRead)

	const numKeys = 1 << 16
	populate(b, e, numKeys)

	cb := func(_ any, _ []byte, _ engine.Status) {}
	runParallel(b, e, func(s engine.Session, i int) {
		key := u64(uint64(i % numKeys))
		if i%2 == 0 {
			s.Read(key, uint64(i), cb, nil)
		} else {
			s.Upsert(key, u64(uint64(i)), uint64(i))
		}
	})
}

func benchmarkCheckpoint(b *testing.B, e engine.Engine) {
	requireFeature(b, e, engine.FeatureUpsert|engine.FeatureCheckpoint)

	populate(b, e, 1<<12)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Checkpoint(); err != nil {
			b.Fatalf("Unexpected error during checkpoint: %v", err)
		}
	}
}
