package bench

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/fKV/lib/common"
	"github.com/ValentinKolb/fKV/lib/kv"
	"github.com/ValentinKolb/fKV/lib/kv/codec"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var log = logger.GetLogger("bench")

// populateValue is the value every key starts with
const populateValue = 42

// --------------------------------------------------------------------------
// Workloads
// --------------------------------------------------------------------------

// Workload is a mix of operations in percent
type Workload struct {
	Name      string
	ReadPct   int
	UpsertPct int
	RmwPct    int
}

var workloads = map[string]Workload{
	"read-upsert-5050": {Name: "read-upsert-5050", ReadPct: 50, UpsertPct: 50},
	"rmw-100":          {Name: "rmw-100", RmwPct: 100},
	"upsert-100":       {Name: "upsert-100", UpsertPct: 100},
}

// WorkloadByName returns a predefined workload
func WorkloadByName(name string) (Workload, error) {
	w, ok := workloads[name]
	if !ok {
		return Workload{}, fmt.Errorf("invalid workload %s (expected one of: read-upsert-5050, rmw-100, upsert-100)", name)
	}
	return w, nil
}

type opKind uint8

const (
	opRead opKind = iota
	opUpsert
	opRmw
)

// pick maps a number in [0, 100) to an operation
func (w Workload) pick(n int) opKind {
	switch {
	case n < w.ReadPct:
		return opRead
	case n < w.ReadPct+w.UpsertPct:
		return opUpsert
	default:
		return opRmw
	}
}

// --------------------------------------------------------------------------
// Population
// --------------------------------------------------------------------------

func newTyped() *kv.Typed[uint64, uint64] {
	return kv.NewTyped(codec.Uint64(), codec.Add(codec.Uint64()))
}

// partition returns the part of n items worker w of threads handles
func partition(n, threads, w int) (int, int) {
	return n * w / threads, n * (w + 1) / threads
}

// Populate upserts every key with populateValue using threads sessions
func Populate(store *kv.Store, keys []uint64, threads int, pin bool) (time.Duration, error) {
	typed := newTyped()
	start := time.Now()

	var g errgroup.Group
	for w := 0; w < threads; w++ {
		g.Go(func() error {
			if pin {
				runtime.LockOSThread()
				defer runtime.UnlockOSThread()
			}
			sess, err := store.StartSession()
			if err != nil {
				return err
			}
			defer sess.Stop()

			from, to := partition(len(keys), threads, w)
			for i, key := range keys[from:to] {
				status, err := typed.Upsert(sess, key, populateValue, uint64(i+1))
				if err != nil {
					return err
				}
				if status != kv.StatusOK && status != kv.StatusPending {
					return fmt.Errorf("populate key %d: %s", key, status)
				}
			}
			sess.CompletePending(true)
			if failures := sess.Failures(); len(failures) > 0 {
				return fmt.Errorf("%d keys could not be populated, first status %s", len(failures), failures[0].Status)
			}
			return nil
		})
	}
	err := g.Wait()
	return time.Since(start), err
}

// --------------------------------------------------------------------------
// Timed run
// --------------------------------------------------------------------------

// Result summarizes one benchmark run
type Result struct {
	Workload    string
	Threads     int
	Duration    time.Duration
	Ops         int64
	Checkpoints int64
	Pending     int64
	Failed      int64
	Timers      map[string]metrics.Timer
}

// Throughput returns operations per second
func (r *Result) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Duration.Seconds()
}

// Run drives the workload from cfg.Threads sessions for cfg.Duration. With
// runKeys set the workers replay those keys, otherwise they pick keys uniformly
// from keys.
func Run(ctx context.Context, store *kv.Store, cfg *common.BenchConfig, keys, runKeys []uint64) (*Result, error) {
	w, err := WorkloadByName(cfg.Workload)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 && len(runKeys) == 0 {
		return nil, errors.New("no keys to run against")
	}
	threads := max(cfg.Threads, 1)

	registry := metrics.NewRegistry()
	defer registry.UnregisterAll()
	timers := map[opKind]metrics.Timer{
		opRead:   metrics.GetOrRegisterTimer("read", registry),
		opUpsert: metrics.GetOrRegisterTimer("upsert", registry),
		opRmw:    metrics.GetOrRegisterTimer("rmw", registry),
	}
	pending := metrics.GetOrRegisterCounter("pending", registry)
	failed := metrics.GetOrRegisterCounter("failed", registry)

	var limiter *rate.Limiter
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), threads)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var (
		totalOps    atomic.Int64
		checkpoints atomic.Int64
	)
	g, ctx := errgroup.WithContext(ctx)

	if cfg.CheckpointInterval > 0 && store.StorageDir() != "" {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.CheckpointInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					cp, err := store.Checkpoint()
					if err != nil {
						return err
					}
					checkpoints.Add(1)
					log.Infof("checkpoint %s taken during run", cp.Token)
				}
			}
		})
	}

	typed := newTyped()
	start := time.Now()
	for id := 0; id < threads; id++ {
		g.Go(func() error {
			if cfg.PinThreads {
				runtime.LockOSThread()
				defer runtime.UnlockOSThread()
			}
			sess, err := store.StartSession()
			if err != nil {
				return err
			}
			defer sess.Stop()

			rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(id)))
			next := keyPicker(rng, keys, runKeys, threads, id)

			var serial uint64
			for ctx.Err() == nil {
				if limiter != nil {
					if err := limiter.Wait(ctx); err != nil {
						break
					}
				}
				serial++
				key := next()
				kind := w.pick(rng.IntN(100))

				opStart := time.Now()
				var status kv.Status
				switch kind {
				case opRead:
					status, _, err = typed.Read(sess, key, serial)
				case opUpsert:
					status, err = typed.Upsert(sess, key, populateValue, serial)
				case opRmw:
					status, err = typed.Rmw(sess, key, 1, serial)
				}
				timers[kind].UpdateSince(opStart)

				if err != nil {
					return err
				}
				switch status {
				case kv.StatusOK, kv.StatusNotFound:
				case kv.StatusPending:
					pending.Inc(1)
				default:
					failed.Inc(1)
				}
			}
			sess.CompletePending(true)
			failed.Inc(int64(len(sess.Failures())))
			totalOps.Add(int64(serial))
			return nil
		})
	}

	err = g.Wait()
	elapsed := time.Since(start)
	if err != nil {
		return nil, err
	}

	return &Result{
		Workload:    w.Name,
		Threads:     threads,
		Duration:    elapsed,
		Ops:         totalOps.Load(),
		Checkpoints: checkpoints.Load(),
		Pending:     pending.Count(),
		Failed:      failed.Count(),
		Timers: map[string]metrics.Timer{
			"read":   timers[opRead].Snapshot(),
			"upsert": timers[opUpsert].Snapshot(),
			"rmw":    timers[opRmw].Snapshot(),
		},
	}, nil
}

// keyPicker returns the key source of one worker: its slice of the run trace
// (wrapping around) or uniformly random keys
func keyPicker(rng *rand.Rand, keys, runKeys []uint64, threads, id int) func() uint64 {
	if len(runKeys) > 0 {
		from, to := partition(len(runKeys), threads, id)
		own := runKeys[from:to]
		if len(own) == 0 {
			own = runKeys
		}
		i := 0
		return func() uint64 {
			k := own[i%len(own)]
			i++
			return k
		}
	}
	return func() uint64 {
		return keys[rng.IntN(len(keys))]
	}
}
