package hlog

import (
	"fmt"
	"math/bits"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/fKV/lib/engine"
	"github.com/ValentinKolb/fKV/lib/engine/hlog/internal"
	"github.com/ValentinKolb/fKV/lib/util"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("engine")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultTableSize       = 1 << 15
	defaultLogSize         = 1 << 30
	defaultMutableFraction = 0.9
	defaultReclaimInterval = 10 * time.Millisecond
	// non-blocking CompletePending handles at most this many operations per call
	pendingBatch = 256
)

const supportedFeatures = engine.FeatureUpsert |
	engine.FeatureRead |
	engine.FeatureRmw |
	engine.FeatureDelete |
	engine.FeatureCheckpoint |
	engine.FeatureCheckpointIndex |
	engine.FeatureCheckpointLog |
	engine.FeatureRecover |
	engine.FeatureScan |
	engine.FeatureGrowIndex

// --------------------------------------------------------------------------
// Core engine structure
// --------------------------------------------------------------------------

// hlogImpl is the reference implementation of engine.Engine
type hlogImpl struct {
	opts      engine.Options
	seed      uint64
	numShards int
	tableSize atomic.Uint64

	// cut is held shared while an operation is applied and exclusively while a
	// checkpoint copies state, so every checkpoint is a consistent cut
	cut    sync.RWMutex
	shards []*internal.Shard

	// memory accounting and slot reuse
	liveBytes atomic.Int64
	sizes     *util.SizeHistogram
	slots     internal.SlotPool
	epochs    *internal.EpochTable
	retired   *internal.RetireQueue
	retiredN  atomic.Int64
	reusedN   atomic.Uint64

	// sessions
	sessions  *xsync.MapOf[string, *session]
	dormant   map[string]uint64 // recovered session id -> serial, guarded by dormantMu
	dormantMu sync.Mutex
	pending   atomic.Int64

	// checkpoints
	version  atomic.Uint32
	ckptMu   sync.Mutex
	inflight *checkpointRun

	closed   atomic.Bool
	stop     chan struct{}
	stopped  sync.WaitGroup
	interval time.Duration
}

// DefaultOptions returns the options of the default store: 1<<15 buckets, a 1 GiB log, memory only
func DefaultOptions() engine.Options {
	return engine.Options{
		TableSize:          defaultTableSize,
		LogSize:            defaultLogSize,
		LogMutableFraction: defaultMutableFraction,
		Compression:        engine.CompressionZstd,
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// New creates a hlog engine. It validates opts and starts the slot reclaimer.
func New(opts engine.Options) (engine.Engine, error) {
	if opts.TableSize == 0 {
		return nil, fmt.Errorf("table size must be greater than 0")
	}
	if bits.OnesCount64(opts.TableSize) != 1 {
		return nil, fmt.Errorf("table size %d is not a power of two", opts.TableSize)
	}
	if opts.LogSize == 0 {
		return nil, fmt.Errorf("log size must be greater than 0")
	}
	if opts.LogMutableFraction <= 0 || opts.LogMutableFraction > 1 {
		return nil, fmt.Errorf("log mutable fraction %v is not in (0, 1]", opts.LogMutableFraction)
	}
	if opts.Compression > engine.CompressionZstd {
		return nil, fmt.Errorf("unknown compression %d", opts.Compression)
	}

	numShards := runtime.NumCPU() * 4
	e := &hlogImpl{
		opts:      opts,
		seed:      util.GenerateSeed(),
		numShards: numShards,
		sizes:     util.NewSizeHistogram(),
		epochs:    internal.NewEpochTable(),
		retired:   internal.NewRetireQueue(),
		sessions:  xsync.NewMapOf[string, *session](),
		dormant:   make(map[string]uint64),
		stop:      make(chan struct{}),
		interval:  defaultReclaimInterval,
	}
	e.tableSize.Store(opts.TableSize)
	e.shards = e.newShards(int(opts.TableSize))

	if opts.PreAllocateLog {
		e.preallocate()
	}

	e.stopped.Add(1)
	go e.reclaimLoop()

	log.Debugf("hlog engine started (table=%d, log=%d, shards=%d, dir=%q)", opts.TableSize, opts.LogSize, numShards, opts.StorageDir)
	return e, nil
}

func (e *hlogImpl) newShards(records int) []*internal.Shard {
	shards := make([]*internal.Shard, e.numShards)
	for i := range shards {
		shards[i] = internal.NewShard(records / e.numShards)
	}
	return shards
}

// preallocate warms the small slot classes so the first writes do not allocate
func (e *hlogImpl) preallocate() {
	budget := int64(e.opts.LogSize) / 64
	for size := 8; size <= 1024 && budget > 0; size <<= 1 {
		for i := 0; i < 1024 && budget > 0; i++ {
			e.slots.Put(make([]byte, size))
			budget -= int64(size)
		}
	}
}

func (e *hlogImpl) shardFor(key []byte) *internal.Shard {
	return internal.GetShard(key, e.seed, e.shards)
}

// --------------------------------------------------------------------------
// Session Operations
// --------------------------------------------------------------------------

// StartSession registers a new session with a random identifier
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *hlogImpl) StartSession() (engine.Session, error) {
	if e.closed.Load() {
		return nil, engine.ErrClosed
	}
	return e.register(uuid.NewString(), 0), nil
}

// ContinueSession re-registers a recovered session
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *hlogImpl) ContinueSession(id string) (engine.Session, uint64, error) {
	if e.closed.Load() {
		return nil, 0, engine.ErrClosed
	}

	// dormantMu also serializes continuations, so the id cannot become live
	// between the check and the registration
	e.dormantMu.Lock()
	defer e.dormantMu.Unlock()

	if _, active := e.sessions.Load(id); active {
		return nil, 0, fmt.Errorf("%w: %s", engine.ErrSessionActive, id)
	}
	serial, ok := e.dormant[id]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", engine.ErrUnknownSession, id)
	}
	delete(e.dormant, id)

	return e.register(id, serial), serial, nil
}

func (e *hlogImpl) register(id string, serial uint64) *session {
	s := &session{
		id:    id,
		e:     e,
		epoch: e.epochs.Register(id),
	}
	s.lastSerial.Store(serial)
	e.sessions.Store(id, s)
	return s
}

func (e *hlogImpl) unregister(s *session) {
	e.sessions.Delete(s.id)
	e.epochs.Unregister(s.id)
}

// --------------------------------------------------------------------------
// Operation application (called by sessions with the cut held shared)
// --------------------------------------------------------------------------

// alloc reserves a slot of size bytes within the log budget
func (e *hlogImpl) alloc(size int) ([]byte, bool) {
	if e.liveBytes.Add(int64(size)) > int64(e.opts.LogSize) {
		e.liveBytes.Add(-int64(size))
		return nil, false
	}
	e.sizes.AddSample(size)
	return e.slots.Get(size), true
}

// retire hands a replaced slot to the reclaimer
func (e *hlogImpl) retire(slot []byte) {
	e.liveBytes.Add(-int64(len(slot)))
	e.sizes.RemoveSample(len(slot))
	e.retiredN.Add(1)
	e.retired.Push(&internal.Retired{Slot: slot, Epoch: e.epochs.Bump()})
}

func (e *hlogImpl) applyUpsert(key, value []byte) engine.Status {
	slot, ok := e.alloc(len(value))
	if !ok {
		return engine.StatusOutOfMemory
	}
	copy(slot, value)

	var old []byte
	e.shardFor(key).Data.Compute(string(key), func(prev internal.Record, loaded bool) (internal.Record, bool) {
		if loaded {
			old = prev.Value
		}
		return internal.Record{Value: slot}, false
	})
	if old != nil {
		e.retire(old)
	}
	return engine.StatusOK
}

func (e *hlogImpl) applyDelete(key []byte) engine.Status {
	var old []byte
	e.shardFor(key).Data.Compute(string(key), func(prev internal.Record, loaded bool) (internal.Record, bool) {
		if loaded {
			old = prev.Value
		}
		return prev, true
	})
	if old != nil {
		e.retire(old)
	}
	return engine.StatusOK
}

// applyRead resolves key. With warm set a cold record is made resident,
// otherwise a cold record yields StatusPending.
func (e *hlogImpl) applyRead(key []byte, warm bool) ([]byte, engine.Status) {
	shard := e.shardFor(key)
	rec, ok := shard.Data.Load(string(key))
	if !ok {
		return nil, engine.StatusNotFound
	}
	if !rec.Cold {
		return rec.Value, engine.StatusOK
	}
	if !warm {
		return nil, engine.StatusPending
	}

	var (
		value  []byte
		status = engine.StatusNotFound
	)
	shard.Data.Compute(string(key), func(prev internal.Record, loaded bool) (internal.Record, bool) {
		if !loaded {
			return prev, true
		}
		value, status = prev.Value, engine.StatusOK
		prev.Cold = false
		return prev, false
	})
	return value, status
}

func (e *hlogImpl) applyRmw(key, modification []byte, cb engine.RmwCallback, warm bool) (status engine.Status, err error) {
	var old []byte
	e.shardFor(key).Data.Compute(string(key), func(prev internal.Record, loaded bool) (internal.Record, bool) {
		if !loaded {
			slot, ok := e.alloc(len(modification))
			if !ok {
				status = engine.StatusOutOfMemory
				return prev, true
			}
			copy(slot, modification)
			status = engine.StatusOK
			return internal.Record{Value: slot}, false
		}
		if prev.Cold && !warm {
			status = engine.StatusPending
			return prev, false
		}

		size, cbErr := cb(prev.Value, modification, nil)
		if cbErr != nil {
			status, err = engine.StatusAborted, cbErr
			prev.Cold = false
			return prev, false
		}
		slot, ok := e.alloc(int(size))
		if !ok {
			status = engine.StatusOutOfMemory
			return prev, false
		}
		written, cbErr := cb(prev.Value, modification, slot)
		if cbErr != nil {
			e.liveBytes.Add(-int64(size))
			e.sizes.RemoveSample(int(size))
			e.slots.Put(slot)
			status, err = engine.StatusAborted, cbErr
			prev.Cold = false
			return prev, false
		}
		if written != size {
			panic(fmt.Sprintf("rmw callback wrote %d bytes after requesting %d", written, size))
		}

		old = prev.Value
		status = engine.StatusOK
		return internal.Record{Value: slot}, false
	})
	if old != nil {
		e.retire(old)
	}
	return status, err
}

// --------------------------------------------------------------------------
// Maintenance and Introspection
// --------------------------------------------------------------------------

// Size returns the number of records
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *hlogImpl) Size() uint64 {
	var total uint64
	for _, shard := range e.currentShards() {
		total += uint64(shard.Data.Size())
	}
	return total
}

func (e *hlogImpl) currentShards() []*internal.Shard {
	e.cut.RLock()
	defer e.cut.RUnlock()
	return e.shards
}

// GrowIndex doubles the table size. The shard maps resize on demand; the table
// size is the presize hint for shards rebuilt during recovery.
func (e *hlogImpl) GrowIndex() bool {
	if e.closed.Load() {
		return false
	}
	for {
		current := e.tableSize.Load()
		if current >= 1<<62 {
			return false
		}
		if e.tableSize.CompareAndSwap(current, current<<1) {
			log.Debugf("grew index from %d to %d buckets", current, current<<1)
			return true
		}
	}
}

// Scan calls fn for every record until fn returns false. The scan takes part
// in the epoch protocol, so slots handed to fn stay valid during the call.
//
// Thread-safety: This method is thread-safe. fn must not call into the engine.
func (e *hlogImpl) Scan(fn func(key, value []byte) bool) {
	id := "scan-" + uuid.NewString()
	e.epochs.Register(id)
	defer e.epochs.Unregister(id)

	for _, shard := range e.currentShards() {
		cont := true
		shard.Data.Range(func(key string, rec internal.Record) bool {
			cont = fn([]byte(key), rec.Value)
			return cont
		})
		if !cont {
			return
		}
	}
}

// SupportsFeature checks if all given features are supported
func (e *hlogImpl) SupportsFeature(feature engine.Feature) bool {
	return feature&supportedFeatures == feature
}

// Metadata is the engine specific part of engine.Info
type Metadata struct {
	TableSize          uint64                 `json:"table_size"`
	LogSize            uint64                 `json:"log_size"`
	LiveBytes          int64                  `json:"live_bytes"`
	AverageValueSize   int                    `json:"average_value_size"`
	MedianValueSize    int                    `json:"median_value_size"`
	P99ValueSize       int                    `json:"p99_value_size"`
	ShardDistribution  util.DistributionStats `json:"shard_distribution"`
	DormantSessions    int                    `json:"dormant_sessions"`
	PreAllocatedLog    bool                   `json:"pre_allocated_log"`
	StorageDir         string                 `json:"storage_dir"`
	CheckpointCompress string                 `json:"checkpoint_compression"`
}

// Info returns statistics about the engine
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *hlogImpl) Info() engine.Info {
	shards := e.currentShards()
	shardSizes := make([]float64, len(shards))
	var records uint64
	for i, shard := range shards {
		n := shard.Data.Size()
		shardSizes[i] = float64(n)
		records += uint64(n)
	}

	var features []engine.Feature
	for f := engine.Feature(1); f <= engine.FeatureGrowIndex; f <<= 1 {
		if e.SupportsFeature(f) {
			features = append(features, f)
		}
	}

	e.dormantMu.Lock()
	dormant := len(e.dormant)
	e.dormantMu.Unlock()

	return engine.Info{
		Implementation:     engine.ImplHlog,
		Records:            records,
		Shards:             len(shards),
		Epoch:              e.epochs.Current(),
		SafeEpoch:          e.epochs.SafeEpoch(),
		ActiveSessions:     e.sessions.Size(),
		PendingOperations:  e.pending.Load(),
		RetiredSlots:       e.retiredN.Load(),
		ReusedSlots:        e.reusedN.Load(),
		CheckpointVersion:  e.version.Load(),
		LogMutableFraction: e.opts.LogMutableFraction,
		SupportedFeatures:  features,
		Metadata: Metadata{
			TableSize:          e.tableSize.Load(),
			LogSize:            e.opts.LogSize,
			LiveBytes:          e.liveBytes.Load(),
			AverageValueSize:   e.sizes.AverageSize(),
			MedianValueSize:    e.sizes.PercentileEstimate(50),
			P99ValueSize:       e.sizes.PercentileEstimate(99),
			ShardDistribution:  util.NewDistributionStats(shardSizes),
			DormantSessions:    dormant,
			PreAllocatedLog:    e.opts.PreAllocateLog,
			StorageDir:         e.opts.StorageDir,
			CheckpointCompress: e.opts.Compression.String(),
		},
	}
}

// Close stops the reclaimer. The second and later calls are no-ops.
func (e *hlogImpl) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(e.stop)
	e.stopped.Wait()
	log.Debugf("hlog engine closed")
	return nil
}
