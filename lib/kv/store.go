package kv

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/fKV/lib/engine"
	"github.com/ValentinKolb/fKV/lib/engine/hlog"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("kv")

// Store owns one engine instance and, for disk backed stores, its storage
// directory. A Store is safe for concurrent use; per key operations go
// through a Session, which is not.
type Store struct {
	engine        engine.Engine
	dir           string
	refreshEvery  uint64
	completeEvery uint64

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// Close releases the engine. Later calls return the result of the first one.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.engine.Close()
		log.Infof("store closed")
	})
	return s.closeErr
}

// StorageDir returns the storage directory, or "" for memory only stores
func (s *Store) StorageDir() string {
	return s.dir
}

// Size returns the number of records
func (s *Store) Size() uint64 {
	return s.engine.Size()
}

// GrowIndex doubles the hash index
func (s *Store) GrowIndex() bool {
	grown := s.engine.GrowIndex()
	if !grown {
		log.Warningf("engine refused to grow the index")
	}
	return grown
}

// Info returns statistics about the underlying engine
func (s *Store) Info() engine.Info {
	return s.engine.Info()
}

// DumpDistribution logs how records and values are spread across the engine
func (s *Store) DumpDistribution() {
	info := s.engine.Info()
	log.Infof("records=%d shards=%d sessions=%d pending=%d epoch=%d safe-epoch=%d retired=%d reused=%d",
		info.Records, info.Shards, info.ActiveSessions, info.PendingOperations,
		info.Epoch, info.SafeEpoch, info.RetiredSlots, info.ReusedSlots)

	meta, ok := info.Metadata.(hlog.Metadata)
	if !ok {
		return
	}
	d := meta.ShardDistribution
	log.Infof("shard sizes: min=%.0f max=%.0f mean=%.1f stddev=%.1f quality=%.3f",
		d.Min, d.Max, d.Mean, d.StdDeviation, d.DistributionQuality)
	log.Infof("values: live=%d bytes avg=%d median<=%d p99<=%d (log size %d, table size %d)",
		meta.LiveBytes, meta.AverageValueSize, meta.MedianValueSize, meta.P99ValueSize, meta.LogSize, meta.TableSize)
}

// Scan calls fn for every in-memory record until fn returns false. key and
// value are only valid during the call.
func (s *Store) Scan(fn func(key, value []byte) bool) {
	s.engine.Scan(fn)
}

// ScanTyped decodes every record with t's codecs. It stops at the first
// record that fails to decode and returns that error.
func ScanTyped[K, V any](s *Store, t *Typed[K, V], fn func(key K, value V) bool) error {
	var scanErr error
	s.engine.Scan(func(kb, vb []byte) bool {
		k, err := t.keys.Decode(kb)
		if err != nil {
			scanErr = decodeError(err, "key")
			return false
		}
		v, err := t.values.Decode(vb)
		if err != nil {
			scanErr = decodeError(err, "value")
			return false
		}
		return fn(k, v)
	})
	return scanErr
}

// Checkpoints lists the checkpoints in the storage directory, newest first
func (s *Store) Checkpoints() ([]engine.CheckpointInfo, error) {
	if s.dir == "" {
		return nil, newError(ErrCInvalidType, nil, "store has no storage directory")
	}
	infos, err := s.engine.Checkpoints()
	if err != nil {
		return nil, newError(ErrCIO, err, "list checkpoints")
	}
	return infos, nil
}

// CleanStorage deletes the storage directory with all checkpoints. This
// cannot be undone. The store stays usable in memory.
func (s *Store) CleanStorage() error {
	if s.dir == "" {
		return newError(ErrCInvalidType, nil, "store has no storage directory")
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return newError(ErrCIO, err, "remove storage directory %s", s.dir)
	}
	log.Warningf("removed storage directory %s", s.dir)
	return nil
}
