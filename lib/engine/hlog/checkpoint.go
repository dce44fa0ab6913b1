package hlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/ValentinKolb/fKV/lib/engine"
	"github.com/ValentinKolb/fKV/lib/engine/hlog/internal"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"
)

// --------------------------------------------------------------------------
// Storage layout
// --------------------------------------------------------------------------

const (
	catalogFile    = "catalog.db"
	checkpointDir  = "checkpoints"
	logSuffix      = ".hlog"
	indexSuffix    = ".index"
	catalogTimeout = time.Second
)

var catalogBucket = []byte("checkpoints")

type facet uint8

const (
	facetIndex facet = 1 << iota
	facetLog
	facetFull = facetIndex | facetLog
)

func (f facet) String() string {
	switch f {
	case facetIndex:
		return "index"
	case facetLog:
		return "hybrid log"
	case facetFull:
		return "full"
	default:
		return "none"
	}
}

// checkpointMeta is the catalog entry of one token
type checkpointMeta struct {
	Token       string             `json:"token"`
	Version     uint32             `json:"version"`
	Index       bool               `json:"index"`
	HybridLog   bool               `json:"hybrid_log"`
	Records     uint64             `json:"records"`
	Compression engine.Compression `json:"compression"`
	CreatedAt   int64              `json:"created_at"`
	Sessions    map[string]uint64  `json:"sessions"`
}

func (e *hlogImpl) facetPath(token, suffix string) string {
	return filepath.Join(e.opts.StorageDir, checkpointDir, token+suffix)
}

// --------------------------------------------------------------------------
// Catalog (bbolt)
// --------------------------------------------------------------------------

// openCatalog opens the catalog for one operation. It is not kept open so that
// CleanStorage can remove the directory of a live engine.
func (e *hlogImpl) openCatalog(create bool) (*bolt.DB, error) {
	path := filepath.Join(e.opts.StorageDir, catalogFile)
	if !create {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(e.opts.StorageDir, 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: catalogTimeout})
	if err != nil {
		return nil, fmt.Errorf("could not open checkpoint catalog at %s: %w", path, err)
	}
	if create {
		if err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(catalogBucket)
			return err
		}); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("could not create catalog bucket: %w", err)
		}
	}
	return db, nil
}

func (e *hlogImpl) putMeta(meta checkpointMeta) error {
	db, err := e.openCatalog(true)
	if err != nil {
		return err
	}
	defer db.Close()

	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(catalogBucket).Put([]byte(meta.Token), data)
	})
}

func (e *hlogImpl) getMeta(token string) (checkpointMeta, error) {
	var meta checkpointMeta

	db, err := e.openCatalog(false)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return meta, fmt.Errorf("%w: %s", engine.ErrUnknownToken, token)
		}
		return meta, err
	}
	defer db.Close()

	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(catalogBucket)
		if b == nil {
			return fmt.Errorf("%w: %s", engine.ErrUnknownToken, token)
		}
		data := b.Get([]byte(token))
		if data == nil {
			return fmt.Errorf("%w: %s", engine.ErrUnknownToken, token)
		}
		return json.Unmarshal(data, &meta)
	})
	return meta, err
}

// Checkpoints lists the catalog, newest first
func (e *hlogImpl) Checkpoints() ([]engine.CheckpointInfo, error) {
	if e.opts.StorageDir == "" {
		return nil, engine.ErrNoStorage
	}

	db, err := e.openCatalog(false)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	defer db.Close()

	var infos []engine.CheckpointInfo
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(catalogBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, data []byte) error {
			var meta checkpointMeta
			if err := json.Unmarshal(data, &meta); err != nil {
				return err
			}
			infos = append(infos, engine.CheckpointInfo{
				Token:      meta.Token,
				Version:    meta.Version,
				Index:      meta.Index,
				HybridLog:  meta.HybridLog,
				Records:    meta.Records,
				Sessions:   len(meta.Sessions),
				CreatedAt:  meta.CreatedAt,
				Compressed: meta.Compression.String(),
			})
			return nil
		})
	})
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Version != infos[j].Version {
			return infos[i].Version > infos[j].Version
		}
		return infos[i].CreatedAt > infos[j].CreatedAt
	})
	return infos, err
}

// --------------------------------------------------------------------------
// Checkpoint
// --------------------------------------------------------------------------

// checkpointRun is a checkpoint in flight; concurrent requests wait on done
type checkpointRun struct {
	facets facet
	done   chan struct{}
	result engine.CheckpointResult
	err    error
}

func (e *hlogImpl) Checkpoint() (engine.CheckpointResult, error) {
	return e.checkpoint(facetFull)
}

func (e *hlogImpl) CheckpointIndex() (engine.CheckpointResult, error) {
	return e.checkpoint(facetIndex)
}

func (e *hlogImpl) CheckpointHybridLog() (engine.CheckpointResult, error) {
	return e.checkpoint(facetLog)
}

// checkpoint serializes checkpoints. A request that finds a checkpoint in flight
// which covers the requested facets returns that token with Checked == false.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *hlogImpl) checkpoint(want facet) (engine.CheckpointResult, error) {
	if e.opts.StorageDir == "" {
		return engine.CheckpointResult{}, engine.ErrNoStorage
	}

	for {
		if e.closed.Load() {
			return engine.CheckpointResult{}, engine.ErrClosed
		}

		e.ckptMu.Lock()
		run := e.inflight
		if run == nil {
			run = &checkpointRun{facets: want, done: make(chan struct{})}
			e.inflight = run
			e.ckptMu.Unlock()

			run.result, run.err = e.takeCheckpoint(want)

			e.ckptMu.Lock()
			e.inflight = nil
			e.ckptMu.Unlock()
			close(run.done)
			return run.result, run.err
		}
		e.ckptMu.Unlock()

		<-run.done
		if run.facets&want == want {
			if run.err != nil {
				return engine.CheckpointResult{}, run.err
			}
			return engine.CheckpointResult{Checked: false, Token: run.result.Token}, nil
		}
	}
}

// capturedState is the consistent cut a checkpoint persists
type capturedState struct {
	version  uint32
	records  []snapshotRecord
	sessions map[string]uint64
}

// capture copies the engine state while operations are excluded
func (e *hlogImpl) capture(withValues bool) capturedState {
	e.cut.Lock()
	defer e.cut.Unlock()

	parts := make([][]snapshotRecord, len(e.shards))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, shard := range e.shards {
		g.Go(func() error {
			part := make([]snapshotRecord, 0, shard.Data.Size())
			shard.Data.Range(func(key string, rec internal.Record) bool {
				r := snapshotRecord{key: []byte(key)}
				if withValues {
					r.value = append([]byte(nil), rec.Value...)
				}
				part = append(part, r)
				return true
			})
			parts[i] = part
			return nil
		})
	}
	_ = g.Wait()

	var total int
	for _, part := range parts {
		total += len(part)
	}
	state := capturedState{
		version:  e.version.Add(1),
		records:  make([]snapshotRecord, 0, total),
		sessions: make(map[string]uint64),
	}
	for _, part := range parts {
		state.records = append(state.records, part...)
	}
	e.sessions.Range(func(id string, s *session) bool {
		state.sessions[id] = s.lastSerial.Load()
		return true
	})
	return state
}

func (e *hlogImpl) takeCheckpoint(want facet) (engine.CheckpointResult, error) {
	start := time.Now()
	token := uuid.NewString()

	state := e.capture(want&facetLog != 0)

	if err := os.MkdirAll(filepath.Join(e.opts.StorageDir, checkpointDir), 0o755); err != nil {
		return engine.CheckpointResult{}, fmt.Errorf("could not create checkpoint directory: %w", err)
	}

	var g errgroup.Group
	if want&facetLog != 0 {
		g.Go(func() error {
			return writeLogFacet(e.facetPath(token, logSuffix), e.opts.Compression, state.records)
		})
	}
	if want&facetIndex != 0 {
		g.Go(func() error {
			return writeIndexFacet(e.facetPath(token, indexSuffix), e.opts.Compression, state.records)
		})
	}
	if err := g.Wait(); err != nil {
		return engine.CheckpointResult{}, fmt.Errorf("could not write checkpoint %s: %w", token, err)
	}

	meta := checkpointMeta{
		Token:       token,
		Version:     state.version,
		Index:       want&facetIndex != 0,
		HybridLog:   want&facetLog != 0,
		Records:     uint64(len(state.records)),
		Compression: e.opts.Compression,
		CreatedAt:   time.Now().UnixNano(),
		Sessions:    state.sessions,
	}
	if err := e.putMeta(meta); err != nil {
		return engine.CheckpointResult{}, fmt.Errorf("could not register checkpoint %s: %w", token, err)
	}

	log.Infof("%s checkpoint %s (version %d, %d records, %d sessions) taken in %s",
		want, token, state.version, len(state.records), len(state.sessions), time.Since(start))
	return engine.CheckpointResult{Checked: true, Token: token}, nil
}

// --------------------------------------------------------------------------
// Recovery
// --------------------------------------------------------------------------

// Recover replaces the engine state with the checkpoint named by the tokens.
// The hybrid log facet provides records, version and session table; the index
// facet is validated and sizes the rebuilt shards. Restored records are cold.
func (e *hlogImpl) Recover(indexToken, hybridLogToken string) (engine.RecoverResult, error) {
	fail := func(status engine.Status, err error) (engine.RecoverResult, error) {
		log.Warningf("recovery from (%s, %s) failed: %v", indexToken, hybridLogToken, err)
		return engine.RecoverResult{Status: status}, err
	}

	if e.opts.StorageDir == "" {
		return engine.RecoverResult{Status: engine.StatusAborted}, engine.ErrNoStorage
	}
	if e.closed.Load() {
		return engine.RecoverResult{Status: engine.StatusAborted}, engine.ErrClosed
	}
	for _, token := range []string{indexToken, hybridLogToken} {
		if _, err := uuid.Parse(token); err != nil || len(token) != 36 {
			return fail(engine.StatusNotFound, fmt.Errorf("%w: malformed token %q", engine.ErrUnknownToken, token))
		}
	}

	indexMeta, err := e.getMeta(indexToken)
	if err != nil {
		return fail(engine.StatusNotFound, err)
	}
	if !indexMeta.Index {
		return fail(engine.StatusNotFound, fmt.Errorf("%w: %s has no index facet", engine.ErrUnknownToken, indexToken))
	}
	logMeta, err := e.getMeta(hybridLogToken)
	if err != nil {
		return fail(engine.StatusNotFound, err)
	}
	if !logMeta.HybridLog {
		return fail(engine.StatusNotFound, fmt.Errorf("%w: %s has no hybrid log facet", engine.ErrUnknownToken, hybridLogToken))
	}

	indexed, err := readIndexFacet(e.facetPath(indexToken, indexSuffix))
	if err != nil {
		return fail(engine.StatusCorruption, fmt.Errorf("index %s: %w", indexToken, err))
	}
	records, err := readLogFacet(e.facetPath(hybridLogToken, logSuffix), logMeta.Records)
	if err != nil {
		return fail(engine.StatusCorruption, fmt.Errorf("hybrid log %s: %w", hybridLogToken, err))
	}

	var total int64
	for _, rec := range records {
		total += int64(len(rec.value))
	}
	if total > int64(e.opts.LogSize) {
		return fail(engine.StatusOutOfMemory, fmt.Errorf("checkpoint holds %d bytes, log size is %d", total, e.opts.LogSize))
	}

	presize := max(indexed, len(records), int(e.tableSize.Load()))

	e.cut.Lock()
	defer e.cut.Unlock()

	// forget the accounting of the replaced state
	for _, shard := range e.shards {
		shard.Data.Range(func(_ string, rec internal.Record) bool {
			e.sizes.RemoveSample(len(rec.Value))
			e.liveBytes.Add(-int64(len(rec.Value)))
			return true
		})
	}

	shards := e.newShards(presize)
	for _, rec := range records {
		slot := e.slots.Get(len(rec.value))
		copy(slot, rec.value)
		e.sizes.AddSample(len(slot))
		e.liveBytes.Add(int64(len(slot)))
		internal.GetShard(rec.key, e.seed, shards).Data.Store(string(rec.key), internal.Record{Value: slot, Cold: true})
	}
	e.shards = shards
	e.version.Store(logMeta.Version)

	ids := make([]string, 0, len(logMeta.Sessions))
	e.dormantMu.Lock()
	e.dormant = make(map[string]uint64, len(logMeta.Sessions))
	for id, serial := range logMeta.Sessions {
		if _, live := e.sessions.Load(id); live {
			log.Warningf("session %s of checkpoint %s is still active, it can be continued once stopped", id, hybridLogToken)
		}
		e.dormant[id] = serial
		ids = append(ids, id)
	}
	e.dormantMu.Unlock()
	sort.Strings(ids)

	if active := e.sessions.Size(); active > 0 {
		log.Warningf("recovered while %d sessions were active", active)
	}
	log.Infof("recovered version %d (%d records, %d sessions) from index %s and hybrid log %s",
		logMeta.Version, len(records), len(ids), indexToken, hybridLogToken)

	return engine.RecoverResult{Status: engine.StatusOK, Version: logMeta.Version, SessionIDs: ids}, nil
}
