package engine

import (
	"errors"
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Status
// --------------------------------------------------------------------------

// Status is the result code of a single engine operation
type Status uint8

const (
	StatusOK          Status = 0 // Operation completed, value available
	StatusPending     Status = 1 // Operation accepted, completes during CompletePending
	StatusNotFound    Status = 2 // Key does not exist
	StatusOutOfMemory Status = 3 // Engine could not allocate space for the record
	StatusIOError     Status = 4 // Storage device reported an error
	StatusCorruption  Status = 5 // Record or snapshot failed validation
	StatusAborted     Status = 6 // Operation was rejected (session misuse, failed merge)
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusPending:
		return "PENDING"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusOutOfMemory:
		return "OUT_OF_MEMORY"
	case StatusIOError:
		return "IO_ERROR"
	case StatusCorruption:
		return "CORRUPTION"
	case StatusAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("STATUS(%d)", uint8(s))
	}
}

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplHlog Implementation = "hlog"
)

// Feature represents engine capabilities as bit flags
type Feature uint64

const (
	FeatureUpsert          Feature = 1 << iota // Support for Upsert operations
	FeatureRead                                // Support for Read operations
	FeatureRmw                                 // Support for read-modify-write operations
	FeatureDelete                              // Support for Delete operations
	FeatureCheckpoint                          // Support for full checkpoints
	FeatureCheckpointIndex                     // Support for index-only checkpoints
	FeatureCheckpointLog                       // Support for hybrid-log-only checkpoints
	FeatureRecover                             // Support for recovery from checkpoint tokens
	FeatureScan                                // Support for in-memory scans
	FeatureGrowIndex                           // Support for growing the hash index
)

func (f Feature) String() string {
	var names []string
	for _, known := range []struct {
		flag Feature
		name string
	}{
		{FeatureUpsert, "Upsert"},
		{FeatureRead, "Read"},
		{FeatureRmw, "Rmw"},
		{FeatureDelete, "Delete"},
		{FeatureCheckpoint, "Checkpoint"},
		{FeatureCheckpointIndex, "CheckpointIndex"},
		{FeatureCheckpointLog, "CheckpointLog"},
		{FeatureRecover, "Recover"},
		{FeatureScan, "Scan"},
		{FeatureGrowIndex, "GrowIndex"},
	} {
		if f&known.flag != 0 {
			names = append(names, known.name)
		}
	}
	if len(names) == 0 {
		return "Unknown"
	}
	return strings.Join(names, "|")
}

// Compression selects the codec for checkpoint files
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompression converts a compression name into a Compression
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (must be one of none, lz4, zstd)", name)
	}
}

// Options configures a new engine instance
type Options struct {
	// TableSize is the number of hash buckets (a power of two)
	TableSize uint64
	// LogSize is the in-memory log budget in bytes
	LogSize uint64
	// StorageDir is the checkpoint directory; empty means memory only
	StorageDir string
	// LogMutableFraction is the share of the in-memory log that is updated in place, in (0,1].
	// Engines without an in-place region validate it and ignore it otherwise.
	LogMutableFraction float64
	// PreAllocateLog asks the engine to reserve the in-memory log upfront
	PreAllocateLog bool
	// Compression for checkpoint files
	Compression Compression
}

// Info reports statistics about an engine instance
type Info struct {
	Implementation     Implementation `json:"implementation"`
	Records            uint64         `json:"records"`
	Shards             int            `json:"shards"`
	Epoch              uint64         `json:"epoch"`
	SafeEpoch          uint64         `json:"safe_epoch"`
	ActiveSessions     int            `json:"active_sessions"`
	PendingOperations  int64          `json:"pending_operations"`
	RetiredSlots       int64          `json:"retired_slots"`
	ReusedSlots        uint64         `json:"reused_slots"`
	CheckpointVersion  uint32         `json:"checkpoint_version"`
	LogMutableFraction float64        `json:"log_mutable_fraction"`
	SupportedFeatures  []Feature      `json:"supported_features"`
	Metadata           interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Callbacks and results
// --------------------------------------------------------------------------

// ReadCallback receives the outcome of a Read. It is invoked exactly once per Read:
// inline before Read returns for every status except StatusPending, otherwise during
// CompletePending of the issuing session. value is owned by the engine and only valid
// for the duration of the call; ctx is the opaque argument passed to Read.
type ReadCallback func(ctx any, value []byte, status Status)

// RmwCallback merges a modification into the current value of a key.
// Called with dst == nil it returns the exact number of bytes the merged value needs.
// Called with len(dst) equal to that size it writes the merged value into dst.
// It must be a pure function of current and modification; the engine may call it
// more than once. A non-nil error aborts the operation.
type RmwCallback func(current, modification, dst []byte) (size uint64, err error)

// CheckpointResult is returned by the checkpoint operations
type CheckpointResult struct {
	// Checked is false when the request was folded into a checkpoint already in flight
	Checked bool
	// Token names the snapshot (36 character UUID)
	Token string
}

// RecoverResult is returned by Recover
type RecoverResult struct {
	Status     Status
	Version    uint32
	SessionIDs []string
}

// CheckpointInfo describes one entry of the checkpoint catalog
type CheckpointInfo struct {
	Token      string `json:"token"`
	Version    uint32 `json:"version"`
	Index      bool   `json:"index"`
	HybridLog  bool   `json:"hybrid_log"`
	Records    uint64 `json:"records"`
	Sessions   int    `json:"sessions"`
	CreatedAt  int64  `json:"created_at"`
	Compressed string `json:"compression"`
}

var (
	// ErrNoStorage is returned by persistence operations on an engine without storage directory
	ErrNoStorage = errors.New("engine has no storage directory")
	// ErrUnknownToken is returned when a checkpoint token does not exist in the catalog
	ErrUnknownToken = errors.New("unknown checkpoint token")
	// ErrUnknownSession is returned by ContinueSession for ids that were not recovered
	ErrUnknownSession = errors.New("unknown session")
	// ErrSessionActive is returned by ContinueSession for ids that are registered right now
	ErrSessionActive = errors.New("session is already active")
	// ErrClosed is returned by operations on a closed engine
	ErrClosed = errors.New("engine closed")
)

// --------------------------------------------------------------------------
// Engine Interface
// --------------------------------------------------------------------------

// Engine is the capability contract of a persistent key-value engine.
// Keys and values are opaque byte strings. All methods are safe for concurrent use;
// per key operations go through a Session.
type Engine interface {

	// --------------------------------------------------------------------------
	// Session Operations
	// --------------------------------------------------------------------------

	// StartSession registers a new session with a fresh 36 character identifier.
	StartSession() (Session, error)

	// ContinueSession re-registers a session identity that was restored by Recover
	// and returns the serial number of its last operation covered by the checkpoint.
	ContinueSession(id string) (Session, uint64, error)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Checkpoint takes a full checkpoint (index and hybrid log) under one token.
	Checkpoint() (CheckpointResult, error)

	// CheckpointIndex checkpoints only the hash index.
	CheckpointIndex() (CheckpointResult, error)

	// CheckpointHybridLog checkpoints only the hybrid log.
	CheckpointHybridLog() (CheckpointResult, error)

	// Recover restores the engine state from an index token and a hybrid-log token.
	Recover(indexToken, hybridLogToken string) (RecoverResult, error)

	// Checkpoints lists the checkpoint catalog, newest first.
	Checkpoints() ([]CheckpointInfo, error)

	// --------------------------------------------------------------------------
	// Maintenance and Introspection
	// --------------------------------------------------------------------------

	// Size returns the number of live records.
	Size() uint64

	// GrowIndex doubles the hash index. Returns false if the engine refused.
	GrowIndex() bool

	// Scan calls fn for every live in-memory record until fn returns false.
	// key and value are only valid during the call.
	Scan(fn func(key, value []byte) bool)

	// SupportsFeature checks if the engine supports all of the given features.
	SupportsFeature(feature Feature) bool

	// Info returns statistics about the engine.
	Info() Info

	// Close releases the engine. Calling any other method afterwards is undefined.
	Close() error
}

// Session is a registered participant of the engine's epoch protocol.
// A Session must only be used by one goroutine at a time.
type Session interface {
	// ID returns the 36 character session identifier.
	ID() string

	// Upsert blindly writes value under key.
	Upsert(key, value []byte, serial uint64) Status

	// Read looks up key and reports the outcome through cb (see ReadCallback).
	Read(key []byte, serial uint64, cb ReadCallback, ctx any) Status

	// Rmw merges modification into the value of key through cb.
	// If key is absent, modification is stored as is and cb is not invoked.
	Rmw(key, modification []byte, serial uint64, cb RmwCallback) Status

	// Delete removes key.
	Delete(key []byte, serial uint64) Status

	// Refresh announces that the session holds no references into the engine.
	Refresh()

	// CompletePending drives pending operations of this session.
	// With wait set it returns only after all of them completed. It reports
	// whether no pending operations remain.
	CompletePending(wait bool) bool

	// Failures returns the queued upserts, deletes and RMWs that completed with a
	// status other than StatusOK since the last call, and forgets them. Reads
	// report their status through the ReadCallback instead.
	Failures() []PendingFailure

	// Stop unregisters the session. Pending operations must be drained before.
	Stop()
}

// PendingFailure is a queued write that did not complete with StatusOK
type PendingFailure struct {
	Serial uint64
	Status Status
	Err    error
}

// Factory creates engine instances
type Factory func(opts Options) (Engine, error)
