package kv

import "github.com/ValentinKolb/fKV/lib/engine"

// Status is the outcome of a store operation as reported by the engine
type Status = engine.Status

const (
	StatusOK          = engine.StatusOK
	StatusPending     = engine.StatusPending
	StatusNotFound    = engine.StatusNotFound
	StatusOutOfMemory = engine.StatusOutOfMemory
	StatusIOError     = engine.StatusIOError
	StatusCorruption  = engine.StatusCorruption
	StatusAborted     = engine.StatusAborted
)

// PendingFailure is a queued upsert, delete or rmw that completed during
// CompletePending with a status other than StatusOK
type PendingFailure = engine.PendingFailure
