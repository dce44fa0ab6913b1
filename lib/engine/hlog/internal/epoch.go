package internal

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Epoch protection
// --------------------------------------------------------------------------

// EpochEntry is the published epoch of one participant (a session or a scan)
type EpochEntry struct {
	local atomic.Uint64
}

// Local returns the epoch the participant observed at its last refresh
func (e *EpochEntry) Local() uint64 {
	return e.local.Load()
}

// EpochTable tracks the global epoch and the epoch every participant last
// observed. An item retired at epoch E may be reused once every registered
// participant has observed an epoch greater than E.
//
// Thread-safety: all methods are safe for concurrent use and lock free apart
// from the bucket locks of the participant map.
type EpochTable struct {
	current atomic.Uint64
	entries *xsync.MapOf[string, *EpochEntry]
}

func NewEpochTable() *EpochTable {
	t := &EpochTable{entries: xsync.NewMapOf[string, *EpochEntry]()}
	t.current.Store(1)
	return t
}

// Current returns the global epoch
func (t *EpochTable) Current() uint64 {
	return t.current.Load()
}

// Bump advances the global epoch and returns the epoch before the bump
func (t *EpochTable) Bump() uint64 {
	return t.current.Add(1) - 1
}

// Register adds a participant that starts out at the current epoch
func (t *EpochTable) Register(id string) *EpochEntry {
	entry := &EpochEntry{}
	entry.local.Store(t.current.Load())
	t.entries.Store(id, entry)
	return entry
}

// Unregister removes a participant
func (t *EpochTable) Unregister(id string) {
	t.entries.Delete(id)
}

// Refresh publishes the current global epoch for entry
func (t *EpochTable) Refresh(entry *EpochEntry) {
	entry.local.Store(t.current.Load())
}

// SafeEpoch returns the smallest epoch observed by any participant, capped by
// the current epoch. Items retired before it can be reused.
//
// The cap is read before the scan: a participant the scan misses registered
// after that read, so it starts at an epoch at least as high and cannot hold
// an item retired before it.
func (t *EpochTable) SafeEpoch() uint64 {
	safe := t.current.Load()
	t.entries.Range(func(_ string, entry *EpochEntry) bool {
		if l := entry.local.Load(); l < safe {
			safe = l
		}
		return true
	})
	return safe
}

// Participants returns the number of registered participants
func (t *EpochTable) Participants() int {
	return t.entries.Size()
}
