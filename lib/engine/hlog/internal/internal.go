package internal

import (
	"fmt"

	"github.com/ValentinKolb/fKV/lib/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Record Type (value slot with residency flag)
// --------------------------------------------------------------------------

// Record is the value of one key. Value points at an immutable slot: updates
// publish a new slot and retire the old one, so a slot never changes while a
// reader may hold it.
type Record struct {
	Value []byte
	// Cold records were restored from a checkpoint and have not been touched since.
	// The first Read or Rmw on them goes through the pending path.
	Cold bool
}

func (r Record) String() string {
	return fmt.Sprintf("Record{Len: %d, Cold: %t}", len(r.Value), r.Cold)
}

// --------------------------------------------------------------------------
// Shard Type (partition of the key space)
// --------------------------------------------------------------------------

// Shard is a partition of the key space
type Shard struct {
	Data *xsync.MapOf[string, Record]
}

// NewShard creates a shard sized for roughly presize records
func NewShard(presize int) *Shard {
	if presize < 1 {
		presize = 1
	}
	return &Shard{
		Data: xsync.NewMapOf[string, Record](xsync.WithPresize(presize)),
	}
}

// GetShard returns the shard responsible for key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](key []byte, seed uint64, shards []*T) *T {
	return shards[util.ShardIndex(util.HashBytes(key, seed), len(shards))]
}
