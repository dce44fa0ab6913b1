// Package hlog implements the reference engine behind the engine.Engine contract.
//
// The engine keeps every record in memory and models the parts of a hybrid-log
// engine that the client layer depends on:
//
//   - Shards: the key space is split over xsync maps selected by a seeded FNV-1a
//     hash. Records point at immutable value slots; an update publishes a new slot
//     and retires the old one (read-copy-update), so readers never see a torn value.
//
//   - Epoch protection: every session publishes the global epoch it saw at its last
//     Refresh. Retired slots carry the epoch they were retired at and are handed to a
//     reclaimer goroutine through a lock-free queue. The reclaimer returns a slot to
//     the slot pool only once every session has refreshed past its epoch. Read
//     callbacks therefore receive the slot itself without copying; a session that
//     stops refreshing holds back slot reuse for the whole engine.
//
//   - Pending operations: records restored by Recover are cold. The first Read or Rmw
//     on a cold record returns PENDING and completes during CompletePending of the
//     issuing session. Once a session has a pending operation, its later operations
//     queue behind it, so operations of one session always apply in issue order.
//
//   - Checkpoints: a checkpoint holds the cut lock exclusively while it copies the
//     records and each session's last applied serial, which makes every checkpoint a
//     consistent cut. Files are written afterwards without blocking operations:
//     <dir>/checkpoints/<token>.hlog (records), <dir>/checkpoints/<token>.index (key
//     directory) and an entry in the bbolt catalog <dir>/catalog.db. Snapshot streams
//     are compressed with zstd, lz4 or not at all and end with a CRC-32.
//
//   - Recovery: the hybrid log facet is authoritative for records, version and the
//     session table; the index facet is validated and sizes the rebuilt shards.
//
// The engine enforces LogSize as a budget for live value bytes and reports
// StatusOutOfMemory when a write would exceed it.
//
// LogMutableFraction is accepted for compatibility with the engine.Options
// contract only. It is validated and reported by Info, but has no effect: every
// update is copy-on-update, because read callbacks hand out value slots without
// copying and an in-place write could change a value under a reader.
package hlog
