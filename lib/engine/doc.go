// Package engine defines the capability contract between the typed client layer
// (package kv) and a persistent key-value engine.
//
// The contract is byte oriented: keys, values and modifications are opaque byte
// strings, results are reported as a Status plus callbacks. It mirrors the
// operation set of hybrid-log engines in the FASTER family:
//
//   - Session Operations: StartSession, ContinueSession and the per session
//     Upsert, Read, Rmw, Delete, Refresh, CompletePending and Stop.
//   - Persistence Operations: Checkpoint, CheckpointIndex, CheckpointHybridLog,
//     Recover and a catalog of taken checkpoints.
//   - Maintenance: Size, GrowIndex, Scan, Info.
//
// Feature flags allow implementations to advertise a subset of the contract;
// callers check SupportsFeature before relying on an optional operation.
//
// Two parts of the contract carry ownership rules that every implementation must
// honor:
//
//   - Read callbacks run exactly once per Read. The value slice passed to the
//     callback belongs to the engine and must be copied before the callback returns.
//   - Rmw callbacks are two phase. The engine first asks for the size of the merged
//     value (dst == nil), allocates exactly that many bytes and then asks the callback
//     to fill them. A size mismatch between both calls is a programming error.
//
// The hlog package (github.com/ValentinKolb/fKV/lib/engine/hlog) provides the reference
// implementation. The testing package (github.com/ValentinKolb/fKV/lib/engine/testing)
// provides a conformance suite and benchmarks for implementations.
package engine
