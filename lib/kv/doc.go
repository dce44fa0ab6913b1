/*
Package kv is the typed session layer of fKV. It owns an engine instance and
turns typed keys and values into engine operations.

A Store is built with a Builder, sessions are started per goroutine and typed
operations go through a Typed accessor:

	store, err := kv.NewBuilder(1<<15, 1<<30).WithDisk("/var/lib/fkv").Build()
	if err != nil { ... }
	defer store.Close()

	counters := kv.NewTyped(codec.String(), codec.Add(codec.Uint64()))

	sess, err := store.StartSession()
	if err != nil { ... }
	defer sess.Stop()

	counters.Upsert(sess, "visits", 1, 1)
	counters.Rmw(sess, "visits", 41, 2)

	status, result, err := counters.Read(sess, "visits", 3)
	if status == kv.StatusPending {
		sess.CompletePending(true)
	}
	visits, found := result.Get()

Reads return a *Pending result that is fulfilled by the engine's completion
callback, either before Read returns or while the session drives
CompletePending. Read-modify-write operations merge through the value codec
(codec.Value), so counters, strings, slices and sets can be updated without
reading them first.

Disk backed stores take checkpoints (Checkpoint, CheckpointIndex,
CheckpointHybridLog) and Recover from them. Every checkpoint records the serial
of the last operation of each active session; after recovery ContinueSession
returns it so the caller can resume issuing operations right after it.
*/
package kv
