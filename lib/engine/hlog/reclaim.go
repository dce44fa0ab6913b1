package hlog

import (
	"time"

	"github.com/ValentinKolb/fKV/lib/engine/hlog/internal"
)

// --------------------------------------------------------------------------
// Slot reclamation
// --------------------------------------------------------------------------

// reclaimLoop moves retired slots from the queue into the retire heap and
// returns every slot retired before the safe epoch to the slot pool. It is the
// only goroutine touching the heap.
func (e *hlogImpl) reclaimLoop() {
	defer e.stopped.Done()

	var (
		pending internal.RetireHeap
		ticker  = time.NewTicker(e.interval)
	)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			// slots still in the heap are left to the garbage collector
			e.retired.Drain(func(*internal.Retired) {})
			return
		case <-e.retired.Notify():
		case <-ticker.C:
		}

		e.retired.Drain(pending.Add)

		safe := e.epochs.SafeEpoch()
		reused := 0
		for {
			r, ok := pending.PopBefore(safe)
			if !ok {
				break
			}
			e.slots.Put(r.Slot)
			r.Slot = nil
			reused++
		}
		if reused > 0 {
			e.retiredN.Add(-int64(reused))
			e.reusedN.Add(uint64(reused))
		}

		if n := pending.Len(); n > 0 && reused == 0 && n%4096 == 0 {
			log.Debugf("%d retired slots waiting for epoch %d (safe epoch %d)", n, e.epochs.Current(), safe)
		}
	}
}
