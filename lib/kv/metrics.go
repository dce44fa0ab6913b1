package kv

import (
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/fKV/lib/engine"
	"github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Operation metrics
// --------------------------------------------------------------------------

type opName uint8

const (
	opUpsert opName = iota
	opRead
	opRmw
	opDelete
	numOps
)

func (o opName) String() string {
	return [...]string{"upsert", "read", "rmw", "delete"}[o]
}

const numStatuses = int(engine.StatusAborted) + 1

var (
	metricsSet = metrics.NewSet()

	// opCounters[op][status], created upfront to keep the hot path allocation free
	opCounters [numOps][numStatuses]*metrics.Counter

	pendingFulfilled  = metricsSet.NewCounter("fkv_pending_fulfilled_total")
	pendingEmpty      = metricsSet.NewCounter("fkv_pending_empty_total")
	codecFailures     = metricsSet.NewCounter("fkv_codec_failures_total")
	sessionsStarted   = metricsSet.NewCounter("fkv_sessions_started_total")
	sessionsStopped   = metricsSet.NewCounter("fkv_sessions_stopped_total")
	checkpointFailure = metricsSet.NewCounter("fkv_checkpoint_failures_total")
	checkpointSeconds = metricsSet.NewHistogram("fkv_checkpoint_duration_seconds")
	recoverSeconds    = metricsSet.NewHistogram("fkv_recover_duration_seconds")
)

func init() {
	for op := opName(0); op < numOps; op++ {
		for st := 0; st < numStatuses; st++ {
			name := fmt.Sprintf(`fkv_operations_total{op=%q,status=%q}`, op.String(), engine.Status(st).String())
			opCounters[op][st] = metricsSet.NewCounter(name)
		}
	}
}

// countOp records the outcome of one operation
func countOp(op opName, status engine.Status) {
	if int(status) < numStatuses {
		opCounters[op][status].Inc()
	}
}

// countPendingFailure records a queued write that completed with a non-OK status
func countPendingFailure(status engine.Status) {
	metricsSet.GetOrCreateCounter(fmt.Sprintf(`fkv_pending_failures_total{status=%q}`, status.String())).Inc()
}

func observeSince(h *metrics.Histogram, start time.Time) {
	h.Update(time.Since(start).Seconds())
}

// WriteMetrics writes all store metrics in Prometheus text format
func WriteMetrics(w io.Writer) {
	metricsSet.WritePrometheus(w)
}
