package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Formatting helpers
// --------------------------------------------------------------------------

type configWriter struct {
	sb strings.Builder
}

func (w *configWriter) section(title string) {
	w.sb.WriteString("\n")
	w.sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
}

func (w *configWriter) field(name, value string) {
	w.sb.WriteString(fmt.Sprintf("  %-26s: %s\n", name, value))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// --------------------------------------------------------------------------
// Store configuration
// --------------------------------------------------------------------------

// StoreConfig holds the parameters used to open a store
type StoreConfig struct {
	// Engine sizing
	TableSize          uint64
	LogSizeMB          uint64
	LogMutableFraction float64
	PreAllocateLog     bool

	// Persistence
	StorageDir  string
	Compression string

	// Session liveness
	RefreshInterval         uint64
	CompletePendingInterval uint64

	// Logging configuration
	LogLevel string
}

// String returns a formatted representation of the configuration
func (c *StoreConfig) String() string {
	var w configWriter

	w.section("Engine")
	w.field("Table Size", strconv.FormatUint(c.TableSize, 10))
	w.field("Log Size", fmt.Sprintf("%d MB", c.LogSizeMB))
	w.field("Log Mutable Fraction", strconv.FormatFloat(c.LogMutableFraction, 'f', 2, 64))
	w.field("Pre-allocate Log", strconv.FormatBool(c.PreAllocateLog))

	w.section("Persistence")
	w.field("Storage Directory", orNone(c.StorageDir))
	w.field("Checkpoint Compression", c.Compression)

	w.section("Sessions")
	w.field("Refresh Interval", fmt.Sprintf("%d ops", c.RefreshInterval))
	w.field("Complete Pending Interval", fmt.Sprintf("%d ops", c.CompletePendingInterval))

	w.section("Logging")
	w.field("Log Level", c.LogLevel)

	return w.sb.String()
}

// --------------------------------------------------------------------------
// Benchmark configuration
// --------------------------------------------------------------------------

// BenchConfig holds the parameters of a benchmark run
type BenchConfig struct {
	Workload           string
	Threads            int
	Duration           time.Duration
	Rate               float64
	CheckpointInterval time.Duration
	LoadFile           string
	RunFile            string
	Keys               int
	PinThreads         bool
	CSV                string
}

// String returns a formatted representation of the configuration
func (c *BenchConfig) String() string {
	var w configWriter

	w.section("Workload")
	w.field("Workload", c.Workload)
	w.field("Threads", strconv.Itoa(c.Threads))
	w.field("Duration", c.Duration.String())
	if c.Rate > 0 {
		w.field("Target Rate", fmt.Sprintf("%.0f ops/sec", c.Rate))
	} else {
		w.field("Target Rate", "unlimited")
	}
	w.field("Pin Threads", strconv.FormatBool(c.PinThreads))

	w.section("Keys")
	w.field("Load File", orNone(c.LoadFile))
	w.field("Run File", orNone(c.RunFile))
	if c.LoadFile == "" {
		w.field("Generated Keys", strconv.Itoa(c.Keys))
	}

	w.section("Persistence")
	if c.CheckpointInterval > 0 {
		w.field("Checkpoint Interval", c.CheckpointInterval.String())
	} else {
		w.field("Checkpoint Interval", "disabled")
	}
	w.field("CSV Output", orNone(c.CSV))

	return w.sb.String()
}
