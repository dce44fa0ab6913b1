package bench

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/ValentinKolb/fKV/lib/common"
)

// printResult prints the result of a benchmark run in a formatted way
func printResult(r *Result) {
	fmt.Printf("\n%s: %d ops in %s with %d threads (%.0f ops/sec)\n",
		r.Workload, r.Ops, r.Duration.Round(time.Millisecond), r.Threads, r.Throughput())
	fmt.Printf("pending=%d failed=%d checkpoints=%d\n", r.Pending, r.Failed, r.Checkpoints)

	for _, name := range timerNames(r) {
		t := r.Timers[name]
		if t.Count() == 0 {
			continue
		}
		fmt.Printf("%-8s count=%-10d mean=%-10s p50=%-10s p99=%-10s max=%s\n", name, t.Count(),
			time.Duration(t.Mean()), time.Duration(t.Percentile(0.5)), time.Duration(t.Percentile(0.99)), time.Duration(t.Max()))
	}
}

func timerNames(r *Result) []string {
	names := make([]string, 0, len(r.Timers))
	for name := range r.Timers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// writeResultsToCSV writes benchmark results to a CSV file, one row per operation kind
func writeResultsToCSV(csvPath string, r *Result, config *common.BenchConfig, store *common.StoreConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Workload", "Operation", "Count", "MeanNs", "P50Ns", "P99Ns", "MaxNs",
		"TotalOps", "OpsPerSec", "DurationMs", "Threads", "Rate", "Pending", "Failed", "Checkpoints",
		"TableSize", "LogSizeMB", "StorageDir", "Compression",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, name := range timerNames(r) {
		t := r.Timers[name]
		row := []string{
			r.Workload,
			name,
			strconv.FormatInt(t.Count(), 10),
			fmt.Sprintf("%.0f", t.Mean()),
			fmt.Sprintf("%.0f", t.Percentile(0.5)),
			fmt.Sprintf("%.0f", t.Percentile(0.99)),
			strconv.FormatInt(t.Max(), 10),
			strconv.FormatInt(r.Ops, 10),
			fmt.Sprintf("%.0f", r.Throughput()),
			strconv.FormatInt(r.Duration.Milliseconds(), 10),
			strconv.Itoa(r.Threads),
			fmt.Sprintf("%.0f", config.Rate),
			strconv.FormatInt(r.Pending, 10),
			strconv.FormatInt(r.Failed, 10),
			strconv.FormatInt(r.Checkpoints, 10),
			strconv.FormatUint(store.TableSize, 10),
			strconv.FormatUint(store.LogSizeMB, 10),
			store.StorageDir,
			store.Compression,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for %s: %v", name, err)
		}
	}
	return nil
}
