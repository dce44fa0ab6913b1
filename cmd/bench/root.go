package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/fKV/cmd/util"
	"github.com/ValentinKolb/fKV/lib/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// BenchCommands represents the benchmark command group
	BenchCommands = &cobra.Command{
		Use:   "bench",
		Short: "YCSB style benchmarks against an in-process store",
	}

	ycsbCmd = &cobra.Command{
		Use:   "ycsb [trace] [keyfile]",
		Short: "Converts a YCSB load or run trace into a binary key file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := ConvertYCSBFile(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("wrote %d keys to %s\n", n, args[1])
			return nil
		},
	}

	populateCmd = &cobra.Command{
		Use:     "populate",
		Short:   "Loads the keys into a store and checkpoints it",
		PreRunE: bindFlags,
		RunE:    populate,
	}

	runCmd = &cobra.Command{
		Use:     "run",
		Short:   "Populates a store and runs a timed workload against it",
		PreRunE: bindFlags,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupStoreFlags(BenchCommands, "")

	key := "workload"
	BenchCommands.PersistentFlags().String(key, "read-upsert-5050", util.WrapString("Workload to run (read-upsert-5050, rmw-100, upsert-100)"))
	key = "threads"
	BenchCommands.PersistentFlags().Int(key, 8, util.WrapString("Number of worker sessions"))
	key = "duration"
	BenchCommands.PersistentFlags().Duration(key, 30*time.Second, util.WrapString("How long the workload runs"))
	key = "rate"
	BenchCommands.PersistentFlags().Float64(key, 0, util.WrapString("Target operations per second over all threads (0 means unlimited)"))
	key = "checkpoint-interval"
	BenchCommands.PersistentFlags().Duration(key, 0, util.WrapString("Take a checkpoint at this interval during the run (needs --dir, 0 disables)"))
	key = "load-file"
	BenchCommands.PersistentFlags().String(key, "", util.WrapString("Key file of the load phase (see bench ycsb). Without it --keys keys are generated"))
	key = "run-file"
	BenchCommands.PersistentFlags().String(key, "", util.WrapString("Key file of the run phase. Without it keys are picked uniformly"))
	key = "keys"
	BenchCommands.PersistentFlags().Int(key, 1_000_000, util.WrapString("Number of generated keys"))
	key = "pin"
	BenchCommands.PersistentFlags().Bool(key, true, util.WrapString("Lock every worker to an OS thread"))
	key = "csv"
	runCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))

	BenchCommands.AddCommand(ycsbCmd)
	BenchCommands.AddCommand(populateCmd)
	BenchCommands.AddCommand(runCmd)
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	return util.BindCommandFlags(cmd)
}

// getBenchConfig reads the benchmark configuration from viper
func getBenchConfig() *common.BenchConfig {
	return &common.BenchConfig{
		Workload:           viper.GetString("workload"),
		Threads:            viper.GetInt("threads"),
		Duration:           viper.GetDuration("duration"),
		Rate:               viper.GetFloat64("rate"),
		CheckpointInterval: viper.GetDuration("checkpoint-interval"),
		LoadFile:           viper.GetString("load-file"),
		RunFile:            viper.GetString("run-file"),
		Keys:               viper.GetInt("keys"),
		PinThreads:         viper.GetBool("pin"),
		CSV:                viper.GetString("csv"),
	}
}

func loadKeys(config *common.BenchConfig) (keys, runKeys []uint64, err error) {
	if config.LoadFile != "" {
		if keys, err = ReadKeys(config.LoadFile); err != nil {
			return nil, nil, err
		}
	} else {
		keys = GenerateKeys(config.Keys)
	}
	if config.RunFile != "" {
		if runKeys, err = ReadKeys(config.RunFile); err != nil {
			return nil, nil, err
		}
	}
	return keys, runKeys, nil
}

func populate(_ *cobra.Command, _ []string) error {
	config := getBenchConfig()
	keys, _, err := loadKeys(config)
	if err != nil {
		return err
	}

	store, err := util.OpenStore(false)
	if err != nil {
		return err
	}
	defer store.Close()

	took, err := Populate(store, keys, config.Threads, config.PinThreads)
	if err != nil {
		return err
	}
	fmt.Printf("populated %d keys in %s (%.0f ops/sec)\n", len(keys), took, float64(len(keys))/took.Seconds())

	if store.StorageDir() != "" {
		cp, err := store.Checkpoint()
		if err != nil {
			return err
		}
		fmt.Printf("checkpoint=%s\n", cp.Token)
	}
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	config := getBenchConfig()
	keys, runKeys, err := loadKeys(config)
	if err != nil {
		return err
	}

	store, err := util.OpenStore(false)
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Println("Configuration:")
	fmt.Println(util.GetStoreConfig().String())
	fmt.Println(config.String())

	took, err := Populate(store, keys, config.Threads, config.PinThreads)
	if err != nil {
		return err
	}
	fmt.Printf("populated %d keys in %s\n", len(keys), took)

	result, err := Run(context.Background(), store, config, keys, runKeys)
	if err != nil {
		return err
	}
	printResult(result)
	store.DumpDistribution()

	if config.CSV != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", config.CSV)
		if err := writeResultsToCSV(config.CSV, result, config, util.GetStoreConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}
