package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/fKV/cmd/bench"
	"github.com/ValentinKolb/fKV/cmd/kv"
	"github.com/ValentinKolb/fKV/cmd/sumstore"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "fkv",
		Short: "typed key-value store on a hybrid log engine",
		Long: fmt.Sprintf(`fKV (v%s)

A typed key-value store library written in Go, built on a concurrent
hash index over a hybrid log with sessions, read-modify-write merges
and consistent checkpoints.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of fKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fKV v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(bench.BenchCommands)
	RootCmd.AddCommand(sumstore.SumStoreCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
