package kv

import (
	"os"

	"github.com/ValentinKolb/fKV/cmd/util"
	"github.com/ValentinKolb/fKV/lib/kv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	store *kv.Store

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:   "kv",
		Short: "Perform key-value store operations on a local store",
		Long: `Perform key-value store operations on a disk backed store.
Every command recovers the newest checkpoint first and writing commands take a
new checkpoint afterwards, so consecutive invocations see each other's data.
The configuration can be set via command line flags or environment variables
(FKV_<flag>, e.g. FKV_DIR=/var/lib/fkv).`,
		PersistentPreRunE:  setupStore,
		PersistentPostRunE: closeStore,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupStoreFlags(KeyValueCommands, "fkv-data")

	key := "type"
	KeyValueCommands.PersistentFlags().String(key, "string", util.WrapString("Value type (string, u64, i64, f64, bytes). Determines encoding and rmw merge semantics"))
	key = "recover"
	KeyValueCommands.PersistentFlags().Bool(key, true, util.WrapString("Recover the newest checkpoint before running the command"))
	key = "checkpoint"
	KeyValueCommands.PersistentFlags().Bool(key, true, util.WrapString("Take a checkpoint after a writing command"))
	key = "metrics"
	KeyValueCommands.PersistentFlags().Bool(key, false, util.WrapString("Print store metrics in Prometheus format after the command"))

	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(rmwCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(sizeCmd)
	KeyValueCommands.AddCommand(scanCmd)
	KeyValueCommands.AddCommand(infoCmd)
	KeyValueCommands.AddCommand(checkpointCmd)
	KeyValueCommands.AddCommand(recoverCmd)
	KeyValueCommands.AddCommand(checkpointsCmd)
	KeyValueCommands.AddCommand(cleanCmd)
}

// setupStore opens the store the subcommands work on
func setupStore(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// the recover command picks its checkpoint itself
	recoverLatest := viper.GetBool("recover") && cmd != recoverCmd

	var err error
	store, err = util.OpenStore(recoverLatest)
	return err
}

func closeStore(_ *cobra.Command, _ []string) error {
	if store == nil {
		return nil
	}
	if viper.GetBool("metrics") {
		kv.WriteMetrics(os.Stdout)
	}
	err := store.Close()
	store = nil
	return err
}
