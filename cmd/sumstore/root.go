package sumstore

import (
	"fmt"
	"sort"

	"github.com/ValentinKolb/fKV/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// SumStoreCommands represents the sum-store command group
	SumStoreCommands = &cobra.Command{
		Use:   "sumstore",
		Short: "Concurrent sum-store checkpoint and recovery check",
		Long: `The sum-store scenario checks recovery continuity. "populate" lets several
sessions increment counters concurrently, checkpoints halfway and exits as if it
crashed. "recover" restores the checkpoint in a new process and verifies every
counter against the serials the recovered sessions report.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return util.BindCommandFlags(cmd)
		},
	}

	populateCmd = &cobra.Command{
		Use:   "populate",
		Short: "Populates the sum-store and checkpoints it halfway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := viper.GetString("dir")
			if dir == "" {
				return fmt.Errorf("sumstore needs a storage directory (--dir)")
			}
			store, err := util.OpenStore(false)
			if err != nil {
				return err
			}
			defer store.Close()

			p := &Params{
				Workers: viper.GetInt("workers"),
				Ops:     viper.GetUint64("ops"),
				Keys:    viper.GetUint64("keys"),
			}
			if err := Populate(store, p); err != nil {
				return err
			}
			if err := p.Save(dir); err != nil {
				return err
			}
			fmt.Printf("populated %d keys with %d workers x %d ops\ncheckpoint=%s\n", p.Keys, p.Workers, p.Ops, p.Token)
			return nil
		},
	}

	recoverCmd = &cobra.Command{
		Use:   "recover",
		Short: "Recovers the sum-store checkpoint and verifies the counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := viper.GetString("dir")
			p, err := LoadParams(dir)
			if err != nil {
				return err
			}
			store, err := util.OpenStore(false)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := Verify(store, p, viper.GetBool("replay"))
			if err != nil {
				return err
			}

			fmt.Printf("recovered checkpoint %s (version %d)\n", p.Token, report.Version)
			ids := make([]string, 0, len(report.Serials))
			for id := range report.Serials {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Printf("  session %s continues after serial %d\n", id, report.Serials[id])
			}
			for _, m := range report.Mismatches {
				fmt.Printf("  key %d: expected %d, got %d\n", m.Key, m.Expected, m.Actual)
			}
			if !report.OK() {
				return fmt.Errorf("%d keys do not match", len(report.Mismatches))
			}
			if report.Replayed {
				fmt.Println("replayed the remaining operations, all totals match")
			} else {
				fmt.Println("all keys match")
			}
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupStoreFlags(SumStoreCommands, "fkv-sumstore")

	key := "workers"
	populateCmd.Flags().Int(key, 4, util.WrapString("Number of concurrent sessions"))
	key = "ops"
	populateCmd.Flags().Uint64(key, 1_000_000, util.WrapString("Increments issued by every session"))
	key = "keys"
	populateCmd.Flags().Uint64(key, 1<<16, util.WrapString("Number of counters"))
	key = "replay"
	recoverCmd.Flags().Bool(key, true, util.WrapString("Replay the operations after the recovered serials and check the final totals"))

	SumStoreCommands.AddCommand(populateCmd)
	SumStoreCommands.AddCommand(recoverCmd)
}
