package kv

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ValentinKolb/fKV/lib/kv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(true, func(ops valueOps, sess *kv.Session) error {
				status, err := ops.upsert(sess, args[0], args[1], 1)
				if err != nil {
					return err
				}
				fmt.Printf("set key=%s, status=%s\n", args[0], status)
				return nil
			})
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(false, func(ops valueOps, sess *kv.Session) error {
				value, found, status, err := ops.read(sess, args[0], 1)
				if err != nil {
					return err
				}
				fmt.Printf("key=%s, found=%v, status=%s, value=%s\n", args[0], found, status, value)
				return nil
			})
		},
	}
	rmwCmd = &cobra.Command{
		Use:   "rmw [key] [modification]",
		Short: "Merges a modification into the value of a key",
		Long: `Merges a modification into the value of a key. Numbers are added,
strings and bytes are appended. An absent key is set to the modification.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(true, func(ops valueOps, sess *kv.Session) error {
				status, err := ops.rmw(sess, args[0], args[1], 1)
				if err != nil {
					return err
				}
				sess.CompletePending(true)
				if failures := sess.Failures(); len(failures) > 0 {
					return fmt.Errorf("rmw on key %s completed with %s", args[0], failures[0].Status)
				}
				value, _, _, err := ops.read(sess, args[0], 2)
				if err != nil {
					return err
				}
				fmt.Printf("rmw key=%s, status=%s, value=%s\n", args[0], status, value)
				return nil
			})
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(true, func(ops valueOps, sess *kv.Session) error {
				status, err := ops.del(sess, args[0], 1)
				if err != nil {
					return err
				}
				fmt.Printf("delete key=%s, status=%s\n", args[0], status)
				return nil
			})
		},
	}
	sizeCmd = &cobra.Command{
		Use:   "size",
		Short: "Prints the number of records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("size=%d\n", store.Size())
			return nil
		},
	}
	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Prints all records decoded with --type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := opsFor(viper.GetString("type"))
			if err != nil {
				return err
			}
			limit := viper.GetInt("limit")
			printed := 0
			err = ops.scan(store, func(key, value string) bool {
				fmt.Printf("%s=%s\n", key, value)
				printed++
				return limit <= 0 || printed < limit
			})
			if err != nil {
				return err
			}
			fmt.Printf("(%d records)\n", printed)
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints engine statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store.DumpDistribution()
			out, err := json.MarshalIndent(store.Info(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	checkpointCmd = &cobra.Command{
		Use:   "checkpoint",
		Short: "Takes a checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cp  kv.CheckPoint
				err error
			)
			switch kind := viper.GetString("kind"); kind {
			case "full":
				cp, err = store.Checkpoint()
			case "index":
				cp, err = store.CheckpointIndex()
			case "log":
				cp, err = store.CheckpointHybridLog()
			default:
				return fmt.Errorf("invalid checkpoint kind %s (expected one of: full, index, log)", kind)
			}
			if err != nil {
				return err
			}
			fmt.Printf("token=%s, checked=%v\n", cp.Token, cp.Checked)
			return nil
		},
	}
	recoverCmd = &cobra.Command{
		Use:   "recover [index-token] [hybrid-log-token]",
		Short: "Recovers a checkpoint and prints its sessions",
		Long: `Recovers a checkpoint and prints its sessions. Without tokens the newest
full checkpoint is used, with one token it names both facets.`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				rec kv.Recover
				err error
			)
			switch len(args) {
			case 0:
				var ok bool
				var token string
				rec, token, ok, err = store.RecoverLatest()
				if err == nil && !ok {
					return fmt.Errorf("no full checkpoint in %s", store.StorageDir())
				}
				fmt.Printf("token=%s\n", token)
			case 1:
				rec, err = store.Recover(args[0], args[0])
			default:
				rec, err = store.Recover(args[0], args[1])
			}
			if err != nil {
				return err
			}
			fmt.Printf("status=%s, version=%d, records=%d\n", rec.Status, rec.Version, store.Size())
			for _, id := range rec.SessionIDs {
				sess, serial, err := store.ContinueSession(id)
				if err != nil {
					return err
				}
				fmt.Printf("  session %s: serial=%d\n", id, serial)
				sess.Stop()
			}
			return nil
		},
	}
	checkpointsCmd = &cobra.Command{
		Use:   "checkpoints",
		Short: "Lists the checkpoints of the storage directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := store.Checkpoints()
			if err != nil {
				return err
			}
			fmt.Printf("%-36s %8s %-6s %-4s %10s %8s %-5s %s\n",
				"TOKEN", "VERSION", "INDEX", "LOG", "RECORDS", "SESSIONS", "COMP", "CREATED")
			for _, info := range infos {
				fmt.Printf("%-36s %8d %-6v %-4v %10d %8d %-5s %s\n",
					info.Token, info.Version, info.Index, info.HybridLog, info.Records, info.Sessions,
					info.Compressed, time.Unix(0, info.CreatedAt).Format(time.RFC3339))
			}
			return nil
		},
	}
	cleanCmd = &cobra.Command{
		Use:   "clean",
		Short: "Deletes the storage directory with all checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.CleanStorage(); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", store.StorageDir())
			return nil
		},
	}
)

func init() {
	key := "limit"
	scanCmd.Flags().Int(key, 0, "Maximum number of records to print (0 prints all)")
	key = "kind"
	checkpointCmd.Flags().String(key, "full", "Checkpoint kind (full, index, log)")
}

// withSession runs fn in a fresh session. Writing commands take a checkpoint
// afterwards if --checkpoint is set.
func withSession(writes bool, fn func(ops valueOps, sess *kv.Session) error) error {
	ops, err := opsFor(viper.GetString("type"))
	if err != nil {
		return err
	}

	sess, err := store.StartSession()
	if err != nil {
		return err
	}
	err = fn(ops, sess)
	sess.Stop()
	if err != nil {
		return err
	}

	if writes && viper.GetBool("checkpoint") && store.StorageDir() != "" {
		cp, err := store.Checkpoint()
		if err != nil {
			return err
		}
		fmt.Printf("checkpoint=%s\n", cp.Token)
	}
	return nil
}
