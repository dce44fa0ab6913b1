package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/fKV/lib/common"
	"github.com/ValentinKolb/fKV/lib/kv"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

var log = logger.GetLogger("cmd")

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupStoreFlags adds the flags that configure a store to a command
func SetupStoreFlags(cmd *cobra.Command, defaultDir string) {
	key := "dir"
	cmd.PersistentFlags().String(key, defaultDir, WrapString("Storage directory for checkpoints. Empty means a memory only store"))

	key = "table-size"
	cmd.PersistentFlags().Uint64(key, kv.DefaultTableSize, WrapString("Number of hash buckets of the index (power of two)"))

	key = "log-size"
	cmd.PersistentFlags().Uint64(key, kv.DefaultLogSize>>20, WrapString("In-memory log budget in MB"))

	key = "log-mutable-fraction"
	cmd.PersistentFlags().Float64(key, kv.DefaultLogMutableFraction, WrapString("Share of the log that is updated in place, in (0, 1]"))

	key = "pre-allocate-log"
	cmd.PersistentFlags().Bool(key, false, WrapString("Reserve the in-memory log upfront"))

	key = "compression"
	cmd.PersistentFlags().String(key, "zstd", WrapString("Compression of checkpoint files (none, lz4, zstd)"))

	key = "refresh-interval"
	cmd.PersistentFlags().Uint64(key, kv.DefaultRefreshInterval, WrapString("Sessions refresh their epoch every n operations (0 disables)"))

	key = "complete-pending-interval"
	cmd.PersistentFlags().Uint64(key, kv.DefaultCompletePendingInterval, WrapString("Sessions drive pending operations every n operations (0 disables)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("Level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig loads .env files and makes viper read FKV_<FLAG> environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("fkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetStoreConfig reads the store configuration from viper
func GetStoreConfig() *common.StoreConfig {
	return &common.StoreConfig{
		TableSize:               viper.GetUint64("table-size"),
		LogSizeMB:               viper.GetUint64("log-size"),
		LogMutableFraction:      viper.GetFloat64("log-mutable-fraction"),
		PreAllocateLog:          viper.GetBool("pre-allocate-log"),
		StorageDir:              viper.GetString("dir"),
		Compression:             viper.GetString("compression"),
		RefreshInterval:         viper.GetUint64("refresh-interval"),
		CompletePendingInterval: viper.GetUint64("complete-pending-interval"),
		LogLevel:                viper.GetString("log-level"),
	}
}

// OpenStore initializes logging and opens a store from the viper
// configuration. With recoverLatest set, a disk backed store is restored from
// its newest full checkpoint.
func OpenStore(recoverLatest bool) (*kv.Store, error) {
	config := GetStoreConfig()
	if err := common.InitLoggers(config.LogLevel); err != nil {
		return nil, err
	}
	log.Debugf("store configuration:%s", config.String())

	store, err := kv.BuilderFromConfig(config).Build()
	if err != nil {
		return nil, err
	}

	if recoverLatest && config.StorageDir != "" {
		rec, token, ok, err := store.RecoverLatest()
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("could not recover %s: %w", config.StorageDir, err)
		}
		if ok {
			log.Infof("recovered checkpoint %s (version %d, %d sessions)", token, rec.Version, len(rec.SessionIDs))
		}
	}
	return store, nil
}
