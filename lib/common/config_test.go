package common

import (
	"testing"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreConfigString(t *testing.T) {
	c := StoreConfig{
		TableSize:               1 << 15,
		LogSizeMB:               1024,
		LogMutableFraction:      0.9,
		Compression:             "zstd",
		RefreshInterval:         256,
		CompletePendingInterval: 4096,
		LogLevel:                "info",
	}
	out := c.String()
	assert.Contains(t, out, "ENGINE")
	assert.Contains(t, out, "32768")
	assert.Contains(t, out, "1024 MB")
	assert.Contains(t, out, "(none)")
	assert.Contains(t, out, "4096 ops")
}

func TestBenchConfigString(t *testing.T) {
	c := BenchConfig{Workload: "rmw-100", Threads: 4, Duration: time.Second, Keys: 100}
	out := c.String()
	assert.Contains(t, out, "rmw-100")
	assert.Contains(t, out, "unlimited")
	assert.Contains(t, out, "disabled")
	assert.Contains(t, out, "Generated Keys")
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]logger.LogLevel{
		"debug": logger.DEBUG,
		"INFO":  logger.INFO,
		"warn":  logger.WARNING,
		"error": logger.ERROR,
	} {
		got, err := ParseLogLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseLogLevel("loud")
	assert.Error(t, err)
}
