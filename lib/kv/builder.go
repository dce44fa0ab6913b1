package kv

import (
	"math/bits"
	"os"

	"github.com/ValentinKolb/fKV/lib/common"
	"github.com/ValentinKolb/fKV/lib/engine"
	"github.com/ValentinKolb/fKV/lib/engine/hlog"
)

const (
	DefaultTableSize               = 1 << 15
	DefaultLogSize                 = 1 << 30
	DefaultLogMutableFraction      = 0.9
	DefaultRefreshInterval         = 256
	DefaultCompletePendingInterval = 4096
)

// Builder configures and opens a Store. Problems are collected and reported
// by Build, before the engine is touched.
type Builder struct {
	opts             engine.Options
	factory          engine.Factory
	refreshEvery     uint64
	completeEvery    uint64
	compressionError error
}

// NewBuilder starts a memory only store configuration
func NewBuilder(tableSize, logSize uint64) *Builder {
	return &Builder{
		opts: engine.Options{
			TableSize:          tableSize,
			LogSize:            logSize,
			LogMutableFraction: DefaultLogMutableFraction,
			Compression:        engine.CompressionZstd,
		},
		factory:       hlog.New,
		refreshEvery:  DefaultRefreshInterval,
		completeEvery: DefaultCompletePendingInterval,
	}
}

// BuilderFromConfig translates a StoreConfig into a Builder
func BuilderFromConfig(cfg *common.StoreConfig) *Builder {
	b := NewBuilder(cfg.TableSize, cfg.LogSizeMB<<20).
		WithLogMutableFraction(cfg.LogMutableFraction).
		SetPreAllocateLog(cfg.PreAllocateLog).
		WithRefreshInterval(cfg.RefreshInterval).
		WithCompletePendingInterval(cfg.CompletePendingInterval)
	if cfg.StorageDir != "" {
		b.WithDisk(cfg.StorageDir)
	}
	if cfg.Compression != "" {
		c, err := engine.ParseCompression(cfg.Compression)
		if err != nil {
			b.compressionError = err
		} else {
			b.WithCompression(c)
		}
	}
	return b
}

// WithDisk backs the store with dir, enabling checkpoints and recovery
func (b *Builder) WithDisk(dir string) *Builder {
	b.opts.StorageDir = dir
	return b
}

// WithLogMutableFraction sets the share of the log updated in place, in (0,1]
func (b *Builder) WithLogMutableFraction(fraction float64) *Builder {
	b.opts.LogMutableFraction = fraction
	return b
}

func (b *Builder) SetPreAllocateLog(preAllocate bool) *Builder {
	b.opts.PreAllocateLog = preAllocate
	return b
}

// WithCompression selects the checkpoint file compression
func (b *Builder) WithCompression(c engine.Compression) *Builder {
	b.opts.Compression = c
	return b
}

// WithEngine replaces the engine implementation
func (b *Builder) WithEngine(factory engine.Factory) *Builder {
	b.factory = factory
	return b
}

// WithRefreshInterval makes sessions refresh every n operations. Zero disables it.
func (b *Builder) WithRefreshInterval(n uint64) *Builder {
	b.refreshEvery = n
	return b
}

// WithCompletePendingInterval makes sessions drain pending operations
// (non-blocking) every n operations. Zero disables it.
func (b *Builder) WithCompletePendingInterval(n uint64) *Builder {
	b.completeEvery = n
	return b
}

// Build validates the configuration and opens the store
func (b *Builder) Build() (*Store, error) {
	opts := b.opts
	switch {
	case b.compressionError != nil:
		return nil, newError(ErrCConfig, b.compressionError, "invalid compression")
	case opts.TableSize == 0:
		return nil, newError(ErrCConfig, nil, "table size must be greater than 0")
	case bits.OnesCount64(opts.TableSize) != 1:
		return nil, newError(ErrCConfig, nil, "table size %d is not a power of two", opts.TableSize)
	case opts.LogSize == 0:
		return nil, newError(ErrCConfig, nil, "log size must be greater than 0")
	case !(opts.LogMutableFraction > 0 && opts.LogMutableFraction <= 1):
		return nil, newError(ErrCConfig, nil, "log mutable fraction %v is not in (0, 1]", opts.LogMutableFraction)
	case opts.Compression > engine.CompressionZstd:
		return nil, newError(ErrCConfig, nil, "unknown compression %d", opts.Compression)
	case b.factory == nil:
		return nil, newError(ErrCConfig, nil, "no engine factory")
	}

	if opts.StorageDir != "" {
		if err := os.MkdirAll(opts.StorageDir, 0o755); err != nil {
			return nil, newError(ErrCIO, err, "create storage directory %s", opts.StorageDir)
		}
	}

	e, err := b.factory(opts)
	if err != nil {
		return nil, newError(ErrCConfig, err, "open engine")
	}

	log.Infof("store opened (table=%d, log=%d, dir=%q, compression=%s)",
		opts.TableSize, opts.LogSize, opts.StorageDir, opts.Compression)

	return &Store{
		engine:        e,
		dir:           opts.StorageDir,
		refreshEvery:  b.refreshEvery,
		completeEvery: b.completeEvery,
	}, nil
}
