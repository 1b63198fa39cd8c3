package config

import (
	"go-metastore/pkg/kv/engine"

	"github.com/pkg/errors"
)

type StoreConfig struct {
	// Path is the directory the metadata store lives in.
	Path string `yaml:"path"`

	// Engine selects the key-value backend: "pebble" or "bolt".
	Engine string `yaml:"engine"`

	// BlockSize of the superblock file. Must be a multiple of 512.
	BlockSize int `yaml:"block_size"`

	// ReadCacheSize in bytes, 0 disables the point lookup cache.
	ReadCacheSize int64 `yaml:"read_cache_size"`

	// NoSync disables fsync on commit. Tests only.
	NoSync bool `yaml:"no_sync"`
}

func NewStoreConfig() *StoreConfig {
	return &StoreConfig{
		Path:          "./data",
		Engine:        engine.Pebble,
		BlockSize:     4096,
		ReadCacheSize: 0,
	}
}

func (c *StoreConfig) Validate() error {
	switch c.Engine {
	case engine.Pebble, engine.Bolt:
	default:
		return errors.Errorf("unknown store engine '%s'", c.Engine)
	}
	if c.BlockSize <= 0 || c.BlockSize%512 != 0 {
		return errors.Errorf("invalid block size %d", c.BlockSize)
	}
	if c.ReadCacheSize < 0 {
		return errors.Errorf("invalid read cache size %d", c.ReadCacheSize)
	}
	return nil
}

func (c *StoreConfig) EngineOptions() *engine.Options {
	return &engine.Options{
		Engine:        c.Engine,
		ReadCacheSize: c.ReadCacheSize,
		NoSync:        c.NoSync,
	}
}
