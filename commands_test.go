package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go-metastore/config"
	"go-metastore/pkg/catalog"
	"go-metastore/pkg/tablemeta"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, engine string) *config.StoreConfig {
	cfg := config.NewStoreConfig()
	cfg.Path = t.TempDir()
	cfg.Engine = engine
	cfg.BlockSize = 512
	cfg.NoSync = true
	return cfg
}

func TestCommands(t *testing.T) {
	for _, engine := range []string{"pebble", "bolt"} {
		t.Run(engine, func(t *testing.T) {
			ctx := context.Background()
			cfg := testConfig(t, engine)

			require.NoError(t, initStore(ctx, cfg, []string{"node-1"}))
			require.Error(t, initStore(ctx, cfg, []string{"node-1"}))

			require.NoError(t, createTable(ctx, cfg, []string{"test", "users", "id", "2"}))
			require.Error(t, createTable(ctx, cfg, []string{"test", "users", "id", "0"}))
			require.Error(t, createTable(ctx, cfg, []string{"test", "users"}))

			require.NoError(t, dump(ctx, cfg))
			require.NoError(t, check(ctx, cfg))

			entries, err := os.ReadDir(filepath.Join(cfg.Path, tablesDir))
			require.NoError(t, err)
			require.Len(t, entries, 2)
		})
	}
}

func TestCheckDetectsMissingShard(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "pebble")

	require.NoError(t, initStore(ctx, cfg, nil))
	require.NoError(t, createTable(ctx, cfg, []string{"test", "posts", "id", "1"}))

	s, err := openStore(ctx, cfg)
	require.NoError(t, err)
	txn, err := s.OpenRead(ctx)
	require.NoError(t, err)
	tables, err := catalog.ListTables(ctx, txn)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	txn.Release()
	require.NoError(t, s.Close())

	require.NoError(t, os.Remove(shardFile(cfg, tables[0].ID, 0)))
	require.Error(t, check(ctx, cfg))
}

func TestFailedCreateTableLeavesNothing(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "bolt")
	require.NoError(t, initStore(ctx, cfg, nil))

	table := &catalog.TableConfig{
		ID:         uuid.New(),
		Database:   "test",
		Name:       "users",
		PrimaryKey: "id",
		Shards:     3,
	}
	blocker := shardFile(cfg, table.ID, 1)
	require.NoError(t, os.MkdirAll(blocker, 0755))

	err := addTable(ctx, cfg, table)
	require.Error(t, err)
	require.Contains(t, err.Error(), "shard 1")
	require.NoFileExists(t, shardFile(cfg, table.ID, 0))
	require.DirExists(t, blocker)

	tableKeys := func() int {
		s, err := openStore(ctx, cfg)
		require.NoError(t, err)
		defer s.Close()

		pairs, err := s.Backend().PrefixScan([]byte(tablemeta.TablePrefix(table.ID)))
		require.NoError(t, err)

		txn, err := s.OpenRead(ctx)
		require.NoError(t, err)
		defer txn.Release()
		_, found, err := catalog.GetTable(txn, table.ID)
		require.NoError(t, err)
		require.Equal(t, len(pairs) > 0, found)
		return len(pairs)
	}
	require.Zero(t, tableKeys())
	require.NoError(t, check(ctx, cfg))

	require.NoError(t, os.Remove(blocker))
	require.NoError(t, addTable(ctx, cfg, table))
	require.Equal(t, 3*3, tableKeys())
	require.NoError(t, check(ctx, cfg))
}
