package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go-metastore/config"
	"go-metastore/pkg/blockcache"
	"go-metastore/pkg/catalog"
	"go-metastore/pkg/metadata"
	"go-metastore/pkg/metainfo"
	"go-metastore/pkg/pager"
	"go-metastore/pkg/rwlock"
	"go-metastore/pkg/superblock"
	"go-metastore/pkg/tablemeta"
	"go-metastore/util/helpers"
	"go-metastore/util/logger"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	metadataDir = "metadata"
	tablesDir   = "tables"
)

var log = logger.Named("cli")

func metadataOptions(cfg *config.StoreConfig) *metadata.Options {
	return &metadata.Options{Backend: *cfg.EngineOptions()}
}

func openStore(ctx context.Context, cfg *config.StoreConfig) (*metadata.Store, error) {
	return metadata.Open(ctx, filepath.Join(cfg.Path, metadataDir), metadataOptions(cfg))
}

func shardFile(cfg *config.StoreConfig, table uuid.UUID, shard int) string {
	return filepath.Join(cfg.Path, tablesDir, fmt.Sprintf("%s.%d", table, shard))
}

func initStore(ctx context.Context, cfg *config.StoreConfig, args []string) error {
	server, err := os.Hostname()
	if len(args) > 0 {
		server, err = args[0], nil
	}
	if err != nil {
		return err
	}

	s, err := metadata.Create(ctx, filepath.Join(cfg.Path, metadataDir), metadataOptions(cfg), catalog.Initializer(server))
	if err != nil {
		return err
	}
	defer s.Close()

	txn, err := s.OpenRead(ctx)
	if err != nil {
		return err
	}
	defer txn.Release()

	cluster, err := catalog.GetCluster(txn)
	if err != nil {
		return err
	}
	fmt.Printf("created store %s for cluster %s\n", s.Path(), cluster.ID)
	return nil
}

func createTable(ctx context.Context, cfg *config.StoreConfig, args []string) error {
	if len(args) != 4 {
		return errors.New("create-table needs <db> <name> <pk> <shards>")
	}
	shards, err := strconv.Atoi(args[3])
	if err != nil {
		return errors.Wrapf(err, "shards '%s'", args[3])
	}
	table := &catalog.TableConfig{
		ID:         uuid.New(),
		Database:   args[0],
		Name:       args[1],
		PrimaryKey: args[2],
		Shards:     shards,
	}
	if err := table.Validate(); err != nil {
		return err
	}
	if err := superblock.CheckBlockSize(cfg.BlockSize); err != nil {
		return err
	}

	if err := addTable(ctx, cfg, table); err != nil {
		return err
	}
	fmt.Printf("created table %s.%s (%s) with %d shards\n", table.Database, table.Name, table.ID, table.Shards)
	return nil
}

// addTable registers table and initializes its shards. On failure the
// shard keys and files written so far are removed again.
func addTable(ctx context.Context, cfg *config.StoreConfig, table *catalog.TableConfig) (err error) {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	txn, err := s.OpenWrite(ctx)
	if err != nil {
		return err
	}
	defer txn.Release()

	if err := catalog.PutTable(txn, table); err != nil {
		return err
	}

	entries := []metainfo.Entry{
		{Key: []byte("db"), Value: []byte(table.Database)},
		{Key: []byte("table"), Value: []byte(table.Name)},
	}
	if err := helpers.CreateDir(filepath.Join(cfg.Path, tablesDir)); err != nil {
		return err
	}

	var files []string
	defer func() {
		if err != nil {
			dropShards(s, table, files)
		}
	}()

	for i := 0; i < table.Shards; i++ {
		file := shardFile(cfg, table.ID, i)
		if helpers.Exists(file) {
			return errors.Errorf("shard %d: '%s' already exists", i, file)
		}
		files = append(files, file)

		shard := tablemeta.NewShard(s.Backend(), table.ID, i)
		if err := initShard(ctx, file, cfg.BlockSize, shard, entries); err != nil {
			return errors.Wrapf(err, "shard %d", i)
		}
	}

	return txn.Commit()
}

func dropShards(s *metadata.Store, table *catalog.TableConfig, files []string) {
	if err := tablemeta.Drop(s.Backend(), table.ID); err != nil {
		log.Errorf("table %s: %v", table.ID, err)
	}
	for _, file := range files {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			log.Errorf("table %s: %v", table.ID, err)
		}
	}
	log.Warnf("table %s not created, removed %d shard files", table.ID, len(files))
}

func initShard(ctx context.Context, file string, blockSize int, shard *tablemeta.Shard, entries []metainfo.Entry) error {
	p, err := pager.Open(file, blockSize, false, 0644)
	if err != nil {
		return err
	}
	cache := blockcache.New(p)
	defer cache.Close()

	sb, err := superblock.AcquireForWriting(ctx, cache, nil)
	if err != nil {
		return err
	}
	defer sb.Release()

	sindexID, err := shard.Init(ctx, cache, sb, entries)
	if err != nil {
		return err
	}
	if err := sb.SetMetainfo(ctx, entries); err != nil {
		return err
	}
	if err := sb.Release(); err != nil {
		return err
	}

	log.Debugf("initialized shard %s, sindex superblock at block %d", shard.Prefix(), sindexID)
	return cache.Sync()
}

func dump(ctx context.Context, cfg *config.StoreConfig) error {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	txn, err := s.OpenRead(ctx)
	if err != nil {
		return err
	}
	defer txn.Release()

	return txn.ReadManyBin(ctx, "", func(key string, value []byte) error {
		fmt.Printf("%s%s = %q\n", metadata.Prefix, key, value)
		return nil
	})
}

func check(ctx context.Context, cfg *config.StoreConfig) error {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	txn, err := s.OpenRead(ctx)
	if err != nil {
		return err
	}
	defer txn.Release()

	cluster, err := catalog.GetCluster(txn)
	if err != nil {
		return err
	}
	fmt.Printf("cluster %s, server %s, created %s\n", cluster.ID, cluster.Server, helpers.FormatTime(cluster.Created))

	tables, err := catalog.ListTables(ctx, txn)
	if err != nil {
		return err
	}

	failed := 0
	for _, table := range tables {
		for i := 0; i < table.Shards; i++ {
			shard := tablemeta.NewShard(s.Backend(), table.ID, i)
			if err := checkShard(ctx, cfg, shard); err != nil {
				failed++
				fmt.Printf("table %s.%s shard %d: %v\n", table.Database, table.Name, i, err)
				continue
			}
			fmt.Printf("table %s.%s shard %d: ok\n", table.Database, table.Name, i)
		}
	}

	if failed > 0 {
		return errors.Errorf("%d shards failed the check", failed)
	}
	return nil
}

func checkShard(ctx context.Context, cfg *config.StoreConfig, shard *tablemeta.Shard) error {
	p, err := pager.Open(shardFile(cfg, shard.Table(), shard.No()), cfg.BlockSize, true, 0644)
	if err != nil {
		return err
	}
	cache := blockcache.New(p)
	defer cache.Close()

	sb := superblock.AcquireForReading(cache)
	defer sb.Release()

	initialized, err := sb.Initialized(ctx)
	if err != nil {
		return err
	}
	if !initialized {
		return errors.New("superblock was never initialized")
	}
	if _, err := sb.Version(ctx); err != nil {
		return err
	}
	if _, err := sb.Metainfo(ctx); err != nil {
		return errors.Wrap(err, "superblock metainfo")
	}
	if _, err := shard.GetMetainfo(ctx, sb); err != nil {
		return errors.Wrap(err, "shard metainfo")
	}

	id, found, err := shard.GetSindexBlockID(ctx, sb)
	if err != nil {
		return err
	}
	if !found {
		return errors.New("no sindex block recorded")
	}

	sindex := superblock.AcquireSindex(cache, uint64(id), rwlock.Read)
	defer sindex.Release()
	if ok, err := sindex.Initialized(ctx); err != nil || !ok {
		return errors.Errorf("sindex superblock at block %d is not initialized: %v", id, err)
	}
	return nil
}
