package tablemeta

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go-metastore/pkg/blockcache"
	"go-metastore/pkg/customerrors"
	"go-metastore/pkg/kv"
	"go-metastore/pkg/kv/engine"
	"go-metastore/pkg/metainfo"
	"go-metastore/pkg/pager"
	"go-metastore/pkg/rwlock"
	"go-metastore/pkg/superblock"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (kv.Backend, *blockcache.Cache) {
	t.Helper()
	dir := t.TempDir()

	backend, err := engine.Open(filepath.Join(dir, "kv"), &engine.Options{Engine: engine.Bolt, NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	p, err := pager.Open(filepath.Join(dir, "table.dat"), 512, false, 0644)
	require.NoError(t, err)
	c := blockcache.New(p)
	t.Cleanup(func() { _ = c.Close() })

	return backend, c
}

func TestPrefix(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	s := NewShard(nil, id, 3)
	require.Equal(t, "tables/6ba7b810-9dad-11d1-80b4-00c04fd430c8/3/", s.Prefix())
	require.Equal(t, id, s.Table())
	require.Equal(t, 3, s.No())
}

func TestInitAndMetainfo(t *testing.T) {
	ctx := context.Background()
	backend, c := setup(t)
	shard := NewShard(backend, uuid.New(), 0)

	sb, err := superblock.AcquireForWriting(ctx, c, rwlock.New())
	require.NoError(t, err)

	entries := []metainfo.Entry{{Key: []byte("range"), Value: []byte("all")}}
	sindexID, err := shard.Init(ctx, c, sb, entries)
	require.NoError(t, err)
	require.Equal(t, superblock.BlockID(1), sindexID)

	got, err := shard.GetMetainfo(ctx, sb)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.True(t, entries[0].Equal(got[0]))

	id, found, err := shard.GetSindexBlockID(ctx, sb)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, sindexID, id)
	require.NoError(t, sb.Release())

	r := superblock.AcquireForReading(c)
	defer r.Release()
	root, err := r.RootBlockID(ctx)
	require.NoError(t, err)
	require.Equal(t, superblock.NullBlockID, root)

	sindex := superblock.AcquireSindex(c, uint64(sindexID), rwlock.Read)
	defer sindex.Release()
	ok, err := sindex.Initialized(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestShardsAreIsolated(t *testing.T) {
	ctx := context.Background()
	backend, c := setup(t)
	table := uuid.New()
	a, b := NewShard(backend, table, 0), NewShard(backend, table, 1)

	sb, err := superblock.AcquireForWriting(ctx, c, nil)
	require.NoError(t, err)
	defer sb.Release()

	require.NoError(t, a.SetMetainfo(ctx, sb, []metainfo.Entry{{Key: []byte("k"), Value: []byte("a")}}))

	got, err := b.GetMetainfo(ctx, sb)
	require.NoError(t, err)
	require.Empty(t, got)

	_, found, err := b.GetSindexBlockID(ctx, sb)
	require.NoError(t, err)
	require.False(t, found)
}

func TestUnknownVersionPanics(t *testing.T) {
	ctx := context.Background()
	backend, c := setup(t)
	shard := NewShard(backend, uuid.New(), 0)

	sb, err := superblock.AcquireForWriting(ctx, c, nil)
	require.NoError(t, err)
	defer sb.Release()
	require.NoError(t, shard.SetMetainfo(ctx, sb, nil))

	b := kv.NewBatch()
	b.Put(shard.metadataKey(versionKey), []byte("v1_16"))
	require.NoError(t, backend.ApplyBatch(b))

	require.Panics(t, func() { _, _ = shard.GetMetainfo(ctx, sb) })
}

func TestInvalidSindexBlockIDPanics(t *testing.T) {
	ctx := context.Background()
	backend, c := setup(t)
	shard := NewShard(backend, uuid.New(), 0)

	b := kv.NewBatch()
	b.Put([]byte(shard.Prefix()+sindexBlockIDKey), []byte("12x"))
	require.NoError(t, backend.ApplyBatch(b))

	sb := superblock.AcquireForReading(c)
	defer sb.Release()

	defer func() {
		err, ok := recover().(error)
		require.True(t, ok)
		require.ErrorIs(t, err, ErrInvalidBlockID)
	}()
	_, _, _ = shard.GetSindexBlockID(ctx, sb)
}

func TestTruncatedMetainfo(t *testing.T) {
	ctx := context.Background()
	backend, c := setup(t)
	shard := NewShard(backend, uuid.New(), 0)

	sb, err := superblock.AcquireForWriting(ctx, c, nil)
	require.NoError(t, err)
	defer sb.Release()

	blob, err := metainfo.Encode([]metainfo.Entry{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	})
	require.NoError(t, err)

	require.NoError(t, shard.SetMetainfo(ctx, sb, nil))
	b := kv.NewBatch()
	b.Put(shard.metadataKey(metainfoKey), blob[:len(blob)-1])
	require.NoError(t, backend.ApplyBatch(b))

	got, err := shard.GetMetainfo(ctx, sb)
	require.ErrorIs(t, err, metainfo.ErrTruncated)
	require.Len(t, got, 1)
}

func TestWaitsForSuperblock(t *testing.T) {
	ctx := context.Background()
	backend, c := setup(t)
	shard := NewShard(backend, uuid.New(), 0)

	reader := superblock.AcquireForReading(c)
	require.NoError(t, reader.WaitReadReady(ctx))

	writer, err := superblock.AcquireForWriting(ctx, c, nil)
	require.NoError(t, err)
	defer writer.Release()

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = shard.SetMetainfo(short, writer, nil)
	require.ErrorIs(t, err, customerrors.ErrInterrupted)

	_, found, err := backend.Get(shard.metadataKey(versionKey))
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, reader.Release())
	require.NoError(t, shard.SetMetainfo(ctx, writer, nil))
}

func TestDrop(t *testing.T) {
	ctx := context.Background()
	backend, c := setup(t)
	dropped, kept := uuid.New(), uuid.New()

	sb, err := superblock.AcquireForWriting(ctx, c, nil)
	require.NoError(t, err)
	defer sb.Release()

	entries := []metainfo.Entry{{Key: []byte("k"), Value: []byte("v")}}
	for _, shard := range []*Shard{NewShard(backend, dropped, 0), NewShard(backend, dropped, 1), NewShard(backend, kept, 0)} {
		require.NoError(t, shard.SetMetainfo(ctx, sb, entries))
		require.NoError(t, shard.SetSindexBlockID(ctx, sb, 7))
	}

	require.NoError(t, Drop(backend, dropped))
	pairs, err := backend.PrefixScan([]byte(TablePrefix(dropped)))
	require.NoError(t, err)
	require.Empty(t, pairs)

	pairs, err = backend.PrefixScan([]byte(TablePrefix(kept)))
	require.NoError(t, err)
	require.Len(t, pairs, 3)

	// Nothing left to drop.
	require.NoError(t, Drop(backend, dropped))
}
