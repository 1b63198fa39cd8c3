// Package tablemeta keeps per-shard table metainfo in the key-value
// backend, next to the superblock that guards it.
//
// Every operation waits on the superblock's ready signal first: holding the
// superblock is what serializes access to a shard's keys.
package tablemeta

import (
	"context"
	"fmt"
	"strconv"

	"go-metastore/pkg/blockcache"
	"go-metastore/pkg/kv"
	"go-metastore/pkg/metainfo"
	"go-metastore/pkg/superblock"
	"go-metastore/pkg/version"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	versionKey       = "version"
	metainfoKey      = "metainfo"
	sindexBlockIDKey = "sindex_block_id"
)

var (
	// ErrUnknownVersion is the panic value when a shard's metainfo was
	// written by another format.
	ErrUnknownVersion = errors.New("unrecognized metainfo version")

	// ErrInvalidBlockID is the panic value when the stored secondary index
	// block id does not parse.
	ErrInvalidBlockID = errors.New("invalid sindex block id")
)

type readLocked interface {
	WaitReadReady(ctx context.Context) error
}

type writeLocked interface {
	WaitWriteReady(ctx context.Context) error
}

// Shard addresses the keys of one table shard.
type Shard struct {
	backend kv.Backend
	table   uuid.UUID
	no      int
}

func NewShard(backend kv.Backend, table uuid.UUID, no int) *Shard {
	return &Shard{backend: backend, table: table, no: no}
}

func (s *Shard) Table() uuid.UUID {
	return s.table
}

func (s *Shard) No() int {
	return s.no
}

// TablePrefix is the namespace of every shard of a table.
func TablePrefix(table uuid.UUID) string {
	return fmt.Sprintf("tables/%s/", table)
}

// Prefix is the namespace of every key of the shard.
func (s *Shard) Prefix() string {
	return TablePrefix(s.table) + strconv.Itoa(s.no) + "/"
}

// Drop deletes the keys of every shard of table in one batch.
func Drop(backend kv.Backend, table uuid.UUID) error {
	pairs, err := backend.PrefixScan([]byte(TablePrefix(table)))
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return nil
	}

	b := kv.NewBatch()
	for _, p := range pairs {
		b.Delete(p.Key)
	}
	return errors.Wrapf(backend.ApplyBatch(b), "drop table %s", table)
}

func (s *Shard) metadataKey(name string) []byte {
	return []byte(s.Prefix() + "metadata/" + name)
}

// SetMetainfo replaces the shard's metainfo. The version marker and the
// blob are written in one batch.
func (s *Shard) SetMetainfo(ctx context.Context, sb writeLocked, entries []metainfo.Entry) error {
	if err := sb.WaitWriteReady(ctx); err != nil {
		return err
	}

	blob, err := metainfo.Encode(entries)
	if err != nil {
		return err
	}

	b := kv.NewBatch()
	b.Put(s.metadataKey(versionKey), []byte(version.Latest.Token()))
	b.Put(s.metadataKey(metainfoKey), blob)
	return errors.Wrapf(s.backend.ApplyBatch(b), "set metainfo of %s", s.Prefix())
}

// GetMetainfo returns the shard's metainfo. A shard that never had any
// has an empty list; a truncated blob returns the complete entries along
// with metainfo.ErrTruncated.
func (s *Shard) GetMetainfo(ctx context.Context, sb readLocked) ([]metainfo.Entry, error) {
	if err := sb.WaitReadReady(ctx); err != nil {
		return nil, err
	}

	token, hasVersion, err := s.backend.Get(s.metadataKey(versionKey))
	if err != nil {
		return nil, err
	}
	blob, hasBlob, err := s.backend.Get(s.metadataKey(metainfoKey))
	if err != nil {
		return nil, err
	}

	if !hasVersion && !hasBlob {
		return nil, nil
	}
	if string(token) != version.Latest.Token() {
		panic(errors.Wrapf(ErrUnknownVersion, "%s: '%s'", s.Prefix(), token))
	}
	return metainfo.Decode(blob)
}

// SetSindexBlockID records the block holding the shard's secondary index
// superblock.
func (s *Shard) SetSindexBlockID(ctx context.Context, sb writeLocked, id superblock.BlockID) error {
	if err := sb.WaitWriteReady(ctx); err != nil {
		return err
	}

	b := kv.NewBatch()
	b.Put([]byte(s.Prefix()+sindexBlockIDKey), []byte(strconv.FormatUint(uint64(id), 10)))
	return errors.Wrapf(s.backend.ApplyBatch(b), "set sindex block id of %s", s.Prefix())
}

// GetSindexBlockID returns the recorded secondary index block, found=false
// if none was recorded yet.
func (s *Shard) GetSindexBlockID(ctx context.Context, sb readLocked) (superblock.BlockID, bool, error) {
	if err := sb.WaitReadReady(ctx); err != nil {
		return superblock.NullBlockID, false, err
	}

	value, found, err := s.backend.Get([]byte(s.Prefix() + sindexBlockIDKey))
	if err != nil || !found {
		return superblock.NullBlockID, false, err
	}

	id, err := strconv.ParseUint(string(value), 10, 64)
	if err != nil {
		panic(errors.Wrapf(ErrInvalidBlockID, "%s: '%s'", s.Prefix(), value))
	}
	return superblock.BlockID(id), true, nil
}

// Init lays a fresh superblock over sb, stores the initial metainfo and
// allocates the shard's secondary index superblock.
func (s *Shard) Init(ctx context.Context, c *blockcache.Cache, sb *superblock.Real, entries []metainfo.Entry) (superblock.BlockID, error) {
	if err := superblock.InitReal(ctx, sb); err != nil {
		return superblock.NullBlockID, err
	}
	if err := s.SetMetainfo(ctx, sb, entries); err != nil {
		return superblock.NullBlockID, err
	}

	sindex, err := superblock.AllocSindex(c)
	if err != nil {
		return superblock.NullBlockID, err
	}
	id := sindex.BlockID()
	if err := superblock.InitSindex(ctx, sindex); err != nil {
		_ = sindex.Release()
		return superblock.NullBlockID, err
	}
	if err := sindex.Release(); err != nil {
		return superblock.NullBlockID, err
	}

	if err := s.SetSindexBlockID(ctx, sb, id); err != nil {
		return superblock.NullBlockID, err
	}
	return id, nil
}
