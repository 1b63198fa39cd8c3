// Package superblock provides the starting point for tree operations: a
// locked handle on the block holding a tree's root pointer, so tree code
// does not need to know the block format.
//
// There are two variants sharing one on-disk layout. Real is the superblock
// of a table's primary tree and uses every field. Sindex is the superblock
// of a secondary index tree and only ever touches the root pointer; its
// other fields are preserved as they are.
package superblock

import (
	"context"

	"go-metastore/pkg/blockcache"
	"go-metastore/pkg/customerrors"
	"go-metastore/pkg/metainfo"
	"go-metastore/pkg/rwlock"
	"go-metastore/pkg/version"
)

type Superblock interface {
	// Release gives up the block lock. Changes already made are kept.
	Release() error

	// ReadReady fires once the superblock's bytes may be read.
	ReadReady() <-chan struct{}
}

var (
	_ Superblock = (*Real)(nil)
	_ Superblock = (*Sindex)(nil)
)

func wait(ctx context.Context, signal <-chan struct{}) error {
	select {
	case <-signal:
		return nil
	default:
	}

	select {
	case <-signal:
		return nil
	case <-ctx.Done():
		return customerrors.Interrupted(ctx.Err())
	}
}

// handle is the part both variants share.
type handle struct {
	buf *blockcache.BufLock
}

func (h *handle) ReadReady() <-chan struct{} {
	return h.buf.ReadReady()
}

func (h *handle) WriteReady() <-chan struct{} {
	return h.buf.WriteReady()
}

func (h *handle) WaitReadReady(ctx context.Context) error {
	return wait(ctx, h.buf.ReadReady())
}

func (h *handle) WaitWriteReady(ctx context.Context) error {
	return wait(ctx, h.buf.WriteReady())
}

func (h *handle) read(ctx context.Context) ([]byte, error) {
	if err := h.WaitReadReady(ctx); err != nil {
		return nil, err
	}
	return h.buf.Data()
}

func (h *handle) write(ctx context.Context) ([]byte, error) {
	if h.buf.Access() != rwlock.Write {
		return nil, blockcache.ErrReadAccess
	}
	if err := h.WaitWriteReady(ctx); err != nil {
		return nil, err
	}
	return h.buf.DataWrite()
}

// Initialized reports whether the block carries a magic marker at all.
func (h *handle) Initialized(ctx context.Context) (bool, error) {
	data, err := h.read(ctx)
	if err != nil {
		return false, err
	}
	return version.Magic(data[magicOffset:rootOffset]) != version.Magic{}, nil
}

// Version returns the format version recorded in the magic marker.
func (h *handle) Version(ctx context.Context) (version.Version, error) {
	data, err := h.read(ctx)
	if err != nil {
		return 0, err
	}
	return version.MagicToVersion(version.Magic(data[magicOffset:rootOffset]))
}

func (h *handle) RootBlockID(ctx context.Context) (BlockID, error) {
	data, err := h.read(ctx)
	if err != nil {
		return NullBlockID, err
	}
	return BlockID(bin.Uint64(data[rootOffset:statOffset])), nil
}

func (h *handle) SetRootBlockID(ctx context.Context, id BlockID) error {
	data, err := h.write(ctx)
	if err != nil {
		return err
	}
	bin.PutUint64(data[rootOffset:statOffset], uint64(id))
	return nil
}

func (h *handle) initialize(ctx context.Context) error {
	data, err := h.write(ctx)
	if err != nil {
		return err
	}
	initBlock(data)
	return nil
}

// Real is the superblock of a table's primary tree. A Real acquired for
// writing may also hold a ticket of the table's write semaphore, given back
// on Release.
type Real struct {
	handle
	writeSem *rwlock.Acquisition
}

// AcquireForReading queues a read lock on the superblock.
func AcquireForReading(c *blockcache.Cache) *Real {
	return &Real{handle: handle{buf: c.Acquire(ID, rwlock.Read)}}
}

// AcquireForWriting takes a ticket from sem, if given, and then queues a
// write lock on the superblock. Only the ticket wait is interruptible.
func AcquireForWriting(ctx context.Context, c *blockcache.Cache, sem *rwlock.Lock) (*Real, error) {
	var ticket *rwlock.Acquisition
	if sem != nil {
		var err error
		if ticket, err = sem.Acquire(ctx, rwlock.Write); err != nil {
			return nil, err
		}
	}

	return &Real{
		handle:   handle{buf: c.Acquire(ID, rwlock.Write)},
		writeSem: ticket,
	}, nil
}

func (s *Real) Release() error {
	err := s.buf.Release()
	s.writeSem.Release()
	return err
}

func (s *Real) StatBlockID(ctx context.Context) (BlockID, error) {
	data, err := s.read(ctx)
	if err != nil {
		return NullBlockID, err
	}
	return BlockID(bin.Uint64(data[statOffset:metainfoOffset])), nil
}

func (s *Real) SetStatBlockID(ctx context.Context, id BlockID) error {
	data, err := s.write(ctx)
	if err != nil {
		return err
	}
	bin.PutUint64(data[statOffset:metainfoOffset], uint64(id))
	return nil
}

// Metainfo decodes the embedded metainfo. A region that ends inside an
// entry returns the complete entries along with metainfo.ErrTruncated; the
// caller decides whether that is fatal.
func (s *Real) Metainfo(ctx context.Context) ([]metainfo.Entry, error) {
	data, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return DecodeMetainfo(data)
}

// SetMetainfo replaces the embedded metainfo with entries.
func (s *Real) SetMetainfo(ctx context.Context, entries []metainfo.Entry) error {
	blob, err := metainfo.Encode(entries)
	if err != nil {
		return err
	}

	data, err := s.write(ctx)
	if err != nil {
		return err
	}
	return putMetainfoBlob(data, blob)
}

// InitReal lays a fresh superblock over the block s holds for writing.
func InitReal(ctx context.Context, s *Real) error {
	return s.initialize(ctx)
}

// Sindex is the superblock of a secondary index tree.
type Sindex struct {
	handle
}

func AcquireSindex(c *blockcache.Cache, id uint64, access rwlock.Access) *Sindex {
	return &Sindex{handle: handle{buf: c.Acquire(id, access)}}
}

// AllocSindex allocates a block past the primary superblock and locks it
// for writing.
func AllocSindex(c *blockcache.Cache) (*Sindex, error) {
	if err := c.Reserve(ID + 1); err != nil {
		return nil, err
	}
	buf, err := c.Alloc()
	if err != nil {
		return nil, err
	}
	return &Sindex{handle: handle{buf: buf}}, nil
}

func (s *Sindex) BlockID() BlockID {
	return BlockID(s.buf.ID())
}

func (s *Sindex) Release() error {
	return s.buf.Release()
}

// InitSindex lays a fresh superblock over the block s holds for writing.
func InitSindex(ctx context.Context, s *Sindex) error {
	return s.initialize(ctx)
}
