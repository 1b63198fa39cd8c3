// Package blockcache hands out locked, in-memory views of pager blocks.
//
// Acquire returns a BufLock immediately. The lock is queued behind earlier
// acquisitions of the same block and its ReadReady/WriteReady signals fire
// once it is granted; block contents may only be touched after that.
// Modified blocks are written back to the pager when the lock is released.
package blockcache

import (
	"sync"

	"go-metastore/pkg/pager"
	"go-metastore/pkg/rwlock"

	"github.com/pkg/errors"
)

var (
	ErrNotReady    = errors.New("buffer lock not granted yet")
	ErrReadAccess  = errors.New("buffer lock acquired for reading")
	ErrReleasedBuf = errors.New("buffer lock already released")
)

// never is a signal that never fires.
var never = make(chan struct{})

type Cache struct {
	pager  *pager.Pager
	mu     sync.Mutex
	blocks map[uint64]*block
}

type block struct {
	lock   *rwlock.Lock
	mu     sync.Mutex
	data   []byte
	loaded bool
	refs   int
}

func New(p *pager.Pager) *Cache {
	return &Cache{
		pager:  p,
		blocks: map[uint64]*block{},
	}
}

func (c *Cache) BlockSize() int {
	return c.pager.BlockSize()
}

// Acquire queues a lock on block id.
func (c *Cache) Acquire(id uint64, access rwlock.Access) *BufLock {
	c.mu.Lock()
	b, ok := c.blocks[id]
	if !ok {
		b = &block{lock: rwlock.New()}
		c.blocks[id] = b
	}
	b.refs++
	c.mu.Unlock()

	return &BufLock{
		cache: c,
		id:    id,
		block: b,
		acq:   b.lock.AcquireAsync(access),
	}
}

// Alloc allocates a fresh block and locks it for writing.
func (c *Cache) Alloc() (*BufLock, error) {
	id, err := c.pager.Alloc()
	if err != nil {
		return nil, err
	}
	return c.Acquire(id, rwlock.Write), nil
}

// Reserve makes sure blocks [0, n) exist so that Alloc never hands them
// out.
func (c *Cache) Reserve(n uint64) error {
	return c.pager.Reserve(n)
}

func (c *Cache) unref(id uint64, b *block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b.refs--
	if b.refs == 0 {
		delete(c.blocks, id)
	}
}

func (c *Cache) Sync() error {
	return c.pager.Sync()
}

func (c *Cache) Close() error {
	return c.pager.Close()
}

type BufLock struct {
	cache    *Cache
	id       uint64
	block    *block
	acq      *rwlock.Acquisition
	dirty    bool
	released bool
}

func (b *BufLock) ID() uint64 {
	return b.id
}

func (b *BufLock) Access() rwlock.Access {
	return b.acq.Access()
}

func (b *BufLock) ReadReady() <-chan struct{} {
	return b.acq.Ready()
}

// WriteReady never fires for a read lock.
func (b *BufLock) WriteReady() <-chan struct{} {
	if b.acq.Access() != rwlock.Write {
		return never
	}
	return b.acq.Ready()
}

// Data returns the block contents for reading.
func (b *BufLock) Data() ([]byte, error) {
	if b.released {
		return nil, ErrReleasedBuf
	}

	select {
	case <-b.acq.Ready():
	default:
		return nil, ErrNotReady
	}

	blk := b.block
	blk.mu.Lock()
	defer blk.mu.Unlock()

	if !blk.loaded {
		data := make([]byte, b.cache.pager.BlockSize())
		if err := b.cache.pager.ReadBlock(b.id, data); err != nil {
			return nil, err
		}
		blk.data = data
		blk.loaded = true
	}
	return blk.data, nil
}

// DataWrite returns the block contents for modification and marks the
// block dirty.
func (b *BufLock) DataWrite() ([]byte, error) {
	if b.acq.Access() != rwlock.Write {
		return nil, ErrReadAccess
	}

	data, err := b.Data()
	if err != nil {
		return nil, err
	}
	b.dirty = true
	return data, nil
}

// Release writes a modified block back to the pager and gives up the lock.
// Releasing a lock that was never granted withdraws it.
func (b *BufLock) Release() error {
	if b.released {
		return nil
	}
	b.released = true

	var err error
	if b.dirty {
		err = b.cache.pager.WriteBlock(b.id, b.block.data)
		if err != nil {
			// The pager no longer matches memory, reload on next use.
			b.block.mu.Lock()
			b.block.loaded = false
			b.block.mu.Unlock()
		}
	}

	b.acq.Release()
	b.cache.unref(b.id, b.block)
	return err
}
