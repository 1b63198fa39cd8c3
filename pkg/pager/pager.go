// Package pager reads and writes fixed size blocks of a single file.
package pager

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrReadOnly      = errors.New("operation not allowed in read-only mode")
	ErrInvalidSize   = errors.New("invalid block size")
	ErrCorruptedFile = errors.New("file size is not a multiple of the block size")
)

// Open opens or creates fileName as a block file. All reads and writes are
// done in blocks of blockSize bytes, which must be a positive multiple of
// 512.
func Open(fileName string, blockSize int, readOnly bool, mode os.FileMode) (*Pager, error) {
	if blockSize <= 0 || blockSize%512 != 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "%d", blockSize)
	}

	flag := os.O_CREATE | os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}

	file, err := os.OpenFile(fileName, flag, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open block file '%s'", fileName)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if info.Size()%int64(blockSize) != 0 {
		_ = file.Close()
		return nil, errors.Wrapf(ErrCorruptedFile, "'%s' has %d bytes", fileName, info.Size())
	}

	return &Pager{
		file:      file,
		blockSize: blockSize,
		count:     uint64(info.Size() / int64(blockSize)),
		readOnly:  readOnly,
	}, nil
}

type Pager struct {
	mu        sync.RWMutex
	file      *os.File
	blockSize int
	count     uint64
	readOnly  bool
}

func (p *Pager) BlockSize() int {
	return p.blockSize
}

// Count returns the number of blocks in the file.
func (p *Pager) Count() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.count
}

// ReadBlock fills dst with block id. Blocks past the end of the file read
// as zeroes.
func (p *Pager) ReadBlock(id uint64, dst []byte) error {
	if len(dst) != p.blockSize {
		return errors.Wrapf(ErrInvalidSize, "buffer of %d bytes", len(dst))
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if id >= p.count {
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}

	_, err := p.file.ReadAt(dst, p.offset(id))
	return errors.Wrapf(err, "failed to read block %d", id)
}

func (p *Pager) WriteBlock(id uint64, data []byte) error {
	if p.readOnly {
		return ErrReadOnly
	}
	if len(data) != p.blockSize {
		return errors.Wrapf(ErrInvalidSize, "buffer of %d bytes", len(data))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.file.WriteAt(data, p.offset(id)); err != nil {
		return errors.Wrapf(err, "failed to write block %d", id)
	}
	if id >= p.count {
		p.count = id + 1
	}
	return nil
}

// Alloc extends the file by one zeroed block and returns its id.
func (p *Pager) Alloc() (uint64, error) {
	if p.readOnly {
		return 0, ErrReadOnly
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.count
	if _, err := p.file.WriteAt(make([]byte, p.blockSize), p.offset(id)); err != nil {
		return 0, errors.Wrapf(err, "failed to allocate block %d", id)
	}
	p.count++
	return id, nil
}

// Reserve extends the file with zeroed blocks until it holds at least n.
func (p *Pager) Reserve(n uint64) error {
	if p.readOnly {
		return ErrReadOnly
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.count >= n {
		return nil
	}
	if err := p.file.Truncate(p.offset(n)); err != nil {
		return errors.Wrapf(err, "failed to reserve %d blocks", n)
	}
	p.count = n
	return nil
}

func (p *Pager) Sync() error {
	if p.readOnly {
		return nil
	}
	return p.file.Sync()
}

func (p *Pager) Close() error {
	if err := p.Sync(); err != nil {
		_ = p.file.Close()
		return err
	}
	return p.file.Close()
}

func (p *Pager) offset(id uint64) int64 {
	return int64(id) * int64(p.blockSize)
}
