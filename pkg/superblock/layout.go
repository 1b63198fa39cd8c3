package superblock

import (
	"encoding/binary"
	"math"

	"go-metastore/pkg/metainfo"
	"go-metastore/pkg/version"

	"github.com/pkg/errors"
)

// bin is the byte order used for all marshals/unmarshals.
var bin = binary.LittleEndian

// BlockID addresses a block of the superblock's file.
type BlockID uint64

// NullBlockID marks an absent root or stat block.
const NullBlockID BlockID = math.MaxUint64

// ID is the well-known block holding a tree's superblock.
const ID uint64 = 0

const DefaultBlockSize = 4096

// On-disk layout, shared by the primary and the secondary index variants:
//
//	[0:4)   magic
//	[4:12)  root block id
//	[12:20) stat block id
//	[20:)   metainfo region: u32 blob length, then the encoded blob
const (
	magicOffset    = 0
	rootOffset     = 4
	statOffset     = 12
	metainfoOffset = 20

	metainfoLenSize = 4
)

const defaultMetainfoCapacity = DefaultBlockSize - metainfoOffset

// The default block must leave room for at least one byte of metainfo.
var _ [defaultMetainfoCapacity - metainfoLenSize - 1]struct{}

var (
	ErrBlockTooSmall    = errors.New("block size leaves no room for metainfo")
	ErrMetainfoTooLarge = errors.New("metainfo does not fit in the superblock")
	ErrCorrupted        = errors.New("superblock metainfo region is corrupted")
)

func init() {
	if err := CheckBlockSize(DefaultBlockSize); err != nil {
		panic(err)
	}
}

// MetainfoCapacity is the size of the metainfo region of a block, length
// prefix included.
func MetainfoCapacity(blockSize int) int {
	return blockSize - metainfoOffset
}

// MaxMetainfoSize is the largest encoded blob a block can hold.
func MaxMetainfoSize(blockSize int) int {
	return MetainfoCapacity(blockSize) - metainfoLenSize
}

func CheckBlockSize(blockSize int) error {
	if MaxMetainfoSize(blockSize) <= 0 {
		return errors.Wrapf(ErrBlockTooSmall, "%d bytes", blockSize)
	}
	return nil
}

// Record is a decoded superblock.
type Record struct {
	Magic    version.Magic
	Root     BlockID
	Stat     BlockID
	Metainfo []byte
}

// Decode parses a whole block. Metainfo aliases data.
func Decode(data []byte) (Record, error) {
	if err := CheckBlockSize(len(data)); err != nil {
		return Record{}, err
	}

	var r Record
	copy(r.Magic[:], data[magicOffset:rootOffset])
	r.Root = BlockID(bin.Uint64(data[rootOffset:statOffset]))
	r.Stat = BlockID(bin.Uint64(data[statOffset:metainfoOffset]))

	blob, err := metainfoBlob(data)
	if err != nil {
		return Record{}, err
	}
	r.Metainfo = blob
	return r, nil
}

// Encode lays the record out over a whole block.
func (r Record) Encode(blockSize int) ([]byte, error) {
	if err := CheckBlockSize(blockSize); err != nil {
		return nil, err
	}

	data := make([]byte, blockSize)
	copy(data[magicOffset:rootOffset], r.Magic[:])
	bin.PutUint64(data[rootOffset:statOffset], uint64(r.Root))
	bin.PutUint64(data[statOffset:metainfoOffset], uint64(r.Stat))
	if err := putMetainfoBlob(data, r.Metainfo); err != nil {
		return nil, err
	}
	return data, nil
}

// initBlock overwrites data with a fresh superblock.
func initBlock(data []byte) {
	for i := range data {
		data[i] = 0
	}
	magic := version.LatestMagic()
	copy(data[magicOffset:rootOffset], magic[:])
	bin.PutUint64(data[rootOffset:statOffset], uint64(NullBlockID))
	bin.PutUint64(data[statOffset:metainfoOffset], uint64(NullBlockID))
}

func metainfoBlob(data []byte) ([]byte, error) {
	region := data[metainfoOffset:]
	size := uint64(bin.Uint32(region[:metainfoLenSize]))
	if size > uint64(len(region)-metainfoLenSize) {
		return nil, errors.Wrapf(ErrCorrupted, "blob of %d bytes in a %d byte region", size, len(region))
	}
	return region[metainfoLenSize : metainfoLenSize+int(size)], nil
}

func putMetainfoBlob(data, blob []byte) error {
	region := data[metainfoOffset:]
	if len(blob) > len(region)-metainfoLenSize {
		return errors.Wrapf(ErrMetainfoTooLarge, "%d bytes, at most %d", len(blob), len(region)-metainfoLenSize)
	}

	bin.PutUint32(region[:metainfoLenSize], uint32(len(blob)))
	n := copy(region[metainfoLenSize:], blob)
	tail := region[metainfoLenSize+n:]
	for i := range tail {
		tail[i] = 0
	}
	return nil
}

// DecodeMetainfo decodes the metainfo entries of a whole block.
func DecodeMetainfo(data []byte) ([]metainfo.Entry, error) {
	blob, err := metainfoBlob(data)
	if err != nil {
		return nil, err
	}
	return metainfo.Decode(blob)
}
