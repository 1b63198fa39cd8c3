// Package metainfo implements the length-prefixed key/value blob stored in
// superblocks and in table shard metadata.
//
// The encoding is a plain concatenation of entries, each one laid out as
//
//	u32_le(len(key)) key u32_le(len(value)) value
//
// with no separators and no terminator: the end of the buffer is the end of
// the list. An empty buffer is an empty list.
package metainfo

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// bin is the byte order used for all length prefixes.
var bin = binary.LittleEndian

// lenSize is the size of one length prefix.
const lenSize = 4

var (
	// ErrEncodingTooLarge is returned when a key or value length cannot be
	// represented in 32 bits.
	ErrEncodingTooLarge = errors.New("metainfo entry too large to encode")

	// ErrTruncated is reported when the buffer ends inside an entry.
	ErrTruncated = errors.New("metainfo data is corrupted: walked past the end of the buffer")
)

type Entry struct {
	Key   []byte
	Value []byte
}

func (e Entry) Equal(o Entry) bool {
	return bytes.Equal(e.Key, o.Key) && bytes.Equal(e.Value, o.Value)
}

// EncodedSize returns the number of bytes Encode produces for entries.
func EncodedSize(entries []Entry) int {
	size := 0
	for _, e := range entries {
		size += 2*lenSize + len(e.Key) + len(e.Value)
	}
	return size
}

// Encode concatenates entries in order.
func Encode(entries []Entry) ([]byte, error) {
	for i, e := range entries {
		if !fits(len(e.Key)) || !fits(len(e.Value)) {
			return nil, errors.Wrapf(ErrEncodingTooLarge, "entry %d", i)
		}
	}

	buf := make([]byte, 0, EncodedSize(entries))
	for _, e := range entries {
		buf = appendBytes(buf, e.Key)
		buf = appendBytes(buf, e.Value)
	}
	return buf, nil
}

// Decode returns every complete entry of buf. If buf ends inside an entry,
// the entries before it are returned together with ErrTruncated.
func Decode(buf []byte) ([]Entry, error) {
	entries := []Entry{}
	it := NewIterator(buf)
	for it.Next() {
		entries = append(entries, it.Entry())
	}
	return entries, it.Err()
}

func fits(n int) bool {
	return uint64(n) <= math.MaxUint32
}

func appendBytes(buf, b []byte) []byte {
	buf = bin.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}
