package metainfo

// Step is the outcome of reading one entry.
type Step int

const (
	// StepNone means Next has not been called yet.
	StepNone Step = iota
	// StepEntry means a complete entry was read.
	StepEntry
	// StepEnd means the buffer ended exactly at an entry boundary.
	StepEnd
	// StepTruncated means the buffer ended inside an entry.
	StepTruncated
)

func (s Step) String() string {
	switch s {
	case StepNone:      return "none"
	case StepEntry:     return "entry"
	case StepEnd:       return "end"
	case StepTruncated: return "truncated"
	default:            return "unknown"
	}
}

// next reads the entry starting at buf[0]. On StepEntry n is the number of
// bytes the entry occupies. Returned slices alias buf.
func next(buf []byte) (e Entry, n int, step Step) {
	if len(buf) == 0 {
		return Entry{}, 0, StepEnd
	}

	key, cur, ok := readBytes(buf, 0)
	if !ok {
		return Entry{}, 0, StepTruncated
	}

	value, cur, ok := readBytes(buf, cur)
	if !ok {
		return Entry{}, 0, StepTruncated
	}

	return Entry{Key: key, Value: value}, cur, StepEntry
}

func readBytes(buf []byte, cur int) ([]byte, int, bool) {
	if len(buf)-cur < lenSize {
		return nil, cur, false
	}
	size := uint64(bin.Uint32(buf[cur : cur+lenSize]))
	cur += lenSize

	if uint64(len(buf)-cur) < size {
		return nil, cur, false
	}
	end := cur + int(size)
	return buf[cur:end:end], end, true
}

// Iterator walks the entries of an encoded buffer without copying. It never
// reads past the end of the buffer. Use it like bufio.Scanner:
//
//	it := metainfo.NewIterator(buf)
//	for it.Next() {
//		e := it.Entry()
//	}
//	if it.Err() != nil { ... }
type Iterator struct {
	buf   []byte
	pos   int
	entry Entry
	step  Step
	done  bool
}

func NewIterator(buf []byte) *Iterator {
	return &Iterator{buf: buf}
}

// Next advances to the next entry. It returns false once the buffer is
// exhausted or found truncated.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}

	e, n, step := next(it.buf[it.pos:])
	it.step = step
	if step != StepEntry {
		it.entry = Entry{}
		it.done = true
		return false
	}

	it.entry = e
	it.pos += n
	return true
}

// Entry returns the current entry. Its slices alias the decoded buffer.
func (it *Iterator) Entry() Entry {
	return it.entry
}

// Step returns the outcome of the last call to Next, or StepNone before the
// first one.
func (it *Iterator) Step() Step {
	return it.step
}

// Offset returns the number of bytes consumed by complete entries so far.
func (it *Iterator) Offset() int {
	return it.pos
}

// Err returns ErrTruncated if iteration stopped inside an entry.
func (it *Iterator) Err() error {
	if it.done && it.step == StepTruncated {
		return ErrTruncated
	}
	return nil
}

// Reset rewinds the iterator to the start of the buffer.
func (it *Iterator) Reset() {
	*it = Iterator{buf: it.buf}
}
