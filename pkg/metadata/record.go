package metadata

import (
	"context"

	"go-metastore/util/helpers"

	"github.com/pkg/errors"
	"github.com/viant/bintly"
)

// Record is a typed value stored under one metadata key.
type Record interface {
	EncodeBinary(stream *bintly.Writer) error
	DecodeBinary(stream *bintly.Reader) error
}

var (
	writers = bintly.NewWriters()
	readers = bintly.NewReaders()
)

func encodeRecord(r Record) ([]byte, error) {
	w := writers.Get()
	defer writers.Put(w)

	if err := r.EncodeBinary(w); err != nil {
		return nil, err
	}
	return helpers.CopyBytes(w.Bytes()), nil
}

func decodeRecord(data []byte, r Record) error {
	rd := readers.Get()
	defer readers.Put(rd)

	if err := rd.FromBytes(data); err != nil {
		return err
	}
	return r.DecodeBinary(rd)
}

// WriteRecord stages r under key.
func (t *WriteTxn) WriteRecord(key string, r Record) error {
	data, err := encodeRecord(r)
	if err != nil {
		return errors.Wrapf(err, "encode '%s'", key)
	}
	return t.WriteBin(key, data)
}

// ReadRecord decodes the committed value of key into r.
func (t *ReadTxn) ReadRecord(key string, r Record) (bool, error) {
	data, found, err := t.ReadBin(key)
	if err != nil || !found {
		return false, err
	}
	if err := decodeRecord(data, r); err != nil {
		return false, errors.Wrapf(err, "decode '%s'", key)
	}
	return true, nil
}

// ReadManyRecords decodes every committed record under prefix with a fresh
// value from newRecord and hands it to fn.
func ReadManyRecords[R Record](ctx context.Context, t *ReadTxn, prefix string, newRecord func() R, fn func(suffix string, r R) error) error {
	return t.ReadManyBin(ctx, prefix, func(suffix string, value []byte) error {
		r := newRecord()
		if err := decodeRecord(value, r); err != nil {
			return errors.Wrapf(err, "decode '%s%s'", prefix, suffix)
		}
		return fn(suffix, r)
	})
}
