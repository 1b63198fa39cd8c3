package metadata

import (
	"bytes"
	"context"

	"go-metastore/pkg/customerrors"
	"go-metastore/pkg/kv"
	"go-metastore/pkg/rwlock"

	"github.com/pkg/errors"
)

// ReadTxn holds a shared grant on its store. It must be released.
type ReadTxn struct {
	store *Store
	acq   *rwlock.Acquisition
	done  bool
}

func (t *ReadTxn) check() error {
	if t.done {
		return ErrTxnDone
	}
	return nil
}

// ReadBin returns the committed value of key. A missing key is not an
// error.
func (t *ReadTxn) ReadBin(key string) ([]byte, bool, error) {
	if err := t.check(); err != nil {
		return nil, false, err
	}
	if key == "" {
		return nil, false, customerrors.ErrEmptyKey
	}

	value, found, err := t.store.backend.Get([]byte(Prefix + key))
	if err != nil {
		return nil, false, errors.Wrapf(err, "read '%s'", key)
	}
	return value, found, nil
}

// ReadManyBin calls fn with every committed key starting with prefix,
// prefix stripped, in backend order. ctx is checked before each call.
func (t *ReadTxn) ReadManyBin(ctx context.Context, prefix string, fn func(suffix string, value []byte) error) error {
	if err := t.check(); err != nil {
		return err
	}

	full := []byte(Prefix + prefix)
	pairs, err := t.store.backend.PrefixScan(full)
	if err != nil {
		return errors.Wrapf(err, "scan '%s'", prefix)
	}

	for _, p := range pairs {
		if !bytes.HasPrefix(p.Key, full) {
			panic(errors.Wrapf(ErrPrefixViolation, "key %q, prefix %q", p.Key, full))
		}
		if string(p.Key) == VersionKey {
			continue
		}
		if err := ctx.Err(); err != nil {
			return customerrors.Interrupted(err)
		}
		if err := fn(string(p.Key[len(full):]), p.Value); err != nil {
			return err
		}
	}
	return nil
}

// Release gives the grant back. It is safe to call more than once.
func (t *ReadTxn) Release() {
	if t.done {
		return
	}
	t.done = true
	t.acq.Release()
}

// WriteTxn is a ReadTxn with the exclusive grant and a private batch of
// staged mutations. Reads see committed data only.
type WriteTxn struct {
	ReadTxn
	batch *kv.Batch
}

// WriteBin stages an insert or overwrite of key. A nil value stages a
// delete.
func (t *WriteTxn) WriteBin(key string, value []byte) error {
	if err := t.check(); err != nil {
		return err
	}
	switch key {
		case "":            return customerrors.ErrEmptyKey
		case versionSuffix: return errors.Wrapf(ErrReservedKey, "'%s'", key)
	}

	if value == nil {
		t.batch.Delete([]byte(Prefix + key))
	} else {
		t.batch.Put([]byte(Prefix+key), value)
	}
	return nil
}

func (t *WriteTxn) DeleteBin(key string) error {
	return t.WriteBin(key, nil)
}

// Staged is the number of mutations waiting for Commit.
func (t *WriteTxn) Staged() int {
	return t.batch.Len()
}

// Commit applies every staged mutation atomically and releases the grant.
// The grant is released even if the backend fails, with nothing applied.
func (t *WriteTxn) Commit() error {
	if err := t.check(); err != nil {
		return err
	}
	defer t.ReadTxn.Release()

	n := t.batch.Len()
	err := t.store.backend.ApplyBatch(t.batch)
	t.batch.Reset()
	if err != nil {
		return errors.Wrap(err, "commit metadata")
	}

	t.store.log.Debugf("committed %d mutations", n)
	return nil
}

// Release discards staged mutations and gives the grant back.
func (t *WriteTxn) Release() {
	if t.done {
		return
	}
	if n := t.batch.Len(); n > 0 {
		t.store.log.Warnf("write transaction released without commit, %d mutations discarded", n)
		t.batch.Reset()
	}
	t.ReadTxn.Release()
}
