// Package boltkv implements kv.Backend on a single bbolt file.
package boltkv

import (
	"bytes"
	"os"
	"sync/atomic"
	"time"

	"go-metastore/pkg/customerrors"
	"go-metastore/pkg/kv"
	"go-metastore/util/helpers"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

var bucketName = []byte("kv")

type Options struct {
	// MustExist fails Open if the file has not been created yet.
	MustExist bool

	// LockTimeout is how long Open waits for another process to release
	// the file lock.
	LockTimeout time.Duration

	// NoSync commits without fsync. Tests only.
	NoSync bool
}

var DefaultOptions = Options{
	LockTimeout: time.Second,
}

type Store struct {
	db     *bbolt.DB
	closed atomic.Bool
}

var _ kv.Backend = (*Store)(nil)

func Open(path string, opts *Options) (*Store, error) {
	if opts == nil {
		opts = &DefaultOptions
	}

	if opts.MustExist && !helpers.Exists(path) {
		return nil, errors.Wrapf(customerrors.ErrBackendOpen, "%s does not exist", path)
	}

	timeout := opts.LockTimeout
	if timeout <= 0 {
		timeout = DefaultOptions.LockTimeout
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: timeout,
		NoSync:  opts.NoSync,
	})
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, errors.Wrapf(customerrors.ErrFileInUse, "%s", path)
	} else if err != nil {
		return nil, errors.Wrapf(customerrors.ErrBackendOpen, "%s: %v", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(customerrors.ErrBackendOpen, "%s: %v", path, err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Get(key []byte) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, customerrors.ErrClosed
	}

	var val []byte
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key)
		if v != nil {
			val, found = helpers.CopyBytes(v), true
		}
		return nil
	})
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to get key %q", key)
	}
	return val, found, nil
}

func (s *Store) PrefixScan(prefix []byte) ([]kv.Pair, error) {
	if s.closed.Load() {
		return nil, customerrors.ErrClosed
	}

	pairs := []kv.Pair{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			pairs = append(pairs, kv.Pair{
				Key:   helpers.CopyBytes(k),
				Value: helpers.CopyBytes(v),
			})
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan prefix %q", prefix)
	}
	return pairs, nil
}

func (s *Store) ApplyBatch(b *kv.Batch) error {
	if s.closed.Load() {
		return customerrors.ErrClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		for _, op := range b.Ops() {
			var err error
			switch op.Type {
				case kv.OpPut:    err = bucket.Put(op.Key, op.Value)
				case kv.OpDelete: err = bucket.Delete(op.Key)
				default:          err = errors.Errorf("unknown batch op %d", op.Type)
			}
			if err != nil {
				return errors.Wrapf(err, "failed to apply %s of key %q", op.Type, op.Key)
			}
		}
		return nil
	})
	return errors.Wrap(err, "failed to commit batch")
}

func (s *Store) Path() string {
	return s.db.Path()
}

func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Remove deletes a closed store's file.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
