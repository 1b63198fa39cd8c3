// Package pebblekv implements kv.Backend on a Pebble LSM store.
package pebblekv

import (
	"sync/atomic"
	"syscall"

	"go-metastore/pkg/customerrors"
	"go-metastore/pkg/kv"
	"go-metastore/util/helpers"
	"go-metastore/util/logger"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Options struct {
	// MustExist fails Open if the store has not been created yet.
	MustExist bool

	// CacheSize of the Pebble block cache in bytes.
	CacheSize int64

	// NoSync commits without fsync. Tests only.
	NoSync bool
}

var DefaultOptions = Options{
	CacheSize: 8 << 20,
}

type Store struct {
	db     *pebble.DB
	path   string
	wo     *pebble.WriteOptions
	closed atomic.Bool
}

var _ kv.Backend = (*Store)(nil)

// pebbleLogger routes Pebble's own messages to logrus.
type pebbleLogger struct {
	log *logrus.Entry
}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...interface{}) {
	l.log.Errorf(format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	l.log.Fatalf(format, args...)
}

// Open opens or creates the Pebble store in directory path.
func Open(path string, opts *Options) (*Store, error) {
	if opts == nil {
		opts = &DefaultOptions
	}

	// pebble creates the directory before checking ErrorIfNotExists.
	if opts.MustExist && !helpers.Exists(path) {
		return nil, errors.Wrapf(customerrors.ErrBackendOpen, "%s does not exist", path)
	}

	cacheSize := opts.CacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultOptions.CacheSize
	}

	cache := pebble.NewCache(cacheSize)
	defer cache.Unref()

	db, err := pebble.Open(path, &pebble.Options{
		Cache:            cache,
		ErrorIfNotExists: opts.MustExist,
		Logger:           &pebbleLogger{log: logger.Named("pebble")},
	})
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EACCES) {
			return nil, errors.Wrapf(customerrors.ErrFileInUse, "%s: %v", path, err)
		}
		return nil, errors.Wrapf(customerrors.ErrBackendOpen, "%s: %v", path, err)
	}

	wo := pebble.Sync
	if opts.NoSync {
		wo = pebble.NoSync
	}

	return &Store{db: db, path: path, wo: wo}, nil
}

func (s *Store) Get(key []byte) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, customerrors.ErrClosed
	}

	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, errors.Wrapf(err, "failed to get key %q", key)
	}
	defer closer.Close()

	return helpers.CopyBytes(val), true, nil
}

func (s *Store) PrefixScan(prefix []byte) ([]kv.Pair, error) {
	if s.closed.Load() {
		return nil, customerrors.ErrClosed
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: kv.PrefixEnd(prefix),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan prefix %q", prefix)
	}

	pairs := []kv.Pair{}
	for iter.First(); iter.Valid(); iter.Next() {
		pairs = append(pairs, kv.Pair{
			Key:   helpers.CopyBytes(iter.Key()),
			Value: helpers.CopyBytes(iter.Value()),
		})
	}

	if err := iter.Error(); err != nil {
		_ = iter.Close()
		return nil, errors.Wrapf(err, "failed to scan prefix %q", prefix)
	}
	return pairs, iter.Close()
}

func (s *Store) ApplyBatch(b *kv.Batch) error {
	if s.closed.Load() {
		return customerrors.ErrClosed
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, op := range b.Ops() {
		var err error
		switch op.Type {
			case kv.OpPut:    err = batch.Set(op.Key, op.Value, nil)
			case kv.OpDelete: err = batch.Delete(op.Key, nil)
			default:          err = errors.Errorf("unknown batch op %d", op.Type)
		}
		if err != nil {
			return errors.Wrapf(err, "failed to stage %s of key %q", op.Type, op.Key)
		}
	}

	return errors.Wrap(batch.Commit(s.wo), "failed to commit batch")
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
