// Package cachekv wraps a kv.Backend with a point lookup cache.
//
// Entries are invalidated when a batch touching them is applied, and the
// invalidation has fully settled before ApplyBatch returns. Callers must
// not apply batches concurrently with reads of the same keys; the metadata
// store's reader/writer lock guarantees this.
package cachekv

import (
	"go-metastore/pkg/kv"
	"go-metastore/util/helpers"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"
)

type Store struct {
	kv.Backend
	cache *ristretto.Cache[string, []byte]
}

var _ kv.Backend = (*Store)(nil)

// New caches up to maxCost bytes of keys and values read from b.
func New(b kv.Backend, maxCost int64) (*Store, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: helpers.Max(maxCost/64, 1024),
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create read cache")
	}

	return &Store{Backend: b, cache: cache}, nil
}

func (s *Store) Get(key []byte) ([]byte, bool, error) {
	if val, ok := s.cache.Get(string(key)); ok {
		return helpers.CopyBytes(val), true, nil
	}

	val, found, err := s.Backend.Get(key)
	if err != nil || !found {
		return val, found, err
	}

	s.cache.Set(string(key), helpers.CopyBytes(val), int64(len(key)+len(val)))
	return val, true, nil
}

func (s *Store) ApplyBatch(b *kv.Batch) error {
	err := s.Backend.ApplyBatch(b)

	// Drop cached keys even if the batch failed, the backend decides what
	// is visible.
	for _, op := range b.Ops() {
		s.cache.Del(string(op.Key))
	}
	s.cache.Wait()

	return err
}

func (s *Store) Close() error {
	s.cache.Close()
	return s.Backend.Close()
}
