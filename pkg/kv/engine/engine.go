// Package engine opens a kv.Backend by engine name.
package engine

import (
	"os"

	"go-metastore/pkg/kv"
	"go-metastore/pkg/kv/boltkv"
	"go-metastore/pkg/kv/cachekv"
	"go-metastore/pkg/kv/pebblekv"

	"github.com/pkg/errors"
)

const (
	Pebble = "pebble"
	Bolt   = "bolt"
)

var ErrUnknownEngine = errors.New("unknown engine")

type Options struct {
	Engine string

	// MustExist fails Open if nothing has been created at the path.
	MustExist bool

	// ReadCacheSize in bytes, 0 disables the read cache.
	ReadCacheSize int64

	NoSync bool
}

var DefaultOptions = Options{
	Engine: Pebble,
}

// Open opens the backend at path, creating it unless MustExist is set.
func Open(path string, opts *Options) (kv.Backend, error) {
	if opts == nil {
		opts = &DefaultOptions
	}

	var (
		backend kv.Backend
		err     error
	)
	switch opts.Engine {
		case Pebble, "": backend, err = pebblekv.Open(path, &pebblekv.Options{MustExist: opts.MustExist, NoSync: opts.NoSync})
		case Bolt:       backend, err = boltkv.Open(path, &boltkv.Options{MustExist: opts.MustExist, NoSync: opts.NoSync})
		default:         return nil, errors.Wrapf(ErrUnknownEngine, "'%s'", opts.Engine)
	}
	if err != nil {
		return nil, err
	}

	if opts.ReadCacheSize > 0 {
		cached, err := cachekv.New(backend, opts.ReadCacheSize)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		backend = cached
	}

	return backend, nil
}

// Remove deletes whatever Open created at path. The backend must be closed.
func Remove(path string) error {
	return os.RemoveAll(path)
}
