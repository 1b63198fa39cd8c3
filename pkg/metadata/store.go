// Package metadata is the transactional metadata store of the engine: a
// namespace of a key-value backend holding configuration and index
// bookkeeping, guarded by one fair reader/writer lock.
//
// A store is either opened, in which case its version marker must match the
// current format exactly, or created, in which case it is initialized under
// a temporary path and published only after the initializer's transaction
// committed. Publishing never replaces a store that appeared at the path in
// the meantime.
package metadata

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go-metastore/pkg/customerrors"
	"go-metastore/pkg/kv"
	"go-metastore/pkg/kv/engine"
	"go-metastore/pkg/rwlock"
	"go-metastore/pkg/version"
	"go-metastore/util/helpers"
	"go-metastore/util/logger"
	"go-metastore/util/timer"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// slowWait is how long a transaction waits for the lock before it is
// reported.
const slowWait = 5 * time.Second

const (
	// Prefix is the namespace of every metadata key in the backend.
	Prefix = "metadata/"

	// VersionKey holds the format token. It is reserved: transactions can
	// neither write nor enumerate it.
	VersionKey = Prefix + "version"

	versionSuffix = "version"
)

var (
	ErrUnsupportedVersion = errors.New("unsupported metadata version")
	ErrExists             = errors.New("metadata store already exists")
	ErrReservedKey        = errors.New("reserved metadata key")
	ErrTxnDone            = errors.New("transaction already finished")

	// ErrPrefixViolation is the panic value when the backend returns a key
	// outside of the scanned prefix.
	ErrPrefixViolation = errors.New("backend returned a key outside of the requested prefix")
)

// Initializer fills a new store. Its transaction is committed by Create.
type Initializer func(ctx context.Context, txn *WriteTxn) error

type Options struct {
	Backend engine.Options
}

var DefaultOptions = Options{
	Backend: engine.DefaultOptions,
}

type Store struct {
	path    string
	backend kv.Backend
	lock    *rwlock.Lock
	closed  atomic.Bool
	log     *logrus.Entry
}

func newStore(path string, backend kv.Backend) *Store {
	return &Store{
		path:    path,
		backend: backend,
		lock:    rwlock.New(),
		log:     logger.Named("metadata").WithField("path", path),
	}
}

// Open opens the existing store at path.
func Open(ctx context.Context, path string, opts *Options) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, customerrors.Interrupted(err)
	}
	return open(path, opts)
}

func open(path string, opts *Options) (*Store, error) {
	if opts == nil {
		opts = &DefaultOptions
	}

	backendOpts := opts.Backend
	backendOpts.MustExist = true
	backend, err := engine.Open(path, &backendOpts)
	if err != nil {
		return nil, err
	}
	return openWith(path, backend)
}

// openWith takes ownership of backend: it is closed if the version check
// rejects it.
func openWith(path string, backend kv.Backend) (*Store, error) {
	if err := checkVersion(backend); err != nil {
		_ = backend.Close()
		return nil, err
	}

	s := newStore(path, backend)
	s.log.Infof("opened, version %s", version.Latest)
	return s, nil
}

func checkVersion(backend kv.Backend) error {
	value, found, err := backend.Get([]byte(VersionKey))
	if err != nil {
		return err
	}
	if !found {
		return errors.Wrap(ErrUnsupportedVersion, "no version marker")
	}

	token := string(value)
	if token == version.Latest.Token() {
		return nil
	}

	// Known tokens other than Latest are all older.
	if v, known := version.ParseToken(token); known {
		return errors.Wrapf(ErrUnsupportedVersion, "store was written by release %s, migrate it to %s first", v.Release(), version.Latest.Release())
	}
	if version.IsNewerToken(token) {
		return errors.Wrapf(ErrUnsupportedVersion, "store version '%s' is newer than '%s'", token, version.Latest.Token())
	}
	return errors.Wrapf(ErrUnsupportedVersion, "unknown version '%s', expected '%s'", token, version.Latest.Token())
}

// Create builds a new store at path and returns it opened. Nothing is
// visible at path unless the initializer's transaction committed.
func Create(ctx context.Context, path string, opts *Options, initializer Initializer) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, customerrors.Interrupted(err)
	}
	if opts == nil {
		opts = &DefaultOptions
	}
	if helpers.Exists(path) {
		return nil, errors.Wrapf(ErrExists, "'%s'", path)
	}
	dir := filepath.Dir(path)
	if err := helpers.CreateDir(dir); err != nil {
		return nil, errors.Wrapf(customerrors.ErrBackendOpen, "%s: %v", dir, err)
	}

	tmp := path + ".tmp-" + uuid.NewString()
	if err := build(ctx, tmp, opts, initializer); err != nil {
		_ = engine.Remove(tmp)
		return nil, err
	}

	if err := publish(tmp, path); err != nil {
		_ = engine.Remove(tmp)
		if os.IsExist(err) {
			return nil, errors.Wrapf(ErrExists, "'%s'", path)
		}
		return nil, errors.Wrapf(err, "publish '%s'", path)
	}
	logger.Named("metadata").WithField("path", path).Info("created")

	return open(path, opts)
}

// publish moves tmp to path without replacing a store created at path since
// the existence check. A file is hard linked, which fails on any existing
// target. A directory is renamed, which fails on a non-empty one.
func publish(tmp, path string) error {
	info, err := os.Stat(tmp)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return os.Rename(tmp, path)
	}

	if err := os.Link(tmp, path); err != nil {
		return err
	}
	if err := os.Remove(tmp); err != nil {
		logger.Named("metadata").WithField("path", tmp).Warnf("remove temporary link: %v", err)
	}
	return nil
}

func build(ctx context.Context, tmp string, opts *Options, initializer Initializer) error {
	backendOpts := opts.Backend
	backendOpts.MustExist = false
	backend, err := engine.Open(tmp, &backendOpts)
	if err != nil {
		return err
	}
	s := newStore(tmp, backend)

	b := kv.NewBatch()
	b.Put([]byte(VersionKey), []byte(version.Latest.Token()))
	if err := backend.ApplyBatch(b); err != nil {
		_ = s.Close()
		return err
	}

	// Nobody else can see the store yet, the lock is uncontended.
	txn, err := s.OpenWrite(context.Background())
	if err != nil {
		_ = s.Close()
		return err
	}

	if initializer != nil {
		if err := initializer(ctx, txn); err != nil {
			txn.Release()
			_ = s.Close()
			return errors.Wrap(err, "initialize metadata")
		}
	}

	if err := txn.Commit(); err != nil {
		_ = s.Close()
		return err
	}
	return s.Close()
}

func (s *Store) Path() string {
	return s.path
}

// Backend is the backend the store lives in. Keys outside of Prefix belong
// to other namespaces sharing it, such as table shard metadata.
func (s *Store) Backend() kv.Backend {
	return s.backend
}

// OpenRead blocks until a shared grant is available or ctx is done.
func (s *Store) OpenRead(ctx context.Context) (*ReadTxn, error) {
	acq, err := s.acquire(ctx, rwlock.Read)
	if err != nil {
		return nil, err
	}
	s.log.Debug("read transaction opened")
	return &ReadTxn{store: s, acq: acq}, nil
}

// OpenWrite blocks until the exclusive grant is available or ctx is done.
func (s *Store) OpenWrite(ctx context.Context) (*WriteTxn, error) {
	acq, err := s.acquire(ctx, rwlock.Write)
	if err != nil {
		return nil, err
	}
	s.log.Debug("write transaction opened")
	return &WriteTxn{
		ReadTxn: ReadTxn{store: s, acq: acq},
		batch:   kv.NewBatch(),
	}, nil
}

func (s *Store) acquire(ctx context.Context, access rwlock.Access) (*rwlock.Acquisition, error) {
	if s.closed.Load() {
		return nil, customerrors.ErrClosed
	}

	slow := timer.SetTimeout(slowWait, func() {
		s.log.Warnf("%s transaction waiting for the lock for more than %s", access, slowWait)
	})
	acq, err := s.lock.Acquire(ctx, access)
	slow.Stop()
	if err != nil {
		return nil, err
	}

	if s.closed.Load() {
		acq.Release()
		return nil, customerrors.ErrClosed
	}
	return acq, nil
}

// Close waits for every open transaction to finish and closes the backend.
func (s *Store) Close() error {
	acq, err := s.lock.Acquire(context.Background(), rwlock.Write)
	if err != nil {
		return err
	}
	defer acq.Release()

	if s.closed.Swap(true) {
		return nil
	}
	s.log.Debug("closed")
	return s.backend.Close()
}
