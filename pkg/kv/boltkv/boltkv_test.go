package boltkv

import (
	"path/filepath"
	"testing"
	"time"

	"go-metastore/pkg/customerrors"
	"go-metastore/pkg/kv"

	"github.com/stretchr/testify/require"
)

func TestBatchAndScan(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "meta.db"), &Options{NoSync: true})
	require.NoError(t, err)
	defer s.Close()

	b := kv.NewBatch()
	b.Put([]byte("idx/a"), []byte("1"))
	b.Put([]byte("idx/b"), []byte("2"))
	b.Put([]byte("other"), []byte("3"))
	b.Put([]byte("idx/c"), []byte("4"))
	b.Delete([]byte("idx/c"))
	require.NoError(t, s.ApplyBatch(b))

	pairs, err := s.PrefixScan([]byte("idx/"))
	require.NoError(t, err)
	require.Equal(t, []kv.Pair{
		{Key: []byte("idx/a"), Value: []byte("1")},
		{Key: []byte("idx/b"), Value: []byte("2")},
	}, pairs)

	val, found, err := s.Get([]byte("other"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("3"), val)

	_, found, err = s.Get([]byte("idx/c"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestEmptyValueIsFound(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "meta.db"), &Options{NoSync: true})
	require.NoError(t, err)
	defer s.Close()

	b := kv.NewBatch()
	b.Put([]byte("empty"), []byte{})
	require.NoError(t, s.ApplyBatch(b))

	val, found, err := s.Get([]byte("empty"))
	require.NoError(t, err)
	require.True(t, found)
	require.Empty(t, val)
}

func TestMustExistAndFileInUse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")

	_, err := Open(path, &Options{MustExist: true})
	require.ErrorIs(t, err, customerrors.ErrBackendOpen)

	s, err := Open(path, &Options{NoSync: true})
	require.NoError(t, err)

	_, err = Open(path, &Options{LockTimeout: 50 * time.Millisecond})
	require.ErrorIs(t, err, customerrors.ErrFileInUse)

	require.NoError(t, s.Close())
	require.ErrorIs(t, s.ApplyBatch(kv.NewBatch()), customerrors.ErrClosed)

	s, err = Open(path, &Options{MustExist: true, NoSync: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, Remove(path))
	require.NoError(t, Remove(path))
}
