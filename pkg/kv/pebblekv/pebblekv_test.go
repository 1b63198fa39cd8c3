package pebblekv

import (
	"path/filepath"
	"testing"

	"go-metastore/pkg/customerrors"
	"go-metastore/pkg/kv"

	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, &Options{CacheSize: 1 << 20, NoSync: true})
	require.NoError(t, err)
	return s
}

func TestGetPutDelete(t *testing.T) {
	s := openTest(t, filepath.Join(t.TempDir(), "db"))
	defer s.Close()

	_, found, err := s.Get([]byte("missing"))
	require.NoError(t, err)
	require.False(t, found)

	b := kv.NewBatch()
	b.Put([]byte("a"), []byte("1"))
	b.Put([]byte("b"), []byte("2"))
	b.Delete([]byte("b"))
	require.NoError(t, s.ApplyBatch(b))

	val, found, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("1"), val)

	_, found, err = s.Get([]byte("b"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestPrefixScan(t *testing.T) {
	s := openTest(t, filepath.Join(t.TempDir(), "db"))
	defer s.Close()

	b := kv.NewBatch()
	b.Put([]byte("idx/a"), []byte("1"))
	b.Put([]byte("idx/b"), []byte("2"))
	b.Put([]byte("idx0"), []byte("x"))
	b.Put([]byte("other"), []byte("3"))
	require.NoError(t, s.ApplyBatch(b))

	pairs, err := s.PrefixScan([]byte("idx/"))
	require.NoError(t, err)
	require.Equal(t, []kv.Pair{
		{Key: []byte("idx/a"), Value: []byte("1")},
		{Key: []byte("idx/b"), Value: []byte("2")},
	}, pairs)

	pairs, err = s.PrefixScan(nil)
	require.NoError(t, err)
	require.Len(t, pairs, 4)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	_, err := Open(path, &Options{MustExist: true, NoSync: true})
	require.ErrorIs(t, err, customerrors.ErrBackendOpen)

	s := openTest(t, path)
	b := kv.NewBatch()
	b.Put([]byte("k"), []byte("v"))
	require.NoError(t, s.ApplyBatch(b))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, _, err = s.Get([]byte("k"))
	require.ErrorIs(t, err, customerrors.ErrClosed)

	s, err = Open(path, &Options{MustExist: true, NoSync: true})
	require.NoError(t, err)
	defer s.Close()

	val, found, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), val)
}
