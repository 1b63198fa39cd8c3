package cachekv

import (
	"testing"

	"go-metastore/pkg/kv"

	"github.com/stretchr/testify/require"
)

// mapBackend counts lookups that reach it.
type mapBackend struct {
	data map[string][]byte
	gets int
}

func (m *mapBackend) Get(key []byte) ([]byte, bool, error) {
	m.gets++
	v, ok := m.data[string(key)]
	return v, ok, nil
}

func (m *mapBackend) PrefixScan(prefix []byte) ([]kv.Pair, error) {
	return nil, nil
}

func (m *mapBackend) ApplyBatch(b *kv.Batch) error {
	for _, op := range b.Ops() {
		if op.Type == kv.OpDelete {
			delete(m.data, string(op.Key))
		} else {
			m.data[string(op.Key)] = op.Value
		}
	}
	return nil
}

func (m *mapBackend) Close() error {
	return nil
}

func TestCachedGet(t *testing.T) {
	backend := &mapBackend{data: map[string][]byte{"k": []byte("v1")}}
	s, err := New(backend, 1<<20)
	require.NoError(t, err)
	defer s.Close()

	val, found, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v1"), val)
	s.cache.Wait()

	val[0] = 'x'
	val, _, err = s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), val)
	require.Equal(t, 1, backend.gets)

	_, found, err = s.Get([]byte("missing"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestBatchInvalidates(t *testing.T) {
	backend := &mapBackend{data: map[string][]byte{"k": []byte("v1"), "d": []byte("gone")}}
	s, err := New(backend, 1<<20)
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.Get([]byte("k"))
	require.NoError(t, err)
	_, _, err = s.Get([]byte("d"))
	require.NoError(t, err)
	s.cache.Wait()

	b := kv.NewBatch()
	b.Put([]byte("k"), []byte("v2"))
	b.Delete([]byte("d"))
	require.NoError(t, s.ApplyBatch(b))

	val, found, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v2"), val)

	_, found, err = s.Get([]byte("d"))
	require.NoError(t, err)
	require.False(t, found)
}
