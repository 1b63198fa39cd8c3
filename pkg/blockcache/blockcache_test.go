package blockcache

import (
	"path/filepath"
	"testing"
	"time"

	"go-metastore/pkg/pager"
	"go-metastore/pkg/rwlock"

	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) *Cache {
	t.Helper()
	p, err := pager.Open(filepath.Join(t.TempDir(), "blocks.dat"), 512, false, 0644)
	require.NoError(t, err)
	c := New(p)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func wait(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("signal did not fire")
	}
}

func fired(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-time.After(50 * time.Millisecond):
		return false
	}
}

func TestWriteThenRead(t *testing.T) {
	c := newCache(t)

	w := c.Acquire(0, rwlock.Write)
	wait(t, w.WriteReady())
	data, err := w.DataWrite()
	require.NoError(t, err)
	require.Len(t, data, 512)
	data[0] = 42
	require.NoError(t, w.Release())
	require.NoError(t, w.Release())

	r := c.Acquire(0, rwlock.Read)
	wait(t, r.ReadReady())
	require.False(t, fired(r.WriteReady()))

	data, err = r.Data()
	require.NoError(t, err)
	require.Equal(t, byte(42), data[0])

	_, err = r.DataWrite()
	require.ErrorIs(t, err, ErrReadAccess)
	require.NoError(t, r.Release())

	_, err = r.Data()
	require.ErrorIs(t, err, ErrReleasedBuf)
}

func TestSignalsOrdered(t *testing.T) {
	c := newCache(t)

	r := c.Acquire(1, rwlock.Read)
	wait(t, r.ReadReady())

	w := c.Acquire(1, rwlock.Write)
	require.False(t, fired(w.WriteReady()))
	_, err := w.Data()
	require.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, r.Release())
	wait(t, w.WriteReady())
	require.NoError(t, w.Release())
}

func TestReleaseBeforeGrant(t *testing.T) {
	c := newCache(t)

	w1 := c.Acquire(2, rwlock.Write)
	wait(t, w1.WriteReady())

	w2 := c.Acquire(2, rwlock.Write)
	require.NoError(t, w2.Release())
	require.NoError(t, w1.Release())

	w3 := c.Acquire(2, rwlock.Write)
	wait(t, w3.WriteReady())
	require.NoError(t, w3.Release())

	c.mu.Lock()
	require.Empty(t, c.blocks)
	c.mu.Unlock()
}

func TestAlloc(t *testing.T) {
	c := newCache(t)

	b, err := c.Alloc()
	require.NoError(t, err)
	require.Equal(t, uint64(0), b.ID())
	wait(t, b.WriteReady())
	require.NoError(t, b.Release())

	b, err = c.Alloc()
	require.NoError(t, err)
	require.Equal(t, uint64(1), b.ID())
	require.NoError(t, b.Release())
	require.NoError(t, c.Sync())
}
