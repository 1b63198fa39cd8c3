// Package rwlock provides a fair, cancellable reader/writer lock.
//
// Acquisitions are granted in request order: a writer waiting for readers
// to drain blocks every reader that asks after it, so writers never starve.
// A cancelled wait leaves nothing held.
package rwlock

import (
	"context"
	"sync"

	"go-metastore/pkg/customerrors"

	"golang.org/x/sync/semaphore"
)

type Access int

const (
	Read Access = iota
	Write
)

func (a Access) String() string {
	if a == Write {
		return "write"
	}
	return "read"
}

// maxReaders bounds the number of concurrent read acquisitions.
const maxReaders = 1 << 30

type Lock struct {
	sem *semaphore.Weighted
}

func New() *Lock {
	return &Lock{sem: semaphore.NewWeighted(maxReaders)}
}

func weight(access Access) int64 {
	if access == Write {
		return maxReaders
	}
	return 1
}

// Acquire blocks until the lock is granted or ctx is done.
func (l *Lock) Acquire(ctx context.Context, access Access) (*Acquisition, error) {
	if err := l.sem.Acquire(ctx, weight(access)); err != nil {
		return nil, customerrors.Interrupted(err)
	}

	a := newAcquisition(l, access, func() {})
	a.granted = true
	close(a.ready)
	close(a.done)
	return a, nil
}

// TryAcquire grants the lock only if no one holds a conflicting acquisition
// and no one is queued.
func (l *Lock) TryAcquire(access Access) (*Acquisition, bool) {
	if !l.sem.TryAcquire(weight(access)) {
		return nil, false
	}

	a := newAcquisition(l, access, func() {})
	a.granted = true
	close(a.ready)
	close(a.done)
	return a, true
}

// AcquireAsync queues a request and returns immediately. The request keeps
// its place in line; Ready is closed once it is granted. Releasing before
// the grant withdraws the request.
func (l *Lock) AcquireAsync(access Access) *Acquisition {
	ctx, cancel := context.WithCancel(context.Background())
	a := newAcquisition(l, access, cancel)

	go func() {
		defer close(a.done)
		if err := l.sem.Acquire(ctx, weight(access)); err != nil {
			return
		}
		a.granted = true
		close(a.ready)
	}()

	return a
}

// Acquisition is one grant, or one pending request, on a Lock.
type Acquisition struct {
	lock    *Lock
	access  Access
	ready   chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
	granted bool
	once    sync.Once
}

func newAcquisition(l *Lock, access Access, cancel context.CancelFunc) *Acquisition {
	return &Acquisition{
		lock:   l,
		access: access,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

func (a *Acquisition) Access() Access {
	return a.access
}

// Ready is closed once the acquisition is granted. It is never closed for
// a request released before being granted.
func (a *Acquisition) Ready() <-chan struct{} {
	return a.ready
}

// Wait blocks until the acquisition is granted or ctx is done. On
// cancellation the request stays queued; release it to withdraw.
func (a *Acquisition) Wait(ctx context.Context) error {
	select {
	case <-a.ready:
		return nil
	default:
	}

	select {
	case <-a.ready:
		return nil
	case <-ctx.Done():
		return customerrors.Interrupted(ctx.Err())
	}
}

// Release gives the grant back or withdraws the pending request. It is safe
// to call more than once.
func (a *Acquisition) Release() {
	if a == nil {
		return
	}

	a.once.Do(func() {
		a.cancel()
		<-a.done
		if a.granted {
			a.lock.sem.Release(weight(a.access))
		}
	})
}
