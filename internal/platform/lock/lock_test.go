package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_SerialisesSameKey(t *testing.T) {
	l := NewLocalLocker()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Lock(context.Background(), DoctorKey("d1"))
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, l.locks)
}

func TestLocalLocker_DifferentKeysIndependent(t *testing.T) {
	l := NewLocalLocker()
	r1, err := l.Lock(context.Background(), DoctorKey("d1"))
	require.NoError(t, err)
	defer r1()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r2, err := l.Lock(ctx, DoctorKey("d2"))
	require.NoError(t, err)
	r2()
}

func TestLocalLocker_ContextCancelled(t *testing.T) {
	l := NewLocalLocker()
	release, err := l.Lock(context.Background(), BillKey("b1"))
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, BillKey("b1"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestLocalLocker_ReleaseIsIdempotent(t *testing.T) {
	l := NewLocalLocker()
	release, err := l.Lock(context.Background(), SessionKey("s1"))
	require.NoError(t, err)
	release()
	release()

	again, err := l.Lock(context.Background(), SessionKey("s1"))
	require.NoError(t, err)
	again()
}

func TestLockAll_DeduplicatesAndReleases(t *testing.T) {
	l := NewLocalLocker()
	release, err := LockAll(context.Background(), l, PatientKey("p"), DoctorKey("d"), DoctorKey("d"))
	require.NoError(t, err)
	assert.Len(t, l.locks, 2)
	release()
	assert.Empty(t, l.locks)
}

type failingLocker struct {
	inner   Locker
	failKey string
}

func (f failingLocker) Lock(ctx context.Context, key string) (func(), error) {
	if key == f.failKey {
		return nil, errors.New("unavailable")
	}
	return f.inner.Lock(ctx, key)
}

func TestLockAll_ReleasesOnFailure(t *testing.T) {
	local := NewLocalLocker()
	l := failingLocker{inner: local, failKey: PatientKey("p")}
	_, err := LockAll(context.Background(), l, DoctorKey("d"), PatientKey("p"))
	require.Error(t, err)
	assert.Empty(t, local.locks)
}
