package keylock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestLocalSerializesSameKey(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLocal()
	var inside, maxInside int32
	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			unlock, err := l.Lock(context.Background(), "sku-1|2024-06-01")
			if err != nil {
				return err
			}
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, l.Len())
}

func TestLocalUnrelatedKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocalHonoursContext(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Equal(t, 0, l.Len())
}

func TestLockAllDedupesAndOrders(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLocal()
	var g errgroup.Group
	var done int32
	for i := 0; i < 20; i++ {
		keys := []string{"x", "y", "x"}
		if i%2 == 0 {
			keys = []string{"y", "x"}
		}
		g.Go(func() error {
			unlock, err := LockAll(context.Background(), l, keys...)
			if err != nil {
				return err
			}
			atomic.AddInt32(&done, 1)
			unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(20), done)
	assert.Equal(t, 0, l.Len())
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, dedupe([]string{"c", "a", "b", "a"}))
	assert.Empty(t, dedupe(nil))
}
