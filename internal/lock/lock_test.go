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

func TestMemory_SerializesSameKey(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, "addr-1")
			require.NoError(t, err)
			n := inside.Add(1)
			for {
				cur := maxInside.Load()
				if n <= cur || maxInside.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, m.Len())
}

func TestMemory_DifferentKeysIndependent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	u1, err := m.Lock(ctx, "a")
	require.NoError(t, err)
	defer u1()

	ctx2, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	u2, err := m.Lock(ctx2, "b")
	require.NoError(t, err)
	u2()
}

func TestMemory_ContextExpires(t *testing.T) {
	m := NewMemory()
	held, err := m.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotObtained))

	held()
	held() // second call is a no-op
	assert.Equal(t, 0, m.Len())
}
