package resource

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedLoader blocks each load until the test releases it.
type gatedLoader struct {
	calls   atomic.Int32
	release chan struct{}
	result  []string
}

func newGatedLoader(result []string) *gatedLoader {
	return &gatedLoader{release: make(chan struct{}), result: result}
}

func (l *gatedLoader) load(ctx context.Context, key string) ([]string, error) {
	l.calls.Add(1)
	select {
	case <-l.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return l.result, nil
}

func instantLoader(calls *atomic.Int32, values ...string) Loader[string] {
	return func(context.Context, string) ([]string, error) {
		calls.Add(1)
		return values, nil
	}
}

func TestCacheCoalescesConcurrentFetches(t *testing.T) {
	l := newGatedLoader([]string{"rg-a"})
	c := NewCache("test", l.load)

	var wg sync.WaitGroup
	results := make([][]string, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Fetch(context.Background(), "sub-A")
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	require.Eventually(t, func() bool { return l.calls.Load() == 1 }, time.Second, time.Millisecond)
	// Give the second caller time to join the flight before releasing it.
	time.Sleep(20 * time.Millisecond)
	close(l.release)
	wg.Wait()

	assert.Equal(t, int32(1), l.calls.Load())
	assert.Equal(t, []string{"rg-a"}, results[0])
	assert.Equal(t, []string{"rg-a"}, results[1])
}

func TestCacheServesStaleAfterWindow(t *testing.T) {
	var calls atomic.Int32
	slow := make(chan struct{})
	var slowMode atomic.Bool
	c := NewCache("test", func(ctx context.Context, key string) ([]string, error) {
		calls.Add(1)
		if slowMode.Load() {
			<-slow
			return []string{"fresh"}, nil
		}
		return []string{"stale"}, nil
	}, WithStaleness(500*time.Millisecond))

	v, err := c.Fetch(context.Background(), "sub-A")
	require.NoError(t, err)
	require.Equal(t, []string{"stale"}, v)

	slowMode.Store(true)
	start := time.Now()
	v, err = c.Fetch(context.Background(), "sub-A")
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, v)
	assert.GreaterOrEqual(t, elapsed, 450*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	close(slow)
	require.Eventually(t, func() bool {
		cur, _ := c.Current("sub-A")
		return len(cur) == 1 && cur[0] == "fresh"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCacheFreshWithinWindow(t *testing.T) {
	var calls atomic.Int32
	values := []string{"v1"}
	var mu sync.Mutex
	c := NewCache("test", func(context.Context, string) ([]string, error) {
		calls.Add(1)
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), values...), nil
	})

	_, err := c.Fetch(context.Background(), "k")
	require.NoError(t, err)

	mu.Lock()
	values = []string{"v2"}
	mu.Unlock()
	v, err := c.Fetch(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCacheFailureKeepsCurrent(t *testing.T) {
	var fail atomic.Bool
	c := NewCache("test", func(context.Context, string) ([]string, error) {
		if fail.Load() {
			return nil, errors.New("boom")
		}
		return []string{"good"}, nil
	})

	_, err := c.Fetch(context.Background(), "k")
	require.NoError(t, err)

	fail.Store(true)
	v, err := c.Fetch(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, v)

	cur, ok := c.Current("k")
	assert.True(t, ok)
	assert.Equal(t, []string{"good"}, cur)
}

func TestCacheColdFailurePropagates(t *testing.T) {
	c := NewCache("test", func(context.Context, string) ([]string, error) {
		return nil, ErrNotLoggedIn
	})

	_, err := c.Fetch(context.Background(), "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFetchFailed))
	assert.True(t, errors.Is(err, ErrNotLoggedIn))
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "k", fe.Key)

	_, ok := c.Current("k")
	assert.False(t, ok)
}

func TestCacheCallerCancelDoesNotStopLoad(t *testing.T) {
	l := newGatedLoader([]string{"x"})
	c := NewCache("test", l.load)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctx, "k")
		done <- err
	}()
	require.Eventually(t, func() bool { return l.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(l.release)
	require.Eventually(t, func() bool {
		_, ok := c.Current("k")
		return ok
	}, time.Second, time.Millisecond)
}

func TestCachePartitionsAreIndependent(t *testing.T) {
	var calls atomic.Int32
	c := NewCache("test", instantLoader(&calls, "a"))

	_, err := c.Fetch(context.Background(), "sub-A")
	require.NoError(t, err)
	c.Refresh("sub-B")
	require.Eventually(t, func() bool {
		_, ok := c.Current("sub-B")
		return ok
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}
