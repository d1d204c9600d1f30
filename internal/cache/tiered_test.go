package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fluxrules/pkg/circuitbreaker"
)

type fakeRemote struct {
	mu    sync.Mutex
	data  map[string][]byte
	fail  error
	delay time.Duration
	calls int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: make(map[string][]byte)}
}

func (f *fakeRemote) wait(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	delay, fail := f.delay, f.fail
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fail
}

func (f *fakeRemote) Get(ctx context.Context, key string) ([]byte, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, ErrMiss
	}
	return v, nil
}

func (f *fakeRemote) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeRemote) DeletePrefix(ctx context.Context, prefix string) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			delete(f.data, k)
		}
	}
	return nil
}

type artifact struct {
	Version uint64   `json:"version"`
	IDs     []string `json:"ids"`
}

func newTiered(t *testing.T, remote Remote, breaker *circuitbreaker.Wrapper) *Tiered[artifact] {
	t.Helper()
	c, err := New[artifact](Options{
		Namespace:     "conflicts",
		KeyPrefix:     "rule_engine:",
		LocalCapacity: 16,
		LocalTTL:      time.Minute,
		Remote:        remote,
		RemoteTTL:     time.Minute,
		RemoteTimeout: 50 * time.Millisecond,
		Breaker:       breaker,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestTiered_LocalOnly(t *testing.T) {
	c := newTiered(t, nil, nil)
	ctx := context.Background()

	_, ok := c.Get(ctx, "v1")
	assert.False(t, ok)

	c.Set(ctx, "v1", artifact{Version: 1, IDs: []string{"a"}})
	got, ok := c.Get(ctx, "v1")
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.Version)

	c.Invalidate(ctx)
	_, ok = c.Get(ctx, "v1")
	assert.False(t, ok)
}

func TestTiered_WritesThroughAndReadsRemote(t *testing.T) {
	remote := newFakeRemote()
	ctx := context.Background()

	writer := newTiered(t, remote, nil)
	writer.Set(ctx, "v7", artifact{Version: 7, IDs: []string{"r1", "r2"}})
	assert.Contains(t, remote.data, "rule_engine:conflicts:v7")

	// a second process with a cold local tier reads through to the remote
	reader := newTiered(t, remote, nil)
	got, ok := reader.Get(ctx, "v7")
	require.True(t, ok)
	assert.Equal(t, []string{"r1", "r2"}, got.IDs)

	callsBefore := remote.calls
	_, ok = reader.Get(ctx, "v7")
	require.True(t, ok)
	assert.Equal(t, callsBefore, remote.calls, "second read must be served locally")
}

func TestTiered_RemoteFailureFallsBack(t *testing.T) {
	remote := newFakeRemote()
	remote.fail = errors.New("connection refused")
	c := newTiered(t, remote, nil)
	ctx := context.Background()

	c.Set(ctx, "v1", artifact{Version: 1})
	got, ok := c.Get(ctx, "v1")
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.Version)

	_, ok = c.Get(ctx, "v2")
	assert.False(t, ok)
}

func TestTiered_SlowRemoteIsBounded(t *testing.T) {
	remote := newFakeRemote()
	remote.delay = time.Second
	c := newTiered(t, remote, nil)

	start := time.Now()
	_, ok := c.Get(context.Background(), "v1")
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestTiered_MissDoesNotTripBreaker(t *testing.T) {
	remote := newFakeRemote()
	cfg := circuitbreaker.DefaultConfig("cache-test-miss")
	cfg.ReadyToTrip = circuitbreaker.RatioTrip(1, 0.1)
	breaker := circuitbreaker.NewWrapper(cfg)
	c := newTiered(t, remote, breaker)

	for i := 0; i < 5; i++ {
		_, ok := c.Get(context.Background(), "absent")
		assert.False(t, ok)
	}
	assert.False(t, breaker.IsOpen())
}

func TestTiered_OpenBreakerSkipsRemote(t *testing.T) {
	remote := newFakeRemote()
	remote.fail = errors.New("boom")
	cfg := circuitbreaker.DefaultConfig("cache-test-open")
	cfg.ReadyToTrip = circuitbreaker.RatioTrip(1, 0.5)
	breaker := circuitbreaker.NewWrapper(cfg)
	c := newTiered(t, remote, breaker)

	_, _ = c.Get(context.Background(), "x")
	require.True(t, breaker.IsOpen())

	calls := remote.calls
	_, ok := c.Get(context.Background(), "x")
	assert.False(t, ok)
	assert.Equal(t, calls, remote.calls)
}

func TestTiered_InvalidateClearsRemoteNamespace(t *testing.T) {
	remote := newFakeRemote()
	remote.data["rule_engine:graph:v1"] = []byte(`{}`)
	c := newTiered(t, remote, nil)
	ctx := context.Background()

	c.Set(ctx, "v1", artifact{Version: 1})
	c.Invalidate(ctx)

	assert.NotContains(t, remote.data, "rule_engine:conflicts:v1")
	assert.Contains(t, remote.data, "rule_engine:graph:v1")
}
