package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maypok86/otter"

	"fluxrules/internal/logger"
	"fluxrules/pkg/circuitbreaker"
	"fluxrules/pkg/metrics"
)

const (
	tierLocal  = "local"
	tierRemote = "remote"
)

type Options struct {
	// Namespace separates artifact kinds sharing one remote.
	Namespace     string
	KeyPrefix     string
	LocalCapacity int
	LocalTTL      time.Duration
	Remote        Remote
	RemoteTTL     time.Duration
	RemoteTimeout time.Duration
	Breaker       *circuitbreaker.Wrapper
	Logger        logger.Logger
}

// Tiered is a two-tier cache: an in-process otter tier that is always
// present and an optional remote tier. Remote failures are logged and
// counted, never returned.
type Tiered[V any] struct {
	local   otter.Cache[string, V]
	remote  Remote
	breaker *circuitbreaker.Wrapper
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	logger  logger.Logger
}

func New[V any](opts Options) (*Tiered[V], error) {
	if opts.LocalCapacity <= 0 {
		opts.LocalCapacity = 256
	}
	if opts.LocalTTL <= 0 {
		opts.LocalTTL = time.Minute
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logger.NopLogger()
	}

	local, err := otter.MustBuilder[string, V](opts.LocalCapacity).
		WithTTL(opts.LocalTTL).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build local cache: %w", err)
	}

	return &Tiered[V]{
		local:   local,
		remote:  opts.Remote,
		breaker: opts.Breaker,
		prefix:  opts.KeyPrefix + opts.Namespace + ":",
		ttl:     opts.RemoteTTL,
		timeout: opts.RemoteTimeout,
		logger:  opts.Logger,
	}, nil
}

// Get looks in the local tier, then the remote tier. A remote hit is copied
// into the local tier.
func (t *Tiered[V]) Get(ctx context.Context, key string) (V, bool) {
	if v, ok := t.local.Get(key); ok {
		metrics.IncCacheRequest(tierLocal, "hit")
		return v, true
	}
	metrics.IncCacheRequest(tierLocal, "miss")

	var zero V
	if t.remote == nil {
		return zero, false
	}

	raw, err := t.callRemote(ctx, "get", func(ctx context.Context) (interface{}, error) {
		return t.remote.Get(ctx, t.prefix+key)
	})
	if err != nil {
		if errors.Is(err, ErrMiss) {
			metrics.IncCacheRequest(tierRemote, "miss")
		}
		return zero, false
	}

	var v V
	if err := json.Unmarshal(raw.([]byte), &v); err != nil {
		t.logger.WarnwCtx(ctx, "Discarding undecodable remote cache entry", "key", t.prefix+key, "error", err)
		return zero, false
	}
	metrics.IncCacheRequest(tierRemote, "hit")
	t.local.Set(key, v)
	return v, true
}

// Set stores v in both tiers.
func (t *Tiered[V]) Set(ctx context.Context, key string, v V) {
	t.local.Set(key, v)
	if t.remote == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		t.logger.WarnwCtx(ctx, "Failed to encode cache entry for remote tier", "key", key, "error", err)
		return
	}
	_, _ = t.callRemote(ctx, "set", func(ctx context.Context) (interface{}, error) {
		return nil, t.remote.Set(ctx, t.prefix+key, data, t.ttl)
	})
}

// Invalidate drops every entry of this namespace from both tiers.
func (t *Tiered[V]) Invalidate(ctx context.Context) {
	t.local.Clear()
	if t.remote == nil {
		return
	}
	_, _ = t.callRemote(ctx, "invalidate", func(ctx context.Context) (interface{}, error) {
		return nil, t.remote.DeletePrefix(ctx, t.prefix)
	})
}

// Purge drops the local tier only. Entries other processes may still read
// from the remote tier are left alone.
func (t *Tiered[V]) Purge() {
	t.local.Clear()
}

func (t *Tiered[V]) Close() {
	t.local.Close()
}

// callRemote bounds a remote operation by the configured timeout and routes it
// through the breaker. Errors other than ErrMiss are logged and counted as fallbacks.
func (t *Tiered[V]) callRemote(ctx context.Context, op string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		v   interface{}
		err error
	}
	done := make(chan result, 1)
	go func() {
		if t.breaker == nil {
			v, err := fn(ctx)
			done <- result{v: v, err: err}
			return
		}
		// a miss is a healthy answer and must not count against the breaker
		var missed bool
		v, err := t.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
			v, err := fn(ctx)
			if errors.Is(err, ErrMiss) {
				missed = true
				return nil, nil
			}
			return v, err
		})
		if err == nil && missed {
			err = ErrMiss
		}
		done <- result{v: v, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
	}

	if r.err != nil && !errors.Is(r.err, ErrMiss) {
		reason := "error"
		if circuitbreaker.IsRejection(r.err) {
			reason = "circuit_open"
		} else if ctx.Err() != nil {
			reason = "timeout"
		}
		metrics.IncFallback("cache", "local_only", reason)
		metrics.IncCacheRequest(tierRemote, "error")
		t.logger.Warnw("Remote cache tier unavailable, using local tier",
			"operation", op,
			"reason", reason,
			"error", r.err,
		)
	}
	return r.v, r.err
}
