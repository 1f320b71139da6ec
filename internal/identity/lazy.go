package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/your-org/faceid/internal/observability"
)

// Lazy loads a value on first use. Concurrent first callers share a single
// load. A successful result is kept for the life of the process; a failed
// load is reported as ErrModelUnavailable and retried by the next caller.
type Lazy[T any] struct {
	name  string
	load  func(ctx context.Context) (T, error)
	group singleflight.Group

	mu     sync.RWMutex
	value  T
	loaded bool
}

func NewLazy[T any](name string, load func(ctx context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{name: name, load: load}
}

// Ready wraps an already loaded value.
func Ready[T any](name string, value T) *Lazy[T] {
	return &Lazy[T]{name: name, value: value, loaded: true}
}

func (l *Lazy[T]) Name() string { return l.name }

func (l *Lazy[T]) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}

// Peek returns the value without triggering a load.
func (l *Lazy[T]) Peek() (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value, l.loaded
}

func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	if v, ok := l.Peek(); ok {
		return v, nil
	}

	// The load outlives a cancelled caller so that other waiters still get
	// a result.
	loadCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(l.name, func() (any, error) {
		if v, ok := l.Peek(); ok {
			return v, nil
		}

		slog.Info("loading model", "model", l.name)
		v, err := l.load(loadCtx)
		if err != nil {
			observability.ModelLoads.WithLabelValues(l.name, "failure").Inc()
			slog.Error("load model", "model", l.name, "error", err)
			return nil, err
		}

		l.mu.Lock()
		l.value = v
		l.loaded = true
		l.mu.Unlock()

		observability.ModelLoads.WithLabelValues(l.name, "success").Inc()
		slog.Info("model ready", "model", l.name)
		return v, nil
	})

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, fmt.Errorf("%w: load %s: %w", ErrModelUnavailable, l.name, res.Err)
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
