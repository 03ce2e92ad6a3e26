package artifact

import (
	"context"
	"errors"
	"time"
)

// RetryStore retries origin calls up to maxAttempts with exponential
// backoff starting at baseDelay. Not-found, conflict and context errors are
// returned immediately. Put is retried as well since every pipeline write
// targets a fixed key with overwrite semantics.
type RetryStore struct {
	next Store
	max  int
	base time.Duration
}

func NewRetryStore(next Store, maxAttempts int, baseDelay time.Duration) *RetryStore {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	return &RetryStore{next: next, max: maxAttempts, base: baseDelay}
}

func (r *RetryStore) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := r.do(ctx, func() error {
		var err error
		out, err = r.next.Get(ctx, key)
		return err
	})
	return out, err
}

func (r *RetryStore) Put(ctx context.Context, key string, content []byte, overwrite bool) error {
	return r.do(ctx, func() error {
		return r.next.Put(ctx, key, content, overwrite)
	})
}

func (r *RetryStore) Exists(ctx context.Context, key string) (bool, error) {
	var out bool
	err := r.do(ctx, func() error {
		var err error
		out, err = r.next.Exists(ctx, key)
		return err
	})
	return out, err
}

func (r *RetryStore) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := r.do(ctx, func() error {
		var err error
		out, err = r.next.List(ctx, prefix)
		return err
	})
	return out, err
}

func (r *RetryStore) do(ctx context.Context, fn func() error) error {
	var last error
	for i := 0; i < r.max; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		if permanent(err) {
			return err
		}
		last = err
		if i == r.max-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.base * time.Duration(1<<i)):
		}
	}
	return last
}

func permanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
