package limiter

import (
	"context"
	"sync"

	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/semaphore"
)

// Semaphore bounds the number of concurrent render pipelines. Waiters
// are served in FIFO order.
type Semaphore struct {
	sem *semaphore.Weighted
}

// NewSemaphore creates a semaphore with n permits.
func NewSemaphore(n int) *Semaphore {
	if n < 1 {
		n = 1
	}
	return &Semaphore{sem: semaphore.NewWeighted(int64(n))}
}

// Acquire blocks until a permit is available or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	return s.sem.Acquire(ctx, 1)
}

// Release returns a permit.
func (s *Semaphore) Release() {
	s.sem.Release(1)
}

// Map applies fn to every item with at most limit calls in flight. The
// result slice has the same length and order as items; a slot is nil
// when its mapper failed. Mapper errors never propagate; they are
// logged and the slot stays absent.
func Map[T, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) (R, error)) []*R {
	if limit < 1 {
		limit = 1
	}

	out := make([]*R, len(items))
	tokens := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, item := range items {
		tokens <- struct{}{}
		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()
			defer func() { <-tokens }()

			v, err := fn(ctx, item)
			if err != nil {
				zlog.Logger.Warn().Err(err).Int("index", i).Msg("parallel map item failed")
				return
			}
			out[i] = &v
		}(i, item)
	}

	wg.Wait()
	return out
}
