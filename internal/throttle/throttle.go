package throttle

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"Cradle-storage/internal/future"
	"Cradle-storage/internal/metrics"
	"Cradle-storage/internal/storeerr"
)

// Semaphore is a counting semaphore backed by a buffered channel.
type Semaphore struct {
	sema  chan struct{}
	inUse int64
}

func NewSemaphore(limit int) *Semaphore {
	if limit <= 0 {
		panic("throttle: semaphore limit must be positive")
	}
	return &Semaphore{sema: make(chan struct{}, limit)}
}

// Acquire blocks until a permit is available or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.sema <- struct{}{}:
		atomic.AddInt64(&s.inUse, 1)
		return nil
	default:
	}
	select {
	case s.sema <- struct{}{}:
		atomic.AddInt64(&s.inUse, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a permit only if one is free.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.sema <- struct{}{}:
		atomic.AddInt64(&s.inUse, 1)
		return true
	default:
		return false
	}
}

func (s *Semaphore) Release() {
	atomic.AddInt64(&s.inUse, -1)
	<-s.sema
}

// InUse returns the number of permits currently held.
func (s *Semaphore) InUse() int {
	return int(atomic.LoadInt64(&s.inUse))
}

func (s *Semaphore) Capacity() int {
	return cap(s.sema)
}

// Operator gates asynchronous backend work behind a semaphore so that no
// more than the configured number of operations are in flight at once.
type Operator struct {
	sem *Semaphore
	log hclog.Logger
}

func NewOperator(maxParallel int, log hclog.Logger) *Operator {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Operator{
		sem: NewSemaphore(maxParallel),
		log: log,
	}
}

// InUse returns the number of operations currently started.
func (o *Operator) InUse() int {
	return o.sem.InUse()
}

func (o *Operator) Capacity() int {
	return o.sem.Capacity()
}

// Run acquires a permit and then runs fn asynchronously. The permit is
// released exactly once when fn returns, whatever its outcome. If the
// permit could not be acquired, fn is never invoked and the future fails
// with ThrottleAcquisitionInterrupted. Errors returned by fn reach the
// caller unchanged.
func Run[T any](ctx context.Context, o *Operator, fn func(context.Context) (T, error)) *future.Future[T] {
	f := future.New[T]()
	go func() {
		var zero T
		start := time.Now()
		if err := o.sem.Acquire(ctx); err != nil {
			metrics.ErrorsTotal.WithLabelValues(storeerr.ThrottleAcquisitionInterrupted.String()).Inc()
			o.log.Debug("permit acquisition interrupted", "error", err)
			f.Complete(zero, storeerr.Wrap(storeerr.ThrottleAcquisitionInterrupted, err, "could not acquire permit"))
			return
		}
		metrics.ThrottleWait.Observe(time.Since(start).Seconds())
		metrics.InflightRequests.Inc()

		var (
			v   T
			err error
		)
		func() {
			defer func() {
				metrics.InflightRequests.Dec()
				o.sem.Release()
				if r := recover(); r != nil {
					o.log.Error("throttled operation panicked", "panic", r)
					err = storeerr.Newf(storeerr.Backend, "operation panicked: %v", r)
				}
			}()
			v, err = fn(ctx)
		}()
		f.Complete(v, err)
	}()
	return f
}

// Do is the blocking form of Run.
func Do[T any](ctx context.Context, o *Operator, fn func(context.Context) (T, error)) (T, error) {
	return Run(ctx, o, fn).Result()
}
