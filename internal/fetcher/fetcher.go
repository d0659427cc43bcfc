// internal/fetcher/fetcher.go
package fetcher

import (
	"context"
	"math"
	"time"

	"github.com/hashicorp/go-hclog"

	"Cradle-storage/internal/config"
	"Cradle-storage/internal/future"
	"Cradle-storage/internal/metrics"
	"Cradle-storage/internal/storage"
	"Cradle-storage/internal/storeerr"
	"Cradle-storage/internal/throttle"
)

// Policy is an exponential backoff schedule bounded by a number of attempts.
type Policy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	Multiplier  float64
}

func PolicyFrom(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		MinBackoff:  cfg.MinBackoff,
		MaxBackoff:  cfg.MaxBackoff,
		Multiplier:  cfg.Multiplier,
	}
}

// Backoff returns the pause after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.MinBackoff <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.MinBackoff) * math.Pow(mult, float64(attempt-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Fetcher issues backend reads and writes through the throttle, re-issuing
// them while the backend reports a transient failure.
type Fetcher struct {
	store    storage.Storage
	op       *throttle.Operator
	policy   Policy
	pageSize int
	log      hclog.Logger
}

func New(store storage.Storage, op *throttle.Operator, policy Policy, pageSize int, log hclog.Logger) *Fetcher {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Fetcher{
		store:    store,
		op:       op,
		policy:   policy,
		pageSize: pageSize,
		log:      log,
	}
}

// FetchFirst runs q and returns its first result page. The page size is
// clamped to the configured maximum.
func (f *Fetcher) FetchFirst(ctx context.Context, q storage.Query) (*storage.ResultPage, error) {
	if f.pageSize > 0 && (q.PageSize <= 0 || q.PageSize > f.pageSize) {
		q.PageSize = f.pageSize
	}
	return retry(ctx, f, q.Table, func(ctx context.Context) (*storage.ResultPage, error) {
		p, err := f.store.Select(ctx, q)
		if err == nil {
			metrics.PagesFetched.WithLabelValues(q.Table).Inc()
		}
		return p, err
	})
}

// FetchNext returns the page following p, or nil when p was the last one.
func (f *Fetcher) FetchNext(ctx context.Context, p *storage.ResultPage) (*storage.ResultPage, error) {
	if p == nil || !p.HasMore {
		return nil, nil
	}
	table := p.Query().Table
	return retry(ctx, f, table, func(ctx context.Context) (*storage.ResultPage, error) {
		next, err := f.store.FetchNext(ctx, p)
		if err == nil {
			metrics.PagesFetched.WithLabelValues(table).Inc()
		}
		return next, err
	})
}

func (f *Fetcher) FetchFirstAsync(ctx context.Context, q storage.Query) *future.Future[*storage.ResultPage] {
	return future.Go(func() (*storage.ResultPage, error) { return f.FetchFirst(ctx, q) })
}

// FetchNextAsync is FetchNext as a future; it is nil when p was the last page.
func (f *Fetcher) FetchNextAsync(ctx context.Context, p *storage.ResultPage) *future.Future[*storage.ResultPage] {
	if p == nil || !p.HasMore {
		return nil
	}
	return future.Go(func() (*storage.ResultPage, error) { return f.FetchNext(ctx, p) })
}

// Exec runs a write against table under the same throttle and retry policy
// as reads.
func (f *Fetcher) Exec(ctx context.Context, table string, fn func(context.Context, storage.Storage) error) error {
	_, err := retry(ctx, f, table, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx, f.store)
	})
	return err
}

func retry[T any](ctx context.Context, f *Fetcher, table string, call func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	max := f.policy.attempts()
	for attempt := 1; attempt <= max; attempt++ {
		v, err := throttle.Do(ctx, f.op, call)
		if err == nil {
			return v, nil
		}
		if storeerr.Is(err, storeerr.ThrottleAcquisitionInterrupted) {
			return zero, err
		}
		if !storage.IsRetryable(err) {
			metrics.ErrorsTotal.WithLabelValues(storeerr.NonRetryableBackendFailure.String()).Inc()
			return zero, storeerr.Wrap(storeerr.NonRetryableBackendFailure, err, "backend request on "+table+" failed")
		}
		lastErr = err
		if attempt == max {
			break
		}

		metrics.Retries.WithLabelValues(table).Inc()
		wait := f.policy.Backoff(attempt)
		f.log.Debug("retrying backend request", "table", table, "attempt", attempt, "backoff", wait, "error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return zero, storeerr.Wrap(storeerr.RetryExhausted, ctx.Err(), "retry of "+table+" request cancelled")
		}
	}

	metrics.ErrorsTotal.WithLabelValues(storeerr.RetryExhausted.String()).Inc()
	f.log.Warn("backend request failed after retries", "table", table, "attempts", max, "error", lastErr)
	return zero, storeerr.Wrap(storeerr.RetryExhausted, lastErr, "backend request on "+table+" failed after retries")
}
