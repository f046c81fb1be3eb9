package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"sendcode_nexus/internal/shared/logger"
	"sendcode_nexus/proxypool/model"
	"sendcode_nexus/proxypool/trial"
)

const (
	DefaultConcurrency  = 4
	DefaultStaggerDelay = 200 * time.Millisecond
)

// Attempter runs one trial. *trial.Engine satisfies it.
type Attempter interface {
	Attempt(ctx context.Context, target string, ep model.Endpoint, observer trial.Observer) model.Record
}

// Pool launches one trial per endpoint, at most concurrency of them in flight,
// with launches spaced by the stagger delay.
type Pool struct {
	attempter   Attempter
	concurrency int
	stagger     time.Duration
	observer    trial.Observer
}

type PoolOption func(*Pool)

func WithConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithStagger sets the delay between trial launches. Zero disables it.
func WithStagger(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d >= 0 {
			p.stagger = d
		}
	}
}

func WithObserver(o trial.Observer) PoolOption {
	return func(p *Pool) {
		p.observer = o
	}
}

func NewPool(attempter Attempter, opts ...PoolOption) *Pool {
	p := &Pool{
		attempter:   attempter,
		concurrency: DefaultConcurrency,
		stagger:     DefaultStaggerDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run tries every endpoint and returns once all trials have finished. Records come
// back in completion order, one per endpoint. There is no early exit on success.
//
// Cancelling ctx stops admitting new trials; endpoints that never got a slot still
// yield a connect-failure record. Trials already running end on their own stage
// timeouts.
func (p *Pool) Run(ctx context.Context, target string, endpoints []model.Endpoint) []model.Record {
	l := logger.WithComponent("ProxyPool/Scheduler")
	if len(endpoints) == 0 {
		return []model.Record{}
	}

	l.Info().Int("count", len(endpoints)).Int("concurrency", p.concurrency).Dur("stagger", p.stagger).Msg("Starting trial batch...")

	var wg sync.WaitGroup
	resultsChan := make(chan model.Record, len(endpoints))
	gate := semaphore.NewWeighted(int64(p.concurrency))
	limiter := rate.NewLimiter(rate.Inf, 1)
	if p.stagger > 0 {
		limiter = rate.NewLimiter(rate.Every(p.stagger), 1)
	}

	for _, ep := range endpoints {
		// The first launch passes immediately, every later one waits one stagger.
		if err := limiter.Wait(ctx); err != nil {
			l.Debug().Err(err).Msg("Stagger wait interrupted.")
		}

		wg.Add(1)
		go func(endpoint model.Endpoint) {
			defer wg.Done()

			if err := gate.Acquire(ctx, 1); err != nil {
				resultsChan <- model.Record{
					Endpoint: endpoint,
					Outcome:  model.ConnectFailure(fmt.Sprintf("not started: %v", err)),
				}
				return
			}
			defer gate.Release(1)

			resultsChan <- p.attempter.Attempt(ctx, target, endpoint, p.observer)
		}(ep)
	}

	wg.Wait()
	close(resultsChan)

	records := make([]model.Record, 0, len(endpoints))
	for rec := range resultsChan {
		records = append(records, rec)
	}

	l.Info().Int("records", len(records)).Msg("Trial batch finished.")
	return records
}
