package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/RaikyD/orders-checkout/internal/logger"
	"github.com/RaikyD/orders-checkout/internal/metrics"
)

type Handler func(ctx context.Context, t Task) error

type PoolOptions struct {
	Workers      int
	PollInterval time.Duration
	MaxAttempts  int
	BaseBackoff  time.Duration
	Metrics      *metrics.Metrics
}

type Pool struct {
	q        Queue
	opts     PoolOptions
	handlers map[string]Handler
	now      func() time.Time
}

func NewPool(q Queue, opts PoolOptions) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 5 * time.Second
	}
	return &Pool{q: q, opts: opts, handlers: map[string]Handler{}, now: time.Now}
}

// Handle registers h for taskType. Not safe to call after Run.
func (p *Pool) Handle(taskType string, h Handler) {
	p.handlers[taskType] = h
}

func (p *Pool) Run(ctx context.Context) {
	logger.Info("task pool started", "workers", p.opts.Workers, "poll", p.opts.PollInterval)
	t := time.NewTicker(p.opts.PollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("task pool stopped")
			return
		case <-t.C:
			if _, err := p.ProcessDue(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("task claim failed", "err", err)
			}
		}
	}
}

// ProcessDue claims due tasks and runs them on up to Workers goroutines.
func (p *Pool) ProcessDue(ctx context.Context) (int, error) {
	batch, err := p.q.Claim(ctx, p.now(), p.opts.Workers*4)
	if err != nil {
		return 0, err
	}

	sem := make(chan struct{}, p.opts.Workers)
	var wg sync.WaitGroup
	for _, t := range batch {
		sem <- struct{}{}
		wg.Add(1)
		go func(t Task) {
			defer func() {
				<-sem
				wg.Done()
			}()
			p.process(ctx, t)
		}(t)
	}
	wg.Wait()
	return len(batch), nil
}

func (p *Pool) process(ctx context.Context, t Task) {
	h, ok := p.handlers[t.Type]
	if !ok {
		logger.Warn("no handler for task, dropping", "type", t.Type, "id", t.ID)
		p.opts.Metrics.Task(t.Type, "dropped")
		_ = p.q.Complete(ctx, t.ID)
		return
	}

	err := h(ctx, t)
	if err == nil {
		p.opts.Metrics.Task(t.Type, "ok")
		if cerr := p.q.Complete(ctx, t.ID); cerr != nil {
			logger.Warn("task complete failed", "id", t.ID, "err", cerr)
		}
		return
	}

	t.Attempt++
	if t.Attempt >= p.opts.MaxAttempts {
		logger.Error("task failed permanently", "type", t.Type, "id", t.ID, "attempts", t.Attempt, "err", err)
		p.opts.Metrics.Task(t.Type, "dead")
		_ = p.q.Complete(ctx, t.ID)
		return
	}

	delay := p.opts.BaseBackoff << (t.Attempt - 1)
	logger.Warn("task failed, retrying", "type", t.Type, "id", t.ID, "attempt", t.Attempt, "in", delay, "err", err)
	p.opts.Metrics.Task(t.Type, "retry")
	if rerr := p.q.Retry(ctx, t, p.now().Add(delay)); rerr != nil {
		logger.Warn("task retry schedule failed", "id", t.ID, "err", rerr)
	}
}
