package scanner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Runner 后台周期扫描 + 按需触发
// Runner drives the engine periodically and on demand. A new trigger cancels
// a previous cycle that is still enumerating; subscribers receive every
// completed Result.
type Runner struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	cycle  uint64
	last   *Result
	subs   map[int]chan Result
	nextID int
}

// NewRunner builds a runner. interval <= 0 disables periodic scans.
func NewRunner(engine *Engine, interval time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		engine:   engine,
		interval: interval,
		logger:   logger.With("component", "runner"),
		subs:     make(map[int]chan Result),
	}
}

// Trigger runs one cycle now and waits for it.
func (r *Runner) Trigger(ctx context.Context) (Result, error) {
	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.cancel = cancel
	r.cycle++
	id := r.cycle
	r.mu.Unlock()

	res, err := r.engine.ScanSessions(cycleCtx)

	r.mu.Lock()
	if r.cycle == id {
		r.cancel = nil
	}
	if err == nil {
		r.last = &res
	}
	r.mu.Unlock()

	if err != nil {
		return Result{}, err
	}
	r.publish(res)
	return res, nil
}

// Run scans once immediately, then every interval until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	r.runOnce(ctx)
	if r.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	if _, err := r.Trigger(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			r.logger.Debug("scan superseded")
			return
		}
		r.logger.Warn("background scan failed", "err", err)
	}
}

// Last returns the most recent completed result.
func (r *Runner) Last() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Result{}, false
	}
	return *r.last, true
}

// Subscribe registers for completed results. Slow subscribers miss results
// rather than block the runner. The returned func unsubscribes.
func (r *Runner) Subscribe() (<-chan Result, func()) {
	ch := make(chan Result, 4)
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(ch)
		})
	}
}

func (r *Runner) publish(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- res:
		default:
		}
	}
}
