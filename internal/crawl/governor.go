package crawl

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// SourceLimits configures admission control for one source.
type SourceLimits struct {
	// MaxConcurrent bounds in-flight calls to the source.
	MaxConcurrent int
	// Delay is the minimum interval between consecutive calls.
	Delay time.Duration
	// CallTimeout bounds each outbound call; a deadline hit is transient.
	CallTimeout time.Duration
}

// GovernorConfig configures a Governor instance.
type GovernorConfig struct {
	// GlobalLimit caps in-flight calls across all sources.
	GlobalLimit int
	Sources     map[SourceType]SourceLimits
}

// Governor bounds outbound calls with one global cap, one semaphore per
// source, and a per-source inter-call delay, and wraps each call in the
// retry policy. One instance per job; concurrent jobs never share
// throttling state.
type Governor struct {
	global  *semaphore.Weighted
	slots   map[SourceType]chan struct{}
	pacers  map[SourceType]*rate.Limiter
	timeout map[SourceType]time.Duration
	retry   *ExponentialRetryPolicy
	logger  *zap.Logger

	// ObserveDelay, when set, receives the time spent waiting on the
	// per-source pacer.
	ObserveDelay func(source SourceType, d time.Duration)
	// ObserveRetry, when set, is called once per retried attempt.
	ObserveRetry func(source SourceType)
}

const defaultCallTimeout = 30 * time.Second

// NewGovernor builds a Governor from per-source limits.
func NewGovernor(cfg GovernorConfig, retry *ExponentialRetryPolicy, logger *zap.Logger) *Governor {
	if cfg.GlobalLimit <= 0 {
		cfg.GlobalLimit = 8
	}
	if retry == nil {
		retry = NewExponentialRetryPolicy()
	}
	g := &Governor{
		global:  semaphore.NewWeighted(int64(cfg.GlobalLimit)),
		slots:   make(map[SourceType]chan struct{}),
		pacers:  make(map[SourceType]*rate.Limiter),
		timeout: make(map[SourceType]time.Duration),
		retry:   retry,
		logger:  logger,
	}
	for source, limits := range cfg.Sources {
		n := limits.MaxConcurrent
		if n <= 0 {
			n = 1
		}
		g.slots[source] = make(chan struct{}, n)
		if limits.Delay > 0 {
			g.pacers[source] = rate.NewLimiter(rate.Every(limits.Delay), 1)
		} else {
			g.pacers[source] = rate.NewLimiter(rate.Inf, 1)
		}
		timeout := limits.CallTimeout
		if timeout <= 0 {
			timeout = defaultCallTimeout
		}
		g.timeout[source] = timeout
	}
	return g
}

// Acquire obtains a permit for source, blocking until one is available or
// ctx ends. The returned release must be called on every exit path.
func (g *Governor) Acquire(ctx context.Context, source SourceType) (release func(), err error) {
	slot, ok := g.slots[source]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", source)
	}
	if err := g.global.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire global permit: %w", err)
	}
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		g.global.Release(1)
		return nil, fmt.Errorf("acquire %s permit: %w", source, ctx.Err())
	}

	start := time.Now()
	if err := g.pacers[source].Wait(ctx); err != nil {
		<-slot
		g.global.Release(1)
		return nil, fmt.Errorf("pace %s call: %w", source, ctx.Err())
	}
	if waited := time.Since(start); waited > time.Millisecond && g.ObserveDelay != nil {
		g.ObserveDelay(source, waited)
	}

	return func() {
		<-slot
		g.global.Release(1)
	}, nil
}

// Do runs fn under a permit with the retry policy applied. Transient
// failures back off and retry up to the attempt cap; permanent failures and
// cancellation return immediately. A panicking fn is converted into a
// malformed-response error so the permit is never leaked.
func (g *Governor) Do(ctx context.Context, source SourceType, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = g.attempt(ctx, source, fn)
		if lastErr == nil {
			return nil
		}
		if !g.retry.ShouldRetry(lastErr, attempt) {
			return lastErr
		}
		// A timed-out call retries; a finished job does not.
		if ctx.Err() != nil {
			return lastErr
		}
		if g.ObserveRetry != nil {
			g.ObserveRetry(source)
		}
		g.logger.Debug("retrying source call",
			zap.String("source", string(source)),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
		if err := sleepCtx(ctx, g.retry.Backoff(attempt)); err != nil {
			return err
		}
	}
}

func (g *Governor) attempt(ctx context.Context, source SourceType, fn func(ctx context.Context) error) (err error) {
	release, acqErr := g.Acquire(ctx, source)
	if acqErr != nil {
		return acqErr
	}
	defer release()
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("source call panicked",
				zap.String("source", string(source)),
				zap.Any("panic", r),
			)
			err = &FetchError{Kind: KindMalformed, Msg: fmt.Sprintf("source call panicked: %v", r)}
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout[source])
	defer cancel()
	return ClassifyErr(fn(callCtx))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
