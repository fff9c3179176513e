package crawl

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cakehq/cake/internal/metrics"
)

// SchedulerConfig controls a single crawl job.
type SchedulerConfig struct {
	// Workers is the size of the consuming pool.
	Workers int
	// MaxDepth bounds drill-down; 0 means unbounded (cycle protection
	// comes from the registry alone).
	MaxDepth int
	// SkipRemoteContent stops traversal from crossing into a different
	// source than the parent's.
	SkipRemoteContent bool
}

// Scheduler drives the task lifecycle for one job: it pops tasks, claims
// them in the registry, dispatches fetches under the governor, enqueues
// discovered children, and finalizes the aggregate once the queue drains
// and nothing is in flight.
type Scheduler struct {
	clients   map[SourceType]SourceClient
	governor  *Governor
	registry  *Registry
	agg       *Aggregator
	queue     TaskQueue
	transform Transform
	logger    *zap.Logger
	cfg       SchedulerConfig

	jobID       string
	cancel      context.CancelFunc
	outstanding atomic.Int64
	quiet       chan struct{}
	quietOnce   sync.Once
	hadSuccess  map[SourceType]*atomic.Bool
}

// NewScheduler wires a scheduler for one job. The registry, aggregator and
// governor are owned by this job; concurrent jobs never share them.
func NewScheduler(
	clients map[SourceType]SourceClient,
	governor *Governor,
	queue TaskQueue,
	transform Transform,
	cfg SchedulerConfig,
	logger *zap.Logger,
) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	s := &Scheduler{
		clients:    clients,
		governor:   governor,
		registry:   NewRegistry(),
		agg:        NewAggregator(),
		queue:      queue,
		transform:  transform,
		logger:     logger,
		cfg:        cfg,
		jobID:      uuid.NewString(),
		quiet:      make(chan struct{}),
		hadSuccess: make(map[SourceType]*atomic.Bool, len(clients)),
	}
	for source := range clients {
		s.hadSuccess[source] = &atomic.Bool{}
	}
	if governor != nil {
		governor.ObserveDelay = func(source SourceType, d time.Duration) {
			metrics.ObserveThrottleDelay(string(source), d)
		}
		governor.ObserveRetry = func(source SourceType) {
			metrics.ObserveRetry(string(source))
		}
	}
	return s
}

// JobID returns the identifier assigned to this job.
func (s *Scheduler) JobID() string { return s.jobID }

// Run seeds the root references, drains the queue with the worker pool, and
// returns the finalized result. The result is Completed when the queue
// drained with zero tasks in flight, Cancelled when ctx ended first; either
// way it is well formed and contains everything recorded so far.
func (s *Scheduler) Run(ctx context.Context, roots []NodeRef) (AggregatedResult, error) {
	started := time.Now().UTC()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	if len(roots) == 0 {
		s.queue.Close()
		return s.agg.Finalize(s.jobID, JobCompleted, started, time.Now().UTC()), nil
	}

	for _, ref := range roots {
		s.submit(ctx, FetchTask{Ref: ref, Depth: 0})
	}

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.workerLoop(ctx)
		}()
	}

	status := JobCompleted
	select {
	case <-s.quiet:
		// Queue empty and zero tasks in flight: close the queue so idle
		// workers unblock, then join them.
		s.queue.Close()
		wg.Wait()
		if ctx.Err() != nil {
			// Quiescence and cancellation raced; the job was still cut short.
			status = JobCancelled
		}
	case <-ctx.Done():
		status = JobCancelled
		// Workers wind down on their own; the queue must stay open until
		// they have, since an in-flight task may still submit children.
		wg.Wait()
		s.queue.Close()
	}

	result := s.agg.Finalize(s.jobID, status, started, time.Now().UTC())
	metrics.ObserveJob(string(status))
	s.logger.Info("job finished",
		zap.String("job_id", s.jobID),
		zap.String("status", string(status)),
		zap.Int("nodes", len(result.Nodes)),
		zap.Int("edges", len(result.Edges)),
		zap.Int("errors", len(result.Errors)),
		zap.Int("duplicates", result.Counters.Duplicates),
	)
	return result, nil
}

// submit enqueues a task, tracking it as outstanding until it reaches a
// terminal state.
func (s *Scheduler) submit(ctx context.Context, task FetchTask) {
	s.outstanding.Add(1)
	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.finishTask()
	}
}

// finishTask marks one task terminal; hitting zero outstanding means the
// job is quiescent.
func (s *Scheduler) finishTask() {
	if s.outstanding.Add(-1) == 0 {
		s.quietOnce.Do(func() { close(s.quiet) })
	}
}

func (s *Scheduler) workerLoop(ctx context.Context) {
	for {
		task, err := s.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		metrics.IncActiveWorkers()
		s.process(ctx, task)
		metrics.DecActiveWorkers()
	}
}

func (s *Scheduler) process(ctx context.Context, task FetchTask) {
	defer s.finishTask()

	// Queued -> Claimed, or Queued -> SkippedDuplicate.
	if !s.registry.TryClaim(task.Ref) {
		s.agg.AddDuplicate()
		metrics.ObserveDuplicate(string(task.Ref.Source))
		s.logger.Debug("skipped duplicate", zap.String("ref", task.Ref.String()))
		return
	}

	client, ok := s.clients[task.Ref.Source]
	if !ok {
		s.agg.AddError(task.Ref, KindUnknown, "no client for source", false, time.Now().UTC())
		metrics.ObserveNode(string(task.Ref.Source), string(TaskFailedTerminal))
		return
	}

	record, err := s.fetch(ctx, client, task)
	if err != nil {
		s.recordFailure(task, err)
		return
	}

	s.hadSuccess[task.Ref.Source].Store(true)
	if s.transform != nil && record.Content != "" {
		text, labels := s.transform(record.Content)
		record.Content = text
		record.Labels = append(record.Labels, labels...)
	}
	s.agg.AddNode(record)
	metrics.ObserveNode(string(task.Ref.Source), string(TaskSucceeded))

	s.expandChildren(ctx, task, client, record)
}

func (s *Scheduler) fetch(ctx context.Context, client SourceClient, task FetchTask) (SourceRecord, error) {
	var record SourceRecord
	start := time.Now()
	err := s.governor.Do(ctx, task.Ref.Source, func(callCtx context.Context) error {
		rec, fetchErr := client.FetchNode(callCtx, task.Ref.ID)
		if fetchErr != nil {
			return fetchErr
		}
		record = rec
		return nil
	})
	metrics.ObserveFetchDuration(string(task.Ref.Source), time.Since(start))
	if err != nil {
		return SourceRecord{}, err
	}
	if record.Ref.ID == "" {
		record.Ref = task.Ref
	}
	if record.FetchedAt.IsZero() {
		record.FetchedAt = time.Now().UTC()
	}
	return record, nil
}

// expandChildren lists and enqueues the node's children. Children already
// present on the record (discovered during the fetch itself) are merged
// with an explicit listing call.
func (s *Scheduler) expandChildren(ctx context.Context, task FetchTask, client SourceClient, record SourceRecord) {
	children := record.Children
	var listed []NodeRef
	err := s.governor.Do(ctx, task.Ref.Source, func(callCtx context.Context) error {
		refs, listErr := client.ListChildren(callCtx, task.Ref.ID)
		if listErr != nil {
			return listErr
		}
		listed = refs
		return nil
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.agg.AddError(task.Ref, kindOf(err), "list children: "+err.Error(), retryableErr(err), time.Now().UTC())
		}
	} else {
		children = append(children, listed...)
	}

	seen := make(map[NodeRef]struct{}, len(children))
	for _, child := range children {
		if child.ID == "" || child == task.Ref {
			continue
		}
		if _, dup := seen[child]; dup {
			continue
		}
		seen[child] = struct{}{}

		if s.cfg.SkipRemoteContent && child.Source != task.Ref.Source {
			continue
		}

		// The edge is recorded even when the child was already claimed via
		// another parent; the node is stored once, linked from each parent.
		s.agg.AddEdge(task.Ref, child)

		if s.cfg.MaxDepth > 0 && task.Depth+1 >= s.cfg.MaxDepth {
			continue
		}
		if s.registry.Claimed(child) {
			continue
		}
		parent := task.Ref
		s.submit(ctx, FetchTask{Ref: child, Parent: &parent, Depth: task.Depth + 1})
	}
}

func (s *Scheduler) recordFailure(task FetchTask, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	now := time.Now().UTC()
	s.agg.AddError(task.Ref, kindOf(err), err.Error(), retryableErr(err), now)
	metrics.ObserveNode(string(task.Ref.Source), string(TaskFailedTerminal))
	s.logger.Warn("fetch failed",
		zap.String("ref", task.Ref.String()),
		zap.Int("depth", task.Depth),
		zap.Error(err),
	)

	// An auth rejection before any call against the source has succeeded
	// means the source is categorically unreachable; abort the job instead
	// of letting every queued task storm it.
	var fe *FetchError
	if errors.As(err, &fe) && fe.AuthFailure() && !s.hadSuccess[task.Ref.Source].Load() {
		s.logger.Error("source unreachable on first call, aborting job",
			zap.String("source", string(task.Ref.Source)),
			zap.Error(err),
		)
		s.cancel()
	}
}
