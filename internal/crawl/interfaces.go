package crawl

import "context"

// SourceClient adapts one remote system. FetchNode returns the node's
// content and metadata; ListChildren returns references the scheduler may
// enqueue. Both return a *FetchError for classified failures.
type SourceClient interface {
	FetchNode(ctx context.Context, id string) (SourceRecord, error)
	ListChildren(ctx context.Context, id string) ([]NodeRef, error)
}

// Transform is the pure content-cleaning hook applied once per successful
// fetch before the record reaches the aggregator. No side effects, no I/O.
type Transform func(raw string) (text string, labels []string)

// Sink accepts the finalized result of a job. Implementations decide the
// persistence format; the engine is agnostic to it.
type Sink interface {
	Write(ctx context.Context, result AggregatedResult) error
}

// TaskQueue provides enqueue/dequeue semantics for fetch tasks.
type TaskQueue interface {
	Enqueue(ctx context.Context, task FetchTask) error
	Dequeue(ctx context.Context) (FetchTask, error)
	Close()
}
