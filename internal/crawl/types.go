// Package crawl implements the concurrent crawl-and-aggregate engine that
// walks tree/graph-shaped remote resources and assembles one deterministic
// result per job.
package crawl

import "time"

// SourceType identifies one remote system.
type SourceType string

// Known source types.
const (
	SourceJira       SourceType = "jira"
	SourceConfluence SourceType = "confluence"
	SourceDrive      SourceType = "drive"
)

// NodeRef uniquely identifies a node within a job: one (source, id) pair.
type NodeRef struct {
	Source SourceType `json:"source"`
	ID     string     `json:"id"`
}

// String renders the ref as "source:id" for logging and map keys.
func (r NodeRef) String() string {
	return string(r.Source) + ":" + r.ID
}

// FetchTask is the unit of scheduled work: one node to retrieve. Tasks are
// created by the scheduler and consumed by exactly one worker.
type FetchTask struct {
	Ref    NodeRef
	Parent *NodeRef
	Depth  int
}

// TaskState tracks a task through its lifecycle.
type TaskState string

// Task states. Succeeded, FailedTerminal and SkippedDuplicate are terminal.
const (
	TaskQueued           TaskState = "queued"
	TaskClaimed          TaskState = "claimed"
	TaskFetching         TaskState = "fetching"
	TaskRetrying         TaskState = "retrying"
	TaskSucceeded        TaskState = "succeeded"
	TaskFailedTerminal   TaskState = "failed"
	TaskSkippedDuplicate TaskState = "skipped_duplicate"
)

// SourceRecord is the aggregated form of one fetched node.
type SourceRecord struct {
	Ref       NodeRef           `json:"ref"`
	Title     string            `json:"title,omitempty"`
	URL       string            `json:"url,omitempty"`
	Content   string            `json:"content,omitempty"`
	Labels    []string          `json:"labels,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Children  []NodeRef         `json:"-"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// Edge links a parent node to a child node. Edges are recorded separately
// from node content so a node reachable from several parents is stored once
// but linked from each of them.
type Edge struct {
	Parent NodeRef `json:"parent"`
	Child  NodeRef `json:"child"`
}

// ErrorRecord captures one node-level failure.
type ErrorRecord struct {
	Ref       NodeRef   `json:"ref"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

// JobStatus is the completion flag on an AggregatedResult.
type JobStatus string

// Result statuses.
const (
	JobCompleted JobStatus = "completed"
	JobCancelled JobStatus = "cancelled"
)

// JobCounters tracks per-job outcome totals.
type JobCounters struct {
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`
}

// AggregatedResult is the final snapshot of a job: every node fetched, every
// parent/child edge discovered, and every node-level failure, independent of
// the order workers finished in.
type AggregatedResult struct {
	JobID    string                  `json:"job_id"`
	Status   JobStatus               `json:"status"`
	Started  time.Time               `json:"started_at"`
	Finished time.Time               `json:"finished_at"`
	Nodes    map[string]SourceRecord `json:"nodes"`
	Edges    []Edge                  `json:"edges"`
	Errors   []ErrorRecord           `json:"errors"`
	Counters JobCounters             `json:"counters"`
}
