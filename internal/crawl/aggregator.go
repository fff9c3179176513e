package crawl

import (
	"sort"
	"sync"
	"time"
)

// Aggregator assembles nodes, edges and errors from concurrent workers into
// one AggregatedResult. All mutation happens under a single mutex; Finalize
// produces output independent of arrival order.
type Aggregator struct {
	mu       sync.Mutex
	nodes    map[string]SourceRecord
	edges    map[Edge]struct{}
	errors   []ErrorRecord
	counters JobCounters
}

// NewAggregator returns an empty aggregator for one job.
func NewAggregator() *Aggregator {
	return &Aggregator{
		nodes: make(map[string]SourceRecord),
		edges: make(map[Edge]struct{}),
	}
}

// AddNode records a successfully fetched node. The record is owned by the
// aggregator from here on.
func (a *Aggregator) AddNode(rec SourceRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nodes[rec.Ref.String()] = rec
	a.counters.Succeeded++
}

// AddEdge records a parent/child link. Duplicate edges collapse, so diamond
// fan-in yields one node and one edge per distinct parent.
func (a *Aggregator) AddEdge(parent, child NodeRef) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.edges[Edge{Parent: parent, Child: child}] = struct{}{}
}

// AddError records a node-level failure.
func (a *Aggregator) AddError(ref NodeRef, kind ErrorKind, msg string, retryable bool, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors = append(a.errors, ErrorRecord{
		Ref:       ref,
		Kind:      kind,
		Message:   msg,
		Retryable: retryable,
		Timestamp: at,
	})
	a.counters.Failed++
}

// AddDuplicate counts a task that lost the registry race. Not an error.
func (a *Aggregator) AddDuplicate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counters.Duplicates++
}

// Finalize snapshots the aggregator into a result. Edges and errors are
// sorted so two jobs that recorded the same operation set in any order
// produce identical output.
func (a *Aggregator) Finalize(jobID string, status JobStatus, started, finished time.Time) AggregatedResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	nodes := make(map[string]SourceRecord, len(a.nodes))
	for k, v := range a.nodes {
		nodes[k] = v
	}

	edges := make([]Edge, 0, len(a.edges))
	for e := range a.edges {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Parent != edges[j].Parent {
			return edges[i].Parent.String() < edges[j].Parent.String()
		}
		return edges[i].Child.String() < edges[j].Child.String()
	})

	errs := make([]ErrorRecord, len(a.errors))
	copy(errs, a.errors)
	sort.Slice(errs, func(i, j int) bool {
		if errs[i].Ref != errs[j].Ref {
			return errs[i].Ref.String() < errs[j].Ref.String()
		}
		return errs[i].Message < errs[j].Message
	})

	return AggregatedResult{
		JobID:    jobID,
		Status:   status,
		Started:  started,
		Finished: finished,
		Nodes:    nodes,
		Edges:    edges,
		Errors:   errs,
		Counters: a.counters,
	}
}
