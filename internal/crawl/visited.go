package crawl

import "sync"

// Registry provides race-free at-most-once claims of (source, id) pairs for
// one job. It is what turns a graph traversal with shared children and
// back-edges into a safe visit-each-node-once walk.
type Registry struct {
	seen sync.Map
}

// NewRegistry returns an empty registry scoped to a single job.
func NewRegistry() *Registry {
	return &Registry{}
}

// TryClaim atomically inserts ref if absent and returns true; the caller
// then owns processing that node for the rest of the job. A false return
// means another caller already claimed it.
func (r *Registry) TryClaim(ref NodeRef) bool {
	if ref.ID == "" {
		return false
	}
	_, loaded := r.seen.LoadOrStore(ref, struct{}{})
	return !loaded
}

// Claimed reports whether ref has been claimed without claiming it.
func (r *Registry) Claimed(ref NodeRef) bool {
	_, ok := r.seen.Load(ref)
	return ok
}
