package handlers

import (
	"sync"

	"github.com/nowusman/DocGuard/internal/batch"
)

// Registry tracks the batches whose results are still streaming.
type Registry struct {
	mu      sync.RWMutex
	batches map[string]*batch.Batch
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{batches: make(map[string]*batch.Batch)}
}

func (r *Registry) add(b *batch.Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[b.ID] = b
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.batches, id)
}

// Get returns a running batch.
func (r *Registry) Get(id string) (*batch.Batch, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.batches[id]
	return b, ok
}

// Len returns the number of running batches.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.batches)
}
