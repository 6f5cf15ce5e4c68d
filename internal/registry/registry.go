package registry

import (
	"sort"
	"sync"
)

// Registry is the process-scoped record of instance ids believed to be
// billing. It is a cache, not the source of truth: the provider listing wins,
// and Replace reconciles against it at startup. All mutations are serialized
// because an emergency stop may race an ordinary teardown.
type Registry struct {
	mu  sync.Mutex
	ids map[int]struct{}
}

func New() *Registry {
	return &Registry{ids: make(map[int]struct{})}
}

func (r *Registry) Add(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ids[id] = struct{}{}
}

func (r *Registry) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.ids, id)
}

func (r *Registry) Has(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.ids[id]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.ids)
}

// IDs returns a sorted snapshot of the registered instance ids.
func (r *Registry) IDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int, 0, len(r.ids))

	for id := range r.ids {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	return ids
}

// Replace swaps the registry content for the given ids, discarding local
// belief in favor of the provider's listing.
func (r *Registry) Replace(ids []int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ids = make(map[int]struct{}, len(ids))

	for _, id := range ids {
		r.ids[id] = struct{}{}
	}
}
