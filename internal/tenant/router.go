package tenant

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/gradeinsight/gradeport/internal/store"
)

// Source is the registry lookup the router depends on. *Registry satisfies
// it; tests substitute a fake.
type Source interface {
	Get(ctx context.Context, tenantID string) (*Tenant, error)
}

// Shard is a handle on one shard's storage, as resolved for a tenant.
type Shard struct {
	Number int
	Store  store.Store
}

// Router resolves tenant ids to shard handles.
//
// Resolution is a pure lookup: shard assignment happens at provisioning
// and never changes at routing time. Successful resolutions are cached in
// an immutable map swapped atomically, so concurrent readers never observe
// a half-updated mapping. Cold-cache lookups for the same tenant are
// collapsed with singleflight.
type Router struct {
	source Source
	shards []*Shard

	cache atomic.Pointer[map[string]*Shard]
	group singleflight.Group
	mu    sync.Mutex // serializes cache rebuilds
}

// NewRouter builds a router over the ordered shard stores; stores[0] is
// shard 1.
func NewRouter(source Source, stores []store.Store) *Router {
	shards := make([]*Shard, len(stores))
	for i, st := range stores {
		shards[i] = &Shard{Number: i + 1, Store: st}
	}

	r := &Router{source: source, shards: shards}
	empty := make(map[string]*Shard)
	r.cache.Store(&empty)
	return r
}

// Resolve returns the shard handle for a tenant. Unknown, suspended, and
// inactive tenants fail with ErrUnavailable before any shard is touched.
func (r *Router) Resolve(ctx context.Context, tenantID string) (*Shard, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: empty tenant id", ErrUnavailable)
	}

	if shard, ok := (*r.cache.Load())[tenantID]; ok {
		return shard, nil
	}

	v, err, _ := r.group.Do(tenantID, func() (any, error) {
		// Re-check: another flight may have populated the cache.
		if shard, ok := (*r.cache.Load())[tenantID]; ok {
			return shard, nil
		}

		t, err := r.source.Get(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if !t.Available() {
			return nil, fmt.Errorf("%w: tenant %s is %s", ErrUnavailable, t.ID, t.Status)
		}
		if t.Shard < 1 || t.Shard > len(r.shards) {
			return nil, fmt.Errorf("tenant %s assigned to unknown shard %d", t.ID, t.Shard)
		}

		shard := r.shards[t.Shard-1]
		r.cacheStore(tenantID, shard)
		return shard, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Shard), nil
}

// Invalidate drops one tenant from the cache. Call it after a status or
// shard-assignment change in the registry.
func (r *Router) Invalidate(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.cache.Load()
	if _, ok := old[tenantID]; !ok {
		return
	}
	next := make(map[string]*Shard, len(old))
	for k, v := range old {
		if k != tenantID {
			next[k] = v
		}
	}
	r.cache.Store(&next)
}

// InvalidateAll drops the whole cache.
func (r *Router) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	empty := make(map[string]*Shard)
	r.cache.Store(&empty)
}

// cacheStore adds an entry by swapping in a fresh immutable map.
func (r *Router) cacheStore(tenantID string, shard *Shard) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.cache.Load()
	next := make(map[string]*Shard, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[tenantID] = shard
	r.cache.Store(&next)
}
