package reconcile

import "sync"

// tenantLocks serializes uploads per tenant. Two uploads for the same
// tenant run one after the other; uploads for different tenants never
// contend.
type tenantLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *tenantLocks) get(tenantID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[tenantID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[tenantID] = m
	}
	return m
}
