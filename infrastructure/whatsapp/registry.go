package whatsapp

import (
	"sync"

	"github.com/marianovz/wa-blast/domains/transport"
	"github.com/sirupsen/logrus"
)

// Registry maps account IDs to live transport handles. It is the single
// source of truth for "is this account currently connected": at most one
// handle per account, replacing an entry tears down the previous handle.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]transport.Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]transport.Handle)}
}

func (r *Registry) Get(accountID string) (transport.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[accountID]
	return h, ok
}

func (r *Registry) Set(accountID string, handle transport.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.handles[accountID]; ok && existing != nil && existing != handle {
		logrus.WithField("account_id", accountID).
			Warn("[REGISTRY] Replacing existing handle for account; closing previous one")
		// Close waits for the handle's event loop, which may be blocked on
		// a registry lookup. Never close under the registry lock.
		go existing.Close()
	}
	r.handles[accountID] = handle
}

func (r *Registry) Remove(accountID string) transport.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.handles[accountID]
	delete(r.handles, accountID)
	return h
}

func (r *Registry) Drain() map[string]transport.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	drained := r.handles
	r.handles = make(map[string]transport.Handle)
	return drained
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
