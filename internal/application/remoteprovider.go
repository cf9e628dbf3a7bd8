package application

import (
	"sync"

	"github.com/ericfisherdev/studiopanel/internal/domain/port/driven"
)

// RemoteProvider enables runtime hot-swap of the remote store.
// It holds a mutex-protected reference to the current driven.RemoteStore and
// the URL it talks to, allowing credential updates from the GUI to take
// effect without restarting the application.
type RemoteProvider struct {
	mu     sync.RWMutex
	store  driven.RemoteStore
	target string
}

// NewRemoteProvider creates a new provider with the given initial store and
// target URL. store may be nil if no credentials are available at startup;
// every reconciler then works from its local cache.
func NewRemoteProvider(store driven.RemoteStore, target string) *RemoteProvider {
	return &RemoteProvider{
		store:  store,
		target: target,
	}
}

// Get returns the current remote store, or nil when none is configured.
func (p *RemoteProvider) Get() driven.RemoteStore {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.store
}

// Target returns the URL of the current remote store.
func (p *RemoteProvider) Target() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.target
}

// Replace swaps the current store and target. The next caller of Get()
// receives the new store; calls already in flight finish on the old one.
func (p *RemoteProvider) Replace(store driven.RemoteStore, target string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store = store
	p.target = target
}

// HasStore returns true if a non-nil store is currently held.
func (p *RemoteProvider) HasStore() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.store != nil
}
