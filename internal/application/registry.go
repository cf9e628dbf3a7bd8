package application

import (
	"fmt"
	"slices"
	"sync"

	"github.com/ericfisherdev/studiopanel/internal/domain/model"
	"github.com/ericfisherdev/studiopanel/internal/domain/port/driven"
)

// Registry holds one Reconciler per collection name.
type Registry struct {
	remote *RemoteProvider
	local  driven.LocalStore
	opts   ReconcilerOptions

	mu    sync.RWMutex
	byKey map[string]*Reconciler
	names []string
}

// NewRegistry creates an empty registry whose reconcilers share the given
// remote provider, local store and options.
func NewRegistry(remote *RemoteProvider, local driven.LocalStore, opts ReconcilerOptions) *Registry {
	return &Registry{
		remote: remote,
		local:  local,
		opts:   opts,
		byKey:  make(map[string]*Reconciler),
	}
}

// Register creates the reconciler for coll. Registering a name twice is an error.
func (r *Registry) Register(coll model.Collection) (*Reconciler, error) {
	rec, err := NewReconciler(coll, r.remote, r.local, r.opts)
	if err != nil {
		return nil, fmt.Errorf("register collection: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[coll.Name]; exists {
		return nil, fmt.Errorf("register collection %s: already registered", coll.Name)
	}
	r.byKey[coll.Name] = rec
	r.names = append(r.names, coll.Name)
	return rec, nil
}

// Get returns the reconciler for name or ErrUnknownCollection.
func (r *Registry) Get(name string) (*Reconciler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byKey[name]
	if !ok {
		return nil, fmt.Errorf("collection %q: %w", name, ErrUnknownCollection)
	}
	return rec, nil
}

// Names returns the registered collection names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.names)
}

// All returns every reconciler in registration order.
func (r *Registry) All() []*Reconciler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Reconciler, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.byKey[name])
	}
	return out
}

// Remote returns the provider shared by all reconcilers.
func (r *Registry) Remote() *RemoteProvider {
	return r.remote
}

// StudioCollections returns the collection definitions of the studio, scoped
// to ownerID when one is given.
func StudioCollections(ownerID string) []model.Collection {
	var scope model.Match
	if ownerID != "" {
		scope = model.Match{model.FieldOwnerID: ownerID}
	}
	byCreated := []model.Order{{Field: model.FieldCreatedAt}}

	return []model.Collection{
		{Name: model.CollectionStudents, Key: model.IdentityKey, ClientRefField: model.FieldClientRef, Scope: scope, Order: byCreated},
		{Name: model.CollectionServices, Key: model.IdentityKey, ClientRefField: model.FieldClientRef, Scope: scope, Order: byCreated},
		{
			Name:  model.CollectionPayments,
			Key:   model.KeySpec{model.FieldStudentID, model.FieldMonth},
			Scope: scope,
			Order: []model.Order{{Field: model.FieldMonth}, {Field: model.FieldStudentID}},
		},
		{Name: model.CollectionLedger, Key: model.IdentityKey, ClientRefField: model.FieldClientRef, Scope: scope, Order: []model.Order{{Field: model.FieldDate}}},
		{Name: model.CollectionNotes, Key: model.IdentityKey, ClientRefField: model.FieldClientRef, Scope: scope, Order: []model.Order{{Field: model.FieldDate, Descending: true}}},
	}
}
