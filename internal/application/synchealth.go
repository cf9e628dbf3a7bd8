package application

import (
	"context"
)

// SyncHealth is the aggregated sync view across all collections.
type SyncHealth struct {
	RemoteConfigured bool
	RemoteTarget     string
	Collections      []CollectionStatus
	// Outstanding counts records with unconfirmed local intent.
	Outstanding int
	Degraded    bool
}

// SyncHealthService reports how far the local cache is from the remote store.
type SyncHealthService struct {
	registry *Registry
}

// NewSyncHealthService creates a SyncHealthService over the registry.
func NewSyncHealthService(registry *Registry) *SyncHealthService {
	return &SyncHealthService{registry: registry}
}

// Summary returns the status of every collection in registration order.
func (s *SyncHealthService) Summary(ctx context.Context) SyncHealth {
	out := SyncHealth{
		RemoteConfigured: s.registry.Remote().HasStore(),
		RemoteTarget:     s.registry.Remote().Target(),
	}
	for _, rec := range s.registry.All() {
		st := rec.Status(ctx)
		out.Collections = append(out.Collections, st)
		out.Outstanding += st.Pending + st.Unsynced + st.LocalOnly
		if st.Degraded {
			out.Degraded = true
		}
	}
	return out
}

// Collection returns the status of a single collection.
func (s *SyncHealthService) Collection(ctx context.Context, name string) (CollectionStatus, error) {
	rec, err := s.registry.Get(name)
	if err != nil {
		return CollectionStatus{}, err
	}
	return rec.Status(ctx), nil
}
