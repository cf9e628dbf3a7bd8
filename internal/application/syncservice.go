// Package application contains use-case orchestration services.
package application

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// schedulerTick is how often the loop checks which collections are due.
const schedulerTick = 15 * time.Second

// refreshRequest represents a manual refresh trigger. An empty collection
// name refreshes everything.
type refreshRequest struct {
	collection string
	done       chan error
}

// SyncService periodically reconciles every registered collection with the
// remote store. Collections written recently are refreshed more often.
type SyncService struct {
	registry  *Registry
	interval  time.Duration
	refreshCh chan refreshRequest

	mu        sync.Mutex
	schedules map[string]*collectionSchedule
}

// NewSyncService creates a SyncService over the registry's collections.
// interval caps the time between two refreshes of any collection.
func NewSyncService(registry *Registry, interval time.Duration) *SyncService {
	return &SyncService{
		registry:  registry,
		interval:  interval,
		refreshCh: make(chan refreshRequest),
		schedules: make(map[string]*collectionSchedule),
	}
}

// Start begins the sync loop. It refreshes every collection immediately, then
// refreshes collections as they come due. It also listens for manual refresh
// requests. Start blocks until the context is canceled.
func (s *SyncService) Start(ctx context.Context) {
	s.refreshAll(ctx)

	tick := schedulerTick
	if s.interval > 0 && s.interval < tick {
		tick = s.interval
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync service stopped")
			return
		case <-ticker.C:
			s.refreshDue(ctx)
		case req := <-s.refreshCh:
			req.done <- s.handleRefresh(ctx, req)
		}
	}
}

// RefreshCollection triggers an immediate refresh of one collection,
// bypassing its schedule. It blocks until the refresh completes or the
// context is canceled.
func (s *SyncService) RefreshCollection(ctx context.Context, name string) error {
	if _, err := s.registry.Get(name); err != nil {
		return err
	}
	return s.request(ctx, refreshRequest{collection: name})
}

// RefreshAll triggers an immediate refresh of every collection.
func (s *SyncService) RefreshAll(ctx context.Context) error {
	return s.request(ctx, refreshRequest{})
}

func (s *SyncService) request(ctx context.Context, req refreshRequest) error {
	req.done = make(chan error, 1)

	select {
	case s.refreshCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetSchedule returns the adaptive schedule of a collection, if it has been
// refreshed at least once.
func (s *SyncService) GetSchedule(name string) (ScheduleInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[name]
	if !ok {
		return ScheduleInfo{}, false
	}
	return ScheduleInfo{
		Tier:          sched.tier,
		NextRefreshAt: sched.nextRefreshAt,
		LastRefreshed: sched.lastRefreshed,
	}, true
}

// refreshAll refreshes every registered collection.
func (s *SyncService) refreshAll(ctx context.Context) {
	start := time.Now()
	var degraded int
	recs := s.registry.All()
	for _, rec := range recs {
		if ctx.Err() != nil {
			return
		}
		if !s.refreshOne(ctx, rec) {
			degraded++
		}
	}

	slog.Info("sync cycle complete",
		"collections", len(recs),
		"degraded", degraded,
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

// refreshDue refreshes only the collections whose next refresh time passed.
func (s *SyncService) refreshDue(ctx context.Context) {
	now := time.Now()
	for _, rec := range s.registry.All() {
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		sched, ok := s.schedules[rec.Collection().Name]
		due := !ok || !now.Before(sched.nextRefreshAt) || classifyActivity(rec.LastWrite()) < sched.tier
		s.mu.Unlock()
		if due {
			s.refreshOne(ctx, rec)
		}
	}
}

// refreshOne lists one collection and reschedules it. It reports whether the
// remote store answered.
func (s *SyncService) refreshOne(ctx context.Context, rec *Reconciler) bool {
	name := rec.Collection().Name
	res, err := rec.List(ctx)
	if err != nil {
		slog.Error("collection refresh failed", "collection", name, "error", err)
		return false
	}

	tier := classifyActivity(rec.LastWrite())
	now := time.Now()
	s.mu.Lock()
	s.schedules[name] = &collectionSchedule{
		tier:          tier,
		nextRefreshAt: now.Add(nextInterval(tier, s.interval)),
		lastRefreshed: now,
	}
	s.mu.Unlock()

	slog.Debug("collection refreshed",
		"collection", name,
		"records", len(res.Records),
		"degraded", res.Degraded,
		"tier", tier.String(),
	)
	return !res.Degraded
}

// handleRefresh dispatches a manual refresh request.
func (s *SyncService) handleRefresh(ctx context.Context, req refreshRequest) error {
	if req.collection == "" {
		s.refreshAll(ctx)
		return ctx.Err()
	}
	rec, err := s.registry.Get(req.collection)
	if err != nil {
		return err
	}
	s.refreshOne(ctx, rec)
	return ctx.Err()
}
