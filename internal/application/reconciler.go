package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/ericfisherdev/studiopanel/internal/domain/model"
	"github.com/ericfisherdev/studiopanel/internal/domain/port/driven"
)

// ReconcilerOptions tunes remote calls made by a Reconciler.
type ReconcilerOptions struct {
	// Timeout bounds every single remote call. A call that exceeds it counts
	// as unavailable and leaves the record unsynced.
	Timeout time.Duration
	// MaxRetries is the number of extra attempts for unavailable errors.
	MaxRetries int
	// InitialBackoff and MaxBackoff shape the exponential delay between attempts.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultReconcilerOptions returns the options used when none are configured.
func DefaultReconcilerOptions() ReconcilerOptions {
	return ReconcilerOptions{
		Timeout:        10 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// ListResult is the outcome of Reconciler.List.
type ListResult struct {
	Records []model.Record
	// Degraded is set when the remote store could not be read and Records
	// come from the local cache.
	Degraded  bool
	Warning   string
	FetchedAt time.Time
}

// CollectionStatus summarizes the sync state of one collection.
type CollectionStatus struct {
	Name        string
	Total       int
	Synced      int
	Pending     int
	Unsynced    int
	LocalOnly   int
	Degraded    bool
	LastRefresh time.Time
	LastWrite   time.Time
	LastWarning string
}

// ticket is a place in a record's FIFO queue of remote operations.
type ticket struct {
	key  string
	prev <-chan struct{}
	done chan struct{}
}

type noBackoffKey struct{}

// withoutBackoff marks ctx so remote calls are attempted exactly once.
func withoutBackoff(ctx context.Context) context.Context {
	return context.WithValue(ctx, noBackoffKey{}, true)
}

// Reconciler owns one collection and keeps its local cache consistent with
// the remote store. Writes are applied optimistically to the in-memory view
// and the cache, then confirmed remotely; remote operations on the same
// record run strictly in submission order.
type Reconciler struct {
	coll   model.Collection
	remote *RemoteProvider
	local  driven.LocalStore
	opts   ReconcilerOptions
	logger *slog.Logger

	mu       sync.Mutex
	loaded   bool
	records  []*model.Record
	removing map[string]*model.Record // optimistic deletes awaiting the remote, by LocalID
	tails    map[string]chan struct{} // last queued operation per LocalID

	degraded    bool
	lastRefresh time.Time
	lastWrite   time.Time
	lastWarning string
}

// NewReconciler creates a Reconciler for coll. The local cache is loaded
// lazily on first use.
func NewReconciler(coll model.Collection, remote *RemoteProvider, local driven.LocalStore, opts ReconcilerOptions) (*Reconciler, error) {
	if err := coll.Validate(); err != nil {
		return nil, err
	}
	if remote == nil {
		remote = NewRemoteProvider(nil, "")
	}
	defaults := DefaultReconcilerOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaults.InitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaults.MaxBackoff
	}

	return &Reconciler{
		coll:     coll,
		remote:   remote,
		local:    local,
		opts:     opts,
		logger:   slog.Default().With("collection", coll.Name),
		removing: make(map[string]*model.Record),
		tails:    make(map[string]chan struct{}),
	}, nil
}

// Collection returns the collection definition.
func (r *Reconciler) Collection() model.Collection {
	return r.coll
}

// List fetches the whole collection from the remote store and replaces the
// local cache with it. Pending local operations that may be retried are
// flushed first. When the remote read fails the cached records are returned
// with Degraded set; that is not an error.
func (r *Reconciler) List(ctx context.Context) (*ListResult, error) {
	if r.remote.HasStore() {
		r.RetryPending(withoutBackoff(ctx))
	}

	var rows []model.Row
	err := r.call(ctx, true, func(ctx context.Context, rs driven.RemoteStore) error {
		var err error
		rows, err = rs.Select(ctx, r.coll.Name, r.coll.Query())
		return err
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoadedLocked(ctx)

	if err != nil {
		r.degraded = true
		r.lastWarning = err.Error()
		r.logger.Warn("remote list failed, serving local cache", "error", err, "cached", len(r.records))
		return &ListResult{
			Records:   r.snapshotLocked(),
			Degraded:  true,
			Warning:   err.Error(),
			FetchedAt: r.lastRefresh,
		}, nil
	}

	r.replaceLocked(rows)
	r.degraded = false
	r.lastWarning = ""
	r.lastRefresh = time.Now().UTC()
	r.persistLocked(ctx)

	return &ListResult{
		Records:   r.snapshotLocked(),
		FetchedAt: r.lastRefresh,
	}, nil
}

// replaceLocked makes the fetched rows the new view. Records carrying
// unconfirmed local intent are kept whole and stay flagged; everything else
// is taken from the remote rows, so no stale entry survives.
func (r *Reconciler) replaceLocked(rows []model.Row) {
	now := time.Now().UTC()

	byID := make(map[string]*model.Record, len(r.records))
	byClientRef := make(map[string]*model.Record)
	byBusinessKey := make(map[string]*model.Record)
	for _, rec := range r.records {
		switch {
		case rec.ID != "":
			byID[rec.ID] = rec
		case r.coll.ClientRefField != "":
			byClientRef[rec.LocalID] = rec
		case r.createConflictKey(rec.Fields) != nil:
			byBusinessKey[rec.Fields.KeyString(r.coll.Key)] = rec
		}
	}
	removingIDs := make(map[string]bool, len(r.removing))
	for _, rec := range r.removing {
		if rec.ID != "" {
			removingIDs[rec.ID] = true
		}
	}

	next := make([]*model.Record, 0, len(rows))
	seen := make(map[*model.Record]bool, len(rows))
	for _, row := range rows {
		fetched := model.RecordFromRow(row, now)
		if fetched.ID == "" {
			r.logger.Warn("remote row without id ignored")
			continue
		}
		if removingIDs[fetched.ID] {
			continue
		}

		local, ok := byID[fetched.ID]
		if !ok && r.coll.ClientRefField != "" {
			// A create whose acknowledgement was lost: adopt the remote identity.
			if adopted, found := byClientRef[fetched.Fields.String(r.coll.ClientRefField)]; found {
				adopted.ID = fetched.ID
				local, ok = adopted, true
			}
		}
		if !ok && len(byBusinessKey) > 0 {
			key := fetched.Fields.KeyString(r.coll.Key)
			if adopted, found := byBusinessKey[key]; found {
				adopted.ID = fetched.ID
				local, ok = adopted, true
				delete(byBusinessKey, key)
			}
		}

		switch {
		case ok && !local.IsSynced():
			local.Confirmed = fetched.Fields.Clone()
			_, busy := r.tails[local.LocalID]
			switch {
			case busy:
			case local.PendingOp != model.OpDelete && len(local.Fields.Diff(local.Confirmed)) == 0:
				// The remote row already carries the local intent.
				r.markSyncedLocked(local)
			case local.State == model.SyncStateLocalOnly:
				local.State = model.SyncStateUnsynced
			}
			next = append(next, local)
			seen[local] = true
		case ok:
			local.Fields = fetched.Fields
			local.Confirmed = fetched.Confirmed
			local.UpdatedAt = now
			next = append(next, local)
			seen[local] = true
		default:
			rec := fetched
			next = append(next, &rec)
		}
	}

	for _, rec := range r.records {
		if seen[rec] {
			continue
		}
		if !rec.IsConfirmed() {
			next = append(next, rec)
			continue
		}
		if !rec.IsSynced() {
			r.logger.Warn("dropping local change to a row deleted remotely", "id", rec.ID, "pending_op", rec.PendingOp)
		}
	}

	r.records = next
}

// Create appends fields as a new record and inserts it remotely. The record
// is visible immediately; on failure it stays visible, flagged, and the error
// is returned alongside it.
func (r *Reconciler) Create(ctx context.Context, fields model.Row) (model.Record, error) {
	r.mu.Lock()
	r.ensureLoadedLocked(ctx)

	rec := &model.Record{
		LocalID:   uuid.NewString(),
		Fields:    r.scopedLocked(fields),
		State:     model.SyncStateLocalOnly,
		PendingOp: model.OpCreate,
		UpdatedAt: time.Now().UTC(),
	}
	if r.coll.ClientRefField != "" {
		rec.Fields[r.coll.ClientRefField] = rec.LocalID
	}
	r.records = append(r.records, rec)
	r.touchLocked()
	r.persistLocked(ctx)
	t := r.enqueueLocked(rec.LocalID)
	r.mu.Unlock()

	if err := r.acquire(ctx, t); err != nil {
		return r.abandon(ctx, rec.LocalID, err)
	}
	defer r.release(t)

	return r.pushCreate(ctx, t)
}

// Update applies partial to the record named by ref and sends the change
// remotely, addressed by the collection's key. On failure the local value is
// kept and flagged unsynced.
func (r *Reconciler) Update(ctx context.Context, ref string, partial model.Row) (model.Record, error) {
	r.mu.Lock()
	r.ensureLoadedLocked(ctx)

	rec := r.findLocked(ref)
	if rec == nil {
		r.mu.Unlock()
		return model.Record{}, fmt.Errorf("update %s/%s: %w", r.coll.Name, ref, ErrRecordNotFound)
	}
	for k, v := range partial {
		if k == model.IDField {
			continue
		}
		rec.Fields[k] = v
	}
	for k, v := range r.coll.Scope {
		rec.Fields[k] = v
	}
	r.markPendingLocked(rec, model.OpUpdate)
	r.touchLocked()
	r.persistLocked(ctx)
	t := r.enqueueLocked(rec.LocalID)
	r.mu.Unlock()

	if err := r.acquire(ctx, t); err != nil {
		return r.abandon(ctx, t.key, err)
	}
	defer r.release(t)

	return r.pushUpdate(ctx, t)
}

// Delete removes the record named by ref from the view and deletes it
// remotely. When the remote delete fails the record is restored at its
// position, flagged unsynced with the error.
func (r *Reconciler) Delete(ctx context.Context, ref string) error {
	r.mu.Lock()
	r.ensureLoadedLocked(ctx)

	idx := slices.IndexFunc(r.records, func(rec *model.Record) bool { return rec.Matches(ref) })
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("delete %s/%s: %w", r.coll.Name, ref, ErrRecordNotFound)
	}
	rec := r.records[idx]
	r.records = slices.Delete(r.records, idx, idx+1)
	r.removing[rec.LocalID] = rec
	r.touchLocked()
	r.persistLocked(ctx)
	t := r.enqueueLocked(rec.LocalID)
	r.mu.Unlock()

	if err := r.acquire(ctx, t); err != nil {
		r.mu.Lock()
		r.restoreLocked(rec, idx, model.OpDelete, err)
		r.persistLocked(ctx)
		r.mu.Unlock()
		return err
	}
	defer r.release(t)

	return r.pushDelete(ctx, t, idx)
}

// Upsert writes rows matched on conflictKey: rows whose key values match an
// existing record replace its fields, others become new records. The remote
// store applies the same semantics and the returned rows are mirrored back.
// Upserting the same row twice leaves a single record.
func (r *Reconciler) Upsert(ctx context.Context, rows []model.Row, conflictKey []string) ([]model.Record, error) {
	if len(conflictKey) == 0 {
		return nil, newFieldError("conflict_key", "at least one field is required")
	}
	if slices.Contains(conflictKey, model.IDField) {
		return nil, newFieldError("conflict_key", "must not include the remote id")
	}
	if len(rows) == 0 {
		return []model.Record{}, nil
	}

	r.mu.Lock()
	r.ensureLoadedLocked(ctx)

	scoped := make([]model.Row, 0, len(rows))
	for i, row := range rows {
		fields := r.scopedLocked(row)
		for _, f := range conflictKey {
			if fields.String(f) == "" {
				r.mu.Unlock()
				return nil, newFieldError(fmt.Sprintf("rows[%d].%s", i, f), "conflict key value is required")
			}
		}
		scoped = append(scoped, fields)
	}

	tickets := make([]*ticket, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, fields := range scoped {
		key := fields.KeyString(conflictKey)

		rec := r.findByKeyLocked(conflictKey, key)
		if rec == nil {
			rec = &model.Record{
				LocalID:   uuid.NewString(),
				Fields:    fields,
				State:     model.SyncStateLocalOnly,
				PendingOp: model.OpUpsert,
				UpdatedAt: time.Now().UTC(),
			}
			if r.coll.ClientRefField != "" {
				rec.Fields[r.coll.ClientRefField] = rec.LocalID
			}
			r.records = append(r.records, rec)
		} else {
			for k, v := range fields {
				rec.Fields[k] = v
			}
			r.markPendingLocked(rec, model.OpUpsert)
		}
		rec.Conflict = slices.Clone(conflictKey)

		if seen[rec.LocalID] {
			continue
		}
		seen[rec.LocalID] = true
		tickets = append(tickets, r.enqueueLocked(rec.LocalID))
	}
	r.touchLocked()
	r.persistLocked(ctx)
	r.mu.Unlock()

	for i, t := range tickets {
		if err := r.acquire(ctx, t); err != nil {
			// Later tickets never got their turn; hand them back in order.
			for _, rest := range tickets[i+1:] {
				r.releaseAfterPrev(rest)
			}
			for _, held := range tickets[:i] {
				r.release(held)
			}
			recs := make([]model.Record, 0, len(tickets))
			for _, t := range tickets {
				rec, _ := r.abandon(ctx, t.key, err)
				recs = append(recs, rec)
			}
			return recs, err
		}
	}
	defer func() {
		for _, t := range tickets {
			r.release(t)
		}
	}()

	return r.pushUpsert(ctx, tickets, conflictKey)
}

// Retry re-issues the pending remote operation of the record named by ref.
// Synced records are returned unchanged.
func (r *Reconciler) Retry(ctx context.Context, ref string) (model.Record, error) {
	r.mu.Lock()
	r.ensureLoadedLocked(ctx)

	rec := r.findLocked(ref)
	if rec == nil {
		r.mu.Unlock()
		return model.Record{}, fmt.Errorf("retry %s/%s: %w", r.coll.Name, ref, ErrRecordNotFound)
	}
	if rec.IsSynced() {
		out := rec.Clone()
		r.mu.Unlock()
		return out, nil
	}

	op := rec.PendingOp
	idx := -1
	if op == model.OpDelete {
		idx = slices.Index(r.records, rec)
		r.records = slices.Delete(r.records, idx, idx+1)
		r.removing[rec.LocalID] = rec
		r.persistLocked(ctx)
	}
	t := r.enqueueLocked(rec.LocalID)
	r.mu.Unlock()

	if err := r.acquire(ctx, t); err != nil {
		if op == model.OpDelete {
			r.mu.Lock()
			r.restoreLocked(rec, idx, model.OpDelete, err)
			r.persistLocked(ctx)
			r.mu.Unlock()
			return rec.Clone(), err
		}
		return r.abandon(ctx, t.key, err)
	}
	defer r.release(t)

	switch op {
	case model.OpDelete:
		err := r.pushDelete(ctx, t, idx)
		if err != nil {
			r.mu.Lock()
			defer r.mu.Unlock()
			return rec.Clone(), err
		}
		return model.Record{}, nil
	case model.OpUpsert:
		recs, err := r.pushUpsert(ctx, []*ticket{t}, rec.Conflict)
		if len(recs) == 0 {
			return model.Record{}, err
		}
		return recs[0], err
	case model.OpCreate:
		return r.pushCreate(ctx, t)
	default:
		return r.pushUpdate(ctx, t)
	}
}

// RetryPending retries every record with an outstanding operation that was
// not rejected by the backend. It stops at the first unavailable error since
// the remaining retries would fail the same way.
func (r *Reconciler) RetryPending(ctx context.Context) (retried, failed int) {
	r.mu.Lock()
	r.ensureLoadedLocked(ctx)
	var refs []string
	for _, rec := range r.records {
		if rec.IsSynced() || rec.Rejected || rec.State == model.SyncStatePending {
			continue
		}
		if _, busy := r.tails[rec.LocalID]; busy {
			continue
		}
		if rec.PendingOp == model.OpCreate && r.createConflictKey(rec.Fields) == nil {
			// A resent insert could land twice; only an explicit Retry sends it.
			continue
		}
		refs = append(refs, rec.LocalID)
	}
	r.mu.Unlock()

	for _, ref := range refs {
		_, err := r.Retry(ctx, ref)
		retried++
		if err == nil {
			continue
		}
		failed++
		if errors.Is(err, driven.ErrRemoteUnavailable) || ctx.Err() != nil {
			break
		}
	}
	if retried > 0 {
		r.logger.Info("pending operations retried", "retried", retried, "failed", failed)
	}
	return retried, failed
}

// Discard drops the unconfirmed local intent of the record named by ref:
// records never acknowledged remotely are removed, edits revert to the last
// confirmed value and a failed delete is forgotten.
func (r *Reconciler) Discard(ctx context.Context, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoadedLocked(ctx)

	idx := slices.IndexFunc(r.records, func(rec *model.Record) bool { return rec.Matches(ref) })
	if idx < 0 {
		return fmt.Errorf("discard %s/%s: %w", r.coll.Name, ref, ErrRecordNotFound)
	}
	rec := r.records[idx]
	if _, busy := r.tails[rec.LocalID]; busy {
		return fmt.Errorf("discard %s/%s: %w", r.coll.Name, ref, ErrOperationInFlight)
	}

	if !rec.IsConfirmed() {
		r.records = slices.Delete(r.records, idx, idx+1)
	} else {
		rec.Fields = rec.Confirmed.Clone()
		r.markSyncedLocked(rec)
	}
	r.persistLocked(ctx)
	r.logger.Info("pending change discarded", "ref", ref)
	return nil
}

// Records returns a copy of the current view, in insertion order.
func (r *Reconciler) Records(ctx context.Context) []model.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoadedLocked(ctx)
	return r.snapshotLocked()
}

// Get returns the record named by ref from the current view.
func (r *Reconciler) Get(ctx context.Context, ref string) (model.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoadedLocked(ctx)

	rec := r.findLocked(ref)
	if rec == nil {
		return model.Record{}, fmt.Errorf("get %s/%s: %w", r.coll.Name, ref, ErrRecordNotFound)
	}
	return rec.Clone(), nil
}

// Status summarizes the collection's sync state.
func (r *Reconciler) Status(ctx context.Context) CollectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoadedLocked(ctx)

	st := CollectionStatus{
		Name:        r.coll.Name,
		Total:       len(r.records),
		Degraded:    r.degraded,
		LastRefresh: r.lastRefresh,
		LastWrite:   r.lastWrite,
		LastWarning: r.lastWarning,
	}
	for _, rec := range r.records {
		switch {
		case rec.IsSynced():
			st.Synced++
		case rec.State == model.SyncStatePending:
			st.Pending++
		case rec.State == model.SyncStateLocalOnly:
			st.LocalOnly++
		default:
			st.Unsynced++
		}
	}
	return st
}

// LastWrite returns when the collection was last changed locally.
func (r *Reconciler) LastWrite() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastWrite
}

// --- remote pushes; each runs while holding the record's ticket ---

func (r *Reconciler) pushCreate(ctx context.Context, t *ticket) (model.Record, error) {
	r.mu.Lock()
	rec := r.findAnyLocked(t.key)
	if rec == nil {
		r.mu.Unlock()
		return model.Record{}, fmt.Errorf("create %s: %w", r.coll.Name, ErrRecordNotFound)
	}
	row := rec.Fields.Clone()
	delete(row, model.IDField)
	rec.State = model.SyncStatePending
	r.mu.Unlock()

	conflict := r.createConflictKey(row)
	var out []model.Row
	err := r.call(ctx, conflict != nil, func(ctx context.Context, rs driven.RemoteStore) error {
		var err error
		if conflict != nil {
			out, err = rs.Upsert(ctx, r.coll.Name, []model.Row{row}, conflict)
		} else {
			out, err = rs.Insert(ctx, r.coll.Name, []model.Row{row})
		}
		return err
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failLocked(rec, model.OpCreate, err)
		r.persistLocked(ctx)
		return rec.Clone(), fmt.Errorf("create %s: %w", r.coll.Name, err)
	}
	r.acknowledgeLocked(rec, firstRow(out), t)
	r.persistLocked(ctx)
	return rec.Clone(), nil
}

func (r *Reconciler) pushUpdate(ctx context.Context, t *ticket) (model.Record, error) {
	r.mu.Lock()
	rec := r.findAnyLocked(t.key)
	if rec == nil {
		r.mu.Unlock()
		return model.Record{}, fmt.Errorf("update %s: %w", r.coll.Name, ErrRecordNotFound)
	}

	// Never acknowledged: the change rides on the original write instead.
	if !rec.IsConfirmed() {
		op := rec.PendingOp
		r.mu.Unlock()
		if op == model.OpUpsert {
			recs, err := r.pushUpsert(ctx, []*ticket{t}, rec.Conflict)
			if len(recs) == 0 {
				return model.Record{}, err
			}
			return recs[0], err
		}
		return r.pushCreate(ctx, t)
	}

	changes := rec.Fields.Diff(rec.Confirmed)
	if len(changes) == 0 {
		if !r.hasFollowersLocked(t) {
			r.markSyncedLocked(rec)
			r.persistLocked(ctx)
		}
		out := rec.Clone()
		r.mu.Unlock()
		return out, nil
	}

	match, ok := rec.KeyMatch(r.coll.Key)
	if !ok {
		err := &driven.RemoteError{Kind: driven.ErrRemoteRejected, Message: "record has no value for its lookup key"}
		r.failLocked(rec, model.OpUpdate, err)
		r.persistLocked(ctx)
		out := rec.Clone()
		r.mu.Unlock()
		return out, fmt.Errorf("update %s/%s: %w", r.coll.Name, t.key, err)
	}
	rec.State = model.SyncStatePending
	r.mu.Unlock()

	var out []model.Row
	err := r.call(ctx, true, func(ctx context.Context, rs driven.RemoteStore) error {
		var err error
		out, err = rs.Update(ctx, r.coll.Name, changes, match)
		return err
	})
	if err == nil && len(out) == 0 {
		err = &driven.RemoteError{Kind: driven.ErrRemoteRejected, Message: "no remote row matches the record key"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failLocked(rec, model.OpUpdate, err)
		r.persistLocked(ctx)
		return rec.Clone(), fmt.Errorf("update %s/%s: %w", r.coll.Name, rec.ID, err)
	}
	r.acknowledgeLocked(rec, out[0], t)
	r.persistLocked(ctx)
	return rec.Clone(), nil
}

func (r *Reconciler) pushDelete(ctx context.Context, t *ticket, idx int) error {
	r.mu.Lock()
	rec, ok := r.removing[t.key]
	if !ok {
		r.mu.Unlock()
		return nil
	}

	match, hasKey := rec.KeyMatch(r.coll.Key)
	if !rec.IsConfirmed() {
		hasKey = false
		if r.coll.ClientRefField != "" {
			// The create may have landed with its acknowledgement lost.
			match, hasKey = model.Match{r.coll.ClientRefField: rec.LocalID}, true
		}
	}
	if !hasKey {
		delete(r.removing, t.key)
		r.mu.Unlock()
		r.logger.Debug("local-only record deleted", "local_id", t.key)
		return nil
	}
	r.mu.Unlock()

	err := r.call(ctx, true, func(ctx context.Context, rs driven.RemoteStore) error {
		return rs.Delete(ctx, r.coll.Name, match)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.restoreLocked(rec, idx, model.OpDelete, err)
		r.persistLocked(ctx)
		return fmt.Errorf("delete %s/%s: %w", r.coll.Name, rec.ID, err)
	}
	delete(r.removing, t.key)
	r.persistLocked(ctx)
	return nil
}

func (r *Reconciler) pushUpsert(ctx context.Context, tickets []*ticket, conflictKey []string) ([]model.Record, error) {
	r.mu.Lock()
	recs := make([]*model.Record, 0, len(tickets))
	rows := make([]model.Row, 0, len(tickets))
	owner := make(map[*model.Record]*ticket, len(tickets))
	for _, t := range tickets {
		rec := r.findAnyLocked(t.key)
		if rec == nil {
			continue
		}
		row := rec.Fields.Clone()
		delete(row, model.IDField)
		rec.State = model.SyncStatePending
		recs = append(recs, rec)
		rows = append(rows, row)
		owner[rec] = t
	}
	r.mu.Unlock()

	if len(recs) == 0 {
		return []model.Record{}, nil
	}
	if len(conflictKey) == 0 {
		conflictKey = r.coll.Key
	}

	var out []model.Row
	err := r.call(ctx, true, func(ctx context.Context, rs driven.RemoteStore) error {
		var err error
		out, err = rs.Upsert(ctx, r.coll.Name, rows, conflictKey)
		return err
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]model.Record, 0, len(recs))
	if err != nil {
		for _, rec := range recs {
			r.failLocked(rec, model.OpUpsert, err)
			result = append(result, rec.Clone())
		}
		r.persistLocked(ctx)
		return result, fmt.Errorf("upsert %s: %w", r.coll.Name, err)
	}

	returned := make(map[string]model.Row, len(out))
	for _, row := range out {
		returned[row.KeyString(conflictKey)] = row
	}
	for i, rec := range recs {
		row, ok := returned[rec.Fields.KeyString(conflictKey)]
		if !ok && len(out) == len(recs) {
			row = out[i]
		}
		r.acknowledgeLocked(rec, row, owner[rec])
		result = append(result, rec.Clone())
	}
	r.persistLocked(ctx)
	return result, nil
}

// call runs fn against the current remote store with a per-attempt timeout.
// Unavailable errors are retried with exponential backoff when retryable is
// set; rejected errors never are. A Retry-After from the backend stretches the
// next delay, and one longer than MaxBackoff ends the retries.
func (r *Reconciler) call(ctx context.Context, retryable bool, fn func(context.Context, driven.RemoteStore) error) error {
	if skip, _ := ctx.Value(noBackoffKey{}).(bool); skip {
		retryable = false
	}

	var lastErr error
	attempt := func() error {
		rs := r.remote.Get()
		if rs == nil {
			return backoff.Permanent(&driven.RemoteError{Kind: driven.ErrRemoteUnavailable, Message: "no remote store configured"})
		}

		callCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()

		err := fn(callCtx, rs)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, driven.ErrRemoteRejected) {
			err = &driven.RemoteError{
				Kind:    driven.ErrRemoteUnavailable,
				Message: fmt.Sprintf("remote call timed out after %s", r.opts.Timeout),
			}
		}
		if !errors.Is(err, driven.ErrRemoteUnavailable) && !errors.Is(err, driven.ErrRemoteRejected) {
			err = &driven.RemoteError{Kind: driven.ErrRemoteUnavailable, Message: err.Error()}
		}
		if !retryable || errors.Is(err, driven.ErrRemoteRejected) {
			return backoff.Permanent(err)
		}
		lastErr = err
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.InitialBackoff
	b.MaxInterval = r.opts.MaxBackoff
	b.MaxElapsedTime = 0

	policy := &retryAfterBackOff{
		BackOff: backoff.WithMaxRetries(b, uint64(r.opts.MaxRetries)),
		limit:   r.opts.MaxBackoff,
		lastErr: &lastErr,
	}
	return backoff.Retry(attempt, backoff.WithContext(policy, ctx))
}

// retryAfterBackOff waits at least as long as the last error asked for.
type retryAfterBackOff struct {
	backoff.BackOff
	limit   time.Duration
	lastErr *error
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return backoff.Stop
	}
	wait := driven.RetryDelay(*b.lastErr)
	if wait > b.limit {
		return backoff.Stop
	}
	return max(next, wait)
}

// --- queue ---

// enqueueLocked reserves the next place in the record's operation queue.
func (r *Reconciler) enqueueLocked(localID string) *ticket {
	t := &ticket{key: localID, prev: r.tails[localID], done: make(chan struct{})}
	r.tails[localID] = t.done
	return t
}

// acquire waits until every earlier operation on the record has finished.
// If ctx ends first the ticket is handed back once its predecessor is done,
// which keeps later operations in order.
func (r *Reconciler) acquire(ctx context.Context, t *ticket) error {
	if t.prev == nil {
		return nil
	}
	select {
	case <-t.prev:
		return nil
	case <-ctx.Done():
		r.releaseAfterPrev(t)
		return ctx.Err()
	}
}

func (r *Reconciler) releaseAfterPrev(t *ticket) {
	if t.prev == nil {
		r.release(t)
		return
	}
	go func() {
		<-t.prev
		r.release(t)
	}()
}

func (r *Reconciler) release(t *ticket) {
	close(t.done)
	r.mu.Lock()
	if r.tails[t.key] == t.done {
		delete(r.tails, t.key)
	}
	r.mu.Unlock()
}

func (r *Reconciler) hasFollowersLocked(t *ticket) bool {
	if t == nil {
		return false
	}
	return r.tails[t.key] != t.done
}

// abandon flags a record whose queued operation never ran.
func (r *Reconciler) abandon(ctx context.Context, localID string, cause error) (model.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.findAnyLocked(localID)
	if rec == nil {
		return model.Record{}, cause
	}
	op := rec.PendingOp
	if op == model.OpNone {
		op = model.OpUpdate
	}
	r.failLocked(rec, op, cause)
	r.persistLocked(context.WithoutCancel(ctx))
	return rec.Clone(), cause
}

// --- state transitions ---

func (r *Reconciler) markPendingLocked(rec *model.Record, op model.Op) {
	rec.UpdatedAt = time.Now().UTC()
	if !rec.IsConfirmed() {
		// Still waiting on its original write; that write carries the change.
		return
	}
	rec.PendingOp = op
	rec.State = model.SyncStatePending
}

func (r *Reconciler) markSyncedLocked(rec *model.Record) {
	rec.State = model.SyncStateSynced
	rec.PendingOp = model.OpNone
	rec.Conflict = nil
	rec.LastError = ""
	rec.Rejected = false
	rec.UpdatedAt = time.Now().UTC()
}

func (r *Reconciler) failLocked(rec *model.Record, op model.Op, err error) {
	if rec.IsConfirmed() {
		rec.State = model.SyncStateUnsynced
		rec.PendingOp = op
	} else {
		rec.State = model.SyncStateLocalOnly
		if rec.PendingOp == model.OpNone {
			rec.PendingOp = op
		}
	}
	rec.LastError = err.Error()
	rec.Rejected = errors.Is(err, driven.ErrRemoteRejected)
	rec.UpdatedAt = time.Now().UTC()
	r.logger.Warn("remote write failed", "op", op, "id", rec.ID, "local_id", rec.LocalID, "rejected", rec.Rejected, "error", err)
}

// acknowledgeLocked records a successful remote write. When later operations
// on the record are queued the optimistic fields are kept for them to send.
func (r *Reconciler) acknowledgeLocked(rec *model.Record, row model.Row, t *ticket) {
	confirmed := row.Clone()
	if confirmed == nil {
		confirmed = rec.Fields.Clone()
	}
	if id := confirmed.String(model.IDField); id != "" {
		rec.ID = id
	}
	delete(confirmed, model.IDField)
	rec.Confirmed = confirmed

	if r.hasFollowersLocked(t) {
		for k, v := range confirmed {
			if _, ok := rec.Fields[k]; !ok {
				rec.Fields[k] = v
			}
		}
		if len(rec.Fields.Diff(rec.Confirmed)) > 0 {
			rec.State = model.SyncStatePending
			rec.PendingOp = model.OpUpdate
			rec.LastError = ""
			rec.Rejected = false
			rec.UpdatedAt = time.Now().UTC()
			return
		}
	} else {
		rec.Fields = confirmed.Clone()
	}
	r.markSyncedLocked(rec)
}

// restoreLocked puts back a record whose remote delete did not happen.
func (r *Reconciler) restoreLocked(rec *model.Record, idx int, op model.Op, err error) {
	delete(r.removing, rec.LocalID)
	if idx < 0 || idx > len(r.records) {
		idx = len(r.records)
	}
	r.records = slices.Insert(r.records, idx, rec)
	r.failLocked(rec, op, err)
}

// --- lookup & persistence ---

func (r *Reconciler) findLocked(ref string) *model.Record {
	for _, rec := range r.records {
		if rec.Matches(ref) {
			return rec
		}
	}
	return nil
}

// findAnyLocked also sees records whose delete is in flight.
func (r *Reconciler) findAnyLocked(localID string) *model.Record {
	if rec := r.findLocked(localID); rec != nil {
		return rec
	}
	return r.removing[localID]
}

// createConflictKey returns the columns a create is upserted on so that a
// resent create lands on the same remote row, or nil when only a plain insert
// fits the collection.
func (r *Reconciler) createConflictKey(fields model.Row) []string {
	if r.coll.ClientRefField != "" {
		return []string{r.coll.ClientRefField}
	}
	if r.coll.Key.IsIdentity() {
		return nil
	}
	for _, f := range r.coll.Key {
		if fields.String(f) == "" {
			return nil
		}
	}
	return r.coll.Key
}

func (r *Reconciler) findByKeyLocked(key []string, value string) *model.Record {
	for _, rec := range r.records {
		if rec.KeyString(key) == value {
			return rec
		}
	}
	return nil
}

func (r *Reconciler) scopedLocked(fields model.Row) model.Row {
	out := fields.Clone()
	if out == nil {
		out = model.Row{}
	}
	delete(out, model.IDField)
	for k, v := range r.coll.Scope {
		out[k] = v
	}
	return out
}

func (r *Reconciler) touchLocked() {
	r.lastWrite = time.Now().UTC()
}

func (r *Reconciler) snapshotLocked() []model.Record {
	out := make([]model.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	return out
}

// ensureLoadedLocked reads the cached snapshot once. A cache that cannot be
// read is logged and treated as empty.
func (r *Reconciler) ensureLoadedLocked(ctx context.Context) {
	if r.loaded {
		return
	}
	r.loaded = true
	if r.local == nil {
		return
	}

	blob, ok, err := r.local.Get(context.WithoutCancel(ctx), r.coll.CacheKey())
	if err != nil {
		r.logger.Error("read local cache failed", "error", fmt.Errorf("%w: %w", driven.ErrLocalStorage, err))
		return
	}
	if !ok {
		return
	}

	var entry model.CacheEntry
	if err := json.Unmarshal(blob, &entry); err != nil {
		r.logger.Error("decode local cache failed", "error", fmt.Errorf("%w: %w", driven.ErrLocalStorage, err))
		return
	}

	loaded := make([]*model.Record, 0, len(entry.Records))
	for i := range entry.Records {
		rec := entry.Records[i]
		if rec.Fields == nil {
			rec.Fields = model.Row{}
		}
		if rec.State == model.SyncStatePending {
			// The process stopped mid-call; the outcome is unknown.
			if rec.IsConfirmed() {
				rec.State = model.SyncStateUnsynced
			} else {
				rec.State = model.SyncStateLocalOnly
			}
			rec.LastError = "interrupted before the remote store answered"
		}
		loaded = append(loaded, &rec)
	}
	r.records = loaded
	r.lastRefresh = entry.FetchedAt
	r.logger.Debug("local cache loaded", "records", len(loaded))
}

// persistLocked writes the current view to local storage. Failures are
// logged; the in-memory view stays authoritative for the session.
func (r *Reconciler) persistLocked(ctx context.Context) {
	if r.local == nil {
		return
	}
	entry := model.CacheEntry{
		Collection: r.coll.Name,
		FetchedAt:  r.lastRefresh,
		Records:    r.snapshotLocked(),
	}
	blob, err := json.Marshal(entry)
	if err != nil {
		r.logger.Error("encode local cache failed", "error", fmt.Errorf("%w: %w", driven.ErrLocalStorage, err))
		return
	}
	if err := r.local.Set(context.WithoutCancel(ctx), r.coll.CacheKey(), blob); err != nil {
		r.logger.Error("write local cache failed", "error", fmt.Errorf("%w: %w", driven.ErrLocalStorage, err))
	}
}

func firstRow(rows []model.Row) model.Row {
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}
