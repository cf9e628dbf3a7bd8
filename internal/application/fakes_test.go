package application_test

import (
	"context"
	"errors"
	"sync"

	"github.com/ericfisherdev/studiopanel/internal/domain/model"
	"github.com/ericfisherdev/studiopanel/internal/domain/port/driven"
)

var (
	errUnavailable = &driven.RemoteError{Kind: driven.ErrRemoteUnavailable, Message: "connection refused"}
	errRejected    = &driven.RemoteError{Kind: driven.ErrRemoteRejected, StatusCode: 409, Message: "duplicate key value violates unique constraint"}
)

type remoteCall struct {
	Op     string
	Fields model.Row
	Match  model.Match
	Rows   []model.Row
	Keys   []string
}

// fakeRemote is an in-memory tabular store with failure injection.
type fakeRemote struct {
	mu     sync.Mutex
	tables map[string][]model.Row
	nextID float64
	calls  []remoteCall

	// failures are consumed one per call; a nil entry lets the call through.
	failures []error
	// failAll fails every call while set.
	failAll error
	// dropAcks applies the write and then reports it as failed.
	dropAcks int
	// hook runs before a call is applied and may block.
	hook func(ctx context.Context, call remoteCall) error
}

var _ driven.RemoteStore = (*fakeRemote)(nil)

func newFakeRemote() *fakeRemote {
	return &fakeRemote{tables: make(map[string][]model.Row)}
}

func (f *fakeRemote) seed(collection string, rows ...model.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range rows {
		f.insertLocked(collection, row)
	}
}

func (f *fakeRemote) rows(collection string) []model.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Row, 0, len(f.tables[collection]))
	for _, row := range f.tables[collection] {
		out = append(out, row.Clone())
	}
	return out
}

func (f *fakeRemote) callsFor(op string) []remoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []remoteCall
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRemote) setFailAll(err error) {
	f.mu.Lock()
	f.failAll = err
	f.mu.Unlock()
}

// begin records the call and decides whether it fails before being applied.
func (f *fakeRemote) begin(ctx context.Context, call remoteCall) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, call); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return f.failAll
	}
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return err
	}
	return nil
}

// ack reports the outcome of an applied write.
func (f *fakeRemote) ack() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dropAcks > 0 {
		f.dropAcks--
		return errUnavailable
	}
	return nil
}

func (f *fakeRemote) insertLocked(collection string, row model.Row) model.Row {
	f.nextID++
	stored := row.Clone()
	if stored == nil {
		stored = model.Row{}
	}
	stored[model.IDField] = f.nextID
	f.tables[collection] = append(f.tables[collection], stored)
	return stored.Clone()
}

func matches(row model.Row, m model.Match) bool {
	for k, v := range m {
		if row.String(k) != model.FormatScalar(v) {
			return false
		}
	}
	return true
}

func (f *fakeRemote) Select(ctx context.Context, collection string, q model.Query) ([]model.Row, error) {
	if err := f.begin(ctx, remoteCall{Op: "select", Match: q.Filter}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Row
	for _, row := range f.tables[collection] {
		if matches(row, q.Filter) {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

func (f *fakeRemote) Insert(ctx context.Context, collection string, rows []model.Row) ([]model.Row, error) {
	if err := f.begin(ctx, remoteCall{Op: "insert", Rows: rows}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	out := make([]model.Row, 0, len(rows))
	for _, row := range rows {
		out = append(out, f.insertLocked(collection, row))
	}
	f.mu.Unlock()
	return out, f.ack()
}

func (f *fakeRemote) Update(ctx context.Context, collection string, fields model.Row, match model.Match) ([]model.Row, error) {
	if err := f.begin(ctx, remoteCall{Op: "update", Fields: fields.Clone(), Match: match}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	var out []model.Row
	for _, row := range f.tables[collection] {
		if !matches(row, match) {
			continue
		}
		for k, v := range fields {
			row[k] = v
		}
		out = append(out, row.Clone())
	}
	f.mu.Unlock()
	return out, f.ack()
}

func (f *fakeRemote) Delete(ctx context.Context, collection string, match model.Match) error {
	if err := f.begin(ctx, remoteCall{Op: "delete", Match: match}); err != nil {
		return err
	}
	f.mu.Lock()
	kept := f.tables[collection][:0]
	for _, row := range f.tables[collection] {
		if !matches(row, match) {
			kept = append(kept, row)
		}
	}
	f.tables[collection] = kept
	f.mu.Unlock()
	return f.ack()
}

func (f *fakeRemote) Upsert(ctx context.Context, collection string, rows []model.Row, conflictKeys []string) ([]model.Row, error) {
	if err := f.begin(ctx, remoteCall{Op: "upsert", Rows: rows, Keys: conflictKeys}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	out := make([]model.Row, 0, len(rows))
	for _, row := range rows {
		m := model.Match{}
		for _, k := range conflictKeys {
			m[k] = row[k]
		}
		var hit model.Row
		for _, existing := range f.tables[collection] {
			if matches(existing, m) {
				hit = existing
				break
			}
		}
		if hit == nil {
			out = append(out, f.insertLocked(collection, row))
			continue
		}
		for k, v := range row {
			hit[k] = v
		}
		out = append(out, hit.Clone())
	}
	f.mu.Unlock()
	return out, f.ack()
}

// memLocal is an in-memory LocalStore.
type memLocal struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	setErr error
}

var _ driven.LocalStore = (*memLocal)(nil)

func newMemLocal() *memLocal {
	return &memLocal{blobs: make(map[string][]byte)}
}

func (m *memLocal) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[key]
	return b, ok, nil
}

func (m *memLocal) Set(_ context.Context, key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.blobs[key] = append([]byte(nil), blob...)
	return nil
}

var errDiskFull = errors.New("disk full")
