package httphandler_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httphandler "github.com/ericfisherdev/studiopanel/internal/adapter/driving/http"
	"github.com/ericfisherdev/studiopanel/internal/application"
	"github.com/ericfisherdev/studiopanel/internal/domain/model"
	"github.com/ericfisherdev/studiopanel/internal/domain/port/driven"
)

// --- Mock implementations ---

// stubRemote is an in-memory tabular store. Setting down makes every call
// fail as unavailable.
type stubRemote struct {
	mu     sync.Mutex
	tables map[string][]model.Row
	nextID float64
	down   bool
}

func newStubRemote() *stubRemote {
	return &stubRemote{tables: make(map[string][]model.Row)}
}

func (s *stubRemote) setDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

func (s *stubRemote) table(name string) []model.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Row(nil), s.tables[name]...)
}

func (s *stubRemote) check() error {
	if s.down {
		return &driven.RemoteError{Kind: driven.ErrRemoteUnavailable, Message: "connection refused"}
	}
	return nil
}

func rowMatches(row model.Row, m model.Match) bool {
	for k, v := range m {
		if model.FormatScalar(row[k]) != model.FormatScalar(v) {
			return false
		}
	}
	return true
}

func (s *stubRemote) insertLocked(collection string, row model.Row) model.Row {
	s.nextID++
	stored := row.Clone()
	stored[model.IDField] = s.nextID
	s.tables[collection] = append(s.tables[collection], stored)
	return stored.Clone()
}

func (s *stubRemote) Select(_ context.Context, collection string, q model.Query) ([]model.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []model.Row
	for _, row := range s.tables[collection] {
		if rowMatches(row, q.Filter) {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

func (s *stubRemote) Insert(_ context.Context, collection string, rows []model.Row) ([]model.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]model.Row, 0, len(rows))
	for _, row := range rows {
		out = append(out, s.insertLocked(collection, row))
	}
	return out, nil
}

func (s *stubRemote) Update(_ context.Context, collection string, fields model.Row, match model.Match) ([]model.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []model.Row
	for _, row := range s.tables[collection] {
		if rowMatches(row, match) {
			for k, v := range fields {
				row[k] = v
			}
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

func (s *stubRemote) Delete(_ context.Context, collection string, match model.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	kept := s.tables[collection][:0]
	for _, row := range s.tables[collection] {
		if !rowMatches(row, match) {
			kept = append(kept, row)
		}
	}
	s.tables[collection] = kept
	return nil
}

func (s *stubRemote) Upsert(_ context.Context, collection string, rows []model.Row, conflictKeys []string) ([]model.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]model.Row, 0, len(rows))
	for _, row := range rows {
		m := model.Match{}
		for _, k := range conflictKeys {
			m[k] = row[k]
		}
		var hit model.Row
		for _, existing := range s.tables[collection] {
			if rowMatches(existing, m) {
				hit = existing
				break
			}
		}
		if hit == nil {
			out = append(out, s.insertLocked(collection, row))
			continue
		}
		for k, v := range row {
			hit[k] = v
		}
		out = append(out, hit.Clone())
	}
	return out, nil
}

type memLocal struct {
	mu    sync.Mutex
	blobs map[string][]byte
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
	m.blobs[key] = blob
	return nil
}

type mockUserStore struct {
	mu    sync.Mutex
	users []model.User
}

func (m *mockUserStore) Add(_ context.Context, user model.User) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return model.User{}, driven.ErrUserAlreadyExists
		}
	}
	user.ID = int64(len(m.users) + 1)
	m.users = append(m.users, user)
	return user, nil
}

func (m *mockUserStore) GetByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func (m *mockUserStore) ListAll(_ context.Context) ([]model.User, error) {
	return m.users, nil
}

// --- Test helpers ---

type testAPI struct {
	handler http.Handler
	remote  *stubRemote
	token   string
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()

	remote := newStubRemote()
	opts := application.ReconcilerOptions{
		Timeout:        time.Second,
		MaxRetries:     0,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}
	registry := application.NewRegistry(
		application.NewRemoteProvider(remote, "stub://remote"),
		&memLocal{blobs: make(map[string][]byte)},
		opts,
	)
	for _, coll := range application.StudioCollections("") {
		_, err := registry.Register(coll)
		require.NoError(t, err)
	}

	syncSvc := application.NewSyncService(registry, time.Hour)
	loopCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go syncSvc.Start(loopCtx)

	auth := application.NewAuthService(&mockUserStore{}, time.Hour)
	require.NoError(t, auth.EnsureAdmin(ctx, "admin@studio.test", "s3cret"))
	sess, err := auth.Login(ctx, "admin@studio.test", "s3cret")
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	h := httphandler.NewHandler(
		registry,
		application.NewStudioService(registry),
		syncSvc,
		application.NewSyncHealthService(registry),
		auth,
		logger,
	)

	return &testAPI{
		handler: httphandler.NewServeMux(h, logger),
		remote:  remote,
		token:   sess.Token,
	}
}

// do sends an authenticated request with an optional JSON body.
func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+a.token)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v), "body: %s", rec.Body.String())
}

// --- Tests ---

func TestHealth(t *testing.T) {
	api := setupAPI(t)

	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp httphandler.HealthResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	api := setupAPI(t)

	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/collections/students/records", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/collections/students/records", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin(t *testing.T) {
	api := setupAPI(t)

	t.Run("wrong password", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/login",
			strings.NewReader(`{"email":"admin@studio.test","password":"nope"}`))
		rec := httptest.NewRecorder()
		api.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("cookie session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/login",
			strings.NewReader(`{"email":"Admin@Studio.test","password":"s3cret"}`))
		rec := httptest.NewRecorder()
		api.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp httphandler.LoginResponse
		decodeJSON(t, rec, &resp)
		assert.NotEmpty(t, resp.Token)

		cookies := rec.Result().Cookies()
		require.NotEmpty(t, cookies)
		assert.Equal(t, httphandler.SessionCookieName, cookies[0].Name)
		assert.True(t, cookies[0].HttpOnly)

		req = httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil)
		req.AddCookie(cookies[0])
		rec = httptest.NewRecorder()
		api.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestGenericRecords_CreateListUpdateDelete(t *testing.T) {
	api := setupAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/collections/services/records",
		map[string]any{"instrument": "Piano", "duration": "45 min", "price": "120.00"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created httphandler.RecordResponse
	decodeJSON(t, rec, &created)
	assert.Equal(t, "synced", created.State)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, created.ID, created.Ref)

	rec = api.do(t, http.MethodGet, "/api/v1/collections/services/records", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list httphandler.ListResponse
	decodeJSON(t, rec, &list)
	assert.False(t, list.Degraded)
	require.Len(t, list.Records, 1)
	assert.Equal(t, "Piano", list.Records[0].Fields["instrument"])

	rec = api.do(t, http.MethodPatch, "/api/v1/collections/services/records/"+created.Ref,
		map[string]any{"price": "130.00"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "130.00", api.remote.table("services")[0]["price"])

	rec = api.do(t, http.MethodGet, "/api/v1/collections/services/records/"+created.Ref, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodDelete, "/api/v1/collections/services/records/"+created.Ref, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, api.remote.table("services"))

	rec = api.do(t, http.MethodGet, "/api/v1/collections/services/records/"+created.Ref, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenericRecords_UnknownCollection(t *testing.T) {
	api := setupAPI(t)

	rec := api.do(t, http.MethodGet, "/api/v1/collections/invoices/records", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenericRecords_RejectsClientID(t *testing.T) {
	api := setupAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/collections/services/records", map[string]any{"id": 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenericRecords_RejectsNestedValues(t *testing.T) {
	api := setupAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/collections/services/records",
		map[string]any{"instrument": "Piano", "price": map[string]any{"amount": 120}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"field":"price"`)
	assert.Empty(t, api.remote.table("services"))

	rec = api.do(t, http.MethodPost, "/api/v1/collections/services/records",
		map[string]any{"instrument": "Piano", "duration": "45 min", "price": "120.00"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created httphandler.RecordResponse
	decodeJSON(t, rec, &created)

	rec = api.do(t, http.MethodPatch, "/api/v1/collections/services/records/"+created.Ref,
		map[string]any{"duration": []string{"45", "min"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "45 min", api.remote.table("services")[0]["duration"])

	rec = api.do(t, http.MethodPut, "/api/v1/collections/payments/records", httphandler.UpsertRequest{
		ConflictKey: []string{"student_id", "month"},
		Rows:        []map[string]any{{"student_id": "4", "month": "2025-03", "note": []any{"a"}}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, api.remote.table("payments"))

	rec = api.do(t, http.MethodPost, "/api/v1/collections/ledger/records",
		map[string]any{"kind": "income", "amount": 15.5, "description": nil, "paid": false})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestGenericRecords_InvalidBody(t *testing.T) {
	api := setupAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/collections/services/records", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+api.token)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoteDown_WritesAreAcceptedAndReadsDegraded(t *testing.T) {
	api := setupAPI(t)
	api.remote.setDown(true)

	rec := api.do(t, http.MethodPost, "/api/v1/collections/notes/records",
		map[string]any{"student_id": "1", "date": "2025-03-01", "text": "scales"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var unsynced httphandler.UnsyncedResponse
	decodeJSON(t, rec, &unsynced)
	assert.Equal(t, "local_only", unsynced.Record.State)
	assert.Equal(t, "create", unsynced.Record.PendingOp)
	assert.Contains(t, unsynced.Error, "connection refused")
	assert.Equal(t, unsynced.Record.LocalID, unsynced.Record.Ref)

	rec = api.do(t, http.MethodGet, "/api/v1/collections/notes/records", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list httphandler.ListResponse
	decodeJSON(t, rec, &list)
	assert.True(t, list.Degraded)
	assert.NotEmpty(t, list.Warning)
	require.Len(t, list.Records, 1)
	assert.Equal(t, "scales", list.Records[0].Fields["text"])

	// Back online: an explicit retry pushes the pending create.
	api.remote.setDown(false)
	rec = api.do(t, http.MethodPost, "/api/v1/collections/notes/records/"+unsynced.Record.Ref+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var retried httphandler.RecordResponse
	decodeJSON(t, rec, &retried)
	assert.Equal(t, "synced", retried.State)
	assert.Len(t, api.remote.table("notes"), 1)
}

func TestDelete_RemoteDownRestoresRecord(t *testing.T) {
	api := setupAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/collections/services/records",
		map[string]any{"instrument": "Voice", "duration": "30 min", "price": "80.00"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created httphandler.RecordResponse
	decodeJSON(t, rec, &created)

	api.remote.setDown(true)
	rec = api.do(t, http.MethodDelete, "/api/v1/collections/services/records/"+created.Ref, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var restored httphandler.UnsyncedResponse
	decodeJSON(t, rec, &restored)
	assert.Equal(t, "unsynced", restored.Record.State)
	assert.Equal(t, "delete", restored.Record.PendingOp)

	rec = api.do(t, http.MethodDelete, "/api/v1/collections/services/records/"+created.Ref+"/pending", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/collections/services/records/"+created.Ref, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var kept httphandler.RecordResponse
	decodeJSON(t, rec, &kept)
	assert.Equal(t, "synced", kept.State)
}

func TestUpsertRecords(t *testing.T) {
	api := setupAPI(t)

	body := httphandler.UpsertRequest{
		ConflictKey: []string{"student_id", "month"},
		Rows:        []map[string]any{{"student_id": "4", "month": "2025-03", "paid": true}},
	}
	for range 2 {
		rec := api.do(t, http.MethodPut, "/api/v1/collections/payments/records", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	assert.Len(t, api.remote.table("payments"), 1)

	rec := api.do(t, http.MethodPut, "/api/v1/collections/payments/records",
		httphandler.UpsertRequest{ConflictKey: []string{"id"}, Rows: body.Rows})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateStudent_Validation(t *testing.T) {
	api := setupAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/students", map[string]any{"name": " ", "weekday": "Funday"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Error  string                   `json:"error"`
		Fields []application.FieldError `json:"fields"`
	}
	decodeJSON(t, rec, &resp)
	fields := make([]string, 0, len(resp.Fields))
	for _, f := range resp.Fields {
		fields = append(fields, f.Field)
	}
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "weekday")
}

func TestCreateUser(t *testing.T) {
	api := setupAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users",
		strings.NewReader(`{"name":"Clara","email":"clara@studio.test","password":"lessons123"}`))
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/users",
		map[string]any{"name": "Clara", "email": "not-an-email", "password": "short"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/users",
		map[string]any{"name": "Clara", "email": "Clara@Studio.test", "password": "lessons123"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var user httphandler.UserResponse
	decodeJSON(t, rec, &user)
	assert.NotZero(t, user.ID)
	assert.Equal(t, "clara@studio.test", user.Email)
	assert.NotContains(t, rec.Body.String(), "lessons123")

	rec = api.do(t, http.MethodPost, "/api/v1/users",
		map[string]any{"name": "Other", "email": "clara@studio.test", "password": "lessons456"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/login",
		strings.NewReader(`{"email":"clara@studio.test","password":"lessons123"}`))
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateService(t *testing.T) {
	api := setupAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/services",
		map[string]any{"instrument": "Violin", "duration": "30 min", "price": "80"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var service httphandler.RecordResponse
	decodeJSON(t, rec, &service)

	rec = api.do(t, http.MethodPatch, "/api/v1/services/"+service.Ref,
		map[string]any{"instrument": "Tuba", "duration": "30 min", "price": "abc"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"instrument"`)
	assert.Contains(t, rec.Body.String(), `"field":"price"`)

	rec = api.do(t, http.MethodPatch, "/api/v1/services/404",
		map[string]any{"instrument": "Violin", "duration": "30 min", "price": "80"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPatch, "/api/v1/services/"+service.Ref,
		map[string]any{"instrument": "Violin", "duration": "45 min", "price": "95"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "95.00", api.remote.table("services")[0]["price"])
	assert.Equal(t, "45 min", api.remote.table("services")[0]["duration"])
}

func TestStudioFlow(t *testing.T) {
	api := setupAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/services",
		map[string]any{"instrument": "Guitar", "duration": "60 min", "price": "100"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var service httphandler.RecordResponse
	decodeJSON(t, rec, &service)

	rec = api.do(t, http.MethodPost, "/api/v1/students", map[string]any{
		"name": "Ana Silva", "service_id": service.ID, "weekday": "Monday", "lesson_time": "14:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var student httphandler.RecordResponse
	decodeJSON(t, rec, &student)

	rec = api.do(t, http.MethodGet, "/api/v1/schedule", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var slots []httphandler.ScheduleSlotResponse
	decodeJSON(t, rec, &slots)
	require.Len(t, slots, 1)
	assert.Equal(t, []string{"Ana"}, slots[0].Days["Monday"])

	rec = api.do(t, http.MethodPut, "/api/v1/payments/2025-03/"+student.ID,
		map[string]any{"discount_percent": "10", "paid": true, "payment_date": "2025-03-05"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPost, "/api/v1/ledger",
		map[string]any{"kind": "expense", "amount": "20", "description": "strings", "date": "2025-03-12"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/api/v1/payments/2025-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st httphandler.StatementResponse
	decodeJSON(t, rec, &st)
	require.Len(t, st.Lines, 1)
	assert.Equal(t, "90.00", st.Lines[0].FinalAmount)
	assert.True(t, st.Lines[0].Paid)
	assert.Equal(t, "70.00", st.Summary["received"])
	assert.Len(t, st.Ledger, 1)

	rec = api.do(t, http.MethodGet, "/api/v1/payments/2025-03?unpaid=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &st)
	assert.Empty(t, st.Lines)

	rec = api.do(t, http.MethodPost, "/api/v1/notes",
		map[string]any{"student_id": student.ID, "date": "2025-03-03", "text": "**scales**"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/api/v1/notes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var notes []httphandler.StudentNotesResponse
	decodeJSON(t, rec, &notes)
	require.Len(t, notes, 1)
	assert.Equal(t, "Ana Silva", notes[0].StudentName)
	require.Len(t, notes[0].Notes, 1)
}

func TestSavePayments_Batch(t *testing.T) {
	api := setupAPI(t)

	ids := make([]string, 0, 2)
	for _, name := range []string{"Ana", "Bruno"} {
		rec := api.do(t, http.MethodPost, "/api/v1/students", map[string]any{"name": name})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var student httphandler.RecordResponse
		decodeJSON(t, rec, &student)
		ids = append(ids, student.ID)
	}

	rec := api.do(t, http.MethodPut, "/api/v1/payments/2025-04", []map[string]any{
		{"student_id": ids[0], "paid": true},
		{"student_id": ids[1], "discount_percent": "50"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var records []httphandler.RecordResponse
	decodeJSON(t, rec, &records)
	assert.Len(t, records, 2)
	assert.Len(t, api.remote.table("payments"), 2)

	rec = api.do(t, http.MethodPut, "/api/v1/payments/April", []map[string]any{{"student_id": ids[0]}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSyncStatusAndRefresh(t *testing.T) {
	api := setupAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/sync/refresh?collection=students", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPost, "/api/v1/sync/refresh?collection=invoices", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	api.remote.setDown(true)
	rec = api.do(t, http.MethodPost, "/api/v1/sync/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var status httphandler.SyncStatusResponse
	decodeJSON(t, rec, &status)
	assert.True(t, status.RemoteConfigured)
	assert.Equal(t, "stub://remote", status.RemoteTarget)
	assert.True(t, status.Degraded)
	require.Len(t, status.Collections, 5)
	assert.Equal(t, "students", status.Collections[0].Name)
	assert.NotEmpty(t, status.Collections[0].Tier)
}
