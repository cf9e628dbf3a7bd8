package httphandler

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ericfisherdev/studiopanel/internal/application"
	"github.com/ericfisherdev/studiopanel/internal/domain/model"
	"github.com/ericfisherdev/studiopanel/internal/domain/port/driven"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	registry *application.Registry
	studio   *application.StudioService
	syncSvc  *application.SyncService
	health   *application.SyncHealthService
	auth     *application.AuthService
	logger   *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	registry *application.Registry,
	studio *application.StudioService,
	syncSvc *application.SyncService,
	health *application.SyncHealthService,
	auth *application.AuthService,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		registry: registry,
		studio:   studio,
		syncSvc:  syncSvc,
		health:   health,
		auth:     auth,
		logger:   logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware. Every route except health and login
// requires a session.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, h)
	return ApplyMiddleware(mux, logger)
}

// ApplyMiddleware wraps next with request logging and panic recovery.
func ApplyMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, next)
	return loggingMiddleware(logger, wrapped)
}

// RegisterRoutes registers the /api/v1 routes on mux so the API can share a
// mux with the web GUI.
func RegisterRoutes(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("POST /api/v1/login", h.Login)

	protected := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, requireSession(h.auth, fn))
	}

	protected("POST /api/v1/logout", h.Logout)
	protected("POST /api/v1/users", h.CreateUser)
	protected("GET /api/v1/sync/status", h.SyncStatus)
	protected("POST /api/v1/sync/refresh", h.SyncRefresh)

	protected("GET /api/v1/collections/{name}/records", h.ListRecords)
	protected("POST /api/v1/collections/{name}/records", h.CreateRecord)
	protected("PUT /api/v1/collections/{name}/records", h.UpsertRecords)
	protected("GET /api/v1/collections/{name}/records/{ref}", h.GetRecord)
	protected("PATCH /api/v1/collections/{name}/records/{ref}", h.UpdateRecord)
	protected("DELETE /api/v1/collections/{name}/records/{ref}", h.DeleteRecord)
	protected("POST /api/v1/collections/{name}/records/{ref}/retry", h.RetryRecord)
	protected("DELETE /api/v1/collections/{name}/records/{ref}/pending", h.DiscardRecord)

	protected("GET /api/v1/students", h.ListStudents)
	protected("POST /api/v1/students", h.CreateStudent)
	protected("PATCH /api/v1/students/{ref}", h.UpdateStudent)
	protected("POST /api/v1/services", h.CreateService)
	protected("PATCH /api/v1/services/{ref}", h.UpdateService)
	protected("GET /api/v1/schedule", h.Schedule)
	protected("GET /api/v1/payments/{month}", h.MonthlyStatement)
	protected("PUT /api/v1/payments/{month}", h.SavePayments)
	protected("PUT /api/v1/payments/{month}/{studentID}", h.SavePayment)
	protected("POST /api/v1/ledger", h.AddLedgerEntry)
	protected("PATCH /api/v1/ledger/{ref}", h.UpdateLedgerEntry)
	protected("GET /api/v1/notes", h.ListNotes)
	protected("POST /api/v1/notes", h.AddNote)
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// Login checks the credentials, sets the session cookie and returns the token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sess, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, application.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	SetSessionCookie(w, sess)
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     sess.Token,
		Name:      sess.Name,
		Email:     sess.Email,
		ExpiresAt: formatTime(sess.ExpiresAt),
	})
}

// Logout ends the caller's session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout(SessionToken(r))
	ClearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// CreateUser adds a user to the local user list.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var in application.UserInput
	if !decodeBody(w, r, &in) {
		return
	}
	user, err := h.auth.Register(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, err, "create user")
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// SyncStatus returns the sync health of every collection.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.syncStatus(r.Context()))
}

// SyncRefresh refreshes one collection (?collection=name) or all of them and
// returns the resulting sync health.
func (h *Handler) SyncRefresh(w http.ResponseWriter, r *http.Request) {
	var err error
	if name := r.URL.Query().Get("collection"); name != "" {
		err = h.syncSvc.RefreshCollection(r.Context(), name)
	} else {
		err = h.syncSvc.RefreshAll(r.Context())
	}
	if err != nil {
		h.writeServiceError(w, err, "sync refresh")
		return
	}

	writeJSON(w, http.StatusOK, h.syncStatus(r.Context()))
}

func (h *Handler) syncStatus(ctx context.Context) SyncStatusResponse {
	summary := h.health.Summary(ctx)
	cols := make([]CollectionStatusResponse, 0, len(summary.Collections))
	for _, st := range summary.Collections {
		var sched application.ScheduleInfo
		var ok bool
		if h.syncSvc != nil {
			sched, ok = h.syncSvc.GetSchedule(st.Name)
		}
		cols = append(cols, toCollectionStatusResponse(st, sched, ok))
	}

	return SyncStatusResponse{
		RemoteConfigured: summary.RemoteConfigured,
		RemoteTarget:     summary.RemoteTarget,
		Outstanding:      summary.Outstanding,
		Degraded:         summary.Degraded,
		Collections:      cols,
	}
}

// ListRecords fetches a collection, falling back to the local cache.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.reconciler(w, r)
	if !ok {
		return
	}

	res, err := rec.List(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "list records")
		return
	}

	writeJSON(w, http.StatusOK, toListResponse(rec.Collection().Name, res))
}

// GetRecord returns one record from the current view without a remote read.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.reconciler(w, r)
	if !ok {
		return
	}

	record, err := rec.Get(r.Context(), r.PathValue("ref"))
	if err != nil {
		h.writeServiceError(w, err, "get record")
		return
	}

	writeJSON(w, http.StatusOK, toRecordResponse(record))
}

// CreateRecord appends a record; the body is the record's fields.
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.reconciler(w, r)
	if !ok {
		return
	}
	var fields map[string]any
	if !decodeBody(w, r, &fields) {
		return
	}
	if _, hasID := fields[model.IDField]; hasID {
		writeError(w, http.StatusBadRequest, "id is assigned by the remote store")
		return
	}
	if err := checkScalars(fields); err != nil {
		h.writeServiceError(w, err, "create record")
		return
	}

	record, err := rec.Create(r.Context(), fields)
	h.writeMutation(w, http.StatusCreated, record, err, "create record")
}

// UpdateRecord applies a partial update; the body holds the changed fields.
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.reconciler(w, r)
	if !ok {
		return
	}
	var fields map[string]any
	if !decodeBody(w, r, &fields) {
		return
	}
	if err := checkScalars(fields); err != nil {
		h.writeServiceError(w, err, "update record")
		return
	}

	record, err := rec.Update(r.Context(), r.PathValue("ref"), fields)
	h.writeMutation(w, http.StatusOK, record, err, "update record")
}

// UpsertRecords writes rows matched on the request's conflict key.
func (h *Handler) UpsertRecords(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.reconciler(w, r)
	if !ok {
		return
	}
	var req UpsertRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rows := make([]model.Row, 0, len(req.Rows))
	for _, row := range req.Rows {
		if err := checkScalars(row); err != nil {
			h.writeServiceError(w, err, "upsert records")
			return
		}
		rows = append(rows, row)
	}

	records, err := rec.Upsert(r.Context(), rows, req.ConflictKey)
	h.writeBatchMutation(w, records, err, "upsert records")
}

// DeleteRecord removes a record. When the remote delete fails the record is
// restored and returned flagged with 202.
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.reconciler(w, r)
	if !ok {
		return
	}
	ref := r.PathValue("ref")

	err := rec.Delete(r.Context(), ref)
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if isRemoteFailure(err) {
		if restored, getErr := rec.Get(r.Context(), ref); getErr == nil {
			writeJSON(w, http.StatusAccepted, UnsyncedResponse{Record: toRecordResponse(restored), Error: err.Error()})
			return
		}
	}
	h.writeServiceError(w, err, "delete record")
}

// RetryRecord re-issues a record's pending remote operation.
func (h *Handler) RetryRecord(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.reconciler(w, r)
	if !ok {
		return
	}

	record, err := rec.Retry(r.Context(), r.PathValue("ref"))
	if err == nil && record.LocalID == "" {
		// A retried delete went through.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeMutation(w, http.StatusOK, record, err, "retry record")
}

// DiscardRecord drops a record's unconfirmed local change.
func (h *Handler) DiscardRecord(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.reconciler(w, r)
	if !ok {
		return
	}

	if err := rec.Discard(r.Context(), r.PathValue("ref")); err != nil {
		h.writeServiceError(w, err, "discard record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListStudents returns the students sorted by name.
func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	rec, err := h.registry.Get(model.CollectionStudents)
	if err != nil {
		h.writeServiceError(w, err, "list students")
		return
	}
	res, err := rec.List(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "list students")
		return
	}

	writeJSON(w, http.StatusOK, toListResponse(model.CollectionStudents, res))
}

// CreateStudent validates and creates a student.
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var in application.StudentInput
	if !decodeBody(w, r, &in) {
		return
	}
	record, err := h.studio.CreateStudent(r.Context(), in)
	h.writeMutation(w, http.StatusCreated, record, err, "create student")
}

// UpdateStudent validates and replaces a student's form data.
func (h *Handler) UpdateStudent(w http.ResponseWriter, r *http.Request) {
	var in application.StudentInput
	if !decodeBody(w, r, &in) {
		return
	}
	record, err := h.studio.UpdateStudent(r.Context(), r.PathValue("ref"), in)
	h.writeMutation(w, http.StatusOK, record, err, "update student")
}

// CreateService validates and creates a catalog service.
func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	var in application.ServiceInput
	if !decodeBody(w, r, &in) {
		return
	}
	record, err := h.studio.CreateService(r.Context(), in)
	h.writeMutation(w, http.StatusCreated, record, err, "create service")
}

// UpdateService validates and replaces a catalog service.
func (h *Handler) UpdateService(w http.ResponseWriter, r *http.Request) {
	var in application.ServiceInput
	if !decodeBody(w, r, &in) {
		return
	}
	record, err := h.studio.UpdateService(r.Context(), r.PathValue("ref"), in)
	h.writeMutation(w, http.StatusOK, record, err, "update service")
}

// Schedule returns the weekly lesson grid.
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	slots, err := h.studio.Schedule(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "schedule")
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(slots))
}

// MonthlyStatement returns the payment overview of a month. Query
// parameters: unpaid=true, q=<name search>.
func (h *Handler) MonthlyStatement(w http.ResponseWriter, r *http.Request) {
	filter := application.StatementFilter{
		UnpaidOnly: r.URL.Query().Get("unpaid") == "true",
		Search:     strings.TrimSpace(r.URL.Query().Get("q")),
	}

	st, err := h.studio.MonthlyStatement(r.Context(), r.PathValue("month"), filter)
	if err != nil {
		h.writeServiceError(w, err, "monthly statement")
		return
	}
	writeJSON(w, http.StatusOK, toStatementResponse(st))
}

// SavePayment records one student's payment for a month.
func (h *Handler) SavePayment(w http.ResponseWriter, r *http.Request) {
	var in application.PaymentInput
	if !decodeBody(w, r, &in) {
		return
	}
	record, err := h.studio.SavePayment(r.Context(), r.PathValue("month"), r.PathValue("studentID"), in)
	h.writeMutation(w, http.StatusOK, record, err, "save payment")
}

// SavePayments records several payments of a month in one remote call. The
// body is an array of payment inputs carrying student_id.
func (h *Handler) SavePayments(w http.ResponseWriter, r *http.Request) {
	var inputs []application.PaymentInput
	if !decodeBody(w, r, &inputs) {
		return
	}
	records, err := h.studio.SavePayments(r.Context(), r.PathValue("month"), inputs)
	h.writeBatchMutation(w, records, err, "save payments")
}

// AddLedgerEntry records an extra income or expense.
func (h *Handler) AddLedgerEntry(w http.ResponseWriter, r *http.Request) {
	var in application.LedgerInput
	if !decodeBody(w, r, &in) {
		return
	}
	record, err := h.studio.AddLedgerEntry(r.Context(), in)
	h.writeMutation(w, http.StatusCreated, record, err, "add ledger entry")
}

// UpdateLedgerEntry replaces a ledger entry.
func (h *Handler) UpdateLedgerEntry(w http.ResponseWriter, r *http.Request) {
	var in application.LedgerInput
	if !decodeBody(w, r, &in) {
		return
	}
	record, err := h.studio.UpdateLedgerEntry(r.Context(), r.PathValue("ref"), in)
	h.writeMutation(w, http.StatusOK, record, err, "update ledger entry")
}

// ListNotes returns the notes grouped by student.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	groups, err := h.studio.NotesByStudent(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "list notes")
		return
	}
	writeJSON(w, http.StatusOK, toStudentNotesResponse(groups))
}

// AddNote records a progress note.
func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	var in application.NoteInput
	if !decodeBody(w, r, &in) {
		return
	}
	record, err := h.studio.AddNote(r.Context(), in)
	h.writeMutation(w, http.StatusCreated, record, err, "add note")
}

// reconciler resolves the {name} path value, writing 404 when unknown.
func (h *Handler) reconciler(w http.ResponseWriter, r *http.Request) (*application.Reconciler, bool) {
	rec, err := h.registry.Get(r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown collection")
		return nil, false
	}
	return rec, true
}

// writeMutation writes the result of a single-record write. A write kept
// locally but not confirmed remotely is answered with 202.
func (h *Handler) writeMutation(w http.ResponseWriter, status int, record model.Record, err error, op string) {
	if err == nil {
		writeJSON(w, status, toRecordResponse(record))
		return
	}
	if record.LocalID != "" && isRemoteFailure(err) {
		h.logger.Warn(op+" not confirmed remotely", "ref", record.LocalID, "error", err)
		writeJSON(w, http.StatusAccepted, UnsyncedResponse{Record: toRecordResponse(record), Error: err.Error()})
		return
	}
	h.writeServiceError(w, err, op)
}

func (h *Handler) writeBatchMutation(w http.ResponseWriter, records []model.Record, err error, op string) {
	if err == nil {
		writeJSON(w, http.StatusOK, toRecordResponses(records))
		return
	}
	if len(records) > 0 && isRemoteFailure(err) {
		h.logger.Warn(op+" not confirmed remotely", "count", len(records), "error", err)
		writeJSON(w, http.StatusAccepted, UnsyncedBatchResponse{Records: toRecordResponses(records), Error: err.Error()})
		return
	}
	h.writeServiceError(w, err, op)
}

// writeServiceError maps application and port errors to HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, op string) {
	var verr *application.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, application.ErrUnknownCollection):
		writeError(w, http.StatusNotFound, "unknown collection")
	case errors.Is(err, application.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "record not found")
	case errors.Is(err, application.ErrOperationInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, driven.ErrUserAlreadyExists):
		writeError(w, http.StatusConflict, "user already exists")
	case errors.Is(err, driven.ErrRemoteRejected):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, driven.ErrRemoteUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request canceled")
	default:
		h.logger.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// checkScalars rejects field values a flat row cannot hold: nested objects
// and arrays.
func checkScalars(fields map[string]any) error {
	var bad []application.FieldError
	for name, v := range fields {
		switch v.(type) {
		case nil, string, float64, bool:
		default:
			bad = append(bad, application.FieldError{Field: name, Error: "must be a string, number, boolean or null"})
		}
	}
	if len(bad) == 0 {
		return nil
	}
	slices.SortFunc(bad, func(a, b application.FieldError) int { return cmp.Compare(a.Field, b.Field) })
	return &application.ValidationError{Fields: bad}
}

func isRemoteFailure(err error) bool {
	return errors.Is(err, driven.ErrRemoteUnavailable) || errors.Is(err, driven.ErrRemoteRejected)
}

// decodeBody decodes a size-limited JSON body into v, writing 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
