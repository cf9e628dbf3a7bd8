package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/studiopanel/internal/application"
	"github.com/ericfisherdev/studiopanel/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body. Fields is set for
// validation failures only.
type errorResponse struct {
	Error  string                   `json:"error"`
	Fields []application.FieldError `json:"fields,omitempty"`
}

// RecordResponse is the JSON representation of a reconciled record.
type RecordResponse struct {
	Ref       string         `json:"ref"`
	ID        string         `json:"id"`
	LocalID   string         `json:"local_id"`
	Fields    map[string]any `json:"fields"`
	State     string         `json:"state"`
	PendingOp string         `json:"pending_op"`
	Error     string         `json:"error"`
	Rejected  bool           `json:"rejected"`
	UpdatedAt string         `json:"updated_at"`
}

// ListResponse is the JSON representation of a collection read.
type ListResponse struct {
	Collection string           `json:"collection"`
	Records    []RecordResponse `json:"records"`
	Degraded   bool             `json:"degraded"`
	Warning    string           `json:"warning"`
	FetchedAt  string           `json:"fetched_at"`
}

// UnsyncedResponse is returned with 202 when the local change was kept but the
// remote store did not confirm it.
type UnsyncedResponse struct {
	Record RecordResponse `json:"record"`
	Error  string         `json:"error"`
}

// UnsyncedBatchResponse is the batch variant of UnsyncedResponse.
type UnsyncedBatchResponse struct {
	Records []RecordResponse `json:"records"`
	Error   string           `json:"error"`
}

// UpsertRequest is the JSON body for the generic upsert endpoint.
type UpsertRequest struct {
	ConflictKey []string         `json:"conflict_key"`
	Rows        []map[string]any `json:"rows"`
}

// LoginRequest is the JSON body for the login endpoint.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the session token.
type LoginResponse struct {
	Token     string `json:"token"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	ExpiresAt string `json:"expires_at"`
}

// UserResponse is a user of the local user list. The password hash is never
// returned.
type UserResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CollectionStatusResponse is the sync state of one collection.
type CollectionStatusResponse struct {
	Name          string `json:"name"`
	Total         int    `json:"total"`
	Synced        int    `json:"synced"`
	Pending       int    `json:"pending"`
	Unsynced      int    `json:"unsynced"`
	LocalOnly     int    `json:"local_only"`
	Degraded      bool   `json:"degraded"`
	LastRefresh   string `json:"last_refresh"`
	LastWrite     string `json:"last_write"`
	LastWarning   string `json:"last_warning"`
	Tier          string `json:"tier"`
	NextRefreshAt string `json:"next_refresh_at"`
}

// SyncStatusResponse is the JSON representation of the sync health summary.
type SyncStatusResponse struct {
	RemoteConfigured bool                       `json:"remote_configured"`
	RemoteTarget     string                     `json:"remote_target"`
	Outstanding      int                        `json:"outstanding"`
	Degraded         bool                       `json:"degraded"`
	Collections      []CollectionStatusResponse `json:"collections"`
}

// ScheduleSlotResponse is one row of the weekly schedule.
type ScheduleSlotResponse struct {
	Time string              `json:"time"`
	Days map[string][]string `json:"days"`
}

// StatementLineResponse is one student's payment position.
type StatementLineResponse struct {
	StudentID       string `json:"student_id"`
	StudentName     string `json:"student_name"`
	Amount          string `json:"amount"`
	DiscountPercent string `json:"discount_percent"`
	Discount        string `json:"discount"`
	FinalAmount     string `json:"final_amount"`
	Paid            bool   `json:"paid"`
	PaymentDate     string `json:"payment_date"`
	Note            string `json:"note"`
	State           string `json:"state"`
}

// LedgerEntryResponse is one ad hoc income or expense line.
type LedgerEntryResponse struct {
	Ref         string `json:"ref"`
	Kind        string `json:"kind"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Date        string `json:"date"`
	State       string `json:"state"`
}

// StatementResponse is the JSON representation of a monthly statement.
type StatementResponse struct {
	Month   string                  `json:"month"`
	Lines   []StatementLineResponse `json:"lines"`
	Ledger  []LedgerEntryResponse   `json:"ledger"`
	Summary map[string]string       `json:"summary"`
}

// NoteResponse is a single progress note.
type NoteResponse struct {
	Ref   string `json:"ref"`
	Date  string `json:"date"`
	Text  string `json:"text"`
	State string `json:"state"`
}

// StudentNotesResponse groups the notes of one student.
type StudentNotesResponse struct {
	StudentID   string         `json:"student_id"`
	StudentName string         `json:"student_name"`
	Notes       []NoteResponse `json:"notes"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// formatTime renders t as RFC 3339, or "" for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toUserResponse(u model.User) UserResponse {
	return UserResponse{ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: formatTime(u.CreatedAt)}
}

// toRecordResponse converts a domain Record to its JSON representation.
func toRecordResponse(rec model.Record) RecordResponse {
	fields := map[string]any(rec.Fields.Clone())
	if fields == nil {
		fields = map[string]any{}
	}
	ref := rec.ID
	if ref == "" {
		ref = rec.LocalID
	}

	return RecordResponse{
		Ref:       ref,
		ID:        rec.ID,
		LocalID:   rec.LocalID,
		Fields:    fields,
		State:     string(rec.State),
		PendingOp: string(rec.PendingOp),
		Error:     rec.LastError,
		Rejected:  rec.Rejected,
		UpdatedAt: formatTime(rec.UpdatedAt),
	}
}

func toRecordResponses(recs []model.Record) []RecordResponse {
	out := make([]RecordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRecordResponse(rec))
	}
	return out
}

// toListResponse converts a reconciler read to its JSON representation.
func toListResponse(name string, res *application.ListResult) ListResponse {
	return ListResponse{
		Collection: name,
		Records:    toRecordResponses(res.Records),
		Degraded:   res.Degraded,
		Warning:    res.Warning,
		FetchedAt:  formatTime(res.FetchedAt),
	}
}

// toCollectionStatusResponse converts a collection status, enriched with its
// adaptive schedule when known.
func toCollectionStatusResponse(st application.CollectionStatus, sched application.ScheduleInfo, scheduled bool) CollectionStatusResponse {
	resp := CollectionStatusResponse{
		Name:        st.Name,
		Total:       st.Total,
		Synced:      st.Synced,
		Pending:     st.Pending,
		Unsynced:    st.Unsynced,
		LocalOnly:   st.LocalOnly,
		Degraded:    st.Degraded,
		LastRefresh: formatTime(st.LastRefresh),
		LastWrite:   formatTime(st.LastWrite),
		LastWarning: st.LastWarning,
	}
	if scheduled {
		resp.Tier = sched.Tier.String()
		resp.NextRefreshAt = formatTime(sched.NextRefreshAt)
	}
	return resp
}

func toScheduleResponse(slots []application.ScheduleSlot) []ScheduleSlotResponse {
	out := make([]ScheduleSlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, ScheduleSlotResponse{Time: s.Time, Days: s.Days})
	}
	return out
}

func toLedgerEntryResponse(e model.LedgerEntry) LedgerEntryResponse {
	return LedgerEntryResponse{
		Ref:         e.Ref,
		Kind:        string(e.Kind),
		Amount:      e.Amount.StringFixed(2),
		Description: e.Description,
		Date:        e.Date,
		State:       string(e.State),
	}
}

// toStatementResponse converts a monthly statement; money is rendered with
// two decimals.
func toStatementResponse(st *application.Statement) StatementResponse {
	lines := make([]StatementLineResponse, 0, len(st.Lines))
	for _, l := range st.Lines {
		lines = append(lines, StatementLineResponse{
			StudentID:       l.StudentID,
			StudentName:     l.StudentName,
			Amount:          l.Amount.StringFixed(2),
			DiscountPercent: l.DiscountPercent.String(),
			Discount:        l.Discount.StringFixed(2),
			FinalAmount:     l.FinalAmount.StringFixed(2),
			Paid:            l.Paid,
			PaymentDate:     l.PaymentDate,
			Note:            l.Note,
			State:           string(l.State),
		})
	}

	ledger := make([]LedgerEntryResponse, 0, len(st.Ledger))
	for _, e := range st.Ledger {
		ledger = append(ledger, toLedgerEntryResponse(e))
	}

	return StatementResponse{
		Month:  st.Month,
		Lines:  lines,
		Ledger: ledger,
		Summary: map[string]string{
			"gross":         st.Summary.Gross.StringFixed(2),
			"discounts":     st.Summary.Discounts.StringFixed(2),
			"received":      st.Summary.Received.StringFixed(2),
			"extra_income":  st.Summary.ExtraIncome.StringFixed(2),
			"extra_expense": st.Summary.ExtraExpense.StringFixed(2),
		},
	}
}

func toStudentNotesResponse(groups []application.StudentNotes) []StudentNotesResponse {
	out := make([]StudentNotesResponse, 0, len(groups))
	for _, g := range groups {
		notes := make([]NoteResponse, 0, len(g.Notes))
		for _, n := range g.Notes {
			notes = append(notes, NoteResponse{Ref: n.Ref, Date: n.Date, Text: n.Text, State: string(n.State)})
		}
		out = append(out, StudentNotesResponse{StudentID: g.StudentID, StudentName: g.StudentName, Notes: notes})
	}
	return out
}
