package application

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ericfisherdev/studiopanel/internal/domain/model"
)

// StudentInput is the form data of a student.
type StudentInput struct {
	Name       string `json:"name" validate:"notblank,max=120"`
	BirthDate  string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	Parents    string `json:"parents" validate:"max=200"`
	City       string `json:"city" validate:"max=120"`
	ServiceID  string `json:"service_id"`
	Weekday    string `json:"weekday" validate:"omitempty,oneof=Monday Tuesday Wednesday Thursday Friday Saturday Sunday"`
	LessonTime string `json:"lesson_time" validate:"omitempty,datetime=15:04"`
}

// ServiceInput is the form data of a catalog service.
type ServiceInput struct {
	Instrument string `json:"instrument" validate:"required,oneof=Guitar Violin Piano Keyboard Voice"`
	Duration   string `json:"duration" validate:"notblank,max=40"`
	Price      string `json:"price" validate:"money"`
}

// PaymentInput changes one student's payment for a month. Nil or empty
// fields keep their current value.
type PaymentInput struct {
	StudentID       string  `json:"student_id,omitempty"`
	DiscountPercent string  `json:"discount_percent" validate:"omitempty,percent"`
	Paid            *bool   `json:"paid"`
	PaymentDate     *string `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
	Note            *string `json:"note" validate:"omitempty,max=500"`
}

// LedgerInput is one ad hoc income or expense line.
type LedgerInput struct {
	Kind        string `json:"kind" validate:"required,oneof=income expense"`
	Amount      string `json:"amount" validate:"money"`
	Description string `json:"description" validate:"notblank,max=200"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
}

// NoteInput is a progress note about a student.
type NoteInput struct {
	StudentID string `json:"student_id" validate:"required"`
	Date      string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Text      string `json:"text" validate:"notblank,max=5000"`
}

// ScheduleSlot is one row of the weekly grid: a lesson time and the first
// names of the students taking a lesson then, per weekday.
type ScheduleSlot struct {
	Time string
	Days map[string][]string
}

// StatementLine is one student's position in a monthly statement.
type StatementLine struct {
	StudentID       string
	StudentName     string
	Amount          decimal.Decimal
	DiscountPercent decimal.Decimal
	Discount        decimal.Decimal
	FinalAmount     decimal.Decimal
	Paid            bool
	PaymentDate     string
	Note            string
	State           model.SyncState
}

// StatementSummary totals a monthly statement. Received includes extra
// income and is reduced by expenses.
type StatementSummary struct {
	Gross        decimal.Decimal
	Discounts    decimal.Decimal
	Received     decimal.Decimal
	ExtraIncome  decimal.Decimal
	ExtraExpense decimal.Decimal
}

// Statement is the payment overview of one month.
type Statement struct {
	Month   string
	Lines   []StatementLine
	Ledger  []model.LedgerEntry
	Summary StatementSummary
}

// StatementFilter narrows the statement lines; the summary always covers
// the whole month.
type StatementFilter struct {
	UnpaidOnly bool
	Search     string
}

// StudentNotes groups the notes of one student, newest first.
type StudentNotes struct {
	StudentID   string
	StudentName string
	Notes       []model.Note
}

// StudioService implements the studio's screens on top of the collection
// reconcilers.
type StudioService struct {
	registry *Registry
	now      func() time.Time
}

// NewStudioService creates a StudioService over the registry.
func NewStudioService(registry *Registry) *StudioService {
	return &StudioService{registry: registry, now: time.Now}
}

// CreateStudent validates and creates a student. The age is derived from the
// birth date.
func (s *StudioService) CreateStudent(ctx context.Context, in StudentInput) (model.Record, error) {
	if err := validateInput(in); err != nil {
		return model.Record{}, err
	}
	rec, err := s.registry.Get(model.CollectionStudents)
	if err != nil {
		return model.Record{}, err
	}
	row, err := s.studentRow(ctx, in)
	if err != nil {
		return model.Record{}, err
	}
	return rec.Create(ctx, row)
}

// UpdateStudent validates and replaces the editable fields of a student.
func (s *StudioService) UpdateStudent(ctx context.Context, ref string, in StudentInput) (model.Record, error) {
	if err := validateInput(in); err != nil {
		return model.Record{}, err
	}
	rec, err := s.registry.Get(model.CollectionStudents)
	if err != nil {
		return model.Record{}, err
	}
	row, err := s.studentRow(ctx, in)
	if err != nil {
		return model.Record{}, err
	}
	return rec.Update(ctx, ref, row)
}

// studentRow builds the stored fields of a student. The service reference is
// stored as the service's remote id; age is cleared with the birth date.
func (s *StudioService) studentRow(ctx context.Context, in StudentInput) (model.Row, error) {
	serviceID, err := s.remoteID(ctx, model.CollectionServices, in.ServiceID, "service_id", "service")
	if err != nil {
		return nil, err
	}
	row := model.Row{
		model.FieldName:       strings.TrimSpace(in.Name),
		model.FieldBirthDate:  in.BirthDate,
		model.FieldAge:        nil,
		model.FieldParents:    strings.TrimSpace(in.Parents),
		model.FieldCity:       strings.TrimSpace(in.City),
		model.FieldServiceID:  serviceID,
		model.FieldWeekday:    in.Weekday,
		model.FieldLessonTime: in.LessonTime,
	}
	if birth, err := time.Parse(time.DateOnly, in.BirthDate); err == nil {
		row[model.FieldAge] = model.AgeOn(birth, s.now())
	}
	return row, nil
}

// remoteID resolves ref, a remote or local id in collection, to the remote id
// other rows must reference. An empty ref stays empty.
func (s *StudioService) remoteID(ctx context.Context, collection, ref, field, noun string) (string, error) {
	if ref == "" {
		return "", nil
	}
	rec, err := s.registry.Get(collection)
	if err != nil {
		return "", err
	}
	target, err := rec.Get(ctx, ref)
	if err != nil {
		return "", newFieldError(field, "unknown "+noun)
	}
	if target.ID == "" {
		return "", newFieldError(field, noun+" is not saved remotely yet")
	}
	return target.ID, nil
}

// CreateService validates and creates a catalog service.
func (s *StudioService) CreateService(ctx context.Context, in ServiceInput) (model.Record, error) {
	if err := validateInput(in); err != nil {
		return model.Record{}, err
	}
	rec, err := s.registry.Get(model.CollectionServices)
	if err != nil {
		return model.Record{}, err
	}
	return rec.Create(ctx, serviceRow(in))
}

// UpdateService validates and replaces the instrument, duration and price of
// a catalog service.
func (s *StudioService) UpdateService(ctx context.Context, ref string, in ServiceInput) (model.Record, error) {
	if err := validateInput(in); err != nil {
		return model.Record{}, err
	}
	rec, err := s.registry.Get(model.CollectionServices)
	if err != nil {
		return model.Record{}, err
	}
	return rec.Update(ctx, ref, serviceRow(in))
}

func serviceRow(in ServiceInput) model.Row {
	price, _ := decimal.NewFromString(strings.TrimSpace(in.Price))
	return model.Row{
		model.FieldInstrument: in.Instrument,
		model.FieldDuration:   strings.TrimSpace(in.Duration),
		model.FieldPrice:      price.StringFixed(2),
	}
}

// Schedule builds the weekly grid from the students' lesson slots. Times are
// sorted ascending; students without a slot are left out.
func (s *StudioService) Schedule(ctx context.Context) ([]ScheduleSlot, error) {
	students, err := s.students(ctx)
	if err != nil {
		return nil, err
	}

	byTime := make(map[string]*ScheduleSlot)
	for _, st := range students {
		if st.LessonTime == "" || st.Weekday == "" {
			continue
		}
		slot, ok := byTime[st.LessonTime]
		if !ok {
			slot = &ScheduleSlot{Time: st.LessonTime, Days: make(map[string][]string)}
			byTime[st.LessonTime] = slot
		}
		slot.Days[st.Weekday] = append(slot.Days[st.Weekday], st.FirstName())
	}

	out := make([]ScheduleSlot, 0, len(byTime))
	for _, slot := range byTime {
		out = append(out, *slot)
	}
	slices.SortFunc(out, func(a, b ScheduleSlot) int { return cmp.Compare(a.Time, b.Time) })
	return out, nil
}

// MonthlyStatement lists every student with their payment for month, the
// month's ledger lines and the totals.
func (s *StudioService) MonthlyStatement(ctx context.Context, month string, filter StatementFilter) (*Statement, error) {
	if err := validateMonth(month); err != nil {
		return nil, err
	}
	students, err := s.students(ctx)
	if err != nil {
		return nil, err
	}
	prices, err := s.servicePrices(ctx)
	if err != nil {
		return nil, err
	}
	payments, err := s.paymentsByStudent(ctx, month)
	if err != nil {
		return nil, err
	}
	ledger, err := s.ledger(ctx, month)
	if err != nil {
		return nil, err
	}

	st := &Statement{Month: month, Ledger: ledger}
	hundred := decimal.NewFromInt(100)
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	for _, student := range students {
		line := StatementLine{
			StudentID:   student.Ref,
			StudentName: student.Name,
			Amount:      prices[student.ServiceID],
			State:       model.SyncStateSynced,
		}
		if p, ok := payments[student.Ref]; ok {
			line.DiscountPercent = p.DiscountPercent
			line.Paid = p.Paid
			line.PaymentDate = p.PaymentDate
			line.Note = p.Note
			line.State = p.State
		}
		line.Discount = line.Amount.Mul(line.DiscountPercent).Div(hundred).Round(2)
		line.FinalAmount = line.Amount.Sub(line.Discount)

		st.Summary.Gross = st.Summary.Gross.Add(line.Amount)
		st.Summary.Discounts = st.Summary.Discounts.Add(line.Discount)
		if line.Paid {
			st.Summary.Received = st.Summary.Received.Add(line.FinalAmount)
		}

		if filter.UnpaidOnly && line.Paid {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(line.StudentName), search) {
			continue
		}
		st.Lines = append(st.Lines, line)
	}

	for _, e := range ledger {
		switch e.Kind {
		case model.LedgerIncome:
			st.Summary.ExtraIncome = st.Summary.ExtraIncome.Add(e.Amount)
		case model.LedgerExpense:
			st.Summary.ExtraExpense = st.Summary.ExtraExpense.Add(e.Amount)
		}
	}
	st.Summary.Received = st.Summary.Received.Add(st.Summary.ExtraIncome).Sub(st.Summary.ExtraExpense)

	return st, nil
}

// SavePayment records one student's payment for month.
func (s *StudioService) SavePayment(ctx context.Context, month, studentID string, in PaymentInput) (model.Record, error) {
	in.StudentID = studentID
	recs, err := s.SavePayments(ctx, month, []PaymentInput{in})
	if len(recs) == 0 {
		return model.Record{}, err
	}
	return recs[0], err
}

// SavePayments upserts the payments of month in a single remote call, keyed
// by student and month. Marking a payment paid without a date stamps today.
func (s *StudioService) SavePayments(ctx context.Context, month string, inputs []PaymentInput) ([]model.Record, error) {
	if err := validateMonth(month); err != nil {
		return nil, err
	}
	for _, in := range inputs {
		if err := validateInput(in); err != nil {
			return nil, err
		}
	}

	students, err := s.registry.Get(model.CollectionStudents)
	if err != nil {
		return nil, err
	}
	prices, err := s.servicePrices(ctx)
	if err != nil {
		return nil, err
	}
	current, err := s.paymentsByStudent(ctx, month)
	if err != nil {
		return nil, err
	}
	payments, err := s.registry.Get(model.CollectionPayments)
	if err != nil {
		return nil, err
	}

	rows := make([]model.Row, 0, len(inputs))
	for _, in := range inputs {
		studentRec, err := students.Get(ctx, in.StudentID)
		if err != nil {
			return nil, fmt.Errorf("save payment: student %s: %w", in.StudentID, err)
		}
		student := model.StudentFromRecord(studentRec)
		if student.ID == "" {
			return nil, newFieldError("student_id", "student is not saved remotely yet")
		}

		p, ok := current[student.ID]
		if !ok {
			p = model.Payment{StudentID: student.ID, Month: month}
		}
		if in.DiscountPercent != "" {
			p.DiscountPercent, _ = decimal.NewFromString(strings.TrimSpace(in.DiscountPercent))
		}
		if in.Note != nil {
			p.Note = strings.TrimSpace(*in.Note)
		}
		if in.PaymentDate != nil {
			p.PaymentDate = *in.PaymentDate
		}
		if in.Paid != nil {
			if *in.Paid && !p.Paid && p.PaymentDate == "" {
				p.PaymentDate = s.now().Format(time.DateOnly)
			}
			p.Paid = *in.Paid
		}

		amount := prices[student.ServiceID]
		discount := amount.Mul(p.DiscountPercent).Div(decimal.NewFromInt(100)).Round(2)
		rows = append(rows, model.Row{
			model.FieldStudentID:       student.ID,
			model.FieldMonth:           month,
			model.FieldDiscountPercent: p.DiscountPercent.String(),
			model.FieldPaid:            p.Paid,
			model.FieldPaymentDate:     p.PaymentDate,
			model.FieldNote:            p.Note,
			model.FieldAmount:          amount.StringFixed(2),
			model.FieldFinalAmount:     amount.Sub(discount).StringFixed(2),
		})
	}

	return payments.Upsert(ctx, rows, []string{model.FieldStudentID, model.FieldMonth})
}

// AddLedgerEntry validates and records an income or expense line.
func (s *StudioService) AddLedgerEntry(ctx context.Context, in LedgerInput) (model.Record, error) {
	if err := validateInput(in); err != nil {
		return model.Record{}, err
	}
	rec, err := s.registry.Get(model.CollectionLedger)
	if err != nil {
		return model.Record{}, err
	}
	return rec.Create(ctx, ledgerRow(in))
}

// UpdateLedgerEntry replaces the amount, description and date of a line.
func (s *StudioService) UpdateLedgerEntry(ctx context.Context, ref string, in LedgerInput) (model.Record, error) {
	if err := validateInput(in); err != nil {
		return model.Record{}, err
	}
	rec, err := s.registry.Get(model.CollectionLedger)
	if err != nil {
		return model.Record{}, err
	}
	return rec.Update(ctx, ref, ledgerRow(in))
}

func ledgerRow(in LedgerInput) model.Row {
	amount, _ := decimal.NewFromString(strings.TrimSpace(in.Amount))
	return model.Row{
		model.FieldKind:        in.Kind,
		model.FieldAmount:      amount.StringFixed(2),
		model.FieldDescription: strings.TrimSpace(in.Description),
		model.FieldDate:        in.Date,
		model.FieldMonth:       in.Date[:7],
	}
}

// AddNote validates and records a progress note. An empty date means today.
func (s *StudioService) AddNote(ctx context.Context, in NoteInput) (model.Record, error) {
	if err := validateInput(in); err != nil {
		return model.Record{}, err
	}
	studentID, err := s.remoteID(ctx, model.CollectionStudents, in.StudentID, "student_id", "student")
	if err != nil {
		return model.Record{}, err
	}
	notes, err := s.registry.Get(model.CollectionNotes)
	if err != nil {
		return model.Record{}, err
	}
	date := in.Date
	if date == "" {
		date = s.now().Format(time.DateOnly)
	}
	return notes.Create(ctx, model.Row{
		model.FieldStudentID: studentID,
		model.FieldDate:      date,
		model.FieldText:      strings.TrimSpace(in.Text),
	})
}

// NotesByStudent groups notes by student, students by name and notes newest
// first. Notes of students no longer present are grouped under their id.
func (s *StudioService) NotesByStudent(ctx context.Context) ([]StudentNotes, error) {
	students, err := s.students(ctx)
	if err != nil {
		return nil, err
	}
	notesRec, err := s.registry.Get(model.CollectionNotes)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(students))
	for _, st := range students {
		names[st.Ref] = st.Name
	}

	groups := make(map[string]*StudentNotes)
	for _, r := range notesRec.Records(ctx) {
		n := model.NoteFromRecord(r)
		g, ok := groups[n.StudentID]
		if !ok {
			name := names[n.StudentID]
			if name == "" {
				name = n.StudentID
			}
			g = &StudentNotes{StudentID: n.StudentID, StudentName: name}
			groups[n.StudentID] = g
		}
		g.Notes = append(g.Notes, n)
	}

	out := make([]StudentNotes, 0, len(groups))
	for _, g := range groups {
		slices.SortStableFunc(g.Notes, func(a, b model.Note) int { return cmp.Compare(b.Date, a.Date) })
		out = append(out, *g)
	}
	slices.SortFunc(out, func(a, b StudentNotes) int {
		return cmp.Or(cmp.Compare(a.StudentName, b.StudentName), cmp.Compare(a.StudentID, b.StudentID))
	})
	return out, nil
}

// Students returns the typed student list, ordered by name.
func (s *StudioService) Students(ctx context.Context) ([]model.Student, error) {
	students, err := s.students(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(students, func(a, b model.Student) int { return cmp.Compare(a.Name, b.Name) })
	return students, nil
}

func (s *StudioService) students(ctx context.Context) ([]model.Student, error) {
	rec, err := s.registry.Get(model.CollectionStudents)
	if err != nil {
		return nil, err
	}
	records := rec.Records(ctx)
	out := make([]model.Student, 0, len(records))
	for _, r := range records {
		out = append(out, model.StudentFromRecord(r))
	}
	return out, nil
}

// servicePrices maps service refs to their price.
func (s *StudioService) servicePrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	rec, err := s.registry.Get(model.CollectionServices)
	if err != nil {
		return nil, err
	}
	prices := make(map[string]decimal.Decimal)
	for _, r := range rec.Records(ctx) {
		svc := model.ServiceFromRecord(r)
		prices[svc.Ref] = svc.Price
		prices[r.LocalID] = svc.Price
	}
	return prices, nil
}

func (s *StudioService) paymentsByStudent(ctx context.Context, month string) (map[string]model.Payment, error) {
	rec, err := s.registry.Get(model.CollectionPayments)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Payment)
	for _, r := range rec.Records(ctx) {
		p := model.PaymentFromRecord(r)
		if p.Month == month {
			out[p.StudentID] = p
		}
	}
	return out, nil
}

func (s *StudioService) ledger(ctx context.Context, month string) ([]model.LedgerEntry, error) {
	rec, err := s.registry.Get(model.CollectionLedger)
	if err != nil {
		return nil, err
	}
	var out []model.LedgerEntry
	for _, r := range rec.Records(ctx) {
		e := model.LedgerEntryFromRecord(r)
		if e.Month == month {
			out = append(out, e)
		}
	}
	return out, nil
}

func validateMonth(month string) error {
	if _, err := time.Parse("2006-01", month); err != nil {
		return newFieldError("month", "must use the format 2006-01")
	}
	return nil
}
