package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Collection names used by the studio.
const (
	CollectionStudents = "students"
	CollectionServices = "services"
	CollectionPayments = "payments"
	CollectionLedger   = "ledger"
	CollectionNotes    = "notes"
)

// Field names shared by the studio collections.
const (
	FieldOwnerID         = "owner_id"
	FieldClientRef       = "client_ref"
	FieldCreatedAt       = "created_at"
	FieldName            = "name"
	FieldBirthDate       = "birth_date"
	FieldAge             = "age"
	FieldParents         = "parents"
	FieldCity            = "city"
	FieldServiceID       = "service_id"
	FieldWeekday         = "weekday"
	FieldLessonTime      = "lesson_time"
	FieldInstrument      = "instrument"
	FieldDuration        = "duration"
	FieldPrice           = "price"
	FieldStudentID       = "student_id"
	FieldMonth           = "month"
	FieldDiscountPercent = "discount_percent"
	FieldPaid            = "paid"
	FieldPaymentDate     = "payment_date"
	FieldNote            = "note"
	FieldAmount          = "amount"
	FieldFinalAmount     = "final_amount"
	FieldKind            = "kind"
	FieldDescription     = "description"
	FieldDate            = "date"
	FieldText            = "text"
)

// Weekdays is the column order of the weekly schedule.
var Weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// Instruments are the courses a service can be offered for.
var Instruments = []string{"Guitar", "Violin", "Piano", "Keyboard", "Voice"}

// Student is the typed view of a students record.
type Student struct {
	Ref        string
	ID         string
	Name       string
	BirthDate  string
	Age        int
	Parents    string
	City       string
	ServiceID  string
	Weekday    string
	LessonTime string
	State      SyncState
}

// StudentFromRecord maps a record of the students collection.
func StudentFromRecord(r Record) Student {
	return Student{
		Ref:        recordRef(r),
		ID:         r.ID,
		Name:       r.Fields.String(FieldName),
		BirthDate:  r.Fields.String(FieldBirthDate),
		Age:        int(r.Fields.Float(FieldAge)),
		Parents:    r.Fields.String(FieldParents),
		City:       r.Fields.String(FieldCity),
		ServiceID:  r.Fields.String(FieldServiceID),
		Weekday:    r.Fields.String(FieldWeekday),
		LessonTime: r.Fields.String(FieldLessonTime),
		State:      r.State,
	}
}

// FirstName returns the first word of the student's name.
func (s Student) FirstName() string {
	name, _, _ := strings.Cut(strings.TrimSpace(s.Name), " ")
	return name
}

// AgeOn returns the age in whole years of someone born on birth, as of today.
func AgeOn(birth, today time.Time) int {
	age := today.Year() - birth.Year()
	if today.Month() < birth.Month() || (today.Month() == birth.Month() && today.Day() < birth.Day()) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

// Service is the typed view of a services record.
type Service struct {
	Ref        string
	ID         string
	Instrument string
	Duration   string
	Price      decimal.Decimal
	State      SyncState
}

// ServiceFromRecord maps a record of the services collection.
func ServiceFromRecord(r Record) Service {
	return Service{
		Ref:        recordRef(r),
		ID:         r.ID,
		Instrument: r.Fields.String(FieldInstrument),
		Duration:   r.Fields.String(FieldDuration),
		Price:      decimalField(r.Fields, FieldPrice),
		State:      r.State,
	}
}

// Payment is the typed view of a payments record: one student in one month.
type Payment struct {
	Ref             string
	StudentID       string
	Month           string
	DiscountPercent decimal.Decimal
	Paid            bool
	PaymentDate     string
	Note            string
	State           SyncState
}

// PaymentFromRecord maps a record of the payments collection.
func PaymentFromRecord(r Record) Payment {
	return Payment{
		Ref:             recordRef(r),
		StudentID:       r.Fields.String(FieldStudentID),
		Month:           r.Fields.String(FieldMonth),
		DiscountPercent: decimalField(r.Fields, FieldDiscountPercent),
		Paid:            r.Fields.Bool(FieldPaid),
		PaymentDate:     r.Fields.String(FieldPaymentDate),
		Note:            r.Fields.String(FieldNote),
		State:           r.State,
	}
}

// LedgerEntry is an ad hoc income or expense line for a month.
type LedgerEntry struct {
	Ref         string
	Kind        LedgerKind
	Amount      decimal.Decimal
	Description string
	Date        string
	Month       string
	State       SyncState
}

// LedgerEntryFromRecord maps a record of the ledger collection.
func LedgerEntryFromRecord(r Record) LedgerEntry {
	return LedgerEntry{
		Ref:         recordRef(r),
		Kind:        LedgerKind(r.Fields.String(FieldKind)),
		Amount:      decimalField(r.Fields, FieldAmount),
		Description: r.Fields.String(FieldDescription),
		Date:        r.Fields.String(FieldDate),
		Month:       r.Fields.String(FieldMonth),
		State:       r.State,
	}
}

// Note is a dated progress note about a student.
type Note struct {
	Ref       string
	StudentID string
	Date      string
	Text      string
	State     SyncState
}

// NoteFromRecord maps a record of the notes collection.
func NoteFromRecord(r Record) Note {
	return Note{
		Ref:       recordRef(r),
		StudentID: r.Fields.String(FieldStudentID),
		Date:      r.Fields.String(FieldDate),
		Text:      r.Fields.String(FieldText),
		State:     r.State,
	}
}

// recordRef prefers the remote id and falls back to the local one.
func recordRef(r Record) string {
	if r.ID != "" {
		return r.ID
	}
	return r.LocalID
}

func decimalField(row Row, field string) decimal.Decimal {
	switch v := row[field].(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero
		}
		return d
	case nil:
		return decimal.Zero
	default:
		return decimal.NewFromFloat(row.Float(field))
	}
}
