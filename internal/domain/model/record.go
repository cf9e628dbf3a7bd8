package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"time"
)

// IDField is the column holding the remote-assigned identity.
const IDField = "id"

// localRefPrefix marks LocalIDs derived from a remote identity.
const localRefPrefix = "remote:"

// Row is one remote row: a mapping from field name to scalar value.
type Row map[string]any

// Clone returns a shallow copy. Values are scalars so a shallow copy is enough.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}

// String returns the field formatted as a string, or "" when absent.
func (r Row) String(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	return FormatScalar(v)
}

// Float returns the field as a float64. Numeric strings are parsed; anything
// else yields 0.
func (r Row) Float(field string) float64 {
	switch v := r[field].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// Bool returns the field as a bool; missing or non-bool values are false.
func (r Row) Bool(field string) bool {
	b, _ := r[field].(bool)
	return b
}

// FormatScalar renders a scalar the way it is compared and keyed locally.
// Whole float64 values (JSON numbers) are printed without a fractional part so
// that an id decoded as 42.0 keys the same as "42".
func FormatScalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.DateOnly)
	default:
		return fmt.Sprint(t)
	}
}

// Match is an equality filter: every field must equal its value.
type Match map[string]any

// Record is one logical entity held by a reconciler, together with its sync
// bookkeeping.
type Record struct {
	ID        string    `json:"id,omitempty"`
	LocalID   string    `json:"local_id"`
	Fields    Row       `json:"fields"`
	Confirmed Row       `json:"confirmed"`
	State     SyncState `json:"state"`
	PendingOp Op        `json:"pending_op,omitempty"`
	// Conflict is the conflict key of a pending upsert.
	Conflict  []string `json:"conflict,omitempty"`
	LastError string   `json:"last_error,omitempty"`
	// Rejected is set when the backend refused the last write. Such records
	// wait for an explicit retry or discard.
	Rejected  bool      `json:"rejected,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordFromRow builds a synced record from a remote row. The id column is
// lifted out of Fields.
func RecordFromRow(row Row, now time.Time) Record {
	fields := row.Clone()
	if fields == nil {
		fields = Row{}
	}
	id := fields.String(IDField)
	delete(fields, IDField)

	return Record{
		ID:        id,
		LocalID:   RemoteLocalID(id),
		Fields:    fields,
		Confirmed: fields.Clone(),
		State:     SyncStateSynced,
		UpdatedAt: now,
	}
}

// RemoteLocalID is the LocalID given to records first seen in a remote fetch.
func RemoteLocalID(id string) string {
	return localRefPrefix + id
}

// Clone returns a copy that shares no maps with r.
func (r Record) Clone() Record {
	c := r
	c.Fields = r.Fields.Clone()
	c.Confirmed = r.Confirmed.Clone()
	c.Conflict = slices.Clone(r.Conflict)
	return c
}

// Row returns the record's fields plus its id, when one is assigned.
func (r Record) Row() Row {
	row := r.Fields.Clone()
	if row == nil {
		row = Row{}
	}
	if r.ID != "" {
		row[IDField] = r.ID
	}
	return row
}

// Matches reports whether ref names this record, either by remote or local identity.
func (r Record) Matches(ref string) bool {
	if ref == "" {
		return false
	}
	return ref == r.ID || ref == r.LocalID
}

// IsConfirmed reports whether the remote store has acknowledged the record at least once.
func (r Record) IsConfirmed() bool {
	return r.Confirmed != nil
}

// IsSynced reports whether the record has no outstanding remote intent.
func (r Record) IsSynced() bool {
	return r.State == SyncStateSynced && r.PendingOp == OpNone
}

// KeyMatch builds the remote match for the record under the given key spec.
// Key values come from the confirmed fields when available so that a pending
// edit of a key field still addresses the row as the remote store knows it.
// It returns false when any key field is missing (e.g. no id assigned yet).
func (r Record) KeyMatch(key KeySpec) (Match, bool) {
	source := r.Confirmed
	if source == nil {
		source = r.Fields
	}
	m := make(Match, len(key))
	for _, field := range key {
		if field == IDField {
			if r.ID == "" {
				return nil, false
			}
			m[IDField] = r.ID
			continue
		}
		v, ok := source[field]
		if !ok || v == nil || FormatScalar(v) == "" {
			return nil, false
		}
		m[field] = v
	}
	return m, true
}

// KeyString renders the record's key values as a single comparable string.
func (r Record) KeyString(key KeySpec) string {
	return r.Row().KeyString(key)
}

// Diff returns the fields of r whose values differ from base.
func (r Row) Diff(base Row) Row {
	out := Row{}
	for k, v := range r {
		if k == IDField {
			continue
		}
		old, ok := base[k]
		if !ok || !sameScalar(old, v) {
			out[k] = v
		}
	}
	return out
}

func sameScalar(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return FormatScalar(a) == FormatScalar(b)
}

// KeyString renders the row's values for the given fields as a single
// comparable string.
func (r Row) KeyString(fields []string) string {
	var s string
	for i, f := range fields {
		if i > 0 {
			s += "\x1f"
		}
		s += r.String(f)
	}
	return s
}
