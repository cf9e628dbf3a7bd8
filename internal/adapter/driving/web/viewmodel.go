package web

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	vm "github.com/ericfisherdev/studiopanel/internal/adapter/driving/web/viewmodel"
	"github.com/ericfisherdev/studiopanel/internal/application"
	"github.com/ericfisherdev/studiopanel/internal/domain/model"
)

// summaryFields are tried in order to give an unsettled record a readable label.
var summaryFields = []string{
	model.FieldName,
	model.FieldInstrument,
	model.FieldDescription,
	model.FieldText,
	model.FieldMonth,
}

// toDashboardViewModel converts the sync health summary, attaching the
// unsettled records of each collection.
func toDashboardViewModel(
	health application.SyncHealth,
	unsettled map[string][]model.Record,
	schedules map[string]application.ScheduleInfo,
	now time.Time,
) vm.DashboardViewModel {
	cards := make([]vm.CollectionCardViewModel, 0, len(health.Collections))
	for _, st := range health.Collections {
		card := vm.CollectionCardViewModel{
			Name:        st.Name,
			Total:       st.Total,
			Synced:      st.Synced,
			Pending:     st.Pending,
			Unsynced:    st.Unsynced,
			LocalOnly:   st.LocalOnly,
			Degraded:    st.Degraded,
			Warning:     st.LastWarning,
			LastRefresh: relativeTime(st.LastRefresh, now),
			Unsettled:   []vm.RecordRowViewModel{},
		}
		if sched, ok := schedules[st.Name]; ok {
			card.Tier = sched.Tier.String()
		}
		for _, rec := range unsettled[st.Name] {
			card.Unsettled = append(card.Unsettled, toRecordRowViewModel(st.Name, rec))
		}
		cards = append(cards, card)
	}

	return vm.DashboardViewModel{
		RemoteConfigured: health.RemoteConfigured,
		RemoteTarget:     health.RemoteTarget,
		Outstanding:      health.Outstanding,
		Degraded:         health.Degraded,
		Collections:      cards,
	}
}

func toRecordRowViewModel(collection string, rec model.Record) vm.RecordRowViewModel {
	ref := rec.ID
	if ref == "" {
		ref = rec.LocalID
	}
	base := fmt.Sprintf("/app/collections/%s/records/%s", url.PathEscape(collection), url.PathEscape(ref))

	return vm.RecordRowViewModel{
		Ref:        ref,
		Summary:    recordSummary(rec),
		State:      string(rec.State),
		PendingOp:  string(rec.PendingOp),
		Error:      rec.LastError,
		Rejected:   rec.Rejected,
		RetryURL:   base + "/retry",
		DiscardURL: base + "/discard",
	}
}

// recordSummary picks the first descriptive field of a record.
func recordSummary(rec model.Record) string {
	for _, f := range summaryFields {
		if v := strings.TrimSpace(rec.Fields.String(f)); v != "" {
			const maxLen = 60
			if len(v) > maxLen {
				v = v[:maxLen] + "…"
			}
			return v
		}
	}
	if rec.ID != "" {
		return "#" + rec.ID
	}
	return "new record"
}

// toScheduleViewModel lays the schedule slots out as a weekday grid.
func toScheduleViewModel(slots []application.ScheduleSlot) vm.ScheduleViewModel {
	rows := make([]vm.ScheduleRowViewModel, 0, len(slots))
	for _, s := range slots {
		cells := make([][]string, len(model.Weekdays))
		for i, day := range model.Weekdays {
			cells[i] = s.Days[day]
		}
		rows = append(rows, vm.ScheduleRowViewModel{Time: s.Time, Cells: cells})
	}
	return vm.ScheduleViewModel{Weekdays: model.Weekdays, Rows: rows}
}

// toNotesViewModel renders every note's markdown to sanitized HTML.
func toNotesViewModel(groups []application.StudentNotes) vm.NotesViewModel {
	out := make([]vm.NoteGroupViewModel, 0, len(groups))
	for _, g := range groups {
		notes := make([]vm.NoteViewModel, 0, len(g.Notes))
		for _, n := range g.Notes {
			notes = append(notes, vm.NoteViewModel{
				Date:     n.Date,
				TextHTML: RenderMarkdown(n.Text),
				Unsynced: n.State != model.SyncStateSynced,
			})
		}
		out = append(out, vm.NoteGroupViewModel{StudentName: g.StudentName, Notes: notes})
	}
	return vm.NotesViewModel{Groups: out}
}

// relativeTime renders t relative to now in coarse units.
func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
