// Package viewmodel defines presentation-ready structs for templ components.
// View models decouple template rendering from domain model types.
package viewmodel

// LayoutViewModel holds the page chrome shared by every authenticated page.
type LayoutViewModel struct {
	Title     string
	Active    string // nav entry to highlight: dashboard, schedule, notes, settings
	UserName  string
	CSRFToken string
	// Banner is shown above the page when the remote store is unreachable
	// or not configured.
	Banner string
}

// DashboardViewModel holds presentation-ready data for the sync dashboard.
type DashboardViewModel struct {
	RemoteConfigured bool
	RemoteTarget     string
	Outstanding      int
	Degraded         bool
	Collections      []CollectionCardViewModel
}

// CollectionCardViewModel holds the sync state of one collection.
type CollectionCardViewModel struct {
	Name        string
	Total       int
	Synced      int
	Pending     int
	Unsynced    int
	LocalOnly   int
	Degraded    bool
	Warning     string
	LastRefresh string // relative, e.g. "3m ago"; "never" before the first fetch
	Tier        string
	// Unsettled lists the records carrying unconfirmed local changes.
	Unsettled []RecordRowViewModel
}

// RecordRowViewModel is one record awaiting remote confirmation.
type RecordRowViewModel struct {
	Ref        string
	Summary    string
	State      string
	PendingOp  string
	Error      string
	Rejected   bool
	RetryURL   string
	DiscardURL string
}

// ScheduleViewModel holds the weekly lesson grid.
type ScheduleViewModel struct {
	Weekdays []string
	Rows     []ScheduleRowViewModel
}

// ScheduleRowViewModel is one lesson time; Cells follows Weekdays.
type ScheduleRowViewModel struct {
	Time  string
	Cells [][]string
}

// NotesViewModel holds the progress notes grouped by student.
type NotesViewModel struct {
	Groups []NoteGroupViewModel
}

// NoteGroupViewModel holds the notes of one student, newest first.
type NoteGroupViewModel struct {
	StudentName string
	Notes       []NoteViewModel
}

// NoteViewModel is a single rendered note.
type NoteViewModel struct {
	Date     string
	TextHTML string // sanitized HTML rendered from markdown
	Unsynced bool
}

// SettingsViewModel holds the remote store credentials form.
type SettingsViewModel struct {
	RemoteURL       string
	HasKey          bool
	Connected       bool
	RemoteTarget    string
	EncryptionReady bool
	Message         string
	Error           string
}

// LoginViewModel holds the login form state.
type LoginViewModel struct {
	Email     string
	Error     string
	CSRFToken string
}
