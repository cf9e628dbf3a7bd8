package templates

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/a-h/templ"

	vm "github.com/ericfisherdev/studiopanel/internal/adapter/driving/web/viewmodel"
)

// Dashboard renders the sync state of every collection with retry and
// discard actions for records awaiting confirmation.
func Dashboard(d vm.DashboardViewModel, csrfToken string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw(`<section class="sync-summary"><h1>Sync status</h1><p>`)
		if d.RemoteConfigured {
			p.raw(`Remote store: <code>`)
			p.text(d.RemoteTarget)
			p.raw(`</code>`)
		} else {
			p.raw(`No remote store configured. <a href="/app/settings">Add credentials</a>.`)
		}
		p.raw(`</p><p>`)
		p.raw(strconv.Itoa(d.Outstanding))
		p.raw(` change(s) awaiting confirmation.</p>`)
		p.raw(`<form method="post" action="/app/sync/refresh">`)
		p.csrfField(csrfToken)
		p.raw(`<button type="submit">Refresh now</button></form></section>`)

		p.raw(`<section class="collections">`)
		for _, c := range d.Collections {
			p.raw(`<article class="collection`)
			if c.Degraded {
				p.raw(` degraded`)
			}
			p.raw(`"><h2>`)
			p.text(c.Name)
			p.raw(`</h2><dl>`)
			stat(p, "records", c.Total)
			stat(p, "synced", c.Synced)
			stat(p, "pending", c.Pending)
			stat(p, "unsynced", c.Unsynced)
			stat(p, "local only", c.LocalOnly)
			p.raw(`</dl><p class="muted">Last refresh: `)
			p.text(c.LastRefresh)
			if c.Tier != "" {
				p.raw(` · tier `)
				p.text(c.Tier)
			}
			p.raw(`</p>`)
			if c.Warning != "" {
				p.raw(`<p class="warning">`)
				p.text(c.Warning)
				p.raw(`</p>`)
			}
			if len(c.Unsettled) > 0 {
				p.raw(`<table class="unsettled"><thead><tr><th>Record</th><th>State</th><th>Error</th><th></th></tr></thead><tbody>`)
				for _, r := range c.Unsettled {
					unsettledRow(p, r, csrfToken)
				}
				p.raw(`</tbody></table>`)
			}
			p.raw(`</article>`)
		}
		p.raw(`</section>`)
		return p.err
	})
}

func stat(p *printer, label string, n int) {
	p.raw(`<div><dt>`)
	p.text(label)
	p.raw(`</dt><dd>`)
	p.raw(strconv.Itoa(n))
	p.raw(`</dd></div>`)
}

func unsettledRow(p *printer, r vm.RecordRowViewModel, csrfToken string) {
	p.raw(`<tr class="state-`)
	p.text(r.State)
	p.raw(`"><td>`)
	p.text(r.Summary)
	p.raw(`</td><td>`)
	p.text(strings.ReplaceAll(r.State, "_", " "))
	if r.PendingOp != "" {
		p.raw(` (`)
		p.text(r.PendingOp)
		p.raw(`)`)
	}
	if r.Rejected {
		p.raw(` <span class="badge">rejected</span>`)
	}
	p.raw(`</td><td>`)
	p.text(r.Error)
	p.raw(`</td><td class="actions">`)
	if r.State != "pending" {
		p.raw(`<form method="post" action="`)
		p.url(r.RetryURL)
		p.raw(`">`)
		p.csrfField(csrfToken)
		p.raw(`<button type="submit">Retry</button></form><form method="post" action="`)
		p.url(r.DiscardURL)
		p.raw(`">`)
		p.csrfField(csrfToken)
		p.raw(`<button type="submit" class="secondary">Discard</button></form>`)
	}
	p.raw(`</td></tr>`)
}

// Schedule renders the weekly lesson grid.
func Schedule(s vm.ScheduleViewModel) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw(`<h1>Weekly schedule</h1>`)
		if len(s.Rows) == 0 {
			p.raw(`<p class="muted">No lessons scheduled.</p>`)
			return p.err
		}
		p.raw(`<table class="schedule"><thead><tr><th>Time</th>`)
		for _, day := range s.Weekdays {
			p.raw(`<th>`)
			p.text(day)
			p.raw(`</th>`)
		}
		p.raw(`</tr></thead><tbody>`)
		for _, row := range s.Rows {
			p.raw(`<tr><th>`)
			p.text(row.Time)
			p.raw(`</th>`)
			for _, names := range row.Cells {
				p.raw(`<td>`)
				p.text(strings.Join(names, ", "))
				p.raw(`</td>`)
			}
			p.raw(`</tr>`)
		}
		p.raw(`</tbody></table>`)
		return p.err
	})
}

// Notes renders the progress notes grouped by student. Note bodies are
// already sanitized HTML.
func Notes(n vm.NotesViewModel) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw(`<h1>Progress notes</h1>`)
		if len(n.Groups) == 0 {
			p.raw(`<p class="muted">No notes yet.</p>`)
		}
		for _, g := range n.Groups {
			p.raw(`<section class="student-notes"><h2>`)
			p.text(g.StudentName)
			p.raw(`</h2>`)
			for _, note := range g.Notes {
				p.raw(`<article class="note"><time>`)
				p.text(note.Date)
				p.raw(`</time>`)
				if note.Unsynced {
					p.raw(` <span class="badge">not synced</span>`)
				}
				p.raw(`<div class="note-body">`)
				p.raw(note.TextHTML)
				p.raw(`</div></article>`)
			}
			p.raw(`</section>`)
		}
		return p.err
	})
}

// Settings renders the remote store credentials form.
func Settings(s vm.SettingsViewModel, csrfToken string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw(`<h1>Remote store</h1>`)
		if s.Message != "" {
			p.raw(`<p class="notice">`)
			p.text(s.Message)
			p.raw(`</p>`)
		}
		if s.Error != "" {
			p.raw(`<p class="error">`)
			p.text(s.Error)
			p.raw(`</p>`)
		}
		p.raw(`<p>Status: `)
		if s.Connected {
			p.raw(`connected to <code>`)
			p.text(s.RemoteTarget)
			p.raw(`</code>`)
		} else {
			p.raw(`not configured, working from the local cache`)
		}
		p.raw(`</p>`)

		if !s.EncryptionReady {
			p.raw(`<p class="warning">Set STUDIOPANEL_SECRET_KEY to store credentials.</p>`)
			return p.err
		}

		p.raw(`<form method="post" action="/app/settings" class="settings">`)
		p.csrfField(csrfToken)
		p.raw(`<label>Project URL<input type="url" name="remote_url" required placeholder="https://xyz.supabase.co" value="`)
		p.text(s.RemoteURL)
		p.raw(`"></label><label>API key<input type="password" name="remote_key" autocomplete="off"`)
		if s.HasKey {
			p.raw(` placeholder="stored; leave empty to keep"`)
		} else {
			p.raw(` required`)
		}
		p.raw(`></label><button type="submit">Save and connect</button></form>`)
		return p.err
	})
}

// Login renders the sign-in form.
func Login(l vm.LoginViewModel) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw(`<section class="login"><h1>Sign in</h1>`)
		if l.Error != "" {
			p.raw(`<p class="error">`)
			p.text(l.Error)
			p.raw(`</p>`)
		}
		p.raw(`<form method="post" action="/login">`)
		p.csrfField(l.CSRFToken)
		p.raw(`<label>Email<input type="email" name="email" required autofocus value="`)
		p.text(l.Email)
		p.raw(`"></label><label>Password<input type="password" name="password" required></label>`)
		p.raw(`<button type="submit">Sign in</button></form></section>`)
		return p.err
	})
}
