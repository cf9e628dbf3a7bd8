// Package templates holds the templ components of the web GUI.
package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"

	vm "github.com/ericfisherdev/studiopanel/internal/adapter/driving/web/viewmodel"
)

// printer accumulates the first write error so components can emit markup
// without checking every call.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) raw(s string) {
	if p.err != nil {
		return
	}
	_, p.err = io.WriteString(p.w, s)
}

// text writes s HTML-escaped; safe for element content and quoted attributes.
func (p *printer) text(s string) {
	p.raw(templ.EscapeString(s))
}

// url writes u as an attribute value, replacing unsafe schemes the way
// templ.URL does.
func (p *printer) url(u string) {
	p.text(string(templ.URL(u)))
}

func (p *printer) component(ctx context.Context, c templ.Component) {
	if p.err != nil || c == nil {
		return
	}
	p.err = c.Render(ctx, p.w)
}

// csrfField emits the hidden CSRF form input.
func (p *printer) csrfField(token string) {
	p.raw(`<input type="hidden" name="csrf_token" value="`)
	p.text(token)
	p.raw(`">`)
}

var navEntries = []struct{ key, label, href string }{
	{"dashboard", "Sync", "/"},
	{"schedule", "Schedule", "/app/schedule"},
	{"notes", "Notes", "/app/notes"},
	{"settings", "Settings", "/app/settings"},
}

// Layout wraps body in the HTML document with the navigation bar. The
// navigation is omitted when no user is signed in.
func Layout(page vm.LayoutViewModel, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		p.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		p.raw(`<title>`)
		p.text(page.Title)
		p.raw(` · Studio Panel</title><link rel="stylesheet" href="/static/app.css"></head><body>`)

		if page.UserName != "" {
			p.raw(`<header class="topbar"><span class="brand">Studio Panel</span><nav>`)
			for _, e := range navEntries {
				p.raw(`<a href="` + e.href + `"`)
				if e.key == page.Active {
					p.raw(` class="active"`)
				}
				p.raw(`>` + e.label + `</a>`)
			}
			p.raw(`</nav><form method="post" action="/logout" class="logout">`)
			p.csrfField(page.CSRFToken)
			p.raw(`<span>`)
			p.text(page.UserName)
			p.raw(`</span><button type="submit">Sign out</button></form></header>`)
		}

		if page.Banner != "" {
			p.raw(`<div class="banner warning" role="status">`)
			p.text(page.Banner)
			p.raw(`</div>`)
		}

		p.raw(`<main>`)
		p.component(ctx, body)
		p.raw(`</main></body></html>`)
		return p.err
	})
}
