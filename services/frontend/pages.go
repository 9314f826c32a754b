package frontend

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
)

const datastarScript = "https://cdn.jsdelivr.net/gh/starfederation/datastar@1.0.0-RC.5/bundles/datastar.js"

func layout(title string, body ...templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var head strings.Builder
		head.WriteString(`<!doctype html><html lang="en"><head><meta charset="utf-8"/>`)
		head.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1"/>`)
		head.WriteString(`<title>` + esc(title) + `</title>`)
		head.WriteString(`<link rel="stylesheet" href="/static/styles.css"/>`)
		head.WriteString(`<script type="module" src="` + datastarScript + `"></script>`)
		head.WriteString(`</head><body><main>`)
		if _, err := io.WriteString(w, head.String()); err != nil {
			return err
		}
		for _, c := range body {
			if err := c.Render(ctx, w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</main></body></html>`)
		return err
	})
}

func raw(s string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	})
}

// PublicPage renders the shell; the feed itself arrives over /events.
func PublicPage() templ.Component {
	return layout("Du'aShare",
		raw(`<header><h1>Du'aShare</h1><p class="meta">Share a prayer. Say ameen for others.</p></header>`),
		PrayerForm(""),
		Notice("", ""),
		raw(`<div data-on-load="@get('/events?view=public')">`),
		raw(`<section id="`+FeedID+`"><p class="empty">Loading prayers...</p></section>`),
		raw(`</div>`),
	)
}

// AdminPage shows the login form, or the management list for a signed-in admin.
func AdminPage(signedIn, loginFailed bool) templ.Component {
	if !signedIn {
		return layout("Du'aShare admin",
			raw(`<header><h1>Admin</h1></header>`),
			LoginForm(loginFailed),
		)
	}
	return layout("Du'aShare admin",
		raw(`<header><h1>Admin</h1><form method="post" action="/ui/admin/logout"><button type="submit">Sign out</button></form></header>`),
		Notice("", ""),
		raw(`<div data-on-load="@get('/events?view=admin')">`),
		raw(`<section id="`+AdminFeedID+`"><p class="empty">Loading prayers...</p></section>`),
		raw(`</div>`),
	)
}
