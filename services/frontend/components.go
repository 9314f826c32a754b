package frontend

import (
	"context"
	"html"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/duashare/project/internal/contracts"
	"github.com/dustin/go-humanize"
)

// Element ids patched by the SSE stream and the UI actions.
const (
	FeedID      = "feed"
	AdminFeedID = "admin-feed"
	NoticeID    = "notice"
	FormID      = "prayer-form"
)

const EmptyFeedMessage = "No prayers yet. Be the first to share a prayer."

type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

func component(build func(sb *strings.Builder)) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var sb strings.Builder
		build(&sb)
		_, err := io.WriteString(w, sb.String())
		return err
	})
}

func esc(s string) string {
	return html.EscapeString(s)
}

// RelativeTime renders "3 minutes ago" style ages.
func RelativeTime(then, now time.Time) string {
	if now.Sub(then) < time.Second {
		return "just now"
	}
	return humanize.RelTime(then, now, "ago", "from now")
}

// Notice is the status line above the feed. An empty message clears it.
func Notice(kind NoticeKind, msg string) templ.Component {
	return component(func(sb *strings.Builder) {
		sb.WriteString(`<div id="` + NoticeID + `" class="notice `)
		sb.WriteString(esc(string(kind)))
		sb.WriteString(`" role="status">`)
		sb.WriteString(esc(msg))
		sb.WriteString(`</div>`)
	})
}

// PrayerForm is the submit form. content is echoed back after a failed submit.
func PrayerForm(content string) templ.Component {
	return component(func(sb *strings.Builder) {
		sb.WriteString(`<form id="` + FormID + `" data-on:submit__prevent="@post('/ui/prayers', {contentType: 'form'})">`)
		sb.WriteString(`<label for="content">Share a prayer</label>`)
		sb.WriteString(`<textarea id="content" name="content" maxlength="`)
		sb.WriteString(strconv.Itoa(contracts.MaxContentLength))
		sb.WriteString(`" data-bind:content placeholder="Ask the community to pray for you...">`)
		sb.WriteString(esc(content))
		sb.WriteString(`</textarea>`)
		sb.WriteString(`<div class="hint" data-text="[...$content].length + '/`)
		sb.WriteString(strconv.Itoa(contracts.MaxContentLength))
		sb.WriteString(` characters'">`)
		sb.WriteString(esc(CounterHint(content)))
		sb.WriteString(`</div>`)
		sb.WriteString(`<button type="submit">Share prayer</button>`)
		sb.WriteString(`</form>`)
	})
}

// CounterHint renders "n/500 characters" for the given draft.
func CounterHint(content string) string {
	return strconv.Itoa(len([]rune(content))) + "/" + strconv.Itoa(contracts.MaxContentLength) + " characters"
}

// FeedList is the public feed: published prayers with an ameen button each.
func FeedList(rows []contracts.Prayer, now time.Time) templ.Component {
	return component(func(sb *strings.Builder) {
		sb.WriteString(`<section id="` + FeedID + `">`)
		if len(rows) == 0 {
			sb.WriteString(`<p class="empty">` + esc(EmptyFeedMessage) + `</p>`)
		}
		for _, p := range rows {
			writeCard(sb, p, now, false)
		}
		sb.WriteString(`</section>`)
	})
}

// AdminList is the management list: every prayer with publish and delete controls.
func AdminList(rows []contracts.Prayer, now time.Time) templ.Component {
	return component(func(sb *strings.Builder) {
		sb.WriteString(`<section id="` + AdminFeedID + `">`)
		sb.WriteString(`<p class="meta">`)
		sb.WriteString(esc(PrayerCount(len(rows))))
		sb.WriteString(`</p>`)
		if len(rows) == 0 {
			sb.WriteString(`<p class="empty">No prayers to moderate.</p>`)
		}
		for _, p := range rows {
			writeCard(sb, p, now, true)
		}
		sb.WriteString(`</section>`)
	})
}

func PrayerCount(n int) string {
	if n == 1 {
		return "1 prayer"
	}
	return strconv.Itoa(n) + " prayers"
}

func writeCard(sb *strings.Builder, p contracts.Prayer, now time.Time, admin bool) {
	id := esc(p.ID)
	class := "prayer-card"
	if !p.IsPublished {
		class += " hidden-prayer"
	}
	sb.WriteString(`<article class="` + class + `" data-prayer-id="` + id + `">`)
	sb.WriteString(`<p class="content">`)
	sb.WriteString(esc(p.Content))
	sb.WriteString(`</p><p class="meta"><time datetime="`)
	sb.WriteString(p.CreatedAt.UTC().Format(time.RFC3339))
	sb.WriteString(`">`)
	sb.WriteString(esc(RelativeTime(p.CreatedAt, now)))
	sb.WriteString(`</time> · <span class="ameen-count">`)
	sb.WriteString(strconv.Itoa(p.AmeenCount))
	sb.WriteString(` ameen</span></p>`)

	if !admin {
		sb.WriteString(`<button data-on:click="@post('/ui/prayers/` + id + `/ameen?observed=`)
		sb.WriteString(strconv.Itoa(p.AmeenCount))
		sb.WriteString(`')">Ameen</button>`)
		sb.WriteString(`</article>`)
		return
	}

	if p.IsPublished {
		sb.WriteString(`<span class="badge">published</span>`)
		sb.WriteString(`<button data-on:click="@post('/ui/admin/prayers/` + id + `/publish?value=false')">Unpublish</button>`)
	} else {
		sb.WriteString(`<span class="badge">hidden</span>`)
		sb.WriteString(`<button data-on:click="@post('/ui/admin/prayers/` + id + `/publish?value=true')">Publish</button>`)
	}
	sb.WriteString(`<button class="danger" data-on:click="confirm('Delete this prayer permanently?') &amp;&amp; @post('/ui/admin/prayers/` + id + `/delete?confirm=true')">Delete</button>`)
	sb.WriteString(`</article>`)
}

// LoginForm posts the admin password as a plain form.
func LoginForm(failed bool) templ.Component {
	return component(func(sb *strings.Builder) {
		sb.WriteString(`<form id="admin-login" method="post" action="/ui/admin/login">`)
		sb.WriteString(`<label for="password">Admin password</label>`)
		sb.WriteString(`<input id="password" name="password" type="password" autocomplete="current-password" required/>`)
		sb.WriteString(`<button type="submit">Sign in</button>`)
		if failed {
			sb.WriteString(`<p class="notice error">Incorrect password.</p>`)
		}
		sb.WriteString(`</form>`)
	})
}
