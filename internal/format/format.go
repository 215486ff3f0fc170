// Package format renders relayed messages as Telegram HTML.
package format

import (
	"strings"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05"

// Escape makes text safe for Telegram's HTML parse mode. Quotes are left
// alone because they only matter inside attributes, which are never emitted.
func Escape(text string) string {
	return htmlEscaper.Replace(text)
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Message renders the header (bold chat title, timestamp, author) and the
// escaped body separated by a blank line. An empty body yields only the header.
// timeMs is a unix timestamp in milliseconds rendered in loc.
func Message(chatTitle string, timeMs int64, author, body string, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(Escape(chatTitle))
	b.WriteString("</b>\n<code>")
	b.WriteString(time.UnixMilli(timeMs).In(loc).Format(timestampLayout))
	b.WriteString("</code>\n")
	if author != "" {
		b.WriteString("Author: ")
		b.WriteString(Escape(author))
	} else {
		b.WriteString("Author: unknown")
	}

	if body != "" {
		b.WriteString("\n\n")
		b.WriteString(Escape(body))
	}
	return b.String()
}
