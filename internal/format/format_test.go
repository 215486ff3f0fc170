package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"plain", "plain"},
		{"a < b & c > d", "a &lt; b &amp; c &gt; d"},
		{`"quoted" 'single'`, `"quoted" 'single'`},
		{"&amp;", "&amp;amp;"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Escape(tt.in))
	}
}

func TestMessage(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC).UnixMilli()

	tests := []struct {
		name   string
		title  string
		author string
		body   string
		want   string
	}{
		{
			name:   "full",
			title:  "Team <dev>",
			author: "Ann & Bob",
			body:   "hi <b>there</b>",
			want:   "<b>Team &lt;dev&gt;</b>\n<code>2024-03-05 14:07:09</code>\nAuthor: Ann &amp; Bob\n\nhi &lt;b&gt;there&lt;/b&gt;",
		},
		{
			name:  "unknown author, no body",
			title: "100",
			want:  "<b>100</b>\n<code>2024-03-05 14:07:09</code>\nAuthor: unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Message(tt.title, ts, tt.author, tt.body, time.UTC))
		})
	}
}

func TestMessage_TimeZone(t *testing.T) {
	loc := time.FixedZone("MSK", 3*60*60)
	got := Message("x", time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC).UnixMilli(), "", "", loc)
	assert.Contains(t, got, "<code>2024-01-02 02:30:00</code>")
}
