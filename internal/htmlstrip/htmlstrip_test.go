package htmlstrip

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple tags collapse to text",
			input: "<p>Hello <b>world</b></p>",
			want:  "Hello world",
		},
		{
			name:  "style and script content is dropped",
			input: "<html><head><style>.a{color:red}</style></head><body><script>alert(1)</script>Hi there</body></html>",
			want:  "Hi there",
		},
		{
			name:  "whitespace collapses",
			input: "<p>line one</p>\n\n<p>   line   two  </p>",
			want:  "line one line two",
		},
		{
			name:  "plain text passes through unchanged",
			input: "just plain text",
			want:  "just plain text",
		},
		{
			name:  "malformed markup never errors",
			input: "<div><p>unclosed <b>tags",
			want:  "unclosed tags",
		},
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Strip(tt.input))
		})
	}
}

func TestLooksLikeHTML(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		content     string
		want        bool
	}{
		{"content type declares html", "html", "no markup here", true},
		{"content type case-insensitive", "HTML", "no markup here", true},
		{"text type with markup in prefix", "text", "<p>hello</p>", true},
		{"text type with markup beyond the 50-char prefix", "text", paddedPrefixThenTag(), false},
		{"plain text", "text", "just plain text", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LooksLikeHTML(tt.contentType, tt.content))
		})
	}
}

func paddedPrefixThenTag() string {
	padding := ""
	for len(padding) < 55 {
		padding += "a"
	}
	return padding + "<p>"
}
