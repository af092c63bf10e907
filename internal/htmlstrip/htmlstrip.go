// Package htmlstrip renders HTML email bodies down to plain text using a
// tolerant tokenizer: malformed markup never causes an error, the caller
// always gets a best-effort string back. Grounded on the source's
// _HTMLTextExtractor (html.parser.HTMLParser subclass dropping
// style/script/head text) and on jmap-service-email's htmlstrip package,
// the pack's only Go HTML-to-text utility — re-expressed here against
// golang.org/x/net/html's tokenizer instead of a hand-rolled regex
// stripper.
package htmlstrip

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var skippedElements = map[string]bool{
	"style": true, "script": true, "head": true,
}

var tagRe = regexp.MustCompile(`(?s)<[^>]*>`)
var whitespaceRe = regexp.MustCompile(`\s+`)

// Strip converts an HTML fragment to collapsed plain text. On tokenizer
// failure it falls back to regex tag-removal, matching the source's
// "never raise from this path" guarantee.
func Strip(input string) string {
	text, ok := tokenize(input)
	if !ok {
		text = tagRe.ReplaceAllString(input, " ")
	}
	return collapse(text)
}

func tokenize(input string) (string, bool) {
	defer func() { recover() }()

	z := html.NewTokenizer(strings.NewReader(input))
	var b strings.Builder
	skipDepth := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return b.String(), true
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if skippedElements[string(name)] {
				if tt == html.StartTagToken {
					skipDepth++
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if skippedElements[string(name)] && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// LooksLikeHTML is a cheap heuristic matching the source's "content_type ==
// html, or the first 50 chars contain '<'" rule.
func LooksLikeHTML(contentType, content string) bool {
	if strings.EqualFold(contentType, "html") {
		return true
	}
	prefix := content
	if len(prefix) > 50 {
		prefix = prefix[:50]
	}
	return strings.Contains(prefix, "<")
}
