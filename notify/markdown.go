package notify

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	markdownV2Special = regexp.MustCompile("([_*\\[\\]()~`>#+\\-=|{}.!\\\\])")
	strictPolicy      = bluemonday.StrictPolicy()
)

// Sanitize strips any HTML markup from catalog-provided text and collapses
// whitespace.
func Sanitize(s string) string {
	s = html.UnescapeString(strictPolicy.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

// EscapeMarkdownV2 escapes every character Telegram's MarkdownV2 reserves.
func EscapeMarkdownV2(s string) string {
	return markdownV2Special.ReplaceAllString(s, `\$1`)
}

// Text sanitizes s and escapes it for MarkdownV2.
func Text(s string) string {
	return EscapeMarkdownV2(Sanitize(s))
}

// Link renders a MarkdownV2 inline link. The label is sanitized and
// escaped; inside the URL only ')' and '\' need escaping. An empty URL
// renders the label alone.
func Link(label, url string) string {
	if url == "" {
		return Text(label)
	}
	url = strings.NewReplacer(`\`, `\\`, `)`, `\)`).Replace(url)
	return "[" + Text(label) + "](" + url + ")"
}
