package document

import (
	"bytes"
	stdhtml "html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
)

var htmlMarkdown = goldmark.New(
	goldmark.WithRendererOptions(
		html.WithHardWraps(),
		html.WithXHTML(),
	),
)

// HTML renders markup as an HTML fragment. The markup is formatted first so
// only constructs of the document tree reach the output; raw HTML is dropped.
func HTML(markup string) string {
	var buf bytes.Buffer
	if err := htmlMarkdown.Convert([]byte(Format(markup)), &buf); err != nil {
		text := strings.ReplaceAll(stdhtml.EscapeString(PlainText(markup)), "\n", "<br />")
		return "<p>" + text + "</p>\n"
	}
	return buf.String()
}
