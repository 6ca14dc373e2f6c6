package document

import (
	"strings"
	"testing"
)

func TestFormatIsIdempotent(t *testing.T) {
	inputs := []string{
		"# Title\n\nSome **bold** and *italic* text.\n\n- one\n- two\n\n1. first\n2. second\n\n> quote\n> more",
		"```markdown\n# Wrapped\n\nbody\n```",
		"**foo.**bar",
		"a * b _ c",
		"2024. A year to remember",
		"- a\n\n* b",
		"##### deep heading",
		"text with `code` and [a link](http://example.com)",
		"line one  \nline two",
		"![alt text](http://img.example.com/x.png)",
		"<div>raw</div>",
		"---",
		"***bold italic***",
		"Title\n=====",
		"  leading spaces\n\n\n\ntrailing   ",
		"- item\n  - nested\n- after",
		"> one\n\n> two",
		"ok \xff bad",
		"nul\x00byte",
		"",
	}
	for _, in := range inputs {
		once := Format(in)
		twice := Format(once)
		if once != twice {
			t.Fatalf("Format not idempotent for %q:\nonce:  %q\ntwice: %q", in, once, twice)
		}
		if strings.HasSuffix(once, "\n") {
			t.Fatalf("Format(%q) has trailing newline: %q", in, once)
		}
	}
}

func TestFormatCanonicalForm(t *testing.T) {
	src := "# Title\n\nSome **bold** and *italic* text.\n\n- one\n- two\n\n1. first\n2. second\n\n> quote\n> more"
	if got := Format(src); got != src {
		t.Fatalf("canonical input changed:\n%q\n%q", src, got)
	}
	cases := map[string]string{
		"```markdown\n# Wrapped\n\nbody\n```": "# Wrapped\n\nbody",
		"- a\n\n* b":                          "- a\n- b",
		"Title\n=====":                        "# Title",
		"##### deep":                          `\#\#\#\#\# deep`,
		"<div>raw</div>":                      `\<div>raw\</div>`,
		"line one  \nline two":                "line one\nline two",
	}
	for in, want := range cases {
		if got := Format(in); got != want {
			t.Fatalf("Format(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseKeepsBlockOrder(t *testing.T) {
	src := "# Heading\n\nA paragraph.\n\n- a\n- b\n\n> quoted"
	doc, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []BlockKind{BlockHeading, BlockParagraph, BlockList, BlockQuote}
	assertKinds(t, doc.Kinds(), want)

	again, err := Parse(doc.Markup())
	if err != nil {
		t.Fatalf("Parse(markup): %v", err)
	}
	assertKinds(t, again.Kinds(), want)
	if len(again.Blocks[2].Items) != 2 {
		t.Fatalf("list items = %d, want 2", len(again.Blocks[2].Items))
	}
}

func assertKinds(t *testing.T, got, want []BlockKind) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", got, want)
		}
	}
}

func TestParseFailsSoft(t *testing.T) {
	if _, err := Parse("a\x00b"); err == nil {
		t.Fatalf("expected error for NUL byte")
	}
	if _, err := Parse("ok \xff"); err == nil {
		t.Fatalf("expected error for invalid UTF-8")
	}
	if got := Format("a\x00b"); got != "ab" {
		t.Fatalf("Format NUL fallback = %q", got)
	}
	if got := Format("ok \xff"); got != "ok \uFFFD" {
		t.Fatalf("Format UTF-8 fallback = %q", got)
	}
}

func TestTitleAndPlainText(t *testing.T) {
	doc, err := Parse("intro\n\n## Main *Topic*\n\n- a\n- **b**")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := doc.Title(); got != "Main Topic" {
		t.Fatalf("Title = %q", got)
	}
	if got := doc.PlainText(); got != "intro\n\nMain Topic\n\na\nb" {
		t.Fatalf("PlainText = %q", got)
	}
	if got := (Doc{}).Title(); got != "" {
		t.Fatalf("empty Title = %q", got)
	}
}

func TestHTMLDropsRawHTML(t *testing.T) {
	out := HTML("# T\n\nline1\nline2\n\n<script>alert(1)</script>")
	if !strings.Contains(out, "<h1>T</h1>") {
		t.Fatalf("missing heading: %s", out)
	}
	if !strings.Contains(out, "line1<br />") {
		t.Fatalf("missing hard wrap: %s", out)
	}
	if strings.Contains(out, "<script>") {
		t.Fatalf("raw html leaked: %s", out)
	}
}

func TestBufferReplaceSplicesExactRange(t *testing.T) {
	b := NewBuffer()
	var seen []Selection
	unsubscribe := b.OnSelectionChanged(func(s Selection) { seen = append(seen, s) })
	defer unsubscribe()

	b.Render("# Title\n\nhello world, again")
	v0 := b.Version()
	sel, ok := b.SelectText("world")
	if !ok || sel.Text != "world" {
		t.Fatalf("SelectText = %+v %v", sel, ok)
	}
	before := b.CurrentMarkup()
	got := b.Replace(sel.Range, "**planet**")
	after := b.CurrentMarkup()

	want := before[:sel.Range.Start] + "**planet**" + before[sel.Range.End:]
	if after != want {
		t.Fatalf("splice = %q, want %q", after, want)
	}
	if after[got.Start:got.End] != "**planet**" {
		t.Fatalf("returned range covers %q", after[got.Start:got.End])
	}
	if b.Version() != v0+1 {
		t.Fatalf("version = %d, want %d", b.Version(), v0+1)
	}
	if !b.Selection().Empty() {
		t.Fatalf("selection not cleared: %+v", b.Selection())
	}
	if len(seen) != 3 || !seen[0].Empty() || seen[1].Text != "world" || !seen[2].Empty() {
		t.Fatalf("notifications = %+v", seen)
	}
}

func TestBufferReplaceClamps(t *testing.T) {
	b := NewBuffer()
	b.Render("abc")
	r := b.Replace(Range{Start: 100, End: 200}, "x")
	if b.CurrentMarkup() != "abcx" || r != (Range{Start: 3, End: 4}) {
		t.Fatalf("markup = %q range = %+v", b.CurrentMarkup(), r)
	}
}

func TestSelectionTextIsPlain(t *testing.T) {
	b := NewBuffer()
	b.Render("a **bold** b")
	sel, ok := b.SelectText("**bold**")
	if !ok || sel.Text != "bold" {
		t.Fatalf("selection = %+v", sel)
	}
	if _, ok := b.SelectText("missing"); ok {
		t.Fatalf("SelectText found missing text")
	}
}
