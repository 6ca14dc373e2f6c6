package document

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Format returns the canonical markup for src. It never fails and
// Format(Format(x)) == Format(x).
func Format(src string) string {
	return ParseOrFallback(src).Markup()
}

// FormatFragment formats a replacement that will be spliced into a document.
// Whitespace-only input becomes empty.
func FormatFragment(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	return Format(src)
}

// PlainText returns the text of markup without formatting.
func PlainText(markup string) string {
	return ParseOrFallback(markup).PlainText()
}

func writeBlock(b Block) string {
	switch b.Kind {
	case BlockHeading:
		level := b.Level
		if level < 1 {
			level = 1
		}
		if level > MaxHeadingLevel {
			level = MaxHeadingLevel
		}
		return strings.Repeat("#", level) + " " + writeInlines(b.Content)
	case BlockList:
		var sb strings.Builder
		for i, item := range b.Items {
			marker := "- "
			if b.Ordered {
				marker = fmt.Sprintf("%d. ", i+1)
			}
			if i > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(prefixLines(writeInlines(item), marker, strings.Repeat(" ", len(marker))))
		}
		return sb.String()
	case BlockQuote:
		return prefixLines(writeInlines(b.Content), "> ", "> ")
	default:
		return writeInlines(b.Content)
	}
}

func prefixLines(s, first, rest string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		if i == 0 {
			lines[i] = first + lines[i]
		} else {
			lines[i] = rest + lines[i]
		}
	}
	return strings.Join(lines, "\n")
}

func writeInlines(runs []Inline) string {
	var sb strings.Builder
	lineStart := true
	for _, r := range runs {
		switch r.Kind {
		case InlineBreak:
			sb.WriteByte('\n')
			lineStart = true
			continue
		case InlineImage:
			sb.WriteString("![")
			sb.WriteString(escapeText(r.Text, false))
			sb.WriteString("](")
			sb.WriteString(writeDestination(r.URL))
			sb.WriteString(")")
		default:
			marks := ""
			switch {
			case r.Bold && r.Italic:
				marks = "***"
			case r.Bold:
				marks = "**"
			case r.Italic:
				marks = "*"
			}
			sb.WriteString(marks)
			sb.WriteString(escapeText(r.Text, lineStart && marks == ""))
			sb.WriteString(marks)
		}
		lineStart = false
	}
	return sb.String()
}

func writeDestination(url string) string {
	if strings.ContainsAny(url, " ()<>") {
		url = strings.NewReplacer("<", "%3C", ">", "%3E").Replace(url)
		return "<" + url + ">"
	}
	return url
}

// escapeText escapes characters that would otherwise start markup. At the
// start of a line the block markers are escaped as well.
func escapeText(s string, lineStart bool) string {
	var sb strings.Builder
	sb.Grow(len(s) + 8)
	if lineStart && s != "" {
		switch s[0] {
		case '-', '+', '>', '=', '~':
			sb.WriteByte('\\')
		}
	}
	orderedDot := -1
	if lineStart {
		orderedDot = orderedMarkerEnd(s)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\', '*', '_', '`', '[', ']', '<', '&', '#':
			sb.WriteByte('\\')
		default:
			if i == orderedDot {
				sb.WriteByte('\\')
			}
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// orderedMarkerEnd returns the index of the '.' or ')' in a leading "123." marker, or -1.
func orderedMarkerEnd(s string) int {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(s) {
		return -1
	}
	if s[i] == '.' || s[i] == ')' {
		return i
	}
	return -1
}

func normalizeBlocks(blocks []Block) []Block {
	out := make([]Block, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case BlockList:
			items := make([][]Inline, 0, len(b.Items))
			for _, item := range b.Items {
				if n := normalizeRuns(item); len(n) > 0 {
					items = append(items, n)
				}
			}
			if len(items) == 0 {
				continue
			}
			if last := len(out) - 1; last >= 0 && out[last].Kind == BlockList && out[last].Ordered == b.Ordered {
				out[last].Items = append(out[last].Items, items...)
				continue
			}
			out = append(out, Block{Kind: BlockList, Ordered: b.Ordered, Items: items})
		case BlockHeading:
			content := normalizeRuns(breaksToSpaces(b.Content))
			if len(content) == 0 {
				continue
			}
			out = append(out, Block{Kind: BlockHeading, Level: b.Level, Content: content})
		default:
			content := normalizeRuns(b.Content)
			if len(content) == 0 {
				continue
			}
			if b.Kind == BlockQuote {
				if last := len(out) - 1; last >= 0 && out[last].Kind == BlockQuote {
					out[last].Content = append(append(out[last].Content, Inline{Kind: InlineBreak}), content...)
					continue
				}
			}
			out = append(out, Block{Kind: b.Kind, Content: content})
		}
	}
	return out
}

func breaksToSpaces(runs []Inline) []Inline {
	out := make([]Inline, 0, len(runs))
	for _, r := range runs {
		if r.Kind == InlineBreak {
			out = append(out, Inline{Text: " "})
			continue
		}
		out = append(out, r)
	}
	return out
}

// normalizeRuns rewrites a run list into the single form the writer can
// round-trip: no empty runs, no emphasis touching whitespace or misplaced
// punctuation, no adjacent runs of equal style, no edge or doubled breaks.
func normalizeRuns(runs []Inline) []Inline {
	cur := splitNewlines(runs)
	for i := 0; i < 8; i++ {
		next := normalizePass(cur)
		if equalRuns(next, cur) {
			return next
		}
		cur = next
	}
	return cur
}

func normalizePass(runs []Inline) []Inline {
	runs = peelEmphasis(runs)
	runs = mergeRuns(runs)
	runs = trimBreaks(runs)
	return mergeRuns(runs)
}

func splitNewlines(runs []Inline) []Inline {
	out := make([]Inline, 0, len(runs))
	for _, r := range runs {
		if r.Kind != InlineText || !strings.ContainsAny(r.Text, "\r\n") {
			out = append(out, r)
			continue
		}
		text := strings.ReplaceAll(r.Text, "\r\n", "\n")
		text = strings.ReplaceAll(text, "\r", "\n")
		for i, part := range strings.Split(text, "\n") {
			if i > 0 {
				out = append(out, Inline{Kind: InlineBreak})
			}
			p := r
			p.Text = part
			out = append(out, p)
		}
	}
	return out
}

func plainRun(s string) Inline { return Inline{Text: s} }

func styled(r Inline) bool { return r.Kind == InlineText && (r.Bold || r.Italic) }

// peelEmphasis moves edge whitespace out of emphasized runs, and edge
// punctuation when the neighbouring character would stop the delimiter from
// opening or closing.
func peelEmphasis(runs []Inline) []Inline {
	out := make([]Inline, 0, len(runs))
	for i, r := range runs {
		if !styled(r) {
			out = append(out, r)
			continue
		}
		text := r.Text
		var lead, trail string

		trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)
		lead, text = text[:len(text)-len(trimmed)], trimmed
		trimmed = strings.TrimRightFunc(text, unicode.IsSpace)
		trail, text = text[len(trimmed):], trimmed

		if first, _ := utf8.DecodeRuneInString(text); text != "" && isPunct(first) && isWord(prevRune(out, lead)) {
			rest := strings.TrimLeftFunc(text, func(c rune) bool { return isPunct(c) || unicode.IsSpace(c) })
			lead += text[:len(text)-len(rest)]
			text = rest
		}
		if last, _ := utf8.DecodeLastRuneInString(text); text != "" && isPunct(last) && isWord(nextRune(runs[i+1:], trail)) {
			rest := strings.TrimRightFunc(text, func(c rune) bool { return isPunct(c) || unicode.IsSpace(c) })
			trail = text[len(rest):] + trail
			text = rest
		}

		if lead != "" {
			out = append(out, plainRun(lead))
		}
		if text != "" {
			r.Text = text
			out = append(out, r)
		}
		if trail != "" {
			out = append(out, plainRun(trail))
		}
	}
	return out
}

func prevRune(out []Inline, lead string) rune {
	if lead != "" {
		r, _ := utf8.DecodeLastRuneInString(lead)
		return r
	}
	for i := len(out) - 1; i >= 0; i-- {
		switch out[i].Kind {
		case InlineBreak:
			return ' '
		case InlineImage:
			return ')'
		default:
			if out[i].Text != "" {
				r, _ := utf8.DecodeLastRuneInString(out[i].Text)
				return r
			}
		}
	}
	return ' '
}

func nextRune(rest []Inline, trail string) rune {
	if trail != "" {
		r, _ := utf8.DecodeRuneInString(trail)
		return r
	}
	for _, r := range rest {
		switch r.Kind {
		case InlineBreak:
			return ' '
		case InlineImage:
			return '!'
		default:
			if r.Text != "" {
				c, _ := utf8.DecodeRuneInString(r.Text)
				return c
			}
		}
	}
	return ' '
}

func isPunct(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) }

func isWord(r rune) bool { return !unicode.IsSpace(r) && !isPunct(r) }

// mergeRuns drops empty runs and joins neighbours. Two touching emphasized
// runs of different style take the union of both styles.
func mergeRuns(runs []Inline) []Inline {
	out := make([]Inline, 0, len(runs))
	for _, r := range runs {
		if r.Kind == InlineText && r.Text == "" {
			continue
		}
		if r.Kind == InlineText && len(out) > 0 {
			prev := &out[len(out)-1]
			if prev.Kind == InlineText {
				switch {
				case prev.Bold == r.Bold && prev.Italic == r.Italic:
					prev.Text += r.Text
					continue
				case styled(*prev) && styled(r):
					prev.Text += r.Text
					prev.Bold = prev.Bold || r.Bold
					prev.Italic = prev.Italic || r.Italic
					continue
				}
			}
		}
		out = append(out, r)
	}
	return out
}

// trimBreaks drops edge and repeated breaks and the whitespace around breaks.
func trimBreaks(runs []Inline) []Inline {
	out := make([]Inline, 0, len(runs))
	atLineStart := true
	for _, r := range runs {
		switch r.Kind {
		case InlineBreak:
			if atLineStart {
				continue
			}
			trimTrailingSpace(&out)
			if len(out) == 0 || out[len(out)-1].Kind == InlineBreak {
				continue
			}
			out = append(out, r)
			atLineStart = true
		case InlineText:
			if atLineStart {
				r.Text = strings.TrimLeftFunc(r.Text, unicode.IsSpace)
				if r.Text == "" {
					continue
				}
			}
			out = append(out, r)
			atLineStart = false
		default:
			out = append(out, r)
			atLineStart = false
		}
	}
	trimTrailingSpace(&out)
	for len(out) > 0 && out[len(out)-1].Kind == InlineBreak {
		out = out[:len(out)-1]
		trimTrailingSpace(&out)
	}
	return out
}

func trimTrailingSpace(out *[]Inline) {
	for len(*out) > 0 {
		last := &(*out)[len(*out)-1]
		if last.Kind != InlineText {
			return
		}
		last.Text = strings.TrimRightFunc(last.Text, unicode.IsSpace)
		if last.Text != "" {
			return
		}
		*out = (*out)[:len(*out)-1]
	}
}

func equalRuns(a, b []Inline) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
