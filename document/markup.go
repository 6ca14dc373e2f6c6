// Package document turns AI-delivered markdown into a small block tree,
// writes it back as canonical markup, and holds the live document the user
// edits.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// MaxHeadingLevel is the deepest heading kept as a heading. Deeper ones pass through as text.
const MaxHeadingLevel = 4

// BlockKind identifies a block in the tree.
type BlockKind int

const (
	BlockParagraph BlockKind = iota
	BlockHeading
	BlockList
	BlockQuote
)

func (k BlockKind) String() string {
	switch k {
	case BlockHeading:
		return "heading"
	case BlockList:
		return "list"
	case BlockQuote:
		return "blockquote"
	default:
		return "paragraph"
	}
}

// InlineKind identifies an inline run.
type InlineKind int

const (
	InlineText InlineKind = iota
	InlineBreak
	InlineImage
)

// Inline is one run of inline content. Text runs carry emphasis flags;
// image runs carry alt text in Text and the source in URL.
type Inline struct {
	Kind   InlineKind
	Text   string
	Bold   bool
	Italic bool
	URL    string
}

// Block is a node of the document tree. Headings, paragraphs and quotes use
// Content; lists use Items, one inline slice per item.
type Block struct {
	Kind    BlockKind
	Level   int
	Ordered bool
	Content []Inline
	Items   [][]Inline
}

// Doc is a parsed document.
type Doc struct {
	Blocks []Block
}

var (
	errInvalidUTF8 = errors.New("markup is not valid UTF-8")
	errNULByte     = errors.New("markup contains NUL bytes")
)

var parser = goldmark.New().Parser()

// Parse builds the block tree for src. An error means src could not be read
// as markup; callers that must not fail use Format or Fallback instead.
func Parse(src string) (doc Doc, err error) {
	if !utf8.ValidString(src) {
		return Doc{}, errInvalidUTF8
	}
	if strings.IndexByte(src, 0) >= 0 {
		return Doc{}, errNULByte
	}
	defer func() {
		if r := recover(); r != nil {
			doc, err = Doc{}, fmt.Errorf("lower markup: %v", r)
		}
	}()

	src = strings.ReplaceAll(src, "\r\n", "\n")
	source := []byte(unwrapFence(src))
	root := parser.Parse(text.NewReader(source))
	var blocks []Block
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		blocks = append(blocks, lowerBlock(n, source)...)
	}
	return Doc{Blocks: normalizeBlocks(blocks)}, nil
}

// Fallback wraps raw text in a single plain paragraph, one line per input line.
func Fallback(src string) Doc {
	src = strings.ToValidUTF8(src, "�")
	src = strings.ReplaceAll(src, "\x00", "")
	var content []Inline
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(content) > 0 {
			content = append(content, Inline{Kind: InlineBreak})
		}
		content = append(content, Inline{Text: line})
	}
	return Doc{Blocks: normalizeBlocks([]Block{{Kind: BlockParagraph, Content: content}})}
}

// ParseOrFallback never fails: unreadable markup becomes a plain paragraph.
func ParseOrFallback(src string) Doc {
	doc, err := Parse(src)
	if err != nil {
		return Fallback(src)
	}
	return doc
}

// unwrapFence strips a fence wrapping the whole answer, e.g. ```markdown ... ```.
func unwrapFence(src string) string {
	trimmed := strings.TrimSpace(src)
	if !strings.HasPrefix(trimmed, "```") && !strings.HasPrefix(trimmed, "~~~") {
		return src
	}
	marker := trimmed[:3]
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return src
	}
	last := strings.TrimSpace(lines[len(lines)-1])
	if last != marker {
		return src
	}
	// An inner line that is itself a bare marker means the fences are separate code blocks.
	for _, l := range lines[1 : len(lines)-1] {
		if strings.HasPrefix(strings.TrimSpace(l), marker) {
			return src
		}
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}

func lowerBlock(n ast.Node, source []byte) []Block {
	switch node := n.(type) {
	case *ast.Heading:
		content := lowerInlines(node, source)
		if node.Level > MaxHeadingLevel {
			marks := strings.Repeat("#", node.Level) + " "
			content = append([]Inline{{Text: marks}}, content...)
			return []Block{{Kind: BlockParagraph, Content: content}}
		}
		return []Block{{Kind: BlockHeading, Level: node.Level, Content: content}}
	case *ast.Paragraph, *ast.TextBlock:
		return []Block{{Kind: BlockParagraph, Content: lowerInlines(n, source)}}
	case *ast.List:
		return []Block{{Kind: BlockList, Ordered: node.IsOrdered(), Items: lowerListItems(node, source)}}
	case *ast.Blockquote:
		return []Block{{Kind: BlockQuote, Content: flattenContainer(node, source)}}
	case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
		return []Block{{Kind: BlockParagraph, Content: rawLines(n, source)}}
	case *ast.ThematicBreak:
		return []Block{{Kind: BlockParagraph, Content: []Inline{{Text: "---"}}}}
	default:
		if n.Type() == ast.TypeBlock && n.HasChildren() {
			return []Block{{Kind: BlockParagraph, Content: flattenContainer(n, source)}}
		}
		if n.Lines() != nil && n.Lines().Len() > 0 {
			return []Block{{Kind: BlockParagraph, Content: rawLines(n, source)}}
		}
		return nil
	}
}

func lowerListItems(list *ast.List, source []byte) [][]Inline {
	var items [][]Inline
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		var own []Inline
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			if nested, ok := c.(*ast.List); ok {
				if len(own) > 0 {
					items = append(items, own)
					own = nil
				}
				items = append(items, lowerListItems(nested, source)...)
				continue
			}
			if len(own) > 0 {
				own = append(own, Inline{Kind: InlineBreak})
			}
			own = append(own, flattenBlock(c, source)...)
		}
		if len(own) > 0 {
			items = append(items, own)
		}
	}
	return items
}

// flattenContainer lowers every child block of n into one inline stream separated by breaks.
func flattenContainer(n ast.Node, source []byte) []Inline {
	var out []Inline
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		part := flattenBlock(c, source)
		if len(part) == 0 {
			continue
		}
		if len(out) > 0 {
			out = append(out, Inline{Kind: InlineBreak})
		}
		out = append(out, part...)
	}
	return out
}

func flattenBlock(n ast.Node, source []byte) []Inline {
	switch n.(type) {
	case *ast.List:
		var out []Inline
		for _, item := range lowerListItems(n.(*ast.List), source) {
			if len(out) > 0 {
				out = append(out, Inline{Kind: InlineBreak})
			}
			out = append(out, item...)
		}
		return out
	case *ast.Blockquote:
		return flattenContainer(n, source)
	case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
		return rawLines(n, source)
	case *ast.ThematicBreak:
		return []Inline{{Text: "---"}}
	default:
		if n.Type() == ast.TypeBlock && n.HasChildren() && n.FirstChild().Type() == ast.TypeBlock {
			return flattenContainer(n, source)
		}
		return lowerInlines(n, source)
	}
}

func rawLines(n ast.Node, source []byte) []Inline {
	var out []Inline
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		line := strings.TrimRight(string(seg.Value(source)), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(out) > 0 {
			out = append(out, Inline{Kind: InlineBreak})
		}
		out = append(out, Inline{Text: line})
	}
	return out
}

type style struct{ bold, italic bool }

func lowerInlines(n ast.Node, source []byte) []Inline {
	var out []Inline
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		out = appendInline(out, c, source, style{})
	}
	return out
}

func appendInline(out []Inline, n ast.Node, source []byte, st style) []Inline {
	switch node := n.(type) {
	case *ast.Text:
		out = append(out, Inline{Text: resolveText(node.Segment.Value(source)), Bold: st.bold, Italic: st.italic})
		if node.SoftLineBreak() || node.HardLineBreak() {
			out = append(out, Inline{Kind: InlineBreak})
		}
	case *ast.String:
		out = append(out, Inline{Text: string(node.Value), Bold: st.bold, Italic: st.italic})
	case *ast.Emphasis:
		inner := st
		if node.Level >= 2 {
			inner.bold = true
		} else {
			inner.italic = true
		}
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			out = appendInline(out, c, source, inner)
		}
	case *ast.CodeSpan:
		var buf bytes.Buffer
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				buf.Write(t.Segment.Value(source))
			} else if s, ok := c.(*ast.String); ok {
				buf.Write(s.Value)
			}
		}
		out = append(out, Inline{Text: buf.String(), Bold: st.bold, Italic: st.italic})
	case *ast.Image:
		alt := strings.Join(strings.Fields(plainOf(lowerInlines(node, source))), " ")
		out = append(out, Inline{Kind: InlineImage, Text: alt, URL: string(node.Destination)})
	case *ast.AutoLink:
		out = append(out, Inline{Text: string(node.Label(source)), Bold: st.bold, Italic: st.italic})
	case *ast.RawHTML:
		var buf bytes.Buffer
		for i := 0; i < node.Segments.Len(); i++ {
			seg := node.Segments.At(i)
			buf.Write(seg.Value(source))
		}
		out = append(out, Inline{Text: buf.String(), Bold: st.bold, Italic: st.italic})
	default:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			out = appendInline(out, c, source, st)
		}
	}
	return out
}

func resolveText(raw []byte) string {
	v := util.UnescapePunctuations(raw)
	v = util.ResolveNumericReferences(v)
	v = util.ResolveEntityNames(v)
	return string(v)
}

// Markup returns the canonical markup of the tree.
func (d Doc) Markup() string {
	parts := make([]string, 0, len(d.Blocks))
	for _, b := range d.Blocks {
		if s := writeBlock(b); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// PlainText returns the text of the document without markup, blocks separated by blank lines.
func (d Doc) PlainText() string {
	parts := make([]string, 0, len(d.Blocks))
	for _, b := range d.Blocks {
		switch b.Kind {
		case BlockList:
			lines := make([]string, 0, len(b.Items))
			for _, item := range b.Items {
				lines = append(lines, plainOf(item))
			}
			parts = append(parts, strings.Join(lines, "\n"))
		default:
			parts = append(parts, plainOf(b.Content))
		}
	}
	return strings.Join(parts, "\n\n")
}

// Title returns the text of the first heading, or "" when there is none.
func (d Doc) Title() string {
	for _, b := range d.Blocks {
		if b.Kind == BlockHeading {
			return plainOf(b.Content)
		}
	}
	return ""
}

// Kinds lists the block kinds in order.
func (d Doc) Kinds() []BlockKind {
	kinds := make([]BlockKind, len(d.Blocks))
	for i, b := range d.Blocks {
		kinds[i] = b.Kind
	}
	return kinds
}

func plainOf(runs []Inline) string {
	var sb strings.Builder
	for _, r := range runs {
		switch r.Kind {
		case InlineBreak:
			sb.WriteByte('\n')
		default:
			sb.WriteString(r.Text)
		}
	}
	return sb.String()
}
