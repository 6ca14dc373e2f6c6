package document

import (
	"strings"
	"sync"
)

// Range is a half-open span of byte offsets into the canonical markup.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Empty reports whether the range covers nothing.
func (r Range) Empty() bool { return r.End <= r.Start }

// Len returns the number of bytes covered.
func (r Range) Len() int {
	if r.Empty() {
		return 0
	}
	return r.End - r.Start
}

// Clamp fits r inside a document of n bytes.
func (r Range) Clamp(n int) Range {
	clamp := func(v int) int {
		if v < 0 {
			return 0
		}
		if v > n {
			return n
		}
		return v
	}
	r.Start, r.End = clamp(r.Start), clamp(r.End)
	if r.End < r.Start {
		r.End = r.Start
	}
	return r
}

// Selection is the user's current highlight.
type Selection struct {
	Range Range
	Text  string
}

// Empty reports whether nothing is selected.
func (s Selection) Empty() bool { return s.Range.Empty() || strings.TrimSpace(s.Text) == "" }

// Editor is the narrow contract the regeneration engine and the page need
// from a rich-text surface.
type Editor interface {
	Render(markup string)
	CurrentMarkup() string
	Selection() Selection
	OnSelectionChanged(func(Selection)) (unsubscribe func())
	Replace(r Range, markup string) Range
	Version() uint64
}

// Buffer is an in-memory Editor. It is safe for concurrent use; listeners
// run outside the lock.
type Buffer struct {
	mu        sync.Mutex
	markup    string
	sel       Selection
	version   uint64
	nextID    int
	listeners map[int]func(Selection)
}

var _ Editor = (*Buffer)(nil)

// NewBuffer returns an empty document with nothing selected.
func NewBuffer() *Buffer {
	return &Buffer{listeners: make(map[int]func(Selection))}
}

// Render replaces the whole document with the canonical form of src.
func (b *Buffer) Render(src string) {
	formatted := Format(src)
	b.mu.Lock()
	b.markup = formatted
	b.version++
	b.sel = Selection{}
	b.mu.Unlock()
	b.notify(Selection{})
}

// CurrentMarkup returns the live document markup.
func (b *Buffer) CurrentMarkup() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.markup
}

// Version increments on every Render and Replace.
func (b *Buffer) Version() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// Selection returns the current highlight.
func (b *Buffer) Selection() Selection {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sel
}

// Select highlights r, clamped to the document.
func (b *Buffer) Select(r Range) Selection {
	b.mu.Lock()
	r = r.Clamp(len(b.markup))
	sel := Selection{Range: r}
	if !r.Empty() {
		sel.Text = PlainText(b.markup[r.Start:r.End])
	}
	b.sel = sel
	b.mu.Unlock()
	b.notify(sel)
	return sel
}

// SelectText highlights the first occurrence of substr in the markup.
func (b *Buffer) SelectText(substr string) (Selection, bool) {
	if substr == "" {
		return Selection{}, false
	}
	i := strings.Index(b.CurrentMarkup(), substr)
	if i < 0 {
		return Selection{}, false
	}
	return b.Select(Range{Start: i, End: i + len(substr)}), true
}

// ClearSelection drops the highlight.
func (b *Buffer) ClearSelection() {
	b.mu.Lock()
	b.sel = Selection{}
	b.mu.Unlock()
	b.notify(Selection{})
}

// Replace splices markup into exactly r and returns the span it now covers.
// A range past the end of a document that shrank is clamped.
func (b *Buffer) Replace(r Range, markup string) Range {
	b.mu.Lock()
	r = r.Clamp(len(b.markup))
	b.markup = b.markup[:r.Start] + markup + b.markup[r.End:]
	b.version++
	b.sel = Selection{}
	b.mu.Unlock()
	b.notify(Selection{})
	return Range{Start: r.Start, End: r.Start + len(markup)}
}

// OnSelectionChanged registers fn for selection changes.
func (b *Buffer) OnSelectionChanged(fn func(Selection)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

func (b *Buffer) notify(sel Selection) {
	b.mu.Lock()
	fns := make([]func(Selection), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(sel)
	}
}
