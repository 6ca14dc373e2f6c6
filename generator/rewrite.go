package generator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"genai_studio/document"
	"genai_studio/logger"
	"genai_studio/metrics"
)

var (
	ErrBusy          = errors.New("a rewrite is already pending")
	ErrNoSelection   = errors.New("nothing is selected")
	ErrStale         = errors.New("a newer generation replaced the document")
	ErrEmptyDocument = errors.New("the document is empty")
)

// Phase is the state of the regeneration engine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSelectable
	PhasePending
	PhaseSplicing
)

func (p Phase) String() string {
	switch p {
	case PhaseSelectable:
		return "selectable"
	case PhasePending:
		return "pending"
	case PhaseSplicing:
		return "splicing"
	default:
		return "idle"
	}
}

// Engine rewrites the selected span, or the whole document, through a
// Rewriter and splices the answer back. At most one rewrite is pending.
type Engine struct {
	editor   document.Editor
	rewriter Rewriter
	log      *logger.Logger

	// spliceMu serialises editor writes made by the engine. It is taken
	// before mu.
	spliceMu sync.Mutex

	mu      sync.Mutex
	phase   Phase
	pending bool
	epoch   uint64

	unsubscribe func()
}

func NewEngine(editor document.Editor, rewriter Rewriter, log *logger.Logger) *Engine {
	e := &Engine{
		editor:   editor,
		rewriter: rewriter,
		log:      logger.OrNop(log).Named("rewrite"),
	}
	e.unsubscribe = editor.OnSelectionChanged(e.selectionChanged)
	return e
}

func (e *Engine) selectionChanged(sel document.Selection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending {
		return
	}
	if sel.Empty() {
		e.phase = PhaseIdle
	} else {
		e.phase = PhaseSelectable
	}
}

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Busy reports whether a rewrite is pending. Callers disable their
// instruction triggers while it is true.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// Epoch returns the current generation epoch.
func (e *Engine) Epoch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch
}

// Invalidate starts a new generation epoch. Rewrites begun earlier are
// discarded when they answer.
func (e *Engine) Invalidate() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.epoch++
	return e.epoch
}

// RenderIfCurrent renders markup only when epoch is still the latest one.
// A successful render starts a new epoch, so rewrites begun against the
// previous document are discarded.
func (e *Engine) RenderIfCurrent(epoch uint64, markup string) bool {
	e.spliceMu.Lock()
	defer e.spliceMu.Unlock()
	if e.Epoch() != epoch {
		return false
	}
	e.editor.Render(markup)
	e.Invalidate()
	return true
}

// Close detaches the engine from the editor.
func (e *Engine) Close() {
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
}

// begin claims the pending slot. It cannot interleave with a render.
func (e *Engine) begin(scope string) (uint64, error) {
	e.spliceMu.Lock()
	defer e.spliceMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending {
		metrics.RecordRewrite(scope, "busy")
		return 0, ErrBusy
	}
	e.pending = true
	e.phase = PhasePending
	return e.epoch, nil
}

func (e *Engine) finish() {
	sel := e.editor.Selection()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = false
	if sel.Empty() {
		e.phase = PhaseIdle
	} else {
		e.phase = PhaseSelectable
	}
}

// Rewrite applies instruction to the current selection. The range captured
// here is the one replaced, whatever the selection is when the answer arrives.
func (e *Engine) Rewrite(ctx context.Context, instruction string) (Outcome, error) {
	sel := e.editor.Selection()
	if sel.Empty() {
		if e.Busy() {
			return Outcome{}, ErrBusy
		}
		return Outcome{}, ErrNoSelection
	}
	epoch, err := e.begin("selection")
	if err != nil {
		return Outcome{}, err
	}
	defer e.finish()

	markup := e.editor.CurrentMarkup()
	captured := sel.Range.Clamp(len(markup))
	req := RewriteRequest{
		SelectedText: markup[captured.Start:captured.End],
		Instruction:  BuildRewriteInstruction(instruction),
	}
	e.log.Debug("rewrite selection",
		zap.Int("start", captured.Start),
		zap.Int("end", captured.End),
		zap.String("instruction", instruction),
	)

	resp, err := e.rewriter.Rewrite(ctx, req)
	if err != nil {
		metrics.RecordRewrite("selection", "error")
		return Outcome{}, err
	}

	formatted := document.FormatFragment(resp)
	e.spliceMu.Lock()
	defer e.spliceMu.Unlock()
	if !e.enterSplice(epoch) {
		metrics.RecordRewrite("selection", "stale")
		return Outcome{}, ErrStale
	}
	r := e.editor.Replace(captured, formatted)
	metrics.RecordRewrite("selection", "ok")
	return Outcome{Range: r, Markup: formatted}, nil
}

// RewriteDocument applies one of the fixed document operations to the whole
// document and re-renders it.
func (e *Engine) RewriteDocument(ctx context.Context, op DocumentOp) (Outcome, error) {
	instruction, ok := op.Instruction()
	if !ok {
		return Outcome{}, fmt.Errorf("unknown document operation %q", op)
	}
	markup := e.editor.CurrentMarkup()
	if markup == "" {
		return Outcome{}, ErrEmptyDocument
	}
	epoch, err := e.begin("document")
	if err != nil {
		return Outcome{}, err
	}
	defer e.finish()

	e.log.Debug("rewrite document", zap.String("op", string(op)))
	resp, err := e.rewriter.Rewrite(ctx, RewriteRequest{
		SelectedText: markup,
		Instruction:  BuildRewriteInstruction(instruction),
	})
	if err != nil {
		metrics.RecordRewrite("document", "error")
		return Outcome{}, err
	}

	e.spliceMu.Lock()
	defer e.spliceMu.Unlock()
	if !e.enterSplice(epoch) {
		metrics.RecordRewrite("document", "stale")
		return Outcome{}, ErrStale
	}
	e.editor.Render(resp)
	out := e.editor.CurrentMarkup()
	metrics.RecordRewrite("document", "ok")
	return Outcome{Range: document.Range{Start: 0, End: len(out)}, Markup: out}, nil
}

func (e *Engine) enterSplice(epoch uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != epoch {
		return false
	}
	e.phase = PhaseSplicing
	return true
}
