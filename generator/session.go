package generator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"genai_studio/document"
	"genai_studio/identity"
	"genai_studio/logger"
)

// ErrNoRequest is returned by Regenerate before the first generation.
var ErrNoRequest = errors.New("nothing to regenerate yet")

// UserSource reports the signed-in user.
type UserSource interface {
	Current() (identity.User, bool)
}

// Session holds the state of one authoring page: the last request and
// result, the live document, the image feed and the rewrites applied since
// the last generation.
type Session struct {
	users   UserSource
	backend Backend
	images  ImageSource
	editor  document.Editor
	engine  *Engine
	log     *logger.Logger

	mu        sync.Mutex
	lastReq   *Request
	result    *Result
	feed      []string
	feedSeen  map[string]bool
	feedPage  int
	feedTopic string
	turns     []Turn
}

// NewSession wires a page. images may be nil when no image feed is available.
func NewSession(users UserSource, backend Backend, images ImageSource, editor document.Editor, log *logger.Logger) *Session {
	log = logger.OrNop(log)
	return &Session{
		users:   users,
		backend: backend,
		images:  images,
		editor:  editor,
		engine:  NewEngine(editor, backend, log),
		log:     log.Named("session"),
	}
}

// Editor returns the live document.
func (s *Session) Editor() document.Editor { return s.editor }

// Engine returns the regeneration engine bound to the document.
func (s *Session) Engine() *Engine { return s.engine }

// Generate submits req, renders the answer and loads the first image page.
// A signed-in user is required before anything is sent.
func (s *Session) Generate(ctx context.Context, req Request) (Result, error) {
	if _, ok := s.users.Current(); !ok {
		return Result{}, identity.ErrNotSignedIn
	}
	if strings.TrimSpace(req.Topic) == "" {
		return Result{}, ErrEmptyTopic
	}
	epoch := s.engine.Invalidate()
	res, err := s.backend.Generate(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if !s.engine.RenderIfCurrent(epoch, res.Answer) {
		return res, ErrStale
	}

	s.mu.Lock()
	r := req
	s.lastReq = &r
	s.result = &res
	s.turns = nil
	s.feed, s.feedSeen, s.feedPage, s.feedTopic = nil, map[string]bool{}, 0, req.Topic
	s.mu.Unlock()

	if _, err := s.MoreImages(ctx); err != nil {
		s.log.Warn("load images", zap.String("topic", req.Topic), zap.Error(err))
	}
	return res, nil
}

// Regenerate submits the last request again.
func (s *Session) Regenerate(ctx context.Context) (Result, error) {
	req, ok := s.LastRequest()
	if !ok {
		return Result{}, ErrNoRequest
	}
	return s.Generate(ctx, req)
}

func (s *Session) LastRequest() (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastReq == nil {
		return Request{}, false
	}
	return *s.lastReq, true
}

func (s *Session) Result() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return Result{}, false
	}
	return *s.result, true
}

// Images returns the image feed loaded so far.
func (s *Session) Images() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.feed...)
}

// MoreImages loads the next page and appends it to the feed, skipping URLs
// already present.
func (s *Session) MoreImages(ctx context.Context) ([]string, error) {
	if s.images == nil {
		return s.Images(), nil
	}
	s.mu.Lock()
	topic, page := s.feedTopic, s.feedPage+1
	s.mu.Unlock()
	if topic == "" {
		return nil, ErrNoRequest
	}

	urls, err := s.images.Images(ctx, topic, page)
	if err != nil {
		return s.Images(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feedTopic != topic {
		return append([]string(nil), s.feed...), nil
	}
	s.feedPage = page
	for _, u := range urls {
		if u == "" || s.feedSeen[u] {
			continue
		}
		s.feedSeen[u] = true
		s.feed = append(s.feed, u)
	}
	return append([]string(nil), s.feed...), nil
}

// InsertImage adds an image paragraph after the paragraph holding the end of
// the selection, or at the end of the document.
func (s *Session) InsertImage(url, alt string) document.Range {
	img := document.Doc{Blocks: []document.Block{{
		Kind:    document.BlockParagraph,
		Content: []document.Inline{{Kind: document.InlineImage, Text: alt, URL: url}},
	}}}.Markup()

	markup := s.editor.CurrentMarkup()
	if markup == "" {
		return s.editor.Replace(document.Range{}, img)
	}
	pos := len(markup)
	if sel := s.editor.Selection(); !sel.Empty() {
		end := sel.Range.Clamp(len(markup)).End
		if i := strings.Index(markup[end:], "\n\n"); i >= 0 {
			pos = end + i
		}
	}
	r := s.editor.Replace(document.Range{Start: pos, End: pos}, "\n\n"+img)
	r.Start += 2
	return r
}

// Rewrite applies instruction to the selection and records the turn.
func (s *Session) Rewrite(ctx context.Context, instruction string) (Outcome, error) {
	out, err := s.engine.Rewrite(ctx, instruction)
	if err != nil {
		return out, err
	}
	s.record(instruction, out)
	return out, nil
}

// RewriteDocument applies a document operation and records the turn.
func (s *Session) RewriteDocument(ctx context.Context, op DocumentOp) (Outcome, error) {
	out, err := s.engine.RewriteDocument(ctx, op)
	if err != nil {
		return out, err
	}
	s.record(string(op), out)
	return out, nil
}

// Turns lists the rewrites applied since the last generation.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.turns...)
}

func (s *Session) record(instruction string, out Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, Turn{
		Instruction: instruction,
		Range:       out.Range,
		Markup:      out.Markup,
		CreatedAt:   time.Now(),
	})
}

// Close detaches the engine from the editor.
func (s *Session) Close() {
	s.engine.Close()
}
