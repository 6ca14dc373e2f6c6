package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"genai_studio/backend"
	"genai_studio/config"
	"genai_studio/document"
	"genai_studio/export"
	"genai_studio/generator"
	"genai_studio/history"
)

const shellHelp = `commands:
  login <email|name>          sign in
  logout                      sign out
  set <field> <value>         topic, tone, type, audience, lang
  form                        show the form
  gen [topic]                 generate from the form
  regenerate                  submit the last request again
  show                        print the document and the selection
  select <text> | <start:end> select text or a byte range
  rewrite <instruction>       rewrite the selection (runs in the background)
  doc <op>                    shorten, lengthen, simplify or fix_grammar
  turns                       rewrites since the last generation
  images                      image feed for the current topic
  more-images                 load the next image page
  insert-image <n|url> [alt]  insert an image after the selection
  export <html|doc|pdf> [dir] export the document
  history                     past generations
  delete <id>                 delete a past generation
  upload <file>               add a file to the knowledge base
  quit`

type shell struct {
	a    *app
	in   io.Reader
	form *generator.Form
	buf  *document.Buffer
	sess *generator.Session

	outMu sync.Mutex
	out   io.Writer
	wg    sync.WaitGroup
}

func newShell(a *app, in io.Reader, out io.Writer) *shell {
	buf := document.NewBuffer()
	return &shell{
		a:    a,
		in:   in,
		out:  out,
		form: generator.NewForm(),
		buf:  buf,
		sess: generator.NewSession(a.ids, a.backend, a.images, buf, a.log),
	}
}

func (s *shell) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *shell) Run(ctx context.Context) error {
	defer s.sess.Close()
	if s.a.history != nil {
		cancel := s.a.history.Subscribe(func(_ string, items []history.Item) {
			s.printf("(history refreshed: %d items)\n", len(items))
		})
		defer cancel()
	}

	s.printf("%s\n", s.whoami())
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for s.printf("> "); scanner.Scan(); s.printf("> ") {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name, rest, _ := strings.Cut(line, " ")
		if name == "quit" || name == "exit" {
			break
		}
		if err := s.dispatch(ctx, name, strings.TrimSpace(rest)); err != nil {
			s.printf("error: %s\n", backend.UserMessage(err))
		}
		if ctx.Err() != nil {
			break
		}
	}
	s.wg.Wait()
	return scanner.Err()
}

func (s *shell) whoami() string {
	if u, ok := s.a.ids.Current(); ok {
		return "signed in as " + u.Label()
	}
	return "not signed in (use: login <email>)"
}

func (s *shell) dispatch(ctx context.Context, name, arg string) error {
	switch name {
	case "help", "?":
		s.printf("%s\n", shellHelp)
	case "login":
		if _, err := s.a.ids.SignIn(ctx, arg); err != nil {
			return err
		}
		s.printf("%s\n", s.whoami())
	case "logout":
		if err := s.a.ids.SignOut(ctx); err != nil {
			return err
		}
		s.printf("%s\n", s.whoami())
	case "set":
		field, value, _ := strings.Cut(arg, " ")
		return s.form.Set(field, value)
	case "form":
		f := s.form
		s.printf("topic=%q tone=%q type=%q audience=%q lang=%q\n", f.Topic, f.Tone, f.ContentType, f.TargetAudience, f.Language)
	case "gen":
		if arg != "" {
			s.form.Topic = arg
		}
		req, err := s.form.Submit()
		if err != nil {
			return err
		}
		return s.generate(ctx, func(ctx context.Context) (generator.Result, error) {
			return s.sess.Generate(ctx, req)
		})
	case "regenerate":
		return s.generate(ctx, s.sess.Regenerate)
	case "show":
		s.show()
	case "select":
		return s.selectText(arg)
	case "rewrite":
		return s.rewrite(ctx, arg)
	case "doc":
		return s.documentOp(ctx, arg)
	case "turns":
		for i, t := range s.sess.Turns() {
			s.printf("%d. %s [%d:%d] at %s\n", i+1, t.Instruction, t.Range.Start, t.Range.End, t.CreatedAt.Format("15:04:05"))
		}
	case "images":
		s.printImages(s.sess.Images())
	case "more-images":
		urls, err := s.sess.MoreImages(ctx)
		if err != nil {
			return err
		}
		s.printImages(urls)
	case "insert-image":
		return s.insertImage(arg)
	case "export":
		return s.export(ctx, arg)
	case "history":
		return s.history(ctx)
	case "delete":
		store, err := s.a.historyStore()
		if err != nil {
			return err
		}
		return store.Delete(ctx, arg)
	case "upload":
		return s.upload(ctx, arg)
	default:
		return fmt.Errorf("unknown command %q, try help", name)
	}
	return nil
}

func (s *shell) generate(ctx context.Context, run func(context.Context) (generator.Result, error)) error {
	res, err := run(ctx)
	if err != nil {
		return err
	}
	s.printf("%s\n\n", s.buf.CurrentMarkup())
	an := res.Analytics
	s.printf("words %d, %d min read, readability %d, %s, %d images\n",
		an.WordCount, an.ReadingTime, an.ReadabilityScore, an.Sentiment, len(s.sess.Images()))
	return nil
}

func (s *shell) show() {
	markup := s.buf.CurrentMarkup()
	if markup == "" {
		s.printf("(empty document)\n")
		return
	}
	s.printf("%s\n", markup)
	if sel := s.buf.Selection(); !sel.Empty() {
		s.printf("selection [%d:%d] %q\n", sel.Range.Start, sel.Range.End, sel.Text)
	}
	s.printf("phase: %s\n", s.sess.Engine().Phase())
}

func (s *shell) selectText(arg string) error {
	if arg == "" {
		s.buf.ClearSelection()
		return nil
	}
	if a, b, ok := strings.Cut(arg, ":"); ok {
		start, err1 := strconv.Atoi(a)
		end, err2 := strconv.Atoi(b)
		if err1 == nil && err2 == nil {
			sel := s.buf.Select(document.Range{Start: start, End: end})
			s.printf("selected %q\n", sel.Text)
			return nil
		}
	}
	sel, ok := s.buf.SelectText(arg)
	if !ok {
		return fmt.Errorf("%q is not in the document", arg)
	}
	s.printf("selected [%d:%d]\n", sel.Range.Start, sel.Range.End)
	return nil
}

func (s *shell) rewrite(ctx context.Context, instruction string) error {
	if strings.TrimSpace(instruction) == "" {
		return errors.New("rewrite needs an instruction")
	}
	if s.sess.Engine().Busy() {
		s.printf("a rewrite is already running\n")
		return nil
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		out, err := s.sess.Rewrite(ctx, instruction)
		switch {
		case errors.Is(err, generator.ErrBusy):
			s.printf("a rewrite is already running\n")
		case errors.Is(err, generator.ErrStale):
			s.printf("rewrite discarded: the document was replaced\n")
		case err != nil:
			s.printf("rewrite failed: %s\n", backend.UserMessage(err))
		default:
			s.printf("rewrote [%d:%d]: %s\n", out.Range.Start, out.Range.End, out.Markup)
		}
	}()
	return nil
}

func (s *shell) documentOp(ctx context.Context, arg string) error {
	op := generator.DocumentOp(strings.ToLower(strings.TrimSpace(arg)))
	if _, ok := op.Instruction(); !ok {
		names := make([]string, 0, len(generator.DocumentOps()))
		for _, o := range generator.DocumentOps() {
			names = append(names, string(o))
		}
		return fmt.Errorf("unknown operation %q (one of %s)", arg, strings.Join(names, ", "))
	}
	if _, err := s.sess.RewriteDocument(ctx, op); err != nil {
		return err
	}
	s.printf("%s\n", s.buf.CurrentMarkup())
	return nil
}

func (s *shell) printImages(urls []string) {
	if len(urls) == 0 {
		s.printf("no images\n")
		return
	}
	for i, u := range urls {
		s.printf("%2d  %s\n", i+1, u)
	}
}

func (s *shell) insertImage(arg string) error {
	ref, alt, _ := strings.Cut(arg, " ")
	if ref == "" {
		return errors.New("insert-image needs an image number or url")
	}
	url := ref
	if n, err := strconv.Atoi(ref); err == nil {
		feed := s.sess.Images()
		if n < 1 || n > len(feed) {
			return fmt.Errorf("no image %d (feed has %d)", n, len(feed))
		}
		url = feed[n-1]
	}
	if alt == "" {
		if req, ok := s.sess.LastRequest(); ok {
			alt = req.Topic
		}
	}
	r := s.sess.InsertImage(url, strings.TrimSpace(alt))
	s.printf("inserted at [%d:%d]\n", r.Start, r.End)
	return nil
}

func (s *shell) export(ctx context.Context, arg string) error {
	name, dir, _ := strings.Cut(arg, " ")
	format, err := export.ParseFormat(name)
	if err != nil {
		return err
	}
	if dir = strings.TrimSpace(dir); dir == "" {
		dir = s.a.cfg.Export.Dir
	}
	title := ""
	if req, ok := s.sess.LastRequest(); ok {
		title = req.Topic
	}
	path, err := s.a.exporter.ExportTo(ctx, format, s.buf.CurrentMarkup(), title, dir)
	if err != nil {
		return err
	}
	s.printf("wrote %s\n", path)
	return nil
}

func (s *shell) history(ctx context.Context) error {
	store, err := s.a.historyStore()
	if err != nil {
		return err
	}
	items, cached := store.List(ctx)
	if !cached {
		if items, err = store.Refresh(ctx); err != nil {
			return err
		}
	}
	if len(items) == 0 {
		s.printf("no history yet\n")
		return nil
	}
	for _, it := range items {
		s.printf("%s  %s  %-12s %s\n    %s\n", it.ID, it.CreatedAt.Local().Format("2006-01-02 15:04"), it.ContentType, it.Topic,
			generator.Digest(it.Answer, previewLimit))
	}
	return nil
}

func (s *shell) upload(ctx context.Context, path string) error {
	if s.a.client == nil {
		return fmt.Errorf("upload needs backend.mode %s", config.ModeHTTP)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := s.a.client.UploadKnowledge(ctx, filepath.Base(path), f)
	if err != nil {
		return err
	}
	s.printf("Added %d knowledge chunks.\n", n)
	return nil
}
