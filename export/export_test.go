package export

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type recordingPrinter struct {
	jobs []PrintJob
	err  error
}

func (r *recordingPrinter) Print(_ context.Context, job PrintJob) ([]byte, error) {
	r.jobs = append(r.jobs, job)
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-1.7 fake"), nil
}

const sample = "# AI in Healthcare\n\nBody **text** here.\n\n- one\n- two"

func TestHTMLExportIsDeterministic(t *testing.T) {
	p := New(Options{})
	a, err := p.Export(context.Background(), FormatHTML, sample, "")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	b, err := p.Export(context.Background(), FormatHTML, sample, "")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !bytes.Equal(a.Body, b.Body) {
		t.Fatalf("html export not byte identical")
	}
	body := string(a.Body)
	for _, want := range []string{"<!DOCTYPE html>", "<title>AI in Healthcare</title>", "<h1>AI in Healthcare</h1>", "<strong>text</strong>", "<li>one</li>"} {
		if !strings.Contains(body, want) {
			t.Fatalf("html missing %q:\n%s", want, body)
		}
	}
	if a.Filename != "ai-in-healthcare.html" || a.ContentType != "text/html; charset=utf-8" {
		t.Fatalf("artifact = %s %s", a.Filename, a.ContentType)
	}
}

func TestDocExportEnvelope(t *testing.T) {
	a, err := New(Options{}).Export(context.Background(), FormatDoc, sample, "Quarterly report")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !bytes.HasPrefix(a.Body, []byte("\xef\xbb\xbf<html")) {
		t.Fatalf("missing BOM: %q", a.Body[:10])
	}
	for _, want := range []string{"urn:schemas-microsoft-com:office:office", "urn:schemas-microsoft-com:office:word", "<h1>AI in Healthcare</h1>"} {
		if !bytes.Contains(a.Body, []byte(want)) {
			t.Fatalf("doc missing %q", want)
		}
	}
	if a.Filename != "quarterly-report.doc" || a.ContentType != "application/msword" {
		t.Fatalf("artifact = %s %s", a.Filename, a.ContentType)
	}
}

func TestPDFSkipsImageWaitWithoutImages(t *testing.T) {
	pr := &recordingPrinter{}
	p := New(Options{Printer: pr})
	a, err := p.Export(context.Background(), FormatPDF, sample, "")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(pr.jobs) != 1 || len(pr.jobs[0].Images) != 0 {
		t.Fatalf("jobs = %+v", pr.jobs)
	}
	if a.Filename != "ai-in-healthcare.pdf" || string(a.Body) != "%PDF-1.7 fake" {
		t.Fatalf("artifact = %s %q", a.Filename, a.Body)
	}

	withImages := sample + "\n\n![chart](https://img.example.com/a.png)\n\n![photo](https://img.example.com/b.png)"
	if _, err := p.Export(context.Background(), FormatPDF, withImages, ""); err != nil {
		t.Fatalf("Export: %v", err)
	}
	got := pr.jobs[1].Images
	if len(got) != 2 || got[0] != "https://img.example.com/a.png" {
		t.Fatalf("images = %v", got)
	}
	if !strings.Contains(pr.jobs[1].HTML, "<!DOCTYPE html>") {
		t.Fatalf("printer did not get a standalone page")
	}
}

func TestPDFErrors(t *testing.T) {
	if _, err := New(Options{}).Export(context.Background(), FormatPDF, sample, ""); !errors.Is(err, ErrNoPrinter) {
		t.Fatalf("err = %v", err)
	}
	boom := errors.New("chrome missing")
	p := New(Options{Printer: &recordingPrinter{err: boom}})
	if _, err := p.Export(context.Background(), FormatPDF, sample, ""); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if _, err := p.Export(context.Background(), Format("odt"), sample, ""); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("err = %v", err)
	}
}

func TestExportDropsScripts(t *testing.T) {
	a, err := New(Options{}).Export(context.Background(), FormatHTML, "hi <script>alert(1)</script>\n\n![x](javascript:alert(1))", "t")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if strings.Contains(string(a.Body), "<script>") || strings.Contains(string(a.Body), "javascript:") {
		t.Fatalf("unsafe markup survived:\n%s", a.Body)
	}
}

func TestFilename(t *testing.T) {
	cases := []struct {
		title string
		limit int
		want  string
	}{
		{"Hello, World!", 50, "hello-world.html"},
		{"", 50, "document.html"},
		{"!!!", 50, "document.html"},
		{strings.Repeat("word ", 20), 10, "word-word.html"},
	}
	for _, c := range cases {
		if got := Filename(c.title, c.limit, "html"); got != c.want {
			t.Fatalf("Filename(%q, %d) = %q, want %q", c.title, c.limit, got, c.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"HTML": FormatHTML, ".doc": FormatDoc, " pdf ": FormatPDF} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("rtf"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("rtf accepted")
	}
}

func TestExportToWritesFile(t *testing.T) {
	dir := t.TempDir()
	path, err := New(Options{}).ExportTo(context.Background(), FormatHTML, sample, "", filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("ExportTo: %v", err)
	}
	if filepath.Base(path) != "ai-in-healthcare.html" {
		t.Fatalf("path = %s", path)
	}
	if b, err := os.ReadFile(path); err != nil || !bytes.Contains(b, []byte("<h1>AI in Healthcare</h1>")) {
		t.Fatalf("file = %q, %v", b, err)
	}
}

func TestChromePrinter(t *testing.T) {
	if os.Getenv("STUDIO_TEST_CHROME") == "" {
		t.Skip("STUDIO_TEST_CHROME not set")
	}
	p := New(Options{Printer: &ChromePrinter{Timeout: 30 * time.Second}})
	a, err := p.Export(context.Background(), FormatPDF, sample, "")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !bytes.HasPrefix(a.Body, []byte("%PDF")) {
		t.Fatalf("not a pdf: %q", a.Body[:8])
	}
}
