// Package export turns the live document into downloadable html, doc and
// pdf files. Output depends only on the markup and title it is given.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"genai_studio/document"
	"genai_studio/logger"
	"genai_studio/metrics"
)

// Format names an export target.
type Format string

const (
	FormatHTML Format = "html"
	FormatDoc  Format = "doc"
	FormatPDF  Format = "pdf"
)

// DefaultTitleMax bounds the title part of a file name.
const DefaultTitleMax = 50

// fallbackName is used when no title yields a usable file name.
const fallbackName = "document"

var (
	ErrUnknownFormat = errors.New("unknown export format")
	ErrNoPrinter     = errors.New("pdf export needs a printer")
)

// ParseFormat accepts html, doc or pdf in any case, with or without a dot.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "."))
	switch f {
	case FormatHTML, FormatDoc, FormatPDF:
		return f, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownFormat, s)
}

// Artifact is one exported file.
type Artifact struct {
	Format      Format
	Filename    string
	ContentType string
	Body        []byte
}

type Options struct {
	Printer  Printer
	TitleMax int
	Logger   *logger.Logger
}

// Pipeline builds artifacts. It never modifies the markup it is given.
type Pipeline struct {
	printer  Printer
	titleMax int
	log      *logger.Logger
}

func New(opts Options) *Pipeline {
	titleMax := opts.TitleMax
	if titleMax <= 0 {
		titleMax = DefaultTitleMax
	}
	return &Pipeline{printer: opts.Printer, titleMax: titleMax, log: logger.OrNop(opts.Logger).Named("export")}
}

// Export renders markup to format. titleHint names the document; when empty
// the first heading is used.
func (p *Pipeline) Export(ctx context.Context, format Format, markup, titleHint string) (Artifact, error) {
	a, err := p.export(ctx, format, markup, titleHint)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RecordExport(string(format), outcome)
	return a, err
}

func (p *Pipeline) export(ctx context.Context, format Format, markup, titleHint string) (Artifact, error) {
	title := p.title(markup, titleHint)
	body := Sanitize(document.HTML(markup))

	switch format {
	case FormatHTML:
		return Artifact{
			Format:      FormatHTML,
			Filename:    Filename(title, p.titleMax, "html"),
			ContentType: "text/html; charset=utf-8",
			Body:        []byte(standaloneHTML(title, body)),
		}, nil
	case FormatDoc:
		return Artifact{
			Format:      FormatDoc,
			Filename:    Filename(title, p.titleMax, "doc"),
			ContentType: "application/msword",
			Body:        []byte(wordHTML(title, body)),
		}, nil
	case FormatPDF:
		if p.printer == nil {
			return Artifact{}, ErrNoPrinter
		}
		page := standaloneHTML(title, body)
		images, err := imageSources(page)
		if err != nil {
			return Artifact{}, err
		}
		p.log.Debug("print pdf", zap.String("title", title), zap.Int("images", len(images)))
		pdf, err := p.printer.Print(ctx, PrintJob{HTML: page, Images: images})
		if err != nil {
			return Artifact{}, fmt.Errorf("print pdf: %w", err)
		}
		return Artifact{
			Format:      FormatPDF,
			Filename:    Filename(title, p.titleMax, "pdf"),
			ContentType: "application/pdf",
			Body:        pdf,
		}, nil
	default:
		return Artifact{}, fmt.Errorf("%w %q", ErrUnknownFormat, format)
	}
}

// ExportTo exports and writes the artifact into dir, returning its path.
func (p *Pipeline) ExportTo(ctx context.Context, format Format, markup, titleHint, dir string) (string, error) {
	a, err := p.Export(ctx, format, markup, titleHint)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, a.Filename)
	if err := os.WriteFile(path, a.Body, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (p *Pipeline) title(markup, hint string) string {
	if t := strings.TrimSpace(hint); t != "" {
		return t
	}
	if t := strings.TrimSpace(document.ParseOrFallback(markup).Title()); t != "" {
		return t
	}
	return fallbackName
}

// Filename builds "<slug>.<ext>" from title cut to limit runes.
func Filename(title string, limit int, ext string) string {
	if limit <= 0 {
		limit = DefaultTitleMax
	}
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) > limit {
		title = string([]rune(title)[:limit])
	}
	name := slug.Make(title)
	if name == "" {
		name = fallbackName
	}
	return name + "." + ext
}
