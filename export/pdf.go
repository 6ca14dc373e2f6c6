package export

import (
	"context"
	"errors"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// PrintJob is a standalone HTML page and the images it references.
type PrintJob struct {
	HTML   string
	Images []string
}

// Printer turns a page into PDF bytes.
type Printer interface {
	Print(ctx context.Context, job PrintJob) ([]byte, error)
}

// waitImages resolves once every image has loaded or failed.
const waitImages = `Promise.all(Array.from(document.images).map(function (img) {
  if (img.complete) { return true; }
  return new Promise(function (resolve) {
    img.addEventListener('load', function () { resolve(true); });
    img.addEventListener('error', function () { resolve(true); });
  });
})).then(function () { return true; })`

// ChromePrinter prints with a headless Chrome. Every job gets its own
// browser, torn down when the job ends.
type ChromePrinter struct {
	ExecPath string
	Timeout  time.Duration
}

func (p *ChromePrinter) Print(ctx context.Context, job PrintJob) ([]byte, error) {
	if job.HTML == "" {
		return nil, errors.New("empty page")
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.DisableGPU,
	)
	if p.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(p.ExecPath))
	}
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	tctx, cancelTab := chromedp.NewContext(actx)
	defer cancelTab()
	tctx, cancel := context.WithTimeout(tctx, timeout)
	defer cancel()

	actions := []chromedp.Action{
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, job.HTML).Do(ctx)
		}),
	}
	if len(job.Images) > 0 {
		var loaded bool
		actions = append(actions, chromedp.Evaluate(waitImages, &loaded, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}))
	}
	var pdf []byte
	actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
		buf, _, err := page.PrintToPDF().
			WithPrintBackground(true).
			WithPreferCSSPageSize(true).
			Do(ctx)
		if err != nil {
			return err
		}
		pdf = buf
		return nil
	}))

	if err := chromedp.Run(tctx, actions...); err != nil {
		return nil, err
	}
	return pdf, nil
}
