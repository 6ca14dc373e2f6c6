package export

import (
	"html"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

const stylesheet = `body{font-family:Georgia,"Times New Roman",serif;max-width:720px;margin:2em auto;padding:0 1em;line-height:1.6;color:#1f2933}
h1,h2,h3,h4{font-family:"Helvetica Neue",Arial,sans-serif;line-height:1.25;margin:1.4em 0 .6em}
h1{font-size:2em}h2{font-size:1.5em}h3{font-size:1.25em}h4{font-size:1.1em}
p,ul,ol,blockquote{margin:0 0 1em}
blockquote{border-left:4px solid #cbd2d9;padding-left:1em;color:#52606d}
img{max-width:100%;height:auto}
@page{margin:2cm}`

var (
	fragmentPolicyOnce sync.Once
	fragmentPolicy     *bluemonday.Policy
)

// FragmentPolicy allows the elements the document renderer emits.
func FragmentPolicy() *bluemonday.Policy {
	fragmentPolicyOnce.Do(func() {
		policy := bluemonday.UGCPolicy()
		policy.AllowURLSchemes("http", "https", "data")
		policy.AllowDataURIImages()
		policy.AllowRelativeURLs(true)
		policy.RequireParseableURLs(true)
		fragmentPolicy = policy
	})
	return fragmentPolicy
}

// Sanitize cleans a rendered fragment before it is wrapped.
func Sanitize(fragment string) string {
	return FragmentPolicy().Sanitize(fragment)
}

func standaloneHTML(title, body string) string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
	sb.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	sb.WriteString("<title>" + html.EscapeString(title) + "</title>\n")
	sb.WriteString("<style>\n" + stylesheet + "\n</style>\n</head>\n<body>\n")
	sb.WriteString(body)
	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}

// wordHTML wraps body in the HTML dialect Word opens as a document. The BOM
// makes Word read it as UTF-8.
func wordHTML(title, body string) string {
	var sb strings.Builder
	sb.WriteString("\ufeff")
	sb.WriteString(`<html xmlns:o="urn:schemas-microsoft-com:office:office" xmlns:w="urn:schemas-microsoft-com:office:word" xmlns="http://www.w3.org/TR/REC-html40">` + "\n")
	sb.WriteString("<head>\n<meta charset=\"utf-8\">\n")
	sb.WriteString("<title>" + html.EscapeString(title) + "</title>\n")
	sb.WriteString("<!--[if gte mso 9]><xml><w:WordDocument><w:View>Print</w:View><w:Zoom>100</w:Zoom></w:WordDocument></xml><![endif]-->\n")
	sb.WriteString("<style>\n" + stylesheet + "\n</style>\n</head>\n<body>\n")
	sb.WriteString(body)
	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}

// imageSources lists the src of every <img> in page, in document order.
func imageSources(page string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, err
	}
	var srcs []string
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		srcs = append(srcs, src)
	})
	return srcs, nil
}
