package extract

import (
	"bytes"
	"io"
	"mime"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// clutterSelector matches page chrome that never carries document text.
const clutterSelector = `script, style, noscript, nav, header, footer, aside, iframe, form, ` +
	`[role=navigation], [role=complementary], [class*=sidebar], [class*=cookie], [id*=cookie], ` +
	`[class*=breadcrumb], [class~=menu]`

// mainSelectors are tried in order for the text root.
var mainSelectors = []string{"main", "article", "[role=main]", ".content", "#content"}

const blockSelector = `p, div, section, li, tr, h1, h2, h3, h4, h5, h6, dt, dd, blockquote, pre, table, ul, ol`

var (
	metaCharsetRe = regexp.MustCompile(`(?i)<meta[^>]+charset\s*=\s*["']?\s*([a-zA-Z0-9_\-:.]+)`)
	spaceRunRe    = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
)

type htmlPage struct {
	doc *goquery.Document
}

// parseHTML decodes body to UTF-8 and removes clutter elements.
func parseHTML(body []byte, contentType string) (*htmlPage, error) {
	doc, err := goquery.NewDocumentFromReader(decodeCharset(body, contentType))
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse html")
	}
	doc.Find(clutterSelector).Remove()
	return &htmlPage{doc: doc}, nil
}

// root returns the element holding the main content, falling back to body.
func (p *htmlPage) root() *goquery.Selection {
	for _, sel := range mainSelectors {
		if s := p.doc.Find(sel).First(); s.Length() > 0 {
			return s
		}
	}
	if body := p.doc.Find("body"); body.Length() > 0 {
		return body
	}
	return p.doc.Selection
}

// text renders the main content as normalized plain text, one block per line.
func (p *htmlPage) text() string {
	root := p.root()
	root.Find("br").ReplaceWithHtml("\n")
	root.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return normalizeText(root.Text())
}

// decodeCharset wraps body in a decoder for the charset named by the
// Content-Type header or a <meta> tag. Unknown charsets are read as-is.
func decodeCharset(body []byte, contentType string) io.Reader {
	var name string
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		name = params["charset"]
	}
	if name == "" {
		head := body
		if len(head) > 2048 {
			head = head[:2048]
		}
		if m := metaCharsetRe.FindSubmatch(head); m != nil {
			name = string(m[1])
		}
	}
	if name == "" || strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
		return bytes.NewReader(body)
	}
	enc, err := htmlindex.Get(name)
	if err != nil || enc == nil {
		return bytes.NewReader(body)
	}
	return transform.NewReader(bytes.NewReader(body), enc.NewDecoder())
}

// normalizeText collapses runs of spaces, trims every line and squeezes
// three or more newlines down to a single blank line.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRunRe.ReplaceAllString(line, " "))
	}
	s = blankRunRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(s)
}
