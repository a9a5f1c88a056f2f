// Package extract downloads policy documents and turns them into plain text.
// PDFs are parsed page by page; HTML pages are stripped of navigation clutter
// and, when they merely link to the real document, the linked PDF is fetched
// instead.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/policy-monitor/internal/model"
)

const (
	// DefaultUserAgent identifies the bot to publishers.
	DefaultUserAgent = "PolicyMonitor/1.0 (Climate Adaptation Research Bot)"
	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 15 * time.Second
	// DefaultMaxBodyBytes caps the size of a downloaded document.
	DefaultMaxBodyBytes = 50 << 20
	// DefaultHostRPS is the per-host request rate.
	DefaultHostRPS = 2.0
)

var pdfMagic = []byte("%PDF")

// Result is the outcome of a successful fetch.
type Result struct {
	Text     string
	Type     model.ContentType
	FinalURL string
	// PDF holds the raw bytes when Type is pdf, for archiving.
	PDF []byte
}

// FetchFailure describes why a URL produced no document text. Every error
// returned by Client.Fetch, other than context cancellation, is a
// *FetchFailure.
type FetchFailure struct {
	URL        string
	Reason     string
	StatusCode int
	Err        error
}

func (f *FetchFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("extract: %s: %s: %v", f.URL, f.Reason, f.Err)
	}
	return fmt.Sprintf("extract: %s: %s", f.URL, f.Reason)
}

func (f *FetchFailure) Unwrap() error { return f.Err }

// AsFetchFailure reports whether err carries a *FetchFailure.
func AsFetchFailure(err error) (*FetchFailure, bool) {
	var ff *FetchFailure
	if errors.As(err, &ff) {
		return ff, true
	}
	return nil, false
}

// Options configures a Client.
type Options struct {
	UserAgent      string
	Timeout        time.Duration
	MaxBodyBytes   int64
	HostRPS        float64
	FollowPDFLinks bool
	// OCR recovers text from PDFs without a text layer; nil disables it.
	OCR OCR
	// HTTPClient overrides the default client; its Timeout is left alone.
	HTTPClient *http.Client
}

// OCR reads text from PDF bytes. *ocr.PdfToText and *ocr.MistralOCR
// satisfy it.
type OCR interface {
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}

// Client fetches URLs politely and extracts their text.
type Client struct {
	http *http.Client
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Client, filling unset options with defaults.
func New(opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{
		http:     hc,
		opts:     opts,
		log:      zap.L().With(zap.String("component", "extract")),
		limiters: make(map[string]*rate.Limiter),
	}
}

// UserAgent returns the User-Agent header sent with every request.
func (c *Client) UserAgent() string { return c.opts.UserAgent }

// HTTPClient returns the underlying HTTP client so other components (the
// feed scanner) can share timeouts and transport settings.
func (c *Client) HTTPClient() *http.Client { return c.http }

// Wait blocks until the per-host limiter admits a request to rawURL.
func (c *Client) Wait(ctx context.Context, rawURL string) error {
	if c.opts.HostRPS <= 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	host := strings.ToLower(u.Host)

	c.mu.Lock()
	lim, ok := c.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(c.opts.HostRPS), 1)
		c.limiters[host] = lim
	}
	c.mu.Unlock()

	return eris.Wrap(lim.Wait(ctx), "extract: host rate limit")
}

// Fetch downloads rawURL and extracts its text. Failures are returned as
// *FetchFailure; a cancelled context is returned as the context error.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &FetchFailure{URL: rawURL, Reason: "invalid url", Err: err}
	}

	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	ct, ok := detectType(resp.contentType, resp.finalURL, resp.body)
	if !ok {
		return nil, &FetchFailure{
			URL:        rawURL,
			Reason:     fmt.Sprintf("unsupported content type %q", resp.contentType),
			StatusCode: resp.status,
		}
	}

	switch ct {
	case model.ContentTypePDF:
		text, err := c.readPDF(ctx, rawURL, resp.body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "extract: read pdf")
			}
			return nil, &FetchFailure{URL: rawURL, Reason: "unreadable pdf", StatusCode: resp.status, Err: err}
		}
		return &Result{Text: text, Type: model.ContentTypePDF, FinalURL: resp.finalURL, PDF: resp.body}, nil
	default:
		return c.fromHTML(ctx, rawURL, resp)
	}
}

func (c *Client) fromHTML(ctx context.Context, rawURL string, resp *response) (*Result, error) {
	page, err := parseHTML(resp.body, resp.contentType)
	if err != nil {
		return nil, &FetchFailure{URL: rawURL, Reason: "unparseable html", StatusCode: resp.status, Err: err}
	}

	if c.opts.FollowPDFLinks {
		if link, score, ok := page.bestPDFLink(resp.finalURL); ok {
			res, err := c.fetchLinkedPDF(ctx, link)
			switch {
			case err == nil:
				c.log.Debug("using linked pdf",
					zap.String("page", rawURL),
					zap.String("pdf", link),
					zap.Int("score", score),
				)
				return res, nil
			case ctx.Err() != nil:
				return nil, eris.Wrap(ctx.Err(), "extract: fetch linked pdf")
			default:
				c.log.Debug("linked pdf unusable, keeping html",
					zap.String("page", rawURL),
					zap.String("pdf", link),
					zap.Error(err),
				)
			}
		}
	}

	return &Result{Text: page.text(), Type: model.ContentTypeHTML, FinalURL: resp.finalURL}, nil
}

// fetchLinkedPDF fetches a PDF discovered on an HTML page. Anything other
// than a real PDF with text is an error so the caller keeps the page text.
func (c *Client) fetchLinkedPDF(ctx context.Context, link string) (*Result, error) {
	resp, err := c.get(ctx, link)
	if err != nil {
		return nil, err
	}
	if mediaType(resp.contentType) != "application/pdf" && !bytes.HasPrefix(resp.body, pdfMagic) {
		return nil, &FetchFailure{URL: link, Reason: fmt.Sprintf("linked document is %q, not pdf", resp.contentType)}
	}
	text, err := c.readPDF(ctx, link, resp.body)
	if err != nil {
		return nil, &FetchFailure{URL: link, Reason: "unreadable pdf", Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &FetchFailure{URL: link, Reason: "linked pdf has no text"}
	}
	return &Result{Text: text, Type: model.ContentTypePDF, FinalURL: resp.finalURL, PDF: resp.body}, nil
}

// readPDF parses the text layer and falls back to OCR when it is missing
// or unreadable. An OCR failure keeps the parser's outcome.
func (c *Client) readPDF(ctx context.Context, rawURL string, data []byte) (string, error) {
	text, err := pdfText(data)
	if c.opts.OCR == nil || (err == nil && strings.TrimSpace(text) != "") {
		return text, err
	}

	recognized, ocrErr := c.opts.OCR.ExtractText(ctx, data)
	if ocrErr != nil {
		c.log.Warn("ocr failed", zap.String("url", rawURL), zap.Error(ocrErr))
		return text, err
	}
	recognized = normalizeText(recognized)
	if recognized == "" {
		return text, err
	}
	c.log.Debug("pdf text recovered by ocr", zap.String("url", rawURL), zap.Int("chars", len(recognized)))
	return recognized, nil
}

type response struct {
	status      int
	contentType string
	finalURL    string
	body        []byte
}

// get performs a rate-limited GET and returns the full body. Non-2xx
// statuses, oversized bodies and bot challenges are failures.
func (c *Client) get(ctx context.Context, rawURL string) (*response, error) {
	if err := c.Wait(ctx, rawURL); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FetchFailure{URL: rawURL, Reason: "rate limiter", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchFailure{URL: rawURL, Reason: "invalid request", Err: err}
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		reason := "network error"
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			reason = "timeout"
		}
		return nil, &FetchFailure{URL: rawURL, Reason: reason, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FetchFailure{URL: rawURL, Reason: "read body", StatusCode: resp.StatusCode, Err: err}
	}
	if int64(len(body)) > c.opts.MaxBodyBytes {
		return nil, &FetchFailure{
			URL:        rawURL,
			Reason:     fmt.Sprintf("body exceeds %d bytes", c.opts.MaxBodyBytes),
			StatusCode: resp.StatusCode,
		}
	}

	if !bytes.HasPrefix(body, pdfMagic) {
		if blocked, kind := DetectBlock(resp, body); blocked {
			return nil, &FetchFailure{URL: rawURL, Reason: fmt.Sprintf("blocked (%s)", kind), StatusCode: resp.StatusCode}
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchFailure{URL: rawURL, Reason: fmt.Sprintf("http %d", resp.StatusCode), StatusCode: resp.StatusCode}
	}

	final := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return &response{
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		finalURL:    final,
		body:        body,
	}, nil
}

// genericTypes are Content-Type values that say nothing about the payload.
var genericTypes = map[string]bool{
	"application/octet-stream":   true,
	"binary/octet-stream":        true,
	"application/download":       true,
	"application/x-download":     true,
	"application/force-download": true,
}

var pageExts = map[string]bool{
	"": true, ".htm": true, ".html": true, ".xhtml": true,
	".php": true, ".asp": true, ".aspx": true, ".jsp": true,
}

// detectType classifies a response by header, then URL suffix, then magic
// bytes.
func detectType(header, rawURL string, body []byte) (model.ContentType, bool) {
	switch mt := mediaType(header); {
	case mt == "application/pdf" || mt == "application/x-pdf":
		return model.ContentTypePDF, true
	case mt == "text/html" || mt == "application/xhtml+xml":
		return model.ContentTypeHTML, true
	case mt != "" && !genericTypes[mt]:
		return "", false
	}

	var ext string
	if u, err := url.Parse(rawURL); err == nil {
		ext = strings.ToLower(path.Ext(u.Path))
	}
	switch ext {
	case ".pdf":
		return model.ContentTypePDF, true
	case ".htm", ".html", ".xhtml":
		return model.ContentTypeHTML, true
	}
	if bytes.HasPrefix(body, pdfMagic) {
		return model.ContentTypePDF, true
	}
	if pageExts[ext] {
		return model.ContentTypeHTML, true
	}
	return "", false
}

func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		mt, _, _ = strings.Cut(header, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
