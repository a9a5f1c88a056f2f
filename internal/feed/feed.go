// Package feed turns syndication feeds into candidate documents.
package feed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/policy-monitor/internal/model"
)

// Untitled is used for entries that carry no title.
const Untitled = "(untitled)"

const maxFeedBytes = 10 << 20

// Source is a configured feed.
type Source struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// LoadSources reads a feeds file: one "URL | Source Name" per line, with
// blank lines and "#" comments ignored. A line without a name uses the URL
// host.
func LoadSources(path string) ([]Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "feed: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	sources, err := ParseSources(f)
	if err != nil {
		return nil, eris.Wrapf(err, "feed: parse %s", path)
	}
	return sources, nil
}

// ParseSources parses the feeds file format from r.
func ParseSources(r io.Reader) ([]Source, error) {
	var sources []Source
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rawURL, name, _ := strings.Cut(line, "|")
		rawURL = strings.TrimSpace(rawURL)
		name = strings.TrimSpace(name)

		u, err := url.Parse(rawURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, eris.Errorf("feed: line %d: invalid feed url %q", lineNo, rawURL)
		}
		if name == "" {
			name = u.Hostname()
		}
		sources = append(sources, Source{URL: rawURL, Name: name})
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "feed: read sources")
	}
	return sources, nil
}

// HostLimiter delays requests per host. *extract.Client satisfies it.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Options configures a Scanner.
type Options struct {
	HTTPClient *http.Client
	UserAgent  string
	Limiter    HostLimiter
}

// Scanner fetches and parses feeds. It keeps no cursor state: every Scan
// starts from the feeds' current contents.
type Scanner struct {
	client    *http.Client
	userAgent string
	limiter   HostLimiter
	parser    *gofeed.Parser
	log       *zap.Logger
}

// NewScanner creates a Scanner.
func NewScanner(opts Options) *Scanner {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Scanner{
		client:    hc,
		userAgent: opts.UserAgent,
		limiter:   opts.Limiter,
		parser:    gofeed.NewParser(),
		log:       zap.L().With(zap.String("component", "feed")),
	}
}

// Scan yields candidates from each source in order, entries in feed order.
// A source that cannot be fetched or parsed is logged and skipped. The
// sequence stops early when ctx is done.
func (s *Scanner) Scan(ctx context.Context, sources []Source) iter.Seq[model.Candidate] {
	return func(yield func(model.Candidate) bool) {
		for _, src := range sources {
			if ctx.Err() != nil {
				return
			}
			f, err := s.fetch(ctx, src.URL)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.Warn("feed unavailable, skipping",
					zap.String("source", src.Name),
					zap.String("url", src.URL),
					zap.Error(err),
				)
				continue
			}
			s.log.Debug("feed parsed",
				zap.String("source", src.Name),
				zap.Int("entries", len(f.Items)),
			)

			for _, item := range f.Items {
				c, ok := toCandidate(src, item)
				if !ok {
					s.log.Warn("feed entry without link, skipping",
						zap.String("source", src.Name),
						zap.String("title", item.Title),
					)
					continue
				}
				if !yield(c) {
					return
				}
			}
		}
	}
}

func (s *Scanner) fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, feedURL); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "feed: create request")
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "feed: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, eris.Errorf("feed: unexpected status %d", resp.StatusCode)
	}

	f, err := s.parser.Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, eris.Wrap(err, "feed: parse")
	}
	return f, nil
}

func toCandidate(src Source, item *gofeed.Item) (model.Candidate, bool) {
	link := strings.TrimSpace(item.Link)
	if link == "" && len(item.Links) > 0 {
		link = strings.TrimSpace(item.Links[0])
	}
	if link == "" {
		return model.Candidate{}, false
	}
	if base, err := url.Parse(src.URL); err == nil {
		if ref, err := url.Parse(link); err == nil {
			link = base.ResolveReference(ref).String()
		}
	}

	title := strings.Join(strings.Fields(item.Title), " ")
	if title == "" {
		title = Untitled
	}

	var published *time.Time
	switch {
	case item.PublishedParsed != nil:
		t := item.PublishedParsed.UTC()
		published = &t
	case item.UpdatedParsed != nil:
		t := item.UpdatedParsed.UTC()
		published = &t
	}

	desc := item.Description
	if desc == "" {
		desc = item.Content
	}

	return model.Candidate{
		URL:             link,
		Title:           title,
		SourceName:      src.Name,
		PublicationDate: published,
		Description:     strings.TrimSpace(desc),
	}, true
}

// String renders a source the way it appears in a feeds file.
func (s Source) String() string {
	return fmt.Sprintf("%s | %s", s.URL, s.Name)
}
