// Package relevance implements the tiered keyword prefilter applied to feed
// entries before anything is downloaded.
//
// Tier 1 keywords are direct hits. Tier 2 keywords are grouped in themes and
// only count when a context word also appears, or when keywords from two or
// more themes appear together. Matching is case-insensitive substring
// matching on the title plus description.
package relevance

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Theme is a named group of tier 2 keywords.
type Theme struct {
	Name     string
	Keywords []string
}

// Filter decides whether a feed entry is worth fetching.
type Filter struct {
	tier1   []string
	themes  []Theme
	context []string
}

// New creates a Filter. Keywords are lower-cased.
func New(tier1 []string, themes []Theme, context []string) *Filter {
	f := &Filter{tier1: lowerAll(tier1), context: lowerAll(context)}
	for _, th := range themes {
		f.themes = append(f.themes, Theme{Name: th.Name, Keywords: lowerAll(th.Keywords)})
	}
	return f
}

// Load reads the three keyword files. An empty path leaves that list empty.
func Load(tier1Path, tier2Path, contextPath string) (*Filter, error) {
	var tier1, context []string
	var themes []Theme
	var err error

	if tier1Path != "" {
		if tier1, err = readList(tier1Path); err != nil {
			return nil, err
		}
	}
	if tier2Path != "" {
		f, err := os.Open(tier2Path)
		if err != nil {
			return nil, eris.Wrapf(err, "relevance: open %s", tier2Path)
		}
		themes, err = ParseThemes(f)
		_ = f.Close()
		if err != nil {
			return nil, eris.Wrapf(err, "relevance: parse %s", tier2Path)
		}
	}
	if contextPath != "" {
		if context, err = readList(contextPath); err != nil {
			return nil, err
		}
	}
	return New(tier1, themes, context), nil
}

func readList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "relevance: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	list, err := ParseList(f)
	if err != nil {
		return nil, eris.Wrapf(err, "relevance: parse %s", path)
	}
	return list, nil
}

// ParseList reads one keyword per line, skipping blanks, "#" comments and
// "[Header]" lines.
func ParseList(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "[") {
			continue
		}
		out = append(out, strings.ToLower(line))
	}
	return out, eris.Wrap(sc.Err(), "relevance: read list")
}

// ParseThemes reads "[Theme]" headers each followed by keyword lines.
// Keywords before the first header are ignored.
func ParseThemes(r io.Reader) ([]Theme, error) {
	var themes []Theme
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
		case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
			themes = append(themes, Theme{Name: strings.TrimSpace(line[1 : len(line)-1])})
		case len(themes) > 0:
			th := &themes[len(themes)-1]
			th.Keywords = append(th.Keywords, strings.ToLower(line))
		}
	}
	return themes, eris.Wrap(sc.Err(), "relevance: read themes")
}

// Result explains a filter decision. Tier is 1 or 2 for relevant entries
// and 0 otherwise.
type Result struct {
	Relevant bool
	Tier     int
	Keywords []string
	Context  []string
	Themes   []string
}

// String formats the result for logs.
func (r Result) String() string {
	switch {
	case !r.Relevant:
		return "not relevant (no keyword matches)"
	case r.Tier == 1:
		return fmt.Sprintf("tier 1 direct hit: %s", strings.Join(head(r.Keywords, 3), ", "))
	case len(r.Context) == 0:
		return fmt.Sprintf("tier 2 multi-theme (%s): %s",
			strings.Join(r.Themes, ", "), strings.Join(head(r.Keywords, 3), ", "))
	default:
		return fmt.Sprintf("tier 2 %s: %s + context: %s",
			strings.Join(r.Themes, ", "), strings.Join(head(r.Keywords, 3), ", "), r.Context[0])
	}
}

// Check evaluates an entry's title and description.
func (f *Filter) Check(title, description string) Result {
	text := strings.ToLower(title + " " + description)

	if hits := matches(f.tier1, text); len(hits) > 0 {
		return Result{Relevant: true, Tier: 1, Keywords: hits}
	}

	if ctx := matches(f.context, text); len(ctx) > 0 {
		for _, th := range f.themes {
			if hits := matches(th.Keywords, text); len(hits) > 0 {
				return Result{Relevant: true, Tier: 2, Keywords: hits, Context: ctx, Themes: []string{th.Name}}
			}
		}
	}

	var hits, themes []string
	for _, th := range f.themes {
		if m := matches(th.Keywords, text); len(m) > 0 {
			hits = append(hits, m...)
			themes = append(themes, th.Name)
		}
	}
	if len(themes) >= 2 {
		return Result{Relevant: true, Tier: 2, Keywords: hits, Themes: themes}
	}
	return Result{}
}

// Relevant is Check reduced to a boolean.
func (f *Filter) Relevant(title, description string) bool {
	return f.Check(title, description).Relevant
}

// Size returns the number of tier 1 keywords, tier 2 keywords and context words.
func (f *Filter) Size() (tier1, tier2, context int) {
	for _, th := range f.themes {
		tier2 += len(th.Keywords)
	}
	return len(f.tier1), tier2, len(f.context)
}

func matches(keywords []string, text string) []string {
	var out []string
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			out = append(out, kw)
		}
	}
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
