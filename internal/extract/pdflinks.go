package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// minPDFLinkScore is the lowest score at which a link is worth fetching.
// Any href containing ".pdf" reaches it on its own.
const minPDFLinkScore = 70

// scorePDFLink rates how likely an anchor points at the full document.
// text must already be lower-cased.
func scorePDFLink(href, text string) int {
	h := strings.ToLower(href)
	score := 0
	if strings.HasSuffix(h, ".pdf") {
		score += 100
	}
	if strings.Contains(h, "open.overheid.nl") && strings.Contains(h, "/file") {
		score += 90
	}
	if strings.Contains(h, "officielebekendmakingen.nl") {
		score += 80
	}
	if strings.Contains(h, ".pdf") {
		score += 70
	}
	if strings.Contains(text, "download") &&
		(strings.Contains(text, "pdf") || strings.Contains(text, "rapport") || strings.Contains(text, "advies")) {
		score += 50
	}
	if strings.Contains(text, "(pdf") {
		score += 40
	}
	if strings.Contains(text, "volledige") && (strings.Contains(text, "advies") || strings.Contains(text, "rapport")) {
		score += 30
	}
	return score
}

// bestPDFLink returns the absolute URL of the highest scoring anchor on the
// page. Ties keep the first link in document order.
func (p *htmlPage) bestPDFLink(pageURL string) (string, int, bool) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", 0, false
	}

	var best string
	bestScore := 0
	p.doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		score := scorePDFLink(href, strings.ToLower(strings.TrimSpace(s.Text())))
		if score < minPDFLinkScore || score <= bestScore {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		if abs.String() == pageURL {
			return
		}
		best, bestScore = abs.String(), score
	})
	return best, bestScore, best != ""
}
