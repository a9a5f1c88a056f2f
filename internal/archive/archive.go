// Package archive keeps local copies of downloaded PDFs.
package archive

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxTitleLen = 50

var (
	separatorRe = regexp.MustCompile(`[\s\-]+`)
	unsafeRe    = regexp.MustCompile(`[<>:"/\\|?*]`)
)

// FileArchiver writes PDFs into a single directory.
type FileArchiver struct {
	dir string
	now func() time.Time
}

// NewFileArchiver creates dir if needed.
func NewFileArchiver(dir string) (*FileArchiver, error) {
	if dir == "" {
		return nil, eris.New("archive: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "archive: create %s", dir)
	}
	return &FileArchiver{dir: dir, now: time.Now}, nil
}

// Dir returns the archive directory.
func (a *FileArchiver) Dir() string { return a.dir }

// Save writes data under a name derived from the source, the current time
// and the title, and returns the path. Existing files are never overwritten.
func (a *FileArchiver) Save(source, title, rawURL string, data []byte) (string, error) {
	name := FileName(source, title, rawURL, a.now())
	stem := strings.TrimSuffix(name, ".pdf")

	tmp, err := os.CreateTemp(a.dir, ".partial-*")
	if err != nil {
		return "", eris.Wrap(err, "archive: create temp file")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", eris.Wrap(err, "archive: write")
	}
	if err := tmp.Close(); err != nil {
		return "", eris.Wrap(err, "archive: close")
	}

	for i := 1; i < 1000; i++ {
		candidate := name
		if i > 1 {
			candidate = fmt.Sprintf("%s_%d.pdf", stem, i)
		}
		dest := filepath.Join(a.dir, candidate)
		// Link fails when dest exists, so concurrent savers never clobber
		// each other.
		if err := os.Link(tmpName, dest); err == nil {
			return dest, nil
		} else if !os.IsExist(err) {
			return "", eris.Wrapf(err, "archive: store %s", candidate)
		}
	}
	return "", eris.Errorf("archive: no free file name for %s", name)
}

// FileName builds "{source}_{YYYYmmdd_HHMMSS}_{title}.pdf". The title is
// cut to 50 characters; without one the last URL path segment is used.
func FileName(source, title, rawURL string, at time.Time) string {
	safeSource := Sanitize(source)
	if safeSource == "" {
		safeSource = "unknown"
	}

	safeTitle := Sanitize(title)
	if safeTitle == "" {
		if u, err := url.Parse(rawURL); err == nil {
			safeTitle = Sanitize(strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path)))
		}
	}
	if safeTitle == "" {
		safeTitle = "document"
	}
	if len(safeTitle) > maxTitleLen {
		safeTitle = strings.TrimRight(safeTitle[:maxTitleLen], "_.")
	}

	return fmt.Sprintf("%s_%s_%s.pdf", safeSource, at.Format("20060102_150405"), safeTitle)
}

// Sanitize makes s safe as a file name component: accents are folded to
// ASCII, whitespace and hyphen runs become "_", and reserved or non-ASCII
// characters are dropped.
func Sanitize(s string) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err == nil {
		s = folded
	}
	s = separatorRe.ReplaceAllString(s, "_")
	s = unsafeRe.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, s)
	return strings.Trim(s, "_.")
}
