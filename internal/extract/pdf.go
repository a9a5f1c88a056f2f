package extract

import (
	"bytes"
	"strings"

	"github.com/dslipak/pdf"
	"github.com/rotisserie/eris"
)

// pdfText extracts the text of every page in order, joined by newlines.
func pdfText(data []byte) (string, error) {
	r, err := openPDF(data)
	if err != nil {
		return "", err
	}
	return joinPages(r.NumPage(), func(i int) (string, error) { return pageText(r, i) })
}

// joinPages collects pages 1..n. A page that errors or panics contributes
// an empty string; the document is unreadable only when every page failed.
func joinPages(n int, page func(i int) (string, error)) (string, error) {
	parts := make([]string, 0, n)
	failed := 0
	for i := 1; i <= n; i++ {
		text, err := safePage(page, i)
		if err != nil {
			failed++
			parts = append(parts, "")
			continue
		}
		parts = append(parts, text)
	}
	if n > 0 && failed == n {
		return "", eris.Errorf("extract: all %d pdf pages failed", n)
	}
	return normalizeText(strings.Join(parts, "\n")), nil
}

func safePage(page func(i int) (string, error), i int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", eris.Errorf("extract: pdf page %d: %v", i, rec)
		}
	}()
	return page(i)
}

func openPDF(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r, err = nil, eris.Errorf("extract: open pdf: %v", rec)
		}
	}()
	r, err = pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, eris.Wrap(err, "extract: open pdf")
	}
	return r, nil
}

func pageText(r *pdf.Reader, i int) (string, error) {
	p := r.Page(i)
	if p.V.IsNull() {
		return "", nil
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return "", eris.Wrapf(err, "extract: pdf page %d", i)
	}
	return text, nil
}
