package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/policy-monitor/internal/model"
)

type fakeOCR struct {
	text  string
	err   error
	calls int
}

func (f *fakeOCR) ExtractText(_ context.Context, _ []byte) (string, error) {
	f.calls++
	return f.text, f.err
}

func servePDF(t *testing.T, body []byte) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/scan.pdf"
}

func newOCRClient(o OCR) *Client {
	return New(Options{UserAgent: "test-agent", Timeout: 5 * time.Second, OCR: o})
}

func TestFetch_OCRRecoversScannedPDF(t *testing.T) {
	url := servePDF(t, buildPDF(""))
	o := &fakeOCR{text: "  Overstromingsrisico\r\nin de delta  "}

	res, err := newOCRClient(o).Fetch(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, 1, o.calls)
	assert.Equal(t, model.ContentTypePDF, res.Type)
	assert.Equal(t, "Overstromingsrisico\nin de delta", res.Text)
}

func TestFetch_OCRRecoversUnreadablePDF(t *testing.T) {
	url := servePDF(t, []byte("%PDF-1.4 garbage"))
	o := &fakeOCR{text: "Hittegolf"}

	res, err := newOCRClient(o).Fetch(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, "Hittegolf", res.Text)
}

func TestFetch_OCRSkippedWhenTextLayerPresent(t *testing.T) {
	url := servePDF(t, buildPDF("Zeespiegelstijging"))
	o := &fakeOCR{text: "ocr"}

	res, err := newOCRClient(o).Fetch(context.Background(), url)
	require.NoError(t, err)
	assert.Zero(t, o.calls)
	assert.Contains(t, res.Text, "Zeespiegelstijging")
}

func TestFetch_OCRErrorKeepsOutcome(t *testing.T) {
	url := servePDF(t, buildPDF(""))
	o := &fakeOCR{err: errors.New("pdftotext missing")}

	res, err := newOCRClient(o).Fetch(context.Background(), url)
	require.NoError(t, err)
	assert.Empty(t, res.Text)

	_, err = newOCRClient(o).Fetch(context.Background(), servePDF(t, []byte("%PDF-1.4 garbage")))
	ff, ok := AsFetchFailure(err)
	require.True(t, ok)
	assert.Equal(t, "unreadable pdf", ff.Reason)
}
