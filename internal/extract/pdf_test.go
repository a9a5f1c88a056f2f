package extract

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinPages(t *testing.T) {
	errPage := errors.New("bad content stream")

	tests := []struct {
		name    string
		pages   []func() (string, error)
		want    string
		wantErr string
	}{
		{
			name: "all pages in order",
			pages: []func() (string, error){
				func() (string, error) { return "Hittestress", nil },
				func() (string, error) { return "Wateroverlast", nil },
			},
			want: "Hittestress\nWateroverlast",
		},
		{
			name: "failed page contributes empty text",
			pages: []func() (string, error){
				func() (string, error) { return "Eerste", nil },
				func() (string, error) { return "", errPage },
				func() (string, error) { return "Derde", nil },
			},
			want: "Eerste\n\nDerde",
		},
		{
			name: "panicking page contributes empty text",
			pages: []func() (string, error){
				func() (string, error) { panic("malformed xref") },
				func() (string, error) { return "Tweede", nil },
			},
			want: "Tweede",
		},
		{
			name: "every page failed",
			pages: []func() (string, error){
				func() (string, error) { return "", errPage },
				func() (string, error) { panic("malformed xref") },
			},
			wantErr: "all 2 pdf pages failed",
		},
		{
			name:  "no pages",
			pages: nil,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var order []int
			got, err := joinPages(len(tt.pages), func(i int) (string, error) {
				order = append(order, i)
				return tt.pages[i-1]()
			})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			for i := range order {
				assert.Equal(t, i+1, order[i])
			}
		})
	}
}

func TestPDFText(t *testing.T) {
	text, err := pdfText(buildPDF("Klimaatadaptatie", "Tweede pagina"))
	require.NoError(t, err)
	assert.Contains(t, text, "Klimaatadaptatie")
	assert.Contains(t, text, "Tweede pagina")
	assert.Less(t, strings.Index(text, "Klimaatadaptatie"), strings.Index(text, "Tweede"))

	_, err = pdfText([]byte("%PDF-1.4 truncated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open pdf")
}
