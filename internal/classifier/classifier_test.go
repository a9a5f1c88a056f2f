package classifier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/policy-monitor/internal/taxonomy"
)

func testTaxonomy(t *testing.T) *taxonomy.Taxonomy {
	t.Helper()
	tax, err := taxonomy.Default()
	require.NoError(t, err)
	return tax
}

// validPayload returns a well-formed answer for the default taxonomy.
func validPayload() string {
	var b strings.Builder
	b.WriteString(`{"is_relevant": true, "summary": "De strategie versterkt de aanpak van hitte.", "tasks": {`)
	for i := 1; i <= taxonomy.TaskCount; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, `"%d": %d`, i, i%11)
	}
	b.WriteString("}}")
	return b.String()
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: `{"a": 1}`, want: `{"a": 1}`},
		{name: "json fence", in: "```json\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "bare fence", in: "```\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "surrounding prose", in: "Here you go:\n{\"a\": {\"b\": 2}}\nThanks!", want: `{"a": {"b": 2}}`},
		{name: "no object", in: "I cannot assess this document.", wantErr: true},
		{name: "truncated", in: `{"a": 1, "b": `, wantErr: true},
		{name: "invalid between braces", in: `{"a": 1,}`, wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestError_Retryable(t *testing.T) {
	tests := []struct {
		err  *Error
		want bool
	}{
		{&Error{Kind: RateLimited, StatusCode: 429}, true},
		{&Error{Kind: Timeout}, true},
		{&Error{Kind: MalformedResponse}, true},
		{&Error{Kind: ProviderError}, true},
		{&Error{Kind: ProviderError, StatusCode: 408}, true},
		{&Error{Kind: ProviderError, StatusCode: 429}, true},
		{&Error{Kind: ProviderError, StatusCode: 500}, true},
		{&Error{Kind: ProviderError, StatusCode: 503}, true},
		{&Error{Kind: ProviderError, StatusCode: 400}, false},
		{&Error{Kind: ProviderError, StatusCode: 401}, false},
		{&Error{Kind: ProviderError, StatusCode: 404}, false},
		{&Error{Kind: Kind(99)}, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%d", tt.err.Kind, tt.err.StatusCode), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Retryable())
		})
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Kind: ProviderError, Provider: "openai", StatusCode: 401, Err: errors.New("bad key")}
	assert.Equal(t, "classifier: openai: provider_error (http 401): bad key", err.Error())

	wrapped := fmt.Errorf("analysis: %w", err)
	got, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Equal(t, 401, got.StatusCode)

	_, ok = AsError(errors.New("other"))
	assert.False(t, ok)
}

func TestPrompt_System(t *testing.T) {
	tax := testTaxonomy(t)
	sys := DefaultPrompt().System(tax)

	for _, task := range tax.Tasks {
		assert.Contains(t, sys, task.Name)
	}
	assert.Contains(t, sys, `"1": <0-10>`)
	assert.Contains(t, sys, `"21": <0-10>`)
	assert.Contains(t, sys, "1, 2, 3")
	assert.NotContains(t, sys, "{task_list}")
	assert.NotContains(t, sys, "{task_keys}")
	assert.NotContains(t, sys, "{task_scores}")
}

func TestPrompt_User(t *testing.T) {
	p := DefaultPrompt()
	out := p.User("De Deltacommissaris adviseert.")
	assert.Contains(t, out, "<document>\nDe Deltacommissaris adviseert.\n</document>")
	assert.NotContains(t, out, DocumentPlaceholder)
}

func TestNewPrompt(t *testing.T) {
	_, err := NewPrompt("no placeholder here")
	require.Error(t, err)

	p, err := NewPrompt("Beoordeel:\n{document_text}")
	require.NoError(t, err)
	assert.Equal(t, "Beoordeel:\ntekst", p.User("tekst"))
}

func TestLoadPrompt(t *testing.T) {
	p, err := LoadPrompt("")
	require.NoError(t, err)
	assert.Equal(t, defaultUser, p.user)

	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("Document: {document_text}"), 0o644))
	p, err = LoadPrompt(path)
	require.NoError(t, err)
	assert.Equal(t, "Document: x", p.User("x"))

	_, err = LoadPrompt(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestBase_SystemPromptCachedPerTaxonomy(t *testing.T) {
	b := newBase("test", Options{})
	tax := testTaxonomy(t)

	first := b.systemPrompt(tax)
	assert.Same(t, tax, b.tax)
	assert.Equal(t, first, b.systemPrompt(tax))

	other := *tax
	other.Tasks = append([]taxonomy.Task(nil), tax.Tasks...)
	other.Tasks[0].Name = "Anders"
	assert.Contains(t, b.systemPrompt(&other), "Anders")
}

func TestBase_CallError(t *testing.T) {
	b := newBase("test", Options{})

	t.Run("parent cancelled", func(t *testing.T) {
		parent, cancel := context.WithCancel(context.Background())
		cancel()
		err := b.callError(parent, parent, errors.New("boom"), 0)
		assert.ErrorIs(t, err, context.Canceled)
		_, ok := AsError(err)
		assert.False(t, ok)
	})

	t.Run("call deadline", func(t *testing.T) {
		call, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		<-call.Done()
		err := b.callError(context.Background(), call, errors.New("boom"), 0)
		ce, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, Timeout, ce.Kind)
	})

	t.Run("rate limited", func(t *testing.T) {
		ctx := context.Background()
		ce, ok := AsError(b.callError(ctx, ctx, errors.New("slow down"), 429))
		require.True(t, ok)
		assert.Equal(t, RateLimited, ce.Kind)
		assert.True(t, ce.Retryable())
	})

	t.Run("bad request", func(t *testing.T) {
		ctx := context.Background()
		ce, ok := AsError(b.callError(ctx, ctx, errors.New("invalid"), 400))
		require.True(t, ok)
		assert.Equal(t, ProviderError, ce.Kind)
		assert.False(t, ce.Retryable())
	})
}
