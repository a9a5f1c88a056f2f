package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAIServer(t *testing.T, status int, body any, check func(map[string]any)) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if check != nil {
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			check(req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body) //nolint:errcheck
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestOpenAI_Classify(t *testing.T) {
	ts := newOpenAIServer(t, http.StatusOK, map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "gpt-4o-mini-2024-07-18",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": validPayload()},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 900, "completion_tokens": 250, "total_tokens": 1150},
	}, func(req map[string]any) {
		assert.Equal(t, "gpt-4o-mini", req["model"])
		assert.Equal(t, map[string]any{"type": "json_object"}, req["response_format"])
		msgs := req["messages"].([]any)
		require.Len(t, msgs, 2)
		assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
		assert.Contains(t, msgs[0].(map[string]any)["content"], "Droogte")
		assert.Contains(t, msgs[1].(map[string]any)["content"], "grondwaterpeil")
	})

	c := NewOpenAI(NewOpenAIClient("test-key", ts.URL+"/v1"), "gpt-4o-mini", Options{})
	assert.Equal(t, "openai", c.Provider())

	res, err := c.Classify(context.Background(), "Het grondwaterpeil daalt.", testTaxonomy(t))
	require.NoError(t, err)
	assert.JSONEq(t, validPayload(), string(res.Payload))
	assert.Equal(t, "gpt-4o-mini-2024-07-18", res.Model)
	assert.Equal(t, int64(900), res.Usage.InputTokens)
	assert.Equal(t, int64(250), res.Usage.OutputTokens)
	assert.InDelta(t, 0.000285, res.Usage.CostUSD, 1e-9)
}

func TestOpenAI_NoChoices(t *testing.T) {
	ts := newOpenAIServer(t, http.StatusOK, map[string]any{
		"id": "chatcmpl-2", "object": "chat.completion", "model": "gpt-4o-mini", "choices": []any{},
	}, nil)

	_, err := NewOpenAI(NewOpenAIClient("test-key", ts.URL+"/v1"), "gpt-4o-mini", Options{}).
		Classify(context.Background(), "x", testTaxonomy(t))
	ce, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, MalformedResponse, ce.Kind)
}

func TestOpenAI_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		kind      Kind
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, RateLimited, true},
		{"server error", http.StatusBadGateway, ProviderError, true},
		{"unauthorized", http.StatusUnauthorized, ProviderError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newOpenAIServer(t, tt.status, map[string]any{
				"error": map[string]any{"message": "nope", "type": "error", "code": nil},
			}, nil)

			_, err := NewOpenAI(NewOpenAIClient("test-key", ts.URL+"/v1"), "gpt-4o-mini", Options{}).
				Classify(context.Background(), "x", testTaxonomy(t))
			ce, ok := AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, ce.Kind)
			assert.Equal(t, tt.status, ce.StatusCode)
			assert.Equal(t, tt.retryable, ce.Retryable())
		})
	}
}
