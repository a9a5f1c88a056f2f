// Package classifier is the boundary to the AI model that judges a policy
// document. A Classifier returns the raw JSON object the model produced;
// checking it against the taxonomy is left to the caller.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/policy-monitor/internal/cost"
	"github.com/sells-group/policy-monitor/internal/resilience"
	"github.com/sells-group/policy-monitor/internal/taxonomy"
)

// DefaultTimeout bounds a single classifier call.
const DefaultTimeout = 120 * time.Second

// Classifier scores one document against a taxonomy.
type Classifier interface {
	Classify(ctx context.Context, text string, tax *taxonomy.Taxonomy) (*Result, error)
	// Provider names the backend, e.g. "anthropic".
	Provider() string
}

// Result is the model's answer to one call.
type Result struct {
	Payload json.RawMessage
	Model   string
	Usage   Usage
}

// Usage is the token accounting of one call.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	CostUSD          float64
}

// Kind classifies classifier failures.
type Kind int

const (
	RateLimited Kind = iota + 1
	Timeout
	MalformedResponse
	ProviderError
)

func (k Kind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case Timeout:
		return "timeout"
	case MalformedResponse:
		return "malformed_response"
	case ProviderError:
		return "provider_error"
	default:
		return "unknown"
	}
}

// Error is returned for every failed call except parent context
// cancellation, which is returned as the context error.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("classifier: %s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed. Provider errors
// are retryable only without a status (network) or for 408, 429 and 5xx.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case RateLimited, Timeout, MalformedResponse:
		return true
	case ProviderError:
		return e.StatusCode == 0 ||
			e.StatusCode == http.StatusRequestTimeout ||
			e.StatusCode == http.StatusTooManyRequests ||
			e.StatusCode >= 500
	}
	return false
}

// AsError reports whether err carries an *Error.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Options are shared by all providers.
type Options struct {
	Prompt    *Prompt
	Timeout   time.Duration
	MaxTokens int
	// Pricing estimates cost for providers that do not report it.
	Pricing *cost.Calculator
}

// base holds what every provider needs: the prompt, the system prompt
// rendered for the last taxonomy seen, and call-level error mapping.
type base struct {
	provider  string
	prompt    *Prompt
	timeout   time.Duration
	maxTokens int
	pricing   *cost.Calculator

	mu     sync.Mutex
	tax    *taxonomy.Taxonomy
	system string
}

func newBase(provider string, opts Options) *base {
	if opts.Prompt == nil {
		opts.Prompt = DefaultPrompt()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	if opts.Pricing == nil {
		opts.Pricing = cost.NewCalculator(cost.DefaultRates())
	}
	return &base{
		provider:  provider,
		prompt:    opts.Prompt,
		timeout:   opts.Timeout,
		maxTokens: opts.MaxTokens,
		pricing:   opts.Pricing,
	}
}

func (b *base) Provider() string { return b.provider }

// price fills u.CostUSD from the pricing table.
func (b *base) price(model string, u *Usage) {
	u.CostUSD = b.pricing.Estimate(b.provider, model, u.InputTokens, u.OutputTokens, u.CacheReadTokens)
}

// systemPrompt renders the system prompt once per taxonomy.
func (b *base) systemPrompt(tax *taxonomy.Taxonomy) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tax != b.tax {
		b.system = b.prompt.System(tax)
		b.tax = tax
	}
	return b.system
}

// callError maps a failed provider call. Parent cancellation passes through
// unchanged so callers can tell it apart from the per-call timeout.
func (b *base) callError(parent, call context.Context, err error, status int) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) || resilience.IsNetworkTimeout(err) {
		return &Error{Kind: Timeout, Provider: b.provider, StatusCode: status, Err: err}
	}
	if status == http.StatusTooManyRequests {
		return &Error{Kind: RateLimited, Provider: b.provider, StatusCode: status, Err: err}
	}
	return &Error{Kind: ProviderError, Provider: b.provider, StatusCode: status, Err: err}
}

func (b *base) malformed(err error) error {
	return &Error{Kind: MalformedResponse, Provider: b.provider, Err: err}
}

// ExtractJSON pulls the JSON object out of a model reply: Markdown fences
// are stripped and the text between the first "{" and the last "}" is kept.
func ExtractJSON(text string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.New("no JSON object in response")
	}
	obj := []byte(strings.TrimSpace(text[start : end+1]))
	if !json.Valid(obj) {
		return nil, eris.New("response is not valid JSON")
	}
	return json.RawMessage(obj), nil
}
