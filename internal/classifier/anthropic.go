package classifier

import (
	"context"

	"github.com/sells-group/policy-monitor/internal/taxonomy"
	"github.com/sells-group/policy-monitor/pkg/anthropic"
)

// Anthropic classifies with Claude. The system prompt is sent as a cached
// block so consecutive documents reuse it.
type Anthropic struct {
	*base
	client anthropic.Client
	model  string
}

// NewAnthropic creates an Anthropic classifier.
func NewAnthropic(client anthropic.Client, model string, opts Options) *Anthropic {
	return &Anthropic{base: newBase("anthropic", opts), client: client, model: model}
}

// Classify implements Classifier.
func (a *Anthropic) Classify(ctx context.Context, text string, tax *taxonomy.Taxonomy) (*Result, error) {
	temp := 0.0
	req := anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   int64(a.maxTokens),
		System:      anthropic.BuildCachedSystemBlocks(a.systemPrompt(tax), ""),
		Messages:    []anthropic.Message{{Role: "user", Content: a.prompt.User(text)}},
		Temperature: &temp,
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateMessage(callCtx, req)
	if err != nil {
		return nil, a.callError(ctx, callCtx, err, anthropic.StatusCode(err))
	}

	model := resp.Model
	if model == "" {
		model = a.model
	}
	resp.Usage.LogCost(model, "classify")

	payload, err := ExtractJSON(resp.Text())
	if err != nil {
		return nil, a.malformed(err)
	}
	return &Result{
		Payload: payload,
		Model:   model,
		Usage: Usage{
			InputTokens:      resp.Usage.InputTokens,
			OutputTokens:     resp.Usage.OutputTokens,
			CacheReadTokens:  resp.Usage.CacheReadInputTokens,
			CacheWriteTokens: resp.Usage.CacheCreationInputTokens,
			CostUSD:          resp.Usage.EstimateCost(model),
		},
	}, nil
}
