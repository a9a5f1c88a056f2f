package classifier

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"

	"github.com/sells-group/policy-monitor/internal/taxonomy"
)

// ChatCompletionAPI is the part of *openai.Client used here.
type ChatCompletionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewOpenAIClient builds a go-openai client. baseURL selects an
// OpenAI-compatible gateway; empty means api.openai.com.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// OpenAI classifies with a chat completion model in JSON mode.
type OpenAI struct {
	*base
	client ChatCompletionAPI
	model  string
}

// NewOpenAI creates an OpenAI classifier.
func NewOpenAI(client ChatCompletionAPI, model string, opts Options) *OpenAI {
	return &OpenAI{base: newBase("openai", opts), client: client, model: model}
}

// Classify implements Classifier.
func (o *OpenAI) Classify(ctx context.Context, text string, tax *taxonomy.Taxonomy) (*Result, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.systemPrompt(tax)},
			{Role: openai.ChatMessageRoleUser, Content: o.prompt.User(text)},
		},
		MaxTokens:   o.maxTokens,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(callCtx, req)
	if err != nil {
		return nil, o.callError(ctx, callCtx, err, openAIStatus(err))
	}
	if len(resp.Choices) == 0 {
		return nil, o.malformed(eris.New("no choices in response"))
	}

	payload, err := ExtractJSON(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, o.malformed(err)
	}

	model := resp.Model
	if model == "" {
		model = o.model
	}
	res := &Result{
		Payload: payload,
		Model:   model,
		Usage: Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		},
	}
	o.price(model, &res.Usage)
	return res, nil
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
