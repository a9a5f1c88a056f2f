package classifier

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"

	"github.com/sells-group/policy-monitor/internal/taxonomy"
)

// GenerateContentAPI is the part of genai's Models service used here.
type GenerateContentAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGeminiClient builds a Gemini API client.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, eris.Wrap(err, "classifier: create gemini client")
	}
	return c, nil
}

// Gemini classifies with a Gemini model using a JSON response MIME type.
type Gemini struct {
	*base
	models GenerateContentAPI
	model  string
}

// NewGemini creates a Gemini classifier; pass client.Models.
func NewGemini(models GenerateContentAPI, model string, opts Options) *Gemini {
	return &Gemini{base: newBase("gemini", opts), models: models, model: model}
}

// Classify implements Classifier.
func (g *Gemini) Classify(ctx context.Context, text string, tax *taxonomy.Taxonomy) (*Result, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: g.systemPrompt(tax)}},
		},
		ResponseMIMEType: "application/json",
		MaxOutputTokens:  int32(g.maxTokens),
		Temperature:      genai.Ptr[float32](0),
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.models.GenerateContent(callCtx, g.model, genai.Text(g.prompt.User(text)), cfg)
	if err != nil {
		return nil, g.callError(ctx, callCtx, err, geminiStatus(err))
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, g.malformed(eris.New("no candidates in response"))
	}

	payload, err := ExtractJSON(resp.Text())
	if err != nil {
		return nil, g.malformed(err)
	}

	res := &Result{Payload: payload, Model: resp.ModelVersion}
	if res.Model == "" {
		res.Model = g.model
	}
	if u := resp.UsageMetadata; u != nil {
		res.Usage = Usage{
			InputTokens:     int64(u.PromptTokenCount),
			OutputTokens:    int64(u.CandidatesTokenCount),
			CacheReadTokens: int64(u.CachedContentTokenCount),
		}
		g.price(res.Model, &res.Usage)
	}
	return res, nil
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code
	}
	return 0
}
