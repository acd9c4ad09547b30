package oracle

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIOracle is the alternate oracle backend selected when
// oracle.provider is "openai"; it exercises the
// github.com/sashabaranov/go-openai client that packages/llm-router's
// go.mod also depends on.
type OpenAIOracle struct {
	client *openai.Client
	model  string
}

// NewOpenAIOracle constructs an OpenAIOracle from an API token.
func NewOpenAIOracle(token, model string) *OpenAIOracle {
	if model == "" {
		model = openai.GPT4TurboPreview
	}
	return &OpenAIOracle{client: openai.NewClient(token), model: model}
}

func (o *OpenAIOracle) complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("oracle: openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("oracle: openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Extract implements Oracle.
func (o *OpenAIOracle) Extract(ctx context.Context, req ExtractionRequest) (*ExtractionResult, error) {
	prompt := fmt.Sprintf("Extract structured function metadata from this description:\n\n%s\n\nKnown catalog regions: %v\n\n%s",
		req.Text, req.AllowedRegions, extractionSchemaPrompt)
	raw, err := o.complete(ctx, "You extract strict JSON records from natural-language serverless function descriptions.", prompt)
	if err != nil {
		return nil, err
	}
	return ParseExtraction([]byte(raw))
}

// Rank implements Oracle.
func (o *OpenAIOracle) Rank(ctx context.Context, req RankingRequest) (*RankingResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("oracle: marshal ranking request: %w", err)
	}
	prompt := fmt.Sprintf("Rank these execution-slot candidates under weights [carbon,cost,latency]=%v.\n\n%s\n\n%s",
		req.Weights, string(body), rankingSchemaPrompt)
	raw, err := o.complete(ctx, "You rank serverless execution candidates by a weighted carbon/cost/latency objective and always return the required JSON shape.", prompt)
	if err != nil {
		return nil, err
	}
	return ParseRanking([]byte(raw), len(req.Candidates))
}
