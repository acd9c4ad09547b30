package oracle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockOracle invokes an Anthropic model on AWS Bedrock, adapted from
// services/llm-router/main.go callAWSBedrock.
type BedrockOracle struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockOracle constructs a BedrockOracle for the given region/model.
func NewBedrockOracle(ctx context.Context, region, modelID string) (*BedrockOracle, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("oracle: load aws config: %w", err)
	}
	if modelID == "" {
		modelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	return &BedrockOracle{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature"`
}

type bedrockResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (b *BedrockOracle) invoke(ctx context.Context, system, prompt string) ([]byte, error) {
	payload := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        2000,
		System:           system,
		Messages:         []bedrockMessage{{Role: "user", Content: prompt}},
		Temperature:      0,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("oracle: marshal bedrock request: %w", err)
	}

	result, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: invoke bedrock: %w", err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(result.Body, &resp); err != nil {
		return nil, fmt.Errorf("oracle: decode bedrock response: %w", err)
	}
	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("oracle: empty bedrock response")
	}
	return []byte(resp.Content[0].Text), nil
}

// Extract implements Oracle.
func (b *BedrockOracle) Extract(ctx context.Context, req ExtractionRequest) (*ExtractionResult, error) {
	prompt := fmt.Sprintf("Extract structured function metadata from this description:\n\n%s\n\nKnown catalog regions: %v\n\n%s",
		req.Text, req.AllowedRegions, extractionSchemaPrompt)
	raw, err := b.invoke(ctx, "You extract strict JSON records from natural-language serverless function descriptions.", prompt)
	if err != nil {
		return nil, err
	}
	return ParseExtraction(raw)
}

// Rank implements Oracle.
func (b *BedrockOracle) Rank(ctx context.Context, req RankingRequest) (*RankingResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("oracle: marshal ranking request: %w", err)
	}
	prompt := fmt.Sprintf("Rank these execution-slot candidates for a serverless function under weights [carbon,cost,latency]=%v.\n\n%s\n\n%s",
		req.Weights, string(body), rankingSchemaPrompt)
	raw, err := b.invoke(ctx, "You rank serverless execution candidates by a weighted carbon/cost/latency objective and always return the required JSON shape.", prompt)
	if err != nil {
		return nil, err
	}
	return ParseRanking(raw, len(req.Candidates))
}
