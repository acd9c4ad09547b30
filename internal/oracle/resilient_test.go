package oracle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenfleet-dev/carbon-scheduler/internal/config"
)

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), config.OracleConfig{Provider: "carrier-pigeon"})
	assert.Error(t, err, "expected an unknown oracle provider to error")
}

func TestNewOpenAIRequiresToken(t *testing.T) {
	_, err := New(context.Background(), config.OracleConfig{Provider: "openai"})
	assert.Error(t, err, "expected the openai provider to require oracle.token")
}

type passthroughOracle struct {
	extractCalls int
	rankCalls    int
}

func (p *passthroughOracle) Extract(ctx context.Context, req ExtractionRequest) (*ExtractionResult, error) {
	p.extractCalls++
	return &ExtractionResult{Confidence: 0.9}, nil
}

func (p *passthroughOracle) Rank(ctx context.Context, req RankingRequest) (*RankingResult, error) {
	p.rankCalls++
	return &RankingResult{Order: []int{0}}, nil
}

func TestResilientDelegatesOnSuccess(t *testing.T) {
	inner := &passthroughOracle{}
	r := NewResilient(inner, nil)

	res, err := r.Extract(context.Background(), ExtractionRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, 1, inner.extractCalls)

	rankRes, err := r.Rank(context.Background(), RankingRequest{})
	require.NoError(t, err)
	assert.Len(t, rankRes.Order, 1)
	assert.Equal(t, 1, inner.rankCalls)
}
