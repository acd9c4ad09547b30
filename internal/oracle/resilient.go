package oracle

import (
	"context"
	"fmt"

	"github.com/greenfleet-dev/carbon-scheduler/internal/config"
	"github.com/greenfleet-dev/carbon-scheduler/internal/resilience"
	"go.uber.org/zap"
)

// New builds the configured Oracle backend (bedrock or openai).
func New(ctx context.Context, cfg config.OracleConfig) (Oracle, error) {
	switch cfg.Provider {
	case "", "bedrock":
		return NewBedrockOracle(ctx, cfg.Region, cfg.Model)
	case "openai":
		if cfg.Token == "" {
			return nil, fmt.Errorf("oracle: openai provider requires oracle.token")
		}
		return NewOpenAIOracle(cfg.Token, cfg.Model), nil
	default:
		return nil, fmt.Errorf("oracle: unknown provider %q", cfg.Provider)
	}
}

// Resilient wraps an Oracle with a retry/circuit-breaker policy for
// transient external errors.
type Resilient struct {
	inner   Oracle
	breaker *resilience.CircuitBreaker
	logger  *zap.Logger
}

// NewResilient wraps inner.
func NewResilient(inner Oracle, logger *zap.Logger) *Resilient {
	return &Resilient{
		inner:   inner,
		breaker: resilience.New(resilience.Config{Name: "oracle"}, logger),
		logger:  logger,
	}
}

// Extract implements Oracle with retry+breaker protection.
func (r *Resilient) Extract(ctx context.Context, req ExtractionRequest) (*ExtractionResult, error) {
	return resilience.WithBackoff(ctx, resilience.OracleRetryConfig(), "oracle.extract", r.logger, nil,
		func(ctx context.Context) (*ExtractionResult, error) {
			var out *ExtractionResult
			err := r.breaker.Execute(ctx, func(ctx context.Context) error {
				var innerErr error
				out, innerErr = r.inner.Extract(ctx, req)
				return innerErr
			})
			return out, err
		})
}

// Rank implements Oracle with retry+breaker protection.
func (r *Resilient) Rank(ctx context.Context, req RankingRequest) (*RankingResult, error) {
	return resilience.WithBackoff(ctx, resilience.OracleRetryConfig(), "oracle.rank", r.logger, nil,
		func(ctx context.Context) (*RankingResult, error) {
			var out *RankingResult
			err := r.breaker.Execute(ctx, func(ctx context.Context) error {
				var innerErr error
				out, innerErr = r.inner.Rank(ctx, req)
				return innerErr
			})
			return out, err
		})
}
