package llm

import (
	"context"
	"fmt"

	"safepost/internal/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitedProvider wraps a provider with a token bucket
type RateLimitedProvider struct {
	provider Provider
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewRateLimitedProvider allows requestsPerMinute calls with a burst of the same size
func NewRateLimitedProvider(provider Provider, requestsPerMinute int, logger *zap.Logger) *RateLimitedProvider {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}

	return &RateLimitedProvider{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), requestsPerMinute),
		logger:   logger,
	}
}

func (p *RateLimitedProvider) wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		p.logger.Warn("Rate limit wait aborted",
			zap.String("provider", p.provider.Name()),
			zap.Error(err))
		return fmt.Errorf("rate limit wait cancelled: %w", err)
	}
	return nil
}

func (p *RateLimitedProvider) Caption(ctx context.Context, image []byte) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}
	return p.provider.Caption(ctx, image)
}

func (p *RateLimitedProvider) Classify(ctx context.Context, text string) (*models.ClassificationResult, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.provider.Classify(ctx, text)
}

func (p *RateLimitedProvider) Name() string {
	return p.provider.Name()
}

func (p *RateLimitedProvider) Close() error {
	return p.provider.Close()
}
