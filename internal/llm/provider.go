package llm

import (
	"context"
	"fmt"
	"time"

	"safepost/internal/gemini"
	"safepost/internal/ml_client"
	"safepost/internal/models"

	"go.uber.org/zap"
)

// ProviderType represents the type of captioning/classification backend
type ProviderType string

const (
	ProviderGemini    ProviderType = "gemini"
	ProviderMLService ProviderType = "ml_service"
)

// ProviderConfig holds configuration for a single provider instance
type ProviderConfig struct {
	Type       ProviderType  `yaml:"type"`
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	ModelName  string        `yaml:"model_name"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Timeout    time.Duration `yaml:"timeout"`
	// Rate limiting per provider
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Captioner describes images
type Captioner interface {
	Caption(ctx context.Context, image []byte) (string, error)
}

// Classifier labels text
type Classifier interface {
	Classify(ctx context.Context, text string) (*models.ClassificationResult, error)
}

// Provider interface for any backend that can both caption and classify
type Provider interface {
	Captioner
	Classifier
	Name() string
	Close() error
}

// DefaultRequestsPerMinute is a conservative default for free API tiers
const DefaultRequestsPerMinute = 8

// NewProvider builds a rate-limited provider from its configuration
func NewProvider(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (*RateLimitedProvider, error) {
	var provider Provider
	var err error

	switch cfg.Type {
	case ProviderGemini:
		provider, err = gemini.NewClient(ctx, gemini.Config{
			APIKey:     cfg.APIKey,
			ModelName:  cfg.ModelName,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		}, logger)
	case ProviderMLService:
		provider, err = ml_client.NewClient(ml_client.Config{
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", cfg.Type, err)
	}

	rateLimit := cfg.RequestsPerMinute
	if rateLimit == 0 {
		rateLimit = DefaultRequestsPerMinute
	}

	return NewRateLimitedProvider(provider, rateLimit, logger), nil
}
