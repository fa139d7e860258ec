package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"safepost/internal/models"

	"go.uber.org/zap"
)

// MultiProviderClient manages several providers with fallback. Each call
// starts at the preferred provider and walks the rest on failure; the
// preference moves once a provider reaches maxFailures consecutive errors
// or reports a rate limit.
type MultiProviderClient struct {
	providers    []Provider
	currentIndex int
	mu           sync.RWMutex
	logger       *zap.Logger
	failureCount map[int]int
	maxFailures  int
}

// MultiProviderConfig holds configuration for multiple providers
type MultiProviderConfig struct {
	Providers   []ProviderConfig
	MaxFailures int // Max consecutive failures before switching provider
}

// NewMultiProviderClient builds every configured provider, skipping the ones that fail to initialise
func NewMultiProviderClient(ctx context.Context, cfg MultiProviderConfig, logger *zap.Logger) (*MultiProviderClient, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	providers := make([]Provider, 0, len(cfg.Providers))
	for i, providerCfg := range cfg.Providers {
		provider, err := NewProvider(ctx, providerCfg, logger)
		if err != nil {
			logger.Error("Failed to create provider",
				zap.String("type", string(providerCfg.Type)),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}

		providers = append(providers, provider)

		logger.Info("Provider initialized",
			zap.String("type", string(providerCfg.Type)),
			zap.String("model", providerCfg.ModelName),
			zap.Int("rate_limit", providerCfg.RequestsPerMinute),
			zap.Int("index", i))
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers could be initialized")
	}

	return NewMultiProvider(providers, cfg.MaxFailures, logger), nil
}

// NewMultiProvider chains already constructed providers in order of preference
func NewMultiProvider(providers []Provider, maxFailures int, logger *zap.Logger) *MultiProviderClient {
	if maxFailures <= 0 {
		maxFailures = 3
	}

	return &MultiProviderClient{
		providers:    providers,
		logger:       logger,
		failureCount: make(map[int]int),
		maxFailures:  maxFailures,
	}
}

// Name lists the chained providers
func (c *MultiProviderClient) Name() string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return strings.Join(names, ",")
}

// Caption tries each provider in turn until one produces a caption
func (c *MultiProviderClient) Caption(ctx context.Context, image []byte) (string, error) {
	var caption string
	err := c.try(ctx, "caption", func(p Provider) error {
		var err error
		caption, err = p.Caption(ctx, image)
		return err
	})
	return caption, err
}

// Classify tries each provider in turn until one labels the text
func (c *MultiProviderClient) Classify(ctx context.Context, text string) (*models.ClassificationResult, error) {
	var result *models.ClassificationResult
	err := c.try(ctx, "classify", func(p Provider) error {
		var err error
		result, err = p.Classify(ctx, text)
		return err
	})
	return result, err
}

func (c *MultiProviderClient) try(ctx context.Context, op string, call func(Provider) error) error {
	start := c.current()

	var lastErr error
	for attempt := 0; attempt < len(c.providers); attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s cancelled: %w", op, err)
		}

		index := (start + attempt) % len(c.providers)
		provider := c.providers[index]

		c.logger.Debug("Attempting provider",
			zap.String("op", op),
			zap.String("provider", provider.Name()),
			zap.Int("attempt", attempt+1))

		err := call(provider)
		if err == nil {
			c.resetFailureCount(index)
			return nil
		}

		// Input errors would fail the same way everywhere
		if errors.Is(err, models.ErrEmptyInput) {
			return err
		}

		lastErr = err
		c.logger.Error("Provider failed",
			zap.String("op", op),
			zap.String("provider", provider.Name()),
			zap.Error(err))

		if c.recordFailure(index) || isRateLimitError(err) {
			c.switchFrom(index)
		}
	}

	return fmt.Errorf("all providers failed: %w", lastErr)
}

func (c *MultiProviderClient) current() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentIndex
}

// CurrentProvider returns the name of the preferred provider
func (c *MultiProviderClient) CurrentProvider() string {
	return c.providers[c.current()].Name()
}

// switchFrom moves the preference past index, unless another call already did
func (c *MultiProviderClient) switchFrom(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentIndex != index {
		return
	}
	c.currentIndex = (index + 1) % len(c.providers)

	c.logger.Info("Switching provider",
		zap.Int("from_index", index),
		zap.Int("to_index", c.currentIndex),
		zap.Int("total_providers", len(c.providers)))
}

func (c *MultiProviderClient) recordFailure(providerIndex int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failureCount[providerIndex]++

	if c.failureCount[providerIndex] >= c.maxFailures {
		c.logger.Warn("Provider reached max failures",
			zap.Int("provider_index", providerIndex),
			zap.Int("failures", c.failureCount[providerIndex]))
		c.failureCount[providerIndex] = 0
		return true
	}

	return false
}

func (c *MultiProviderClient) resetFailureCount(providerIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount[providerIndex] = 0
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "rate limit")
}

// Close closes all providers
func (c *MultiProviderClient) Close() error {
	var errs []error
	for i, provider := range c.providers {
		if err := provider.Close(); err != nil {
			c.logger.Error("Failed to close provider",
				zap.Int("index", i),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
