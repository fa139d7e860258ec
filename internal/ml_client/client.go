package ml_client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"safepost/internal/models"

	"go.uber.org/zap"
)

// ProviderName identifies results produced by the inference service
const ProviderName = "ml_service"

// Client is a client for the inference service API
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// Config for the inference service client
type Config struct {
	BaseURL string
	Timeout time.Duration // Default: 30s
	// HTTPClient overrides the default client; Timeout is ignored when set
	HTTPClient *http.Client
}

// ClassifyRequest represents a single classification request
type ClassifyRequest struct {
	Text string `json:"text"`
}

// ClassifyResponse represents the classification result
type ClassifyResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model,omitempty"`
}

// CaptionResponse represents the captioning result
type CaptionResponse struct {
	Caption string `json:"caption"`
}

// NewClient creates a new inference service client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("inference service URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		if cfg.Timeout == 0 {
			cfg.Timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Name returns the provider name
func (c *Client) Name() string {
	return ProviderName
}

// Close is a no-op; the client holds no persistent connections
func (c *Client) Close() error {
	return nil
}

// Caption describes an image in one sentence
func (c *Client) Caption(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", models.ErrEmptyInput
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/caption", bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", http.DetectContentType(image))

	var result CaptionResponse
	if err := c.do(req, &result); err != nil {
		return "", err
	}

	caption := strings.TrimSpace(result.Caption)
	if caption == "" {
		return "", fmt.Errorf("ML service returned an empty caption")
	}

	c.logger.Debug("Image captioned", zap.Int("image_bytes", len(image)))

	return caption, nil
}

// Classify labels text as safe or inappropriate
func (c *Client) Classify(ctx context.Context, text string) (*models.ClassificationResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, models.ErrEmptyInput
	}

	jsonData, err := json.Marshal(ClassifyRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/classify", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result ClassifyResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}

	label, ok := MapLabel(result.Label)
	if !ok {
		return nil, fmt.Errorf("ML service returned unknown label %q", result.Label)
	}

	c.logger.Debug("Text classified",
		zap.String("label", label.Short()),
		zap.Float64("confidence", result.Confidence))

	return &models.ClassificationResult{
		Label:      label,
		Confidence: result.Confidence,
		Provider:   ProviderName,
		Model:      result.Model,
	}, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ML service returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// MapLabel converts the model's raw label to a stored classification.
// Sentiment-style binary heads report POSITIVE/LABEL_1 for safe content.
func MapLabel(raw string) (models.Classification, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "POSITIVE", "LABEL_1":
		return models.Safe, true
	case "NEGATIVE", "LABEL_0":
		return models.Inappropriate, true
	}
	return models.ParseClassification(raw)
}
