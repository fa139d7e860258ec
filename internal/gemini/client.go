package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"safepost/internal/models"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// ProviderName identifies results produced by Gemini
const ProviderName = "gemini"

// Client wraps the Gemini API client for captioning and classification
type Client struct {
	client        *genai.Client
	captionModel  *genai.GenerativeModel
	classifyModel *genai.GenerativeModel
	logger        *zap.Logger
	modelName     string
	maxRetries    int
	retryDelay    time.Duration
}

// Config for Gemini client
type Config struct {
	APIKey     string
	ModelName  string // Default: "gemini-2.0-flash-exp"
	MaxRetries int
	RetryDelay time.Duration
}

// NewClient creates a new Gemini client
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	if cfg.ModelName == "" {
		cfg.ModelName = "gemini-2.0-flash-exp"
	}

	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	captionModel := client.GenerativeModel(cfg.ModelName)
	captionModel.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.2),
		MaxOutputTokens: genai.Ptr[int32](120),
	}

	classifyModel := client.GenerativeModel(cfg.ModelName)
	classifyModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(SystemInstruction)},
	}
	classifyModel.GenerationConfig = genai.GenerationConfig{
		Temperature:      genai.Ptr[float32](0.3),
		TopP:             genai.Ptr[float32](0.9),
		TopK:             genai.Ptr[int32](40),
		MaxOutputTokens:  genai.Ptr[int32](200),
		ResponseMIMEType: "application/json",
	}

	logger.Info("Gemini client initialized",
		zap.String("model", cfg.ModelName),
		zap.Int("max_retries", cfg.MaxRetries))

	return &Client{
		client:        client,
		captionModel:  captionModel,
		classifyModel: classifyModel,
		logger:        logger,
		modelName:     cfg.ModelName,
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay,
	}, nil
}

// Name returns the provider name
func (c *Client) Name() string {
	return ProviderName
}

// Close closes the Gemini client
func (c *Client) Close() error {
	return c.client.Close()
}

// Caption describes an image in one sentence
func (c *Client) Caption(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", models.ErrEmptyInput
	}

	var caption string
	err := c.generate(ctx, c.captionModel, "caption", func(raw string) error {
		caption = strings.TrimSpace(raw)
		if caption == "" {
			return fmt.Errorf("empty caption from gemini")
		}
		return nil
	}, genai.ImageData(ImageFormat(image), image), genai.Text(CaptionPrompt))
	if err != nil {
		return "", err
	}

	return caption, nil
}

// Classify labels text as safe or inappropriate
func (c *Client) Classify(ctx context.Context, text string) (*models.ClassificationResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, models.ErrEmptyInput
	}

	var result *models.ClassificationResult
	err := c.generate(ctx, c.classifyModel, "classify", func(raw string) error {
		parsed, err := ParseClassification(raw)
		if err != nil {
			return err
		}
		result = parsed
		return nil
	}, genai.Text(BuildClassifyPrompt(text)))
	if err != nil {
		return nil, err
	}

	result.Provider = ProviderName
	result.Model = c.modelName

	c.logger.Debug("Successfully classified text",
		zap.String("label", result.Label.Short()),
		zap.Float64("confidence", result.Confidence))

	return result, nil
}

// generate calls the model until parse accepts the first text part or retries run out
func (c *Client) generate(ctx context.Context, model *genai.GenerativeModel, op string, parse func(string) error, parts ...genai.Part) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying Gemini request",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", c.maxRetries))

			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return fmt.Errorf("gemini %s cancelled: %w", op, ctx.Err())
			}
		}

		resp, err := model.GenerateContent(ctx, parts...)
		if err != nil {
			lastErr = fmt.Errorf("gemini API error: %w", err)
			c.logger.Error("Gemini API error", zap.String("op", op), zap.Error(err), zap.Int("attempt", attempt+1))
			continue
		}

		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			lastErr = fmt.Errorf("empty response from gemini")
			c.logger.Error("Empty response from Gemini", zap.String("op", op), zap.Int("attempt", attempt+1))
			continue
		}

		textPart, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
		if !ok {
			lastErr = fmt.Errorf("unexpected response type from gemini")
			c.logger.Error("Unexpected response type", zap.String("op", op), zap.Int("attempt", attempt+1))
			continue
		}

		if err := parse(string(textPart)); err != nil {
			lastErr = err
			c.logger.Error("Failed to parse Gemini response",
				zap.String("op", op),
				zap.Error(err),
				zap.String("original_response", string(textPart)),
				zap.Int("attempt", attempt+1))
			continue
		}

		return nil
	}

	return fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr)
}

type classifyPayload struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// ParseClassification decodes the model's JSON answer, tolerating markdown code fences
func ParseClassification(raw string) (*models.ClassificationResult, error) {
	cleanJSON := strings.TrimSpace(raw)
	cleanJSON = strings.TrimPrefix(cleanJSON, "```json")
	cleanJSON = strings.TrimPrefix(cleanJSON, "```")
	cleanJSON = strings.TrimSuffix(cleanJSON, "```")
	cleanJSON = strings.TrimSpace(cleanJSON)

	var payload classifyPayload
	if err := json.Unmarshal([]byte(cleanJSON), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse gemini response: %w", err)
	}

	label, ok := models.ParseClassification(payload.Label)
	if !ok {
		return nil, fmt.Errorf("invalid label from gemini: %q", payload.Label)
	}

	if payload.Confidence < 0 || payload.Confidence > 1 {
		return nil, fmt.Errorf("invalid confidence from gemini: %v", payload.Confidence)
	}

	return &models.ClassificationResult{Label: label, Confidence: payload.Confidence}, nil
}

// ImageFormat sniffs the image subtype expected by genai.ImageData, defaulting to jpeg
func ImageFormat(data []byte) string {
	contentType := http.DetectContentType(data)
	if format, ok := strings.CutPrefix(contentType, "image/"); ok {
		return format
	}
	return "jpeg"
}
