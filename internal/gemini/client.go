// Package gemini generates short texts with Google's Gemini API for the
// bot's fun commands.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"google.golang.org/genai"

	"github.com/edgard/hyperbot/internal/config"
)

// Client generates text for a named prompt kind.
type Client interface {
	Generate(ctx context.Context, kind PromptKind) (string, error)
}

type sdkClient struct {
	genaiClient   *genai.Client
	log           *slog.Logger
	contentConfig *genai.GenerateContentConfig
	modelName     string
	timeout       time.Duration
	maxRetries    int
	retryDelay    time.Duration
}

// NewClient creates a Gemini client. It returns an error when no API key is
// configured; callers treat that as "AI disabled".
func NewClient(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	temperature := cfg.Temperature
	baseCfg := &genai.GenerateContentConfig{
		Temperature:       &temperature,
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: SystemInstruction}}},
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
		},
	}

	logger := log.With("component", "gemini_client")
	logger.Info("Gemini client initialized successfully", "model", cfg.Model)
	client := &sdkClient{
		genaiClient:   gi,
		log:           logger,
		contentConfig: baseCfg,
		modelName:     cfg.Model,
		timeout:       cfg.Timeout,
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay,
	}
	return WithBreaker(client, BreakerConfig{MaxFailures: cfg.BreakerFailures, OpenTimeout: cfg.BreakerTimeout}, logger), nil
}

func (c *sdkClient) Generate(ctx context.Context, kind PromptKind) (string, error) {
	prompt, ok := prompts[kind]
	if !ok {
		return "", fmt.Errorf("unknown prompt kind %q", kind)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.log.DebugContext(ctx, "Generating text", "kind", kind)
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := c.generateContentWithRetries(ctx, contents)
	if err != nil {
		return "", err
	}

	return c.extractText(ctx, kind, resp)
}

func (c *sdkClient) generateContentWithRetries(ctx context.Context, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse

	err := retry.Do(
		func() error {
			var err error
			resp, err = c.genaiClient.Models.GenerateContent(ctx, c.modelName, contents, c.contentConfig)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries)+1),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			c.log.InfoContext(ctx, "Retrying Gemini API call", "attempt", n+1, "delay", c.retryDelay, "error", err)
		}),
	)
	if err != nil {
		c.log.ErrorContext(ctx, "Gemini API call failed", "error", err)
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}

	return resp, nil
}

// retryable reports whether err is a rate limit or a transient server error.
func retryable(err error) bool {
	var apiErr *genai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == 429 || apiErr.Code == 500 || apiErr.Code == 503
}

func (c *sdkClient) extractText(ctx context.Context, kind PromptKind, resp *genai.GenerateContentResponse) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		c.log.WarnContext(ctx, "Gemini request blocked", "kind", kind, "reason", resp.PromptFeedback.BlockReason)
		return "", fmt.Errorf("%s blocked by safety filter: %v", kind, resp.PromptFeedback.BlockReason)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%s returned empty content", kind)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%s returned empty text", kind)
	}
	return text, nil
}
