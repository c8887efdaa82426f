package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddit-sentiment/models"
)

const (
	// Gemini's OpenAI-compatible surface
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	DefaultGeminiModel   = "gemini-1.5-flash"

	maxRateLimitRetries   = 3
	initialBackoff        = 1 * time.Second
	defaultGeminiTimeout  = 60 * time.Second
	maxLoggedResponseSize = 200
)

var (
	// ErrNotInitialized is returned when Classify is called before Init
	ErrNotInitialized = errors.New("sentiment API not initialized: enter a Gemini API key first")
	// ErrQuotaExceeded is returned once rate-limit retries are exhausted
	ErrQuotaExceeded = errors.New("sentiment API quota exceeded: wait a few minutes or use a different API key")

	errEmptyCompletion = errors.New("completion returned no choices")
)

const promptTemplate = `Analyze the sentiment of this Reddit post about stocks. Return the response in JSON format with these fields:
  - score (number between -1 and 1)
  - label (one of: "positive", "negative", "neutral")
  - confidence (number between 0 and 1)

  Post: "%s"`

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// GeminiConfig configures the sentiment client
type GeminiConfig struct {
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
}

// GeminiClient classifies post sentiment with an LLM completion endpoint. It is
// unusable until Init supplies an API key.
type GeminiClient struct {
	cfg   GeminiConfig
	log   *logrus.Logger
	sleep SleepFunc

	mutex  sync.RWMutex
	client *openai.Client
}

// NewGeminiClient creates an uninitialized sentiment client
func NewGeminiClient(cfg GeminiConfig, log *logrus.Logger) *GeminiClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGeminiBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultGeminiTimeout
	}

	return &GeminiClient{
		cfg:   cfg,
		log:   log,
		sleep: sleepContext,
	}
}

// SetSleep replaces the backoff wait, mainly so tests don't sleep
func (g *GeminiClient) SetSleep(fn SleepFunc) {
	g.sleep = fn
}

// Init supplies the API key. It may be called again to swap keys.
func (g *GeminiClient) Init(apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return fmt.Errorf("gemini API key is required")
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = g.cfg.BaseURL
	config.HTTPClient = &http.Client{Timeout: g.cfg.RequestTimeout}

	g.mutex.Lock()
	g.client = openai.NewClientWithConfig(config)
	g.mutex.Unlock()

	g.log.WithFields(logrus.Fields{
		"model":    g.cfg.Model,
		"base_url": g.cfg.BaseURL,
	}).Info("Gemini API initialized")
	return nil
}

// Initialized reports whether Init has succeeded
func (g *GeminiClient) Initialized() bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.client != nil
}

// Classify returns the sentiment of text. Unparseable model output and endpoint
// errors other than rate limiting yield a neutral result; rate limiting is retried
// with exponential backoff and fails with ErrQuotaExceeded once retries run out.
func (g *GeminiClient) Classify(ctx context.Context, text string) (models.SentimentResult, error) {
	g.mutex.RLock()
	client := g.client
	g.mutex.RUnlock()

	if client == nil {
		return models.SentimentResult{}, ErrNotInitialized
	}

	prompt := fmt.Sprintf(promptTemplate, text)
	backoff := initialBackoff

	for attempt := 0; ; attempt++ {
		content, err := g.complete(ctx, client, prompt)
		if err == nil {
			result, parseErr := parseSentiment(content)
			if parseErr != nil {
				g.log.WithError(parseErr).
					WithField("response", truncate(content, maxLoggedResponseSize)).
					Warn("Failed to parse sentiment response, using neutral")
				return models.NeutralSentiment(), nil
			}
			return result, nil
		}

		if ctx.Err() != nil {
			return models.SentimentResult{}, ctx.Err()
		}

		if !isRateLimited(err) {
			g.log.WithError(err).Error("Sentiment request failed, using neutral")
			return models.NeutralSentiment(), nil
		}

		if attempt == maxRateLimitRetries {
			g.log.WithField("attempts", attempt+1).Error("Sentiment API rate limit retries exhausted")
			return models.SentimentResult{}, ErrQuotaExceeded
		}

		g.log.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"backoff": backoff.String(),
		}).Warn("Sentiment API rate limited, retrying with backoff")

		if err := g.sleep(ctx, backoff); err != nil {
			return models.SentimentResult{}, err
		}
		backoff *= 2
	}
}

func (g *GeminiClient) complete(ctx context.Context, client *openai.Client, prompt string) (string, error) {
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

// isRateLimited reports whether the endpoint answered 429
func isRateLimited(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	// non-JSON error bodies come back as plain errors carrying only the status text
	return strings.Contains(err.Error(), "status code: 429")
}

type sentimentPayload struct {
	Score      *float64 `json:"score"`
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
}

// parseSentiment decodes the JSON object the prompt asks for. Models often wrap
// it in a markdown code fence, which is stripped first.
func parseSentiment(content string) (models.SentimentResult, error) {
	var payload sentimentPayload
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &payload); err != nil {
		return models.SentimentResult{}, fmt.Errorf("invalid sentiment JSON: %w", err)
	}

	label := models.SentimentLabel(strings.ToLower(strings.TrimSpace(payload.Label)))
	if !label.Valid() {
		return models.SentimentResult{}, fmt.Errorf("unknown sentiment label %q", payload.Label)
	}
	if payload.Score == nil {
		return models.SentimentResult{}, fmt.Errorf("sentiment score missing")
	}

	result := models.SentimentResult{
		Score: clamp(*payload.Score, -1, 1),
		Label: label,
	}
	if payload.Confidence != nil {
		result.Confidence = clamp(*payload.Confidence, 0, 1)
	}
	return result, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// drop the info string, e.g. ```json
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
