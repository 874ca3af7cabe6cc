package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"scribe/internal/logging"
	"scribe/internal/services"
)

const (
	defaultHTTPTimeout    = 120 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 600 * time.Second
	defaultRetryAttempts  = 10
	defaultMaxTokens      = 1000
)

// Config captures the runtime settings required to talk to the enrichment service.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxTokens      int
	TimeoutSeconds int
}

// Client wraps an OpenAI-compatible chat completion endpoint with vision input.
// Only HTTP 429 responses are retried here; every other failure is returned
// to the caller so the per-item retry budget decides.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(context.Context, time.Duration) error
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRateLimitRetry overrides the 429 retry budget and backoff bounds.
func WithRateLimitRetry(attempts int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.retryMaxAttempts = attempts
		}
		if baseDelay > 0 {
			c.retryBaseDelay = baseDelay
		}
		if maxDelay > 0 {
			c.retryMaxDelay = maxDelay
		}
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if sleeper != nil {
			c.sleeper = sleeper
		}
	}
}

// WithLogger attaches a logger for rate-limit warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "enrich")
	}
}

// NewClient constructs a client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimSpace(cfg.BaseURL),
			Model:          strings.TrimSpace(cfg.Model),
			MaxTokens:      cfg.MaxTokens,
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient:       &http.Client{Timeout: timeout},
		logger:           logging.NewNop(),
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
		sleeper:          sleepContext,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = "https://api.openai.com/v1/chat/completions"
	}
	if client.cfg.MaxTokens <= 0 {
		client.cfg.MaxTokens = defaultMaxTokens
	}
	return client
}

// Request is one vision enrichment call.
type Request struct {
	System       string
	Instructions string
	ImageURL     string
	MaxTokens    int
}

// Classify sends instructions plus an image reference and returns the model's
// text content.
func (c *Client) Classify(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Instructions) == "" {
		return "", services.Wrap(services.ErrValidation, "enrich", "classify", "instructions required", nil)
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		return "", services.Wrap(services.ErrValidation, "enrich", "classify", "image url required", nil)
	}
	user := []contentPart{
		{Type: "text", Text: req.Instructions},
		{Type: "image_url", ImageURL: &imageURL{URL: req.ImageURL}},
	}
	return c.complete(ctx, "classify", req.System, user, req.MaxTokens)
}

// ClassifyJSON runs Classify and decodes the answer into target. Undecodable
// answers are validation errors.
func (c *Client) ClassifyJSON(ctx context.Context, req Request, target any) (string, error) {
	content, err := c.Classify(ctx, req)
	if err != nil {
		return "", err
	}
	if err := DecodeJSON(content, target); err != nil {
		return content, services.Wrap(services.ErrValidation, "enrich", "classify", "parse model output", err)
	}
	return content, nil
}

// Complete issues a text-only completion, used for proofreading.
func (c *Client) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", services.Wrap(services.ErrValidation, "enrich", "complete", "prompt required", nil)
	}
	return c.complete(ctx, "complete", system, prompt, maxTokens)
}

// Ready reports whether the client has credentials.
func (c *Client) Ready() error {
	if c.cfg.APIKey == "" {
		return services.Wrap(services.ErrConfiguration, "enrich", "ready", "api key required (llm.api_key or SCRIBE_LLM_API_KEY)", nil)
	}
	return nil
}

type chatCompletionRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("enrich request: http %d: %s", e.StatusCode, summarizePayloadSnippet(e.Body))
}

func (c *Client) complete(ctx context.Context, op, system string, user any, maxTokens int) (string, error) {
	if err := c.Ready(); err != nil {
		return "", err
	}
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	payload := chatCompletionRequest{Model: c.cfg.Model, MaxTokens: maxTokens}
	if strings.TrimSpace(system) != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: system})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: user})

	attempts := c.retryMaxAttempts
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		completion, err := c.sendOnce(ctx, payload)
		if err == nil {
			return extractContent(op, completion)
		}
		var statusErr *httpStatusError
		if !errors.As(err, &statusErr) {
			return "", services.Wrap(services.ErrTransient, "enrich", op, "request failed", err)
		}
		if statusErr.StatusCode != http.StatusTooManyRequests {
			return "", services.Wrap(services.ErrExternal, "enrich", op, fmt.Sprintf("http %d", statusErr.StatusCode), err)
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		delay := c.retryDelay(statusErr, attempt)
		c.logger.Warn("enrichment rate limited; backing off",
			logging.String(logging.FieldEventType, "enrich_rate_limited"),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", attempts),
			logging.Duration("delay", delay),
			logging.Bool("server_hint", statusErr.RetryAfter > 0),
		)
		if err := c.sleeper(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", services.Wrap(services.ErrRateLimited, "enrich", op, fmt.Sprintf("still rate limited after %d attempts", attempts), lastErr)
}

func (c *Client) sendOnce(ctx context.Context, payload chatCompletionRequest) (chatCompletionResponse, error) {
	var completion chatCompletionResponse
	encoded, err := json.Marshal(payload)
	if err != nil {
		return completion, fmt.Errorf("enrich request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return completion, fmt.Errorf("enrich request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return completion, fmt.Errorf("enrich request: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return completion, fmt.Errorf("enrich request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return completion, &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}
	if err := json.Unmarshal(body, &completion); err != nil {
		return completion, fmt.Errorf("enrich request: decode response: %w", err)
	}
	return completion, nil
}

func extractContent(op string, completion chatCompletionResponse) (string, error) {
	if completion.Error != nil {
		return "", services.Wrap(services.ErrExternal, "enrich", op, "api error: "+strings.TrimSpace(completion.Error.Message), nil)
	}
	for _, choice := range completion.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
		if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
			return "", services.Wrap(services.ErrValidation, "enrich", op, "model refused: "+refusal, nil)
		}
	}
	return "", services.Wrap(services.ErrValidation, "enrich", op, "empty completion", nil)
}

// retryDelay prefers the server hint, else doubles from the base delay. Both
// are capped at the configured ceiling.
func (c *Client) retryDelay(statusErr *httpStatusError, attempt int) time.Duration {
	if statusErr != nil && statusErr.RetryAfter > 0 {
		return c.capDelay(statusErr.RetryAfter)
	}
	return c.backoffDelay(attempt)
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	delay := c.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > c.retryMaxDelay/2 {
			return c.retryMaxDelay
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if c.retryMaxDelay > 0 && delay > c.retryMaxDelay {
		return c.retryMaxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
