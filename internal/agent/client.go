package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	ngerrors "github.com/vampirenirmal/novelgen/pkg/novelgen/errors"
	"github.com/vampirenirmal/novelgen/pkg/metrics"
)

const (
	BackendAnthropic  = "anthropic"
	BackendOpenAIHTTP = "openai_http"

	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 4096
)

// HTTPClient talks to the Anthropic Messages API or an OpenAI compatible
// chat completions endpoint over plain HTTP. It never retries on its own;
// failures are classified and handed back to the caller.
type HTTPClient struct {
	backend     string
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature *float64

	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	initOnce sync.Once
	initErr  error
}

// NewHTTPClient builds a client for backend, which must be BackendAnthropic
// or BackendOpenAIHTTP.
func NewHTTPClient(backend string, s Settings, opts ...Option) (*HTTPClient, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if s.Timeout > 0 {
		o.timeout = s.Timeout
	}

	c := &HTTPClient{
		backend:     backend,
		apiKey:      s.APIKey,
		baseURL:     strings.TrimRight(s.BaseURL, "/"),
		model:       s.Model,
		maxTokens:   s.MaxTokens,
		temperature: s.Temperature,
	}

	switch backend {
	case BackendAnthropic:
		if c.baseURL == "" {
			c.baseURL = "https://api.anthropic.com/v1"
		}
		if c.model == "" {
			c.model = "claude-3-5-sonnet-20241022"
		}
	case BackendOpenAIHTTP:
		if c.baseURL == "" {
			c.baseURL = "https://api.openai.com/v1"
		}
		if c.model == "" {
			c.model = "gpt-4o-mini"
		}
	default:
		return nil, ngerrors.InvalidKey("llm_type", fmt.Sprintf("unknown HTTP backend %q", backend))
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}

	if o.httpClient != nil {
		c.httpClient = o.httpClient
	} else {
		// Configure transport with connection pooling
		transport := &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     10,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		}
		c.httpClient = &http.Client{Timeout: o.timeout, Transport: transport}
	}

	if o.rpm > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(o.rpm)/60.0), max(o.burst, 1))
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	}

	c.logger = o.logger
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "llm_client", "backend", backend)

	c.logger.Debug("LLM client created",
		"base_url", c.baseURL,
		"model", c.model,
		"max_tokens", c.maxTokens,
		"rate_limit", fmt.Sprintf("%v req/s", c.limiter.Limit()))

	return c, nil
}

// Initialize validates credentials. It is safe to call more than once.
func (c *HTTPClient) Initialize(ctx context.Context) error {
	c.initOnce.Do(func() {
		if isPlaceholderKey(c.apiKey) {
			c.initErr = &ngerrors.AuthenticationError{Backend: c.backend, Err: ngerrors.ErrInvalidAPIKey}
			return
		}
		c.logger.Info("LLM client initialized", "model", c.model)
	})
	return c.initErr
}

func (c *HTTPClient) Generate(ctx context.Context, prompt string) (string, error) {
	requestID := fmt.Sprintf("%s_%d", c.backend, time.Now().UnixNano())
	startTime := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", ngerrors.Transient(fmt.Errorf("rate limit wait: %w", err))
	}

	c.logger.Debug("sending LLM request",
		"request_id", requestID,
		"prompt_length", len(prompt),
		"wait_duration_ms", time.Since(startTime).Milliseconds())

	text, err := c.doRequest(ctx, prompt)
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(c.backend, resultLabel(err)).Inc()
		c.logger.Warn("LLM request failed",
			"request_id", requestID,
			"duration_ms", time.Since(startTime).Milliseconds(),
			"error", err)
		return "", err
	}

	metrics.LLMRequestsTotal.WithLabelValues(c.backend, "success").Inc()
	c.logger.Info("LLM request successful",
		"request_id", requestID,
		"duration_ms", time.Since(startTime).Milliseconds(),
		"response_length", len(text))
	return text, nil
}

func (c *HTTPClient) doRequest(ctx context.Context, prompt string) (string, error) {
	endpoint := c.baseURL + "/chat/completions"
	if c.backend == BackendAnthropic {
		endpoint = c.baseURL + "/messages"
	}

	// Both APIs accept the same minimal body shape
	body := map[string]any{
		"model":      c.model,
		"max_tokens": c.maxTokens,
		"messages":   []map[string]string{{"role": "user", "content": prompt}},
	}
	if c.temperature != nil {
		body["temperature"] = *c.temperature
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", ngerrors.Fatal(fmt.Errorf("marshaling request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", ngerrors.Fatal(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.backend == BackendAnthropic {
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", ngerrors.Transient(fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(c.backend, resp.StatusCode, resp.Header.Get("Retry-After"), respBody)
	}

	text, err := c.extractText(respBody)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ngerrors.Transient(ngerrors.ErrEmptyResponse)
	}
	return text, nil
}

func (c *HTTPClient) extractText(body []byte) (string, error) {
	if c.backend == BackendAnthropic {
		var response struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			Usage struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(body, &response); err != nil {
			return "", ngerrors.Transient(fmt.Errorf("parsing response: %w", err))
		}

		var sb strings.Builder
		for _, block := range response.Content {
			if block.Type == "" || block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		c.logger.Debug("anthropic usage",
			"input_tokens", response.Usage.InputTokens,
			"output_tokens", response.Usage.OutputTokens)
		return sb.String(), nil
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", ngerrors.Transient(fmt.Errorf("parsing response: %w", err))
	}
	if len(response.Choices) == 0 {
		return "", nil
	}
	c.logger.Debug("openai usage",
		"prompt_tokens", response.Usage.PromptTokens,
		"completion_tokens", response.Usage.CompletionTokens)
	return response.Choices[0].Message.Content, nil
}

// classifyStatus maps a non-200 answer onto the error taxonomy.
func classifyStatus(backend string, status int, retryAfter string, body []byte) error {
	apiErr := fmt.Errorf("API error (status %d): %s", status, truncateBody(body))

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ngerrors.Fatal(&ngerrors.AuthenticationError{Backend: backend, Err: apiErr})
	case status == http.StatusTooManyRequests:
		return &ngerrors.TransientGenerationError{
			Err:        fmt.Errorf("%w: %v", ngerrors.ErrRateLimited, apiErr),
			RetryAfter: parseRetryAfter(retryAfter),
		}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ngerrors.Transient(fmt.Errorf("%w: %v", ngerrors.ErrTimeout, apiErr))
	case status >= 500:
		// 529 is Anthropic's overloaded status
		return &ngerrors.TransientGenerationError{Err: apiErr, RetryAfter: parseRetryAfter(retryAfter)}
	default:
		return ngerrors.Fatal(apiErr)
	}
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ngerrors.Transient(fmt.Errorf("%w: %v", ngerrors.ErrTimeout, err))
	}
	return ngerrors.Transient(fmt.Errorf("making request: %w", err))
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

func resultLabel(err error) string {
	switch {
	case ngerrors.IsTransient(err):
		return "transient"
	case ngerrors.IsAuthentication(err):
		return "auth"
	default:
		return "fatal"
	}
}
