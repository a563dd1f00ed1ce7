package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	"github.com/vampirenirmal/novelgen/pkg/metrics"
	ngerrors "github.com/vampirenirmal/novelgen/pkg/novelgen/errors"
)

const BackendOpenAI = "openai"

// EinoClient serves llm_type "openai" through an eino ChatModel, which covers
// OpenAI and every endpoint speaking its protocol.
type EinoClient struct {
	settings Settings
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger

	mu   sync.Mutex
	chat model.BaseChatModel
}

func NewEinoClient(s Settings, opts ...Option) *EinoClient {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if s.Timeout > 0 {
		o.timeout = s.Timeout
	}
	if s.Model == "" {
		s.Model = "gpt-4o-mini"
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if o.rpm > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(o.rpm)/60.0), max(o.burst, 1))
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &EinoClient{
		settings: s,
		timeout:  o.timeout,
		limiter:  limiter,
		logger:   logger.With("component", "llm_client", "backend", BackendOpenAI),
		chat:     o.chatModel,
	}
}

// Initialize checks the key and builds the chat model once.
func (c *EinoClient) Initialize(ctx context.Context) error {
	if isPlaceholderKey(c.settings.APIKey) {
		return &ngerrors.AuthenticationError{Backend: BackendOpenAI, Err: ngerrors.ErrInvalidAPIKey}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chat != nil {
		return nil
	}

	cfg := &openai.ChatModelConfig{
		APIKey:  c.settings.APIKey,
		BaseURL: c.settings.BaseURL,
		Model:   c.settings.Model,
		Timeout: c.timeout,
	}
	if c.settings.MaxTokens > 0 {
		cfg.MaxTokens = &c.settings.MaxTokens
	}
	if c.settings.Temperature != nil {
		t := float32(*c.settings.Temperature)
		cfg.Temperature = &t
	}

	chat, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return ngerrors.Fatal(fmt.Errorf("creating chat model: %w", err))
	}
	c.chat = chat

	c.logger.Info("LLM client initialized", "model", c.settings.Model)
	return nil
}

func (c *EinoClient) Generate(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	chat := c.chat
	c.mu.Unlock()
	if chat == nil {
		return "", ngerrors.Fatal(fmt.Errorf("client not initialized"))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", ngerrors.Transient(fmt.Errorf("rate limit wait: %w", err))
	}

	start := time.Now()
	msg, err := chat.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		classified := classifyMessage(err)
		metrics.LLMRequestsTotal.WithLabelValues(BackendOpenAI, resultLabel(classified)).Inc()
		c.logger.Warn("LLM request failed",
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return "", classified
	}

	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		metrics.LLMRequestsTotal.WithLabelValues(BackendOpenAI, "transient").Inc()
		return "", ngerrors.Transient(ngerrors.ErrEmptyResponse)
	}

	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		c.logger.Debug("openai usage",
			"prompt_tokens", msg.ResponseMeta.Usage.PromptTokens,
			"completion_tokens", msg.ResponseMeta.Usage.CompletionTokens)
	}

	metrics.LLMRequestsTotal.WithLabelValues(BackendOpenAI, "success").Inc()
	c.logger.Info("LLM request successful",
		"duration_ms", time.Since(start).Milliseconds(),
		"response_length", len(msg.Content))
	return msg.Content, nil
}

var statusCode = regexp.MustCompile(`status(?:\s+code)?\s*[:=]?\s*(\d{3})\b`)

// classifyMessage sorts chat model errors by their text; the eino adapters
// do not expose typed status codes. Only a number introduced as a status
// code counts, so token limits and request IDs never look like one.
func classifyMessage(err error) error {
	text := strings.ToLower(err.Error())

	if m := statusCode.FindStringSubmatch(text); m != nil {
		code, _ := strconv.Atoi(m[1])
		switch {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return ngerrors.Fatal(&ngerrors.AuthenticationError{Backend: BackendOpenAI, Err: err})
		case code == http.StatusTooManyRequests:
			return ngerrors.Transient(fmt.Errorf("%w: %v", ngerrors.ErrRateLimited, err))
		case code == http.StatusRequestTimeout || code >= 500:
			return ngerrors.Transient(err)
		case code >= 400:
			return ngerrors.Fatal(err)
		}
	}

	switch {
	case containsAny(text, "unauthorized", "invalid api key", "incorrect api key", "permission denied"):
		return ngerrors.Fatal(&ngerrors.AuthenticationError{Backend: BackendOpenAI, Err: err})
	case containsAny(text, "rate limit", "too many requests"):
		return ngerrors.Transient(fmt.Errorf("%w: %v", ngerrors.ErrRateLimited, err))
	case containsAny(text, "timeout", "deadline exceeded"):
		return ngerrors.Transient(fmt.Errorf("%w: %v", ngerrors.ErrTimeout, err))
	case containsAny(text, "invalid_request", "context_length_exceeded"):
		return ngerrors.Fatal(err)
	default:
		return ngerrors.Transient(err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
