package agent

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
)

// Client is the capability contract every LLM backend satisfies. The
// generation core depends on nothing else.
//
// Initialize prepares the backend and returns an AuthenticationError when
// credentials are missing or rejected. Generate returns the raw model text,
// a TransientGenerationError for failures worth repeating or a
// FatalGenerationError for failures that are not.
type Client interface {
	Initialize(ctx context.Context) error
	Generate(ctx context.Context, prompt string) (string, error)
}

// Settings is the backend section of the configuration file (llm_config).
type Settings struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature *float64      `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// placeholderKeys are values sample configs ship with.
var placeholderKeys = []string{"your-api-key", "your-api-key-here", "changeme"}

func isPlaceholderKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return true
	}
	for _, p := range placeholderKeys {
		if key == p {
			return true
		}
	}
	return false
}

type options struct {
	timeout    time.Duration
	rpm        int
	burst      int
	logger     *slog.Logger
	httpClient *http.Client
	chatModel  model.BaseChatModel
}

func defaultOptions() options {
	return options{
		timeout: 120 * time.Second,
		rpm:     30,
		burst:   5,
	}
}

// Option configures a backend client.
type Option func(*options)

func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithRateLimit caps outgoing requests. A non-positive rate disables limiting.
func WithRateLimit(requestsPerMinute int, burst int) Option {
	return func(o *options) {
		o.rpm = requestsPerMinute
		o.burst = burst
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithHTTPClient replaces the transport used by the HTTP backends.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithChatModel injects a ready chat model into the eino backend instead of
// building one from Settings.
func WithChatModel(m model.BaseChatModel) Option {
	return func(o *options) {
		o.chatModel = m
	}
}
