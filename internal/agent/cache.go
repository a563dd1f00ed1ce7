package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vampirenirmal/novelgen/internal/storage"
	"github.com/vampirenirmal/novelgen/pkg/metrics"
)

type ResponseCache struct {
	storage storage.Storage
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

type CachedResponse struct {
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// NewResponseCache keeps responses under cache/responses in store. A zero
// ttl means entries never expire.
func NewResponseCache(store storage.Storage, ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		storage: store,
		ttl:     ttl,
		now:     time.Now,
		logger:  slog.Default().With("component", "response_cache"),
	}
}

func (c *ResponseCache) Get(ctx context.Context, key string) (string, bool) {
	path := c.path(key)

	data, err := c.storage.Load(ctx, path)
	if err != nil {
		return "", false
	}

	var cached CachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		c.logger.Error("cache miss - invalid data",
			"path", path,
			"error", err)
		return "", false
	}

	age := c.now().Sub(cached.Timestamp)
	if c.ttl > 0 && age > c.ttl {
		c.logger.Debug("cache miss - expired",
			"path", path,
			"age", age,
			"ttl", c.ttl)
		return "", false
	}

	c.logger.Debug("cache hit",
		"path", path,
		"age", age,
		"response_length", len(cached.Response))
	return cached.Response, true
}

func (c *ResponseCache) Set(ctx context.Context, key, response string) error {
	data, err := json.Marshal(CachedResponse{
		Response:  response,
		Timestamp: c.now(),
	})
	if err != nil {
		return fmt.Errorf("marshaling cached response: %w", err)
	}

	if err := c.storage.Save(ctx, c.path(key), data); err != nil {
		return fmt.Errorf("saving cached response: %w", err)
	}
	return nil
}

func (c *ResponseCache) path(key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("cache/responses/%s.json", hex.EncodeToString(hash[:]))
}

// CachedClient replays earlier answers for identical prompts. Only successful
// responses are stored.
type CachedClient struct {
	Client
	cache     *ResponseCache
	namespace string
	logger    *slog.Logger
}

// WithCache decorates client. namespace separates entries of different
// backends or models sharing one cache directory.
func WithCache(client Client, cache *ResponseCache, namespace string) *CachedClient {
	return &CachedClient{
		Client:    client,
		cache:     cache,
		namespace: namespace,
		logger:    slog.Default().With("component", "cached_client"),
	}
}

func (c *CachedClient) Generate(ctx context.Context, prompt string) (string, error) {
	key := c.namespace + "\x00" + prompt

	if response, found := c.cache.Get(ctx, key); found {
		metrics.LLMCacheHitsTotal.Inc()
		c.logger.Info("serving from cache",
			"prompt_length", len(prompt),
			"response_length", len(response))
		return response, nil
	}

	response, err := c.Client.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}

	if cacheErr := c.cache.Set(ctx, key, response); cacheErr != nil {
		c.logger.Warn("failed to cache response",
			"error", cacheErr)
	}
	return response, nil
}
