package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/simon020286/go-promptchain/cache"
	"go.uber.org/zap"
)

type cacheKey struct {
	Provider    string  `json:"provider"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
	Prompt      string  `json:"prompt"`
}

// CacheKey is the SHA-256 of the fields that determine a completion
func CacheKey(req Request) string {
	b, _ := json.Marshal(cacheKey{
		Provider:    req.Config.Provider,
		Temperature: req.Config.Temperature,
		MaxTokens:   req.Config.MaxTokens,
		Prompt:      req.Prompt,
	})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Cached serves repeated requests from a cache.Store. A hit costs nothing
// and is delivered to the stream as a single chunk.
type Cached struct {
	next   Predictor
	store  cache.Store
	logger *zap.Logger
}

// WithCache wraps next with a response cache
func WithCache(next Predictor, store cache.Store, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{next: next, store: store, logger: logger}
}

func (c *Cached) Predict(ctx context.Context, req Request, stream StreamFunc) (Prediction, error) {
	key := CacheKey(req)

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
	}
	if ok {
		var hit Prediction
		if err := json.Unmarshal([]byte(raw), &hit); err == nil {
			hit.Cost = 0
			hit.Cached = true
			if stream != nil && hit.Output != "" {
				stream(hit.Output)
			}
			c.logger.Debug("cache hit", zap.String("key", key))
			return hit, nil
		}
		c.logger.Warn("discarding malformed cache entry", zap.String("key", key))
	}

	p, err := c.next.Predict(ctx, req, stream)
	if err != nil || p.Failed || p.Output == "" {
		return p, err
	}

	b, err := json.Marshal(p)
	if err == nil {
		err = c.store.Set(ctx, key, string(b))
	}
	if err != nil {
		c.logger.Warn("cache store failed", zap.String("key", key), zap.Error(err))
	}
	return p, nil
}
