package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// CaptionCache memoises captions by image content. Failed captions are not cached.
type CaptionCache struct {
	next     Captioner
	cache    *cache.Cache
	logger   *zap.Logger
	onLookup func(hit bool)
}

// NewCaptionCache wraps next with a TTL cache; ttl <= 0 falls back to one hour
func NewCaptionCache(next Captioner, ttl time.Duration, logger *zap.Logger) *CaptionCache {
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &CaptionCache{
		next:   next,
		cache:  cache.New(ttl, 2*ttl),
		logger: logger,
	}
}

// OnLookup registers a callback invoked with the outcome of every cache lookup
func (c *CaptionCache) OnLookup(fn func(hit bool)) {
	c.onLookup = fn
}

func (c *CaptionCache) Caption(ctx context.Context, image []byte) (string, error) {
	sum := sha256.Sum256(image)
	key := hex.EncodeToString(sum[:])

	if cached, found := c.cache.Get(key); found {
		c.observe(true)
		c.logger.Debug("Caption cache hit", zap.String("sha256", key[:12]))
		return cached.(string), nil
	}
	c.observe(false)

	caption, err := c.next.Caption(ctx, image)
	if err != nil {
		return "", err
	}

	c.cache.SetDefault(key, caption)
	return caption, nil
}

// Len returns the number of cached captions, including expired ones not yet evicted
func (c *CaptionCache) Len() int {
	return c.cache.ItemCount()
}

func (c *CaptionCache) observe(hit bool) {
	if c.onLookup != nil {
		c.onLookup(hit)
	}
}
