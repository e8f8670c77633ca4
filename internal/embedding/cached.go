// Package embedding caches query embeddings in process and, optionally, in
// Redis so repeated questions skip the embedding backend.
package embedding

import (
	"context"
	"slices"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/internal/metrics"
	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
	"github.com/fjwyyds6668/ai-tourguide/pkg/utils"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Remote is a shared second-level cache.
type Remote interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32, ttl time.Duration) error
}

type Cached struct {
	next   Embedder
	model  string
	local  *gocache.Cache
	remote Remote
	ttl    time.Duration
}

// NewCached wraps next. remote may be nil. model namespaces the keys so a
// model change never serves stale vectors.
func NewCached(next Embedder, model string, ttl time.Duration, remote Remote) *Cached {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Cached{
		next:   next,
		model:  model,
		local:  gocache.New(ttl, 2*ttl),
		remote: remote,
		ttl:    ttl,
	}
}

// Embed returns a vector the caller owns; cached entries are never shared.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := utils.Fingerprint(c.model, text)

	if v, ok := c.local.Get(key); ok {
		metrics.CacheHits.WithLabelValues("embedding_local").Inc()
		return slices.Clone(v.([]float32)), nil
	}
	metrics.CacheMisses.WithLabelValues("embedding_local").Inc()

	if c.remote != nil {
		vec, ok, err := c.remote.GetEmbedding(ctx, key)
		switch {
		case err != nil:
			logger.Warn("embedding cache read failed", zap.Error(err))
		case ok:
			metrics.CacheHits.WithLabelValues("embedding_redis").Inc()
			c.local.Set(key, slices.Clone(vec), c.ttl)
			return vec, nil
		default:
			metrics.CacheMisses.WithLabelValues("embedding_redis").Inc()
		}
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.local.Set(key, slices.Clone(vec), c.ttl)
	if c.remote != nil {
		if err := c.remote.SetEmbedding(ctx, key, vec, c.ttl); err != nil {
			logger.Warn("embedding cache write failed", zap.Error(err))
		}
	}
	return vec, nil
}

// Len reports locally cached entries.
func (c *Cached) Len() int {
	return c.local.ItemCount()
}
