// Package knowledge resolves vector hit ids to passage text.
package knowledge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/internal/metrics"
	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
)

// Cache is a fast, lossy passage store.
type Cache interface {
	GetPassages(ctx context.Context, ids []string) (map[string]string, error)
	SetPassages(ctx context.Context, texts map[string]string, ttl time.Duration) error
}

// Store is the durable passage store.
type Store interface {
	ChunkTexts(ctx context.Context, ids []string) (map[string]string, error)
}

// Lookup reads through the cache to the store and backfills what it found.
type Lookup struct {
	cache Cache
	store Store
	ttl   time.Duration
}

// NewLookup builds a read-through lookup. cache may be nil.
func NewLookup(cache Cache, store Store, ttl time.Duration) *Lookup {
	return &Lookup{cache: cache, store: store, ttl: ttl}
}

func (l *Lookup) Passages(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	missing := ids

	if l.cache != nil {
		cached, err := l.cache.GetPassages(ctx, ids)
		if err != nil {
			// Cache outages fall through to the store.
			logger.Warn("passage cache read failed", zap.Error(err))
		} else {
			missing = make([]string, 0, len(ids))
			for _, id := range ids {
				if text, ok := cached[id]; ok {
					out[id] = text
				} else {
					missing = append(missing, id)
				}
			}
		}
	}
	metrics.CacheHits.WithLabelValues("passage").Add(float64(len(out)))
	if len(missing) == 0 {
		return out, nil
	}
	metrics.CacheMisses.WithLabelValues("passage").Add(float64(len(missing)))

	found, err := l.store.ChunkTexts(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, text := range found {
		out[id] = text
	}

	if l.cache != nil && len(found) > 0 {
		if err := l.cache.SetPassages(ctx, found, l.ttl); err != nil {
			logger.Warn("passage cache backfill failed", zap.Error(err))
		}
	}
	return out, nil
}
