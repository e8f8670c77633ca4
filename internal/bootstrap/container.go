// Package bootstrap opens the backends shared by the API server and the
// importer and wires the ingestion pipeline on top of them.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	rediscache "github.com/fjwyyds6668/ai-tourguide/internal/cache/redis"
	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
	"github.com/fjwyyds6668/ai-tourguide/internal/entity"
	"github.com/fjwyyds6668/ai-tourguide/internal/ingestion"
	"github.com/fjwyyds6668/ai-tourguide/internal/kg/builder"
	"github.com/fjwyyds6668/ai-tourguide/internal/kg/neo4j"
	"github.com/fjwyyds6668/ai-tourguide/internal/llm"
	"github.com/fjwyyds6668/ai-tourguide/internal/storage/sqlite"
	"github.com/fjwyyds6668/ai-tourguide/internal/vector/milvus"
	"github.com/fjwyyds6668/ai-tourguide/pkg/config"
	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
)

type Container struct {
	Config *config.Config

	// Storage
	SQLite *sqlite.Client
	Neo4j  *neo4j.Client
	Milvus *milvus.Client
	Redis  *rediscache.Client // nil when disabled

	LLM *llm.Client

	// Entity extraction; Dictionary grows as documents are ingested.
	Dictionary *entity.Dictionary
	Extractor  entity.Extractor

	Processor  *ingestion.Processor
	PassageTTL time.Duration

	closers []func()
}

func NewContainer(ctx context.Context, cfg *config.Config) (_ *Container, err error) {
	c := &Container{
		Config:     cfg,
		PassageTTL: time.Duration(cfg.Cache.PassageTTLSeconds) * time.Second,
	}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.SQLite, err = sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite client: %w", err)
	}
	c.onClose(func() { _ = c.SQLite.Close() })
	if err = c.SQLite.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	c.Neo4j, err = neo4j.NewClient(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j client: %w", err)
	}
	c.onClose(func() { _ = c.Neo4j.Close(context.Background()) })
	if cerr := c.Neo4j.EnsureConstraints(ctx); cerr != nil {
		logger.Warn("Failed to ensure graph constraints", zap.Error(cerr))
	}

	c.Milvus, err = milvus.NewClient(ctx, milvus.Options{
		Address:        cfg.Milvus.Address,
		APIKey:         cfg.Milvus.APIKey,
		CollectionName: cfg.Milvus.CollectionName,
		VectorDim:      cfg.Milvus.VectorDim,
		MetricType:     cfg.Milvus.MetricType,
		NList:          cfg.Milvus.NList,
		NProbe:         cfg.Milvus.NProbe,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Milvus client: %w", err)
	}
	c.onClose(func() { _ = c.Milvus.Close() })
	if err = c.Milvus.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare collection: %w", err)
	}

	if cfg.Redis.Enabled {
		c.Redis, err = rediscache.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis client: %w", err)
		}
		c.onClose(func() { _ = c.Redis.Close() })
	}

	c.LLM = llm.NewClient(llm.Options{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})

	c.Dictionary = entity.NewDictionary(nil)
	c.Dictionary.Replace(c.gazetteer(ctx))
	logger.Info("Entity gazetteer loaded", zap.Int("terms", c.Dictionary.Len()))
	c.Extractor = entity.Combine(c.Dictionary, entity.NewProse())

	// An untyped nil keeps the processor from calling a disabled cache.
	var passageCache ingestion.PassageCache
	if c.Redis != nil {
		passageCache = c.Redis
	}
	c.Processor = ingestion.NewProcessor(
		c.LLM,
		c.Milvus,
		c.SQLite,
		passageCache,
		builder.NewBuilder(c.Neo4j, c.Extractor, c.Dictionary),
		c.Neo4j,
		ingestion.Options{
			ChunkSize:    cfg.Ingestion.ChunkSize,
			ChunkOverlap: cfg.Ingestion.ChunkOverlap,
			PassageTTL:   c.PassageTTL,
		},
	)

	return c, nil
}

// gazetteer merges graph entity names with attraction names. Either source
// may be empty or unavailable at startup.
func (c *Container) gazetteer(ctx context.Context) map[string]domain.EntityType {
	names, err := c.Neo4j.EntityNames(ctx)
	if err != nil {
		logger.Warn("Failed to load graph entity names", zap.Error(err))
		names = map[string]domain.EntityType{}
	}

	attractions, err := c.SQLite.AttractionNames(ctx)
	if err != nil {
		logger.Warn("Failed to load attraction names", zap.Error(err))
	}
	for _, n := range attractions {
		if _, ok := names[n]; !ok {
			names[n] = domain.EntityLocation
		}
	}
	return names
}

func (c *Container) onClose(fn func()) {
	c.closers = append(c.closers, fn)
}

// Close releases backends in reverse order of opening.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
