package milvus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
	"github.com/fjwyyds6668/ai-tourguide/internal/metrics"
	"github.com/fjwyyds6668/ai-tourguide/pkg/circuitbreaker"
	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
)

const (
	fieldTextID    = "text_id"
	fieldEmbedding = "embedding"
)

type Options struct {
	Address        string
	APIKey         string
	CollectionName string
	VectorDim      int
	MetricType     string
	NList          int
	NProbe         int
}

// Client stores only text ids and embeddings; passage text lives in SQLite.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
	metric         entity.MetricType
	nlist          int
	nprobe         int
	cb             *circuitbreaker.Breaker
}

// Chunk is one row to index.
type Chunk struct {
	TextID    string
	Embedding []float32
}

func NewClient(ctx context.Context, opts Options) (*Client, error) {
	metric, err := ParseMetric(opts.MetricType)
	if err != nil {
		return nil, err
	}

	c, err := client.NewClient(ctx, client.Config{
		Address: opts.Address,
		APIKey:  opts.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("address", opts.Address),
		zap.String("collection", opts.CollectionName),
		zap.String("metric", string(metric)),
	)

	return &Client{
		client:         c,
		collectionName: opts.CollectionName,
		vectorDim:      opts.VectorDim,
		metric:         metric,
		nlist:          max(opts.NList, 1),
		nprobe:         max(opts.NProbe, 1),
		cb: circuitbreaker.New("milvus", circuitbreaker.Settings{
			MaxRequests:      2,
			Interval:         time.Minute,
			OpenTimeout:      20 * time.Second,
			FailureThreshold: 5,
			OnStateChange:    metrics.BreakerStateChanged,
			Logger:           logger.GetLogger(),
		}),
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

// EnsureCollection creates, indexes and loads the collection if missing.
func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		schema := &entity.Schema{
			CollectionName: m.collectionName,
			Description:    "Tour guide knowledge embeddings",
			Fields: []*entity.Field{
				{
					Name:       fieldTextID,
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{
						"max_length": "128",
					},
				},
				{
					Name:     fieldEmbedding,
					DataType: entity.FieldTypeFloatVector,
					TypeParams: map[string]string{
						"dim": strconv.Itoa(m.vectorDim),
					},
				},
			},
		}

		if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexIvfFlat(m.metric, m.nlist)
		if err != nil {
			return fmt.Errorf("failed to build index params: %w", err)
		}
		if err := m.client.CreateIndex(ctx, m.collectionName, fieldEmbedding, idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		logger.Info("Collection created", zap.String("collection", m.collectionName))
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

// Insert upserts by deleting existing ids first, since Milvus primary keys
// are not unique on insert.
func (m *Client) Insert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	for i, ch := range chunks {
		if len(ch.Embedding) != m.vectorDim {
			return fmt.Errorf("chunk %s has dimension %d, want %d", ch.TextID, len(ch.Embedding), m.vectorDim)
		}
		ids[i] = ch.TextID
		embeddings[i] = ch.Embedding
	}

	if err := m.Delete(ctx, ids); err != nil {
		return err
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar(fieldTextID, ids),
		entity.NewColumnFloatVector(fieldEmbedding, m.vectorDim, embeddings),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks inserted into vector DB", zap.Int("count", len(chunks)))
	return nil
}

func (m *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := m.client.Delete(ctx, m.collectionName, "", InExpr(fieldTextID, ids)); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// Search returns the k nearest text ids, best first. Scores are normalised so
// that higher is always more similar.
func (m *Client) Search(ctx context.Context, embedding []float32, k int) ([]domain.ScoredID, error) {
	sp, err := entity.NewIndexIvfFlatSearchParam(m.nprobe)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	var out []domain.ScoredID
	err = m.cb.Call(ctx, func(ctx context.Context) error {
		results, err := m.client.Search(
			ctx,
			m.collectionName,
			[]string{},
			"",
			[]string{fieldTextID},
			[]entity.Vector{entity.FloatVector(embedding)},
			fieldEmbedding,
			m.metric,
			k,
			sp,
		)
		if err != nil {
			return fmt.Errorf("failed to search: %w", err)
		}

		out = make([]domain.ScoredID, 0, k)
		for _, sr := range results {
			if sr.Err != nil {
				return fmt.Errorf("search result: %w", sr.Err)
			}
			for i := 0; i < sr.ResultCount; i++ {
				v, err := sr.IDs.Get(i)
				if err != nil {
					return fmt.Errorf("failed to read id %d: %w", i, err)
				}
				id, ok := v.(string)
				if !ok {
					return fmt.Errorf("unexpected id type %T", v)
				}
				out = append(out, domain.ScoredID{ID: id, Score: Similarity(m.metric, sr.Scores[i])})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Vector search completed", zap.Int("topK", k), zap.Int("results", len(out)))
	return out, nil
}

func ParseMetric(s string) (entity.MetricType, error) {
	switch strings.ToUpper(s) {
	case "", "L2":
		return entity.L2, nil
	case "IP":
		return entity.IP, nil
	case "COSINE":
		return entity.COSINE, nil
	default:
		return "", fmt.Errorf("unsupported metric type %q", s)
	}
}

// Similarity maps a raw distance to a higher-is-better score.
func Similarity(metric entity.MetricType, raw float32) float64 {
	if metric == entity.L2 {
		return 1 / (1 + float64(raw))
	}
	return float64(raw)
}

// InExpr builds a boolean expression matching field against ids.
func InExpr(field string, ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}
	return fmt.Sprintf("%s in [%s]", field, strings.Join(quoted, ","))
}
