package retrieval

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is a nearest-neighbour service. Higher scores are more similar.
type VectorIndex interface {
	Search(ctx context.Context, embedding []float32, k int) ([]domain.ScoredID, error)
}

// PassageLookup resolves text ids to passage text. Unknown ids are absent
// from the result.
type PassageLookup interface {
	Passages(ctx context.Context, ids []string) (map[string]string, error)
}

type VectorRetriever struct {
	embedder Embedder
	index    VectorIndex
	passages PassageLookup
	minScore float64
}

// NewVectorRetriever builds a retriever. Hits scoring below minScore are
// dropped. A minScore of 0 or less keeps everything, including negative
// inner-product and cosine scores.
func NewVectorRetriever(embedder Embedder, index VectorIndex, passages PassageLookup, minScore float64) *VectorRetriever {
	return &VectorRetriever{
		embedder: embedder,
		index:    index,
		passages: passages,
		minScore: minScore,
	}
}

// Search returns up to topK passages ordered by descending similarity.
func (r *VectorRetriever) Search(ctx context.Context, query string, topK int) ([]domain.RetrievalHit, error) {
	if topK < 1 {
		return nil, fmt.Errorf("top_k must be >= 1, got %d", topK)
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}

	scored, err := r.index.Search(ctx, embedding, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrVectorIndex, err)
	}

	kept := make([]domain.ScoredID, 0, len(scored))
	for _, s := range scored {
		if r.minScore <= 0 || s.Score >= r.minScore {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return []domain.RetrievalHit{}, nil
	}

	ids := make([]string, len(kept))
	for i, s := range kept {
		ids[i] = s.ID
	}
	texts, err := r.passages.Passages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: passage lookup: %w", ErrVectorIndex, err)
	}

	hits := make([]domain.RetrievalHit, 0, len(kept))
	for _, s := range kept {
		text, ok := texts[s.ID]
		if !ok {
			logger.Warn("vector hit has no passage text", zap.String("text_id", s.ID))
			continue
		}
		hits = append(hits, domain.RetrievalHit{
			Source:  domain.SourceVector,
			Ref:     s.ID,
			Score:   s.Score,
			Payload: text,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}
