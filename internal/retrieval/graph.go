package retrieval

import (
	"context"
	"fmt"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
)

// DefaultRelationCap bounds relations returned per Search call.
const DefaultRelationCap = 20

// GraphStore runs a bounded neighbourhood query around named entities.
// Results must be in a stable order for identical graph state.
type GraphStore interface {
	Relations(ctx context.Context, entities []string, depth, limit int) ([]domain.Relation, error)
}

type GraphRetriever struct {
	store       GraphStore
	relationCap int
}

func NewGraphRetriever(store GraphStore, relationCap int) *GraphRetriever {
	if relationCap < 1 {
		relationCap = DefaultRelationCap
	}
	return &GraphRetriever{store: store, relationCap: relationCap}
}

// Search returns relations within depth hops of the entities. Edges joining
// the same pair with the same type collapse regardless of direction. An empty
// entity list returns no hits without touching the store.
func (r *GraphRetriever) Search(ctx context.Context, entities []string, depth int) ([]domain.RetrievalHit, error) {
	if len(entities) == 0 {
		return []domain.RetrievalHit{}, nil
	}
	if depth < 1 {
		depth = 1
	}

	// Ask for headroom so reverse duplicates do not eat into the cap.
	relations, err := r.store.Relations(ctx, entities, depth, r.relationCap*2)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGraphUnavailable, err)
	}

	hits := make([]domain.RetrievalHit, 0, min(len(relations), r.relationCap))
	seen := make(map[string]bool, len(relations))
	for i := range relations {
		rel := relations[i]
		key := rel.UndirectedKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		hits = append(hits, domain.RetrievalHit{
			Source:   domain.SourceGraph,
			Ref:      rel.Key(),
			Payload:  rel.Render(),
			Relation: &rel,
		})
		if len(hits) == r.relationCap {
			break
		}
	}
	return hits, nil
}
