package builder

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
	"github.com/fjwyyds6668/ai-tourguide/internal/entity"
	"github.com/fjwyyds6668/ai-tourguide/internal/kg/neo4j"
	"github.com/fjwyyds6668/ai-tourguide/internal/storage/models"
	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
)

const (
	// Keyword fallbacks score 0.6 and stay out of the graph.
	defaultMinConfidence = 0.7
	maxMentionsPerChunk  = 10
)

type GraphWriter interface {
	LinkMentions(ctx context.Context, textID, docID string, mentions []neo4j.Mention) error
	RelateEntities(ctx context.Context, names []string, textID string) error
	MergeAttraction(ctx context.Context, a neo4j.AttractionNode) error
	LinkNearby(ctx context.Context) error
}

// Gazetteer receives entity names discovered while building.
type Gazetteer interface {
	Add(term string, typ domain.EntityType)
}

type Builder struct {
	graph         GraphWriter
	extractor     entity.Extractor
	gazetteer     Gazetteer
	minConfidence float64
}

// NewBuilder wires a builder. gazetteer may be nil.
func NewBuilder(graph GraphWriter, extractor entity.Extractor, gazetteer Gazetteer) *Builder {
	return &Builder{
		graph:         graph,
		extractor:     extractor,
		gazetteer:     gazetteer,
		minConfidence: defaultMinConfidence,
	}
}

type Result struct {
	Chunks   int
	Mentions int
}

// BuildFromChunks links each passage to the entities it mentions and relates
// entities that share a passage.
func (b *Builder) BuildFromChunks(ctx context.Context, docID string, chunks []domain.KnowledgeChunk) (Result, error) {
	var res Result
	for _, ch := range chunks {
		mentions := b.mentions(ch.Text)
		if len(mentions) == 0 {
			continue
		}

		if err := b.graph.LinkMentions(ctx, ch.TextID, docID, mentions); err != nil {
			return res, fmt.Errorf("chunk %s: %w", ch.TextID, err)
		}

		names := make([]string, len(mentions))
		for i, m := range mentions {
			names[i] = m.Name
			if b.gazetteer != nil {
				b.gazetteer.Add(m.Name, m.Type)
			}
		}
		if err := b.graph.RelateEntities(ctx, names, ch.TextID); err != nil {
			return res, fmt.Errorf("chunk %s: %w", ch.TextID, err)
		}

		res.Chunks++
		res.Mentions += len(mentions)
	}

	logger.Info("KG built from document",
		zap.String("doc_id", docID),
		zap.Int("linked_chunks", res.Chunks),
		zap.Int("mentions", res.Mentions),
	)
	return res, nil
}

func (b *Builder) mentions(text string) []neo4j.Mention {
	var out []neo4j.Mention
	for _, e := range b.extractor.Extract(text) {
		if e.Confidence < b.minConfidence {
			continue
		}
		out = append(out, neo4j.Mention{Name: e.Text, Type: e.Type, Confidence: e.Confidence})
		if len(out) == maxMentionsPerChunk {
			break
		}
	}
	return out
}

// BuildAttractions writes one cluster per attraction and then joins
// attractions sharing a category. textIDs maps attraction id to the id of
// its indexed passage.
func (b *Builder) BuildAttractions(ctx context.Context, attractions []models.Attraction, textIDs map[int64]string) error {
	for _, a := range attractions {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			continue
		}
		locations := ParseLocations(a.Location)
		node := neo4j.AttractionNode{
			Name:        name,
			Category:    strings.TrimSpace(a.Category),
			Locations:   locations,
			Description: a.Description,
			TextID:      textIDs[a.ID],
		}
		if err := b.graph.MergeAttraction(ctx, node); err != nil {
			return err
		}

		if b.gazetteer != nil {
			b.gazetteer.Add(name, domain.EntityLocation)
			for _, l := range locations {
				b.gazetteer.Add(l, domain.EntityLocation)
			}
		}
	}

	if err := b.graph.LinkNearby(ctx); err != nil {
		return err
	}

	logger.Info("Attraction graph built", zap.Int("attractions", len(attractions)))
	return nil
}

var (
	locationSeparators = strings.NewReplacer(
		"，", " ", "、", " ", ",", " ", "/", " ", "-", " ", "—", " ", "·", " ",
	)
	adminSuffixes = []string{"省", "市", "县", "区", "旗", "州"}
)

// ParseLocations splits a free-form location into administrative divisions,
// coarsest first. A location with no recognisable division is kept whole.
func ParseLocations(location string) []string {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Fields(locationSeparators.Replace(location)) {
		for _, suffix := range adminSuffixes {
			if strings.HasSuffix(part, suffix) {
				out = append(out, part)
				break
			}
		}
	}
	if len(out) == 0 {
		return []string{location}
	}
	return out
}
