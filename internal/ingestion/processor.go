package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
	"github.com/fjwyyds6668/ai-tourguide/internal/kg/builder"
	"github.com/fjwyyds6668/ai-tourguide/internal/metrics"
	"github.com/fjwyyds6668/ai-tourguide/internal/storage/models"
	"github.com/fjwyyds6668/ai-tourguide/internal/vector/milvus"
	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
	"github.com/fjwyyds6668/ai-tourguide/pkg/utils"
)

// AttractionsDocID groups all attraction passages under one document.
const AttractionsDocID = "attractions"

var ErrEmptyDocument = errors.New("document has no text")

type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorStore interface {
	Insert(ctx context.Context, chunks []milvus.Chunk) error
	Delete(ctx context.Context, ids []string) error
}

type ChunkStore interface {
	SaveDocument(ctx context.Context, doc *models.KnowledgeDocument, chunks []models.KnowledgeChunk) error
	ChunkIDs(ctx context.Context, docID string) ([]string, error)
	DeleteDocument(ctx context.Context, docID string) error
}

type PassageCache interface {
	SetPassages(ctx context.Context, texts map[string]string, ttl time.Duration) error
	DeletePassages(ctx context.Context, ids []string) error
}

type GraphBuilder interface {
	BuildFromChunks(ctx context.Context, docID string, chunks []domain.KnowledgeChunk) (builder.Result, error)
	BuildAttractions(ctx context.Context, attractions []models.Attraction, textIDs map[int64]string) error
}

type GraphCleaner interface {
	DeleteTexts(ctx context.Context, textIDs []string) error
}

// Document is an ingestion request.
type Document struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Source      string         `json:"source"`
	Content     string         `json:"content"`
	ContentType string         `json:"content_type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type Result struct {
	DocID    string `json:"doc_id"`
	Chunks   int    `json:"chunks"`
	Mentions int    `json:"mentions"`
}

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	PassageTTL   time.Duration
}

type Processor struct {
	embedder     BatchEmbedder
	vectors      VectorStore
	chunks       ChunkStore
	cache        PassageCache
	graph        GraphBuilder
	graphCleaner GraphCleaner
	opts         Options
}

// NewProcessor wires the ingestion pipeline. cache, graph and graphCleaner
// may be nil.
func NewProcessor(embedder BatchEmbedder, vectors VectorStore, chunks ChunkStore, cache PassageCache, graph GraphBuilder, graphCleaner GraphCleaner, opts Options) *Processor {
	if opts.ChunkSize < 1 {
		opts.ChunkSize = 500
	}
	return &Processor{
		embedder:     embedder,
		vectors:      vectors,
		chunks:       chunks,
		cache:        cache,
		graph:        graph,
		graphCleaner: graphCleaner,
		opts:         opts,
	}
}

// Process cleans, chunks, embeds and indexes a document. Graph linking and
// cache warming are best effort; the document is searchable once the vector
// and relational writes succeed.
func (p *Processor) Process(ctx context.Context, doc Document) (*Result, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}

	text := doc.Content
	if doc.ContentType == "text/html" || (doc.ContentType == "" && LooksLikeHTML(text)) {
		title, cleaned, err := CleanHTML(text)
		if err != nil {
			return nil, err
		}
		if doc.Title == "" {
			doc.Title = title
		}
		text = cleaned
		doc.ContentType = "text/html"
	} else {
		text = NormalizeText(text)
		if doc.ContentType == "" {
			doc.ContentType = "text/plain"
		}
	}
	if doc.Title == "" {
		doc.Title = "Untitled"
	}

	pieces := ChunkText(text, p.opts.ChunkSize, p.opts.ChunkOverlap)
	if len(pieces) == 0 {
		return nil, ErrEmptyDocument
	}
	logger.Info("Document chunked", zap.String("doc_id", doc.ID), zap.Int("chunks", len(pieces)))

	chunks := make([]domain.KnowledgeChunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = domain.KnowledgeChunk{
			TextID:   utils.ChunkID(doc.ID, i),
			Text:     piece,
			Metadata: chunkMetadata(doc, i),
		}
	}

	if err := p.index(ctx, &models.KnowledgeDocument{
		ID:          doc.ID,
		Title:       doc.Title,
		Source:      doc.Source,
		ContentType: doc.ContentType,
		CreatedAt:   time.Now(),
	}, chunks); err != nil {
		return nil, err
	}

	res := &Result{DocID: doc.ID, Chunks: len(chunks)}
	if p.graph != nil {
		built, err := p.graph.BuildFromChunks(ctx, doc.ID, chunks)
		if err != nil {
			logger.Warn("Failed to link document into graph", zap.String("doc_id", doc.ID), zap.Error(err))
		}
		res.Mentions = built.Mentions
	}

	logger.Info("Document processed successfully",
		zap.String("doc_id", doc.ID),
		zap.Int("chunks", res.Chunks),
		zap.Int("mentions", res.Mentions),
	)
	return res, nil
}

// ImportAttractions indexes one passage per attraction and rebuilds the
// attraction graph.
func (p *Processor) ImportAttractions(ctx context.Context, attractions []models.Attraction) (*Result, error) {
	chunks := make([]domain.KnowledgeChunk, 0, len(attractions))
	textIDs := make(map[int64]string, len(attractions))
	for _, a := range attractions {
		if strings.TrimSpace(a.Name) == "" {
			continue
		}
		id := AttractionTextID(a.ID)
		textIDs[a.ID] = id
		chunks = append(chunks, domain.KnowledgeChunk{
			TextID: id,
			Text:   AttractionText(a),
			Metadata: map[string]any{
				"attraction_id": a.ID,
				"name":          a.Name,
				"category":      a.Category,
			},
		})
	}
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}

	if err := p.index(ctx, &models.KnowledgeDocument{
		ID:          AttractionsDocID,
		Title:       "景点资料",
		Source:      "attractions",
		ContentType: "text/plain",
		CreatedAt:   time.Now(),
	}, chunks); err != nil {
		return nil, err
	}

	if p.graph != nil {
		if err := p.graph.BuildAttractions(ctx, attractions, textIDs); err != nil {
			return nil, fmt.Errorf("failed to build attraction graph: %w", err)
		}
	}

	logger.Info("Attractions imported", zap.Int("count", len(chunks)))
	return &Result{DocID: AttractionsDocID, Chunks: len(chunks)}, nil
}

func (p *Processor) index(ctx context.Context, doc *models.KnowledgeDocument, chunks []domain.KnowledgeChunk) error {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		metrics.ChunksIngested.WithLabelValues("failed").Add(float64(len(chunks)))
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks))
	}

	// Re-indexing replaces the document wholesale. Vector inserts do not
	// overwrite existing ids.
	if err := p.purge(ctx, doc.ID); err != nil {
		metrics.ChunksIngested.WithLabelValues("failed").Add(float64(len(chunks)))
		return err
	}

	vectorChunks := make([]milvus.Chunk, len(chunks))
	rows := make([]models.KnowledgeChunk, len(chunks))
	passages := make(map[string]string, len(chunks))
	for i, ch := range chunks {
		vectorChunks[i] = milvus.Chunk{TextID: ch.TextID, Embedding: embeddings[i]}
		rows[i] = models.KnowledgeChunk{
			TextID:     ch.TextID,
			DocID:      doc.ID,
			ChunkIndex: i,
			Text:       ch.Text,
			Metadata:   ch.Metadata,
			CreatedAt:  doc.CreatedAt,
		}
		passages[ch.TextID] = ch.Text
	}

	// Relational rows first: a vector hit without text is skipped at query
	// time, a row without a vector is merely unreachable.
	if err := p.chunks.SaveDocument(ctx, doc, rows); err != nil {
		metrics.ChunksIngested.WithLabelValues("failed").Add(float64(len(chunks)))
		return err
	}
	if err := p.vectors.Insert(ctx, vectorChunks); err != nil {
		metrics.ChunksIngested.WithLabelValues("failed").Add(float64(len(chunks)))
		return fmt.Errorf("failed to insert into vector DB: %w", err)
	}
	metrics.ChunksIngested.WithLabelValues("indexed").Add(float64(len(chunks)))

	if p.cache != nil {
		if err := p.cache.SetPassages(ctx, passages, p.opts.PassageTTL); err != nil {
			logger.Warn("Failed to warm passage cache", zap.Error(err))
		}
	}
	return nil
}

// Delete removes a document from every store.
func (p *Processor) Delete(ctx context.Context, docID string) error {
	ids, err := p.chunks.ChunkIDs(ctx, docID)
	if err != nil {
		return err
	}

	if err := p.vectors.Delete(ctx, ids); err != nil {
		return err
	}
	if err := p.chunks.DeleteDocument(ctx, docID); err != nil {
		return err
	}

	p.forget(ctx, docID, ids)

	logger.Info("Document deleted", zap.String("doc_id", docID), zap.Int("chunks", len(ids)))
	return nil
}

// purge drops the chunks currently indexed for docID from the vector index,
// the passage cache and the graph. Relational rows are replaced by the
// following SaveDocument.
func (p *Processor) purge(ctx context.Context, docID string) error {
	ids, err := p.chunks.ChunkIDs(ctx, docID)
	if err != nil {
		return fmt.Errorf("failed to list existing chunks of %s: %w", docID, err)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := p.vectors.Delete(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete stale vectors: %w", err)
	}
	p.forget(ctx, docID, ids)
	logger.Debug("Stale chunks purged", zap.String("doc_id", docID), zap.Int("chunks", len(ids)))
	return nil
}

// forget removes passages from the best-effort stores.
func (p *Processor) forget(ctx context.Context, docID string, ids []string) {
	if p.cache != nil {
		if err := p.cache.DeletePassages(ctx, ids); err != nil {
			logger.Warn("Failed to invalidate passage cache", zap.String("doc_id", docID), zap.Error(err))
		}
	}
	if p.graphCleaner != nil {
		if err := p.graphCleaner.DeleteTexts(ctx, ids); err != nil {
			logger.Warn("Failed to remove document from graph", zap.String("doc_id", docID), zap.Error(err))
		}
	}
}

func chunkMetadata(doc Document, index int) map[string]any {
	meta := make(map[string]any, len(doc.Metadata)+3)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta["doc_id"] = doc.ID
	meta["title"] = doc.Title
	meta["chunk_index"] = index
	return meta
}
