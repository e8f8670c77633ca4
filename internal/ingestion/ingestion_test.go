package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
	"github.com/fjwyyds6668/ai-tourguide/internal/kg/builder"
	"github.com/fjwyyds6668/ai-tourguide/internal/storage/models"
	"github.com/fjwyyds6668/ai-tourguide/internal/storage/sqlite"
	"github.com/fjwyyds6668/ai-tourguide/internal/vector/milvus"
)

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

type fakeVectors struct {
	rows    map[string][]float32
	deleted []string
}

func (f *fakeVectors) Insert(_ context.Context, chunks []milvus.Chunk) error {
	for _, c := range chunks {
		f.rows[c.TextID] = c.Embedding
	}
	return nil
}

func (f *fakeVectors) Delete(_ context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	for _, id := range ids {
		delete(f.rows, id)
	}
	return nil
}

type fakeCache struct{ data map[string]string }

func (f *fakeCache) SetPassages(_ context.Context, texts map[string]string, _ time.Duration) error {
	for k, v := range texts {
		f.data[k] = v
	}
	return nil
}

func (f *fakeCache) DeletePassages(_ context.Context, ids []string) error {
	for _, id := range ids {
		delete(f.data, id)
	}
	return nil
}

type fakeGraph struct {
	docs        []string
	attractions map[int64]string
	deleted     []string
}

func (f *fakeGraph) BuildFromChunks(_ context.Context, docID string, chunks []domain.KnowledgeChunk) (builder.Result, error) {
	f.docs = append(f.docs, docID)
	return builder.Result{Chunks: len(chunks), Mentions: 1}, nil
}

func (f *fakeGraph) BuildAttractions(_ context.Context, _ []models.Attraction, textIDs map[int64]string) error {
	f.attractions = textIDs
	return nil
}

func (f *fakeGraph) DeleteTexts(_ context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

type fixture struct {
	proc    *Processor
	db      *sqlite.Client
	vectors *fakeVectors
	cache   *fakeCache
	graph   *fakeGraph
}

func newFixture(t *testing.T, embedder BatchEmbedder) *fixture {
	t.Helper()
	db, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		db:      db,
		vectors: &fakeVectors{rows: map[string][]float32{}},
		cache:   &fakeCache{data: map[string]string{}},
		graph:   &fakeGraph{},
	}
	f.proc = NewProcessor(embedder, f.vectors, db, f.cache, f.graph, f.graph, Options{
		ChunkSize:    20,
		ChunkOverlap: 5,
		PassageTTL:   time.Minute,
	})
	return f
}

func TestProcessPlainText(t *testing.T) {
	f := newFixture(t, fakeEmbedder{})
	ctx := context.Background()

	res, err := f.proc.Process(ctx, Document{
		ID:      "gugong",
		Content: "故宫是明清两代的皇家宫殿，旧称紫禁城。它位于北京中轴线的中心。是世界上现存规模最大的木质结构古建筑之一。",
	})
	require.NoError(t, err)
	assert.Equal(t, "gugong", res.DocID)
	assert.Greater(t, res.Chunks, 1)
	assert.Equal(t, 1, res.Mentions)

	ids, err := f.db.ChunkIDs(ctx, "gugong")
	require.NoError(t, err)
	assert.Len(t, ids, res.Chunks)
	assert.Equal(t, "gugong_chunk_0", ids[0])
	for _, id := range ids {
		assert.Contains(t, f.vectors.rows, id)
		assert.Contains(t, f.cache.data, id)
	}
	assert.Equal(t, []string{"gugong"}, f.graph.docs)
}

func TestProcessHTML(t *testing.T) {
	f := newFixture(t, fakeEmbedder{})
	res, err := f.proc.Process(context.Background(), Document{
		Content: `<html><head><title>天坛</title><script>var x=1;</script></head>
			<body><nav>菜单</nav><p>天坛是明清两代皇帝祭天的地方。</p></body></html>`,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.DocID)

	texts, err := f.db.ChunkTexts(context.Background(), []string{res.DocID + "_chunk_0"})
	require.NoError(t, err)
	text := texts[res.DocID+"_chunk_0"]
	assert.Contains(t, text, "天坛")
	assert.NotContains(t, text, "菜单")
	assert.NotContains(t, text, "var x")
}

func TestProcessEmptyDocument(t *testing.T) {
	f := newFixture(t, fakeEmbedder{})
	_, err := f.proc.Process(context.Background(), Document{Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestProcessEmbeddingFailureWritesNothing(t *testing.T) {
	f := newFixture(t, fakeEmbedder{err: errors.New("rate limited")})
	_, err := f.proc.Process(context.Background(), Document{ID: "d", Content: "颐和园是皇家园林。"})
	require.Error(t, err)

	ids, err := f.db.ChunkIDs(context.Background(), "d")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, f.vectors.rows)
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t, fakeEmbedder{})
	ctx := context.Background()
	res, err := f.proc.Process(ctx, Document{ID: "d", Content: "颐和园是清代皇家园林，以昆明湖和万寿山为基址。"})
	require.NoError(t, err)

	require.NoError(t, f.proc.Delete(ctx, "d"))
	assert.Empty(t, f.vectors.rows)
	assert.Empty(t, f.cache.data)
	assert.Len(t, f.graph.deleted, res.Chunks)

	assert.ErrorIs(t, f.proc.Delete(ctx, "d"), sqlite.ErrNotFound)
}

func TestProcessReingestReplacesChunks(t *testing.T) {
	f := newFixture(t, fakeEmbedder{})
	ctx := context.Background()

	first, err := f.proc.Process(ctx, Document{
		ID:      "d",
		Content: strings.Repeat("故宫是明清两代的皇家宫殿。", 8),
	})
	require.NoError(t, err)
	require.Greater(t, first.Chunks, 1)
	old, err := f.db.ChunkIDs(ctx, "d")
	require.NoError(t, err)

	second, err := f.proc.Process(ctx, Document{ID: "d", Content: "天坛是祭天的地方。"})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Chunks)

	ids, err := f.db.ChunkIDs(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, []string{"d_chunk_0"}, ids)
	assert.Len(t, f.vectors.rows, 1)
	assert.Equal(t, map[string]string{"d_chunk_0": "天坛是祭天的地方。"}, f.cache.data)
	assert.ElementsMatch(t, old, f.vectors.deleted)
	assert.ElementsMatch(t, old, f.graph.deleted)
}

func TestImportAttractionsFailsWhenStaleChunksUnknown(t *testing.T) {
	f := newFixture(t, fakeEmbedder{})
	require.NoError(t, f.db.Close())

	_, err := f.proc.ImportAttractions(context.Background(), []models.Attraction{{ID: 1, Name: "故宫"}})
	require.Error(t, err)
	assert.Empty(t, f.vectors.rows)
	assert.Nil(t, f.graph.attractions)
}

func TestImportAttractions(t *testing.T) {
	f := newFixture(t, fakeEmbedder{})
	ctx := context.Background()

	lat, lng := 39.9163, 116.3972
	res, err := f.proc.ImportAttractions(ctx, []models.Attraction{
		{ID: 1, Name: "故宫", Category: "历史古迹", Location: "北京市", Latitude: &lat, Longitude: &lng},
		{ID: 2, Name: "天坛", Category: "历史古迹"},
		{ID: 3, Name: ""},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, map[int64]string{1: "attraction_1", 2: "attraction_2"}, f.graph.attractions)

	texts, err := f.db.ChunkTexts(ctx, []string{"attraction_1"})
	require.NoError(t, err)
	assert.Equal(t, "景点：故宫\n类别：历史古迹\n位置：北京市\n坐标：39.916300, 116.397200", texts["attraction_1"])

	// Re-import drops attractions that disappeared.
	_, err = f.proc.ImportAttractions(ctx, []models.Attraction{{ID: 1, Name: "故宫"}})
	require.NoError(t, err)
	assert.NotContains(t, f.vectors.rows, "attraction_2")
	ids, err := f.db.ChunkIDs(ctx, AttractionsDocID)
	require.NoError(t, err)
	assert.Equal(t, []string{"attraction_1"}, ids)
}

func TestChunkText(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, ChunkText("  ", 10, 2))
	})

	t.Run("short text is one chunk", func(t *testing.T) {
		assert.Equal(t, []string{"故宫很大。"}, ChunkText("故宫很大。", 10, 2))
	})

	t.Run("bounded with overlap", func(t *testing.T) {
		text := strings.Repeat("长城", 50)
		chunks := ChunkText(text, 30, 10)
		require.Greater(t, len(chunks), 1)
		for _, c := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(c), 30)
		}
		first, second := []rune(chunks[0]), []rune(chunks[1])
		assert.Equal(t, string(first[len(first)-10:]), string(second[:10]))
	})

	t.Run("prefers sentence boundary", func(t *testing.T) {
		chunks := ChunkText("第一句话说的是故宫。第二句话说的是天坛和颐和园的故事", 16, 0)
		require.NotEmpty(t, chunks)
		assert.Equal(t, "第一句话说的是故宫。", chunks[0])
	})

	t.Run("overlap not smaller than size is ignored", func(t *testing.T) {
		chunks := ChunkText(strings.Repeat("a", 25), 10, 10)
		assert.Len(t, chunks, 3)
	})
}

func TestAttractionTextMinimal(t *testing.T) {
	assert.Equal(t, "景点：西湖", AttractionText(models.Attraction{Name: "西湖"}))
}

type recordingProcessor struct{ docs chan Document }

func (r *recordingProcessor) Process(_ context.Context, doc Document) (*Result, error) {
	r.docs <- doc
	return &Result{DocID: doc.ID}, nil
}

func TestQueueRoundTrip(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	proc := &recordingProcessor{docs: make(chan Document, 1)}
	q := NewQueue(pubSub, pubSub, "knowledge.upload", proc)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, q.Consume(ctx))

	id, err := q.Enqueue(ctx, Document{Title: "故宫", Content: "故宫"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case doc := <-proc.docs:
		assert.Equal(t, id, doc.ID)
		assert.Equal(t, "故宫", doc.Title)
	case <-time.After(2 * time.Second):
		t.Fatal("document was not consumed")
	}
}
