package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjwyyds6668/ai-tourguide/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(":memory:")
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDocumentLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	now := time.Now()

	doc := &models.KnowledgeDocument{ID: "doc1", Title: "故宫", Source: "upload", CreatedAt: now}
	chunks := []models.KnowledgeChunk{
		{TextID: "doc1_chunk_0", DocID: "doc1", ChunkIndex: 0, Text: "故宫是明清两代的皇家宫殿。", CreatedAt: now},
		{TextID: "doc1_chunk_1", DocID: "doc1", ChunkIndex: 1, Text: "旧称紫禁城。", Metadata: map[string]any{"page": 2}, CreatedAt: now},
	}
	require.NoError(t, c.SaveDocument(ctx, doc, chunks))

	ids, err := c.ChunkIDs(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1_chunk_0", "doc1_chunk_1"}, ids)

	texts, err := c.ChunkTexts(ctx, []string{"doc1_chunk_1", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"doc1_chunk_1": "旧称紫禁城。"}, texts)

	// Re-saving replaces the chunk set.
	require.NoError(t, c.SaveDocument(ctx, doc, chunks[:1]))
	ids, err = c.ChunkIDs(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1_chunk_0"}, ids)

	require.NoError(t, c.DeleteDocument(ctx, "doc1"))
	ids, err = c.ChunkIDs(ctx, "doc1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	assert.ErrorIs(t, c.DeleteDocument(ctx, "doc1"), ErrNotFound)
}

func TestChunkTextsEmpty(t *testing.T) {
	c := newTestClient(t)
	texts, err := c.ChunkTexts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, texts)
}

func TestAttractions(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	lat, lng := 39.9163, 116.3972
	id, err := c.InsertAttraction(ctx, &models.Attraction{
		Name: "故宫", Location: "北京", Category: "历史古迹", Latitude: &lat, Longitude: &lng,
	})
	require.NoError(t, err)
	assert.Positive(t, id)
	_, err = c.InsertAttraction(ctx, &models.Attraction{Name: "天坛", Location: "北京", Category: "历史古迹"})
	require.NoError(t, err)

	list, err := c.ListAttractions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NotNil(t, list[0].Latitude)
	assert.InDelta(t, lat, *list[0].Latitude, 1e-9)
	assert.Nil(t, list[1].Latitude)

	names, err := c.AttractionNames(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"故宫", "天坛"}, names)
}

func TestPersona(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	id, err := c.InsertCharacter(ctx, &models.Character{
		Name: "小导", Prompt: "你是一位热情的北京导游。", Style: "幽默", IsActive: true,
	})
	require.NoError(t, err)

	prompt, err := c.Persona(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "你是一位热情的北京导游。\n说话风格：幽默", prompt)

	inactive, err := c.InsertCharacter(ctx, &models.Character{Name: "旧角色", Prompt: "x"})
	require.NoError(t, err)
	_, err = c.Persona(ctx, inactive)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.GetCharacter(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInteractions(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.RecordInteraction(ctx, &models.Interaction{
			SessionID:       "s1",
			QueryText:       "q",
			ResponseText:    "a",
			InteractionType: models.InteractionTextQuery,
			UseRAG:          true,
			VectorHits:      i,
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
		}))
	}
	charID := int64(7)
	require.NoError(t, c.RecordInteraction(ctx, &models.Interaction{
		SessionID: "s2", QueryText: "q2", InteractionType: models.InteractionVoiceQuery,
		CharacterID: &charID, Degraded: true, CreatedAt: base,
	}))

	page, total, err := c.Interactions(ctx, "s1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, 2, page[0].VectorHits)
	assert.Equal(t, 1, page[1].VectorHits)

	all, total, err := c.Interactions(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, all, 4)

	s2, _, err := c.Interactions(ctx, "s2", 10, 0)
	require.NoError(t, err)
	require.Len(t, s2, 1)
	require.NotNil(t, s2[0].CharacterID)
	assert.Equal(t, int64(7), *s2[0].CharacterID)
	assert.True(t, s2[0].Degraded)
	assert.Equal(t, models.InteractionVoiceQuery, s2[0].InteractionType)
}
