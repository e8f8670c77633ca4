package builder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
	"github.com/fjwyyds6668/ai-tourguide/internal/entity"
	"github.com/fjwyyds6668/ai-tourguide/internal/kg/neo4j"
	"github.com/fjwyyds6668/ai-tourguide/internal/storage/models"
)

type fakeGraph struct {
	mentions    map[string][]neo4j.Mention
	related     [][]string
	attractions []neo4j.AttractionNode
	nearby      int
	err         error
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{mentions: map[string][]neo4j.Mention{}}
}

func (f *fakeGraph) LinkMentions(_ context.Context, textID, _ string, m []neo4j.Mention) error {
	if f.err != nil {
		return f.err
	}
	f.mentions[textID] = m
	return nil
}

func (f *fakeGraph) RelateEntities(_ context.Context, names []string, _ string) error {
	f.related = append(f.related, names)
	return nil
}

func (f *fakeGraph) MergeAttraction(_ context.Context, a neo4j.AttractionNode) error {
	f.attractions = append(f.attractions, a)
	return nil
}

func (f *fakeGraph) LinkNearby(context.Context) error {
	f.nearby++
	return nil
}

func TestBuildFromChunks(t *testing.T) {
	dict := entity.NewDictionary(map[string]domain.EntityType{
		"故宫": domain.EntityLocation,
		"乾隆": domain.EntityPerson,
	})
	g := newFakeGraph()
	b := NewBuilder(g, dict, dict)

	chunks := []domain.KnowledgeChunk{
		{TextID: "d_chunk_0", Text: "乾隆曾多次修缮故宫。"},
		{TextID: "d_chunk_1", Text: "这里风景很好。"},
	}
	res, err := b.BuildFromChunks(context.Background(), "d", chunks)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 2, res.Mentions)

	require.Contains(t, g.mentions, "d_chunk_0")
	assert.NotContains(t, g.mentions, "d_chunk_1")
	require.Len(t, g.related, 1)
	assert.ElementsMatch(t, []string{"故宫", "乾隆"}, g.related[0])
}

func TestBuildFromChunksPropagatesError(t *testing.T) {
	dict := entity.NewDictionary(map[string]domain.EntityType{"故宫": domain.EntityLocation})
	g := newFakeGraph()
	g.err = errors.New("neo4j down")

	_, err := NewBuilder(g, dict, nil).BuildFromChunks(context.Background(), "d",
		[]domain.KnowledgeChunk{{TextID: "x", Text: "故宫"}})
	assert.ErrorContains(t, err, "neo4j down")
}

func TestBuildAttractions(t *testing.T) {
	dict := entity.NewDictionary(nil)
	g := newFakeGraph()
	b := NewBuilder(g, dict, dict)

	err := b.BuildAttractions(context.Background(), []models.Attraction{
		{ID: 1, Name: "故宫", Category: "历史古迹", Location: "北京市 东城区"},
		{ID: 2, Name: " ", Category: "x"},
		{ID: 3, Name: "西湖", Category: "自然风光", Location: "浙江省,杭州市,西湖区"},
	}, map[int64]string{1: "attraction_1"})
	require.NoError(t, err)

	require.Len(t, g.attractions, 2)
	assert.Equal(t, "attraction_1", g.attractions[0].TextID)
	assert.Equal(t, []string{"北京市", "东城区"}, g.attractions[0].Locations)
	assert.Equal(t, "", g.attractions[1].TextID)
	assert.Equal(t, 1, g.nearby)

	names := entity.Names(dict.Extract("我想去西湖和故宫"), 5)
	assert.Contains(t, names, "西湖")
	assert.Contains(t, names, "故宫")
}

func TestParseLocations(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"北京市东城区", []string{"北京市东城区"}},
		{"北京市 东城区", []string{"北京市", "东城区"}},
		{"四川省、阿坝州、九寨沟县", []string{"四川省", "阿坝州", "九寨沟县"}},
		{"长城脚下", []string{"长城脚下"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLocations(tt.in))
		})
	}
}
