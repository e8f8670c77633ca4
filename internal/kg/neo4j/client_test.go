package neo4j

import (
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
)

func node(id, name string, labels ...string) domain.GraphNode {
	return domain.GraphNode{ID: id, Labels: labels, Properties: map[string]any{"name": name}}
}

func TestBuildSubgraph(t *testing.T) {
	a, b, c := node("1", "故宫", "Attraction"), node("2", "历史古迹", "Category"), node("3", "天坛", "Attraction")
	relations := []domain.Relation{
		{From: a, To: b, Type: "HAS_CATEGORY"},
		{From: c, To: b, Type: "HAS_CATEGORY"},
		{From: a, To: b, Type: "HAS_CATEGORY"},
	}

	sg := BuildSubgraph(relations)
	require.Len(t, sg.Nodes, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{sg.Nodes[0].ID, sg.Nodes[1].ID, sg.Nodes[2].ID})
	assert.Len(t, sg.Edges, 2)
}

func TestBuildSubgraphEmpty(t *testing.T) {
	sg := BuildSubgraph(nil)
	assert.NotNil(t, sg.Nodes)
	assert.NotNil(t, sg.Edges)
}

func TestEntityTypeOf(t *testing.T) {
	tests := []struct {
		labels []string
		typ    string
		want   domain.EntityType
	}{
		{[]string{"Attraction"}, "", domain.EntityLocation},
		{[]string{"Location"}, "", domain.EntityLocation},
		{[]string{"Entity"}, "PERSON", domain.EntityPerson},
		{[]string{"Entity"}, "KEYWORD", domain.EntityKeyword},
		{[]string{"Category"}, "", domain.EntityOther},
		{[]string{"Entity"}, "bogus", domain.EntityOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, entityTypeOf(tt.labels, tt.typ), "%v/%s", tt.labels, tt.typ)
	}
}

func TestToGraphNodeSortsLabels(t *testing.T) {
	n := toGraphNode(neo4j.Node{ElementId: "4:x:1", Labels: []string{"Entity", "Attraction"}, Props: map[string]any{"name": "故宫"}})
	assert.Equal(t, "4:x:1", n.ID)
	assert.Equal(t, []string{"Attraction", "Entity"}, n.Labels)
	assert.Equal(t, "故宫", n.Name())
}

func TestToStrings(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, toStrings([]any{"a", 1, "b"}))
	assert.Empty(t, toStrings(nil))
}
