package fusion

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
)

func newFuser(t *testing.T, order ...RankKey) *Fuser {
	t.Helper()
	f, err := New(Config{GraphRankOrder: order})
	require.NoError(t, err)
	return f
}

func vhit(id string, score float64, text string) domain.RetrievalHit {
	return domain.RetrievalHit{Source: domain.SourceVector, Ref: id, Score: score, Payload: text}
}

func ghit(from, rel, to string, fromDeg, toDeg int, anchors ...string) domain.RetrievalHit {
	r := &domain.Relation{
		From:       domain.GraphNode{ID: "n:" + from, Properties: map[string]any{"name": from}},
		To:         domain.GraphNode{ID: "n:" + to, Properties: map[string]any{"name": to}},
		Type:       rel,
		FromDegree: fromDeg,
		ToDegree:   toDeg,
		Anchors:    anchors,
	}
	return domain.RetrievalHit{Source: domain.SourceGraph, Ref: r.Key(), Payload: r.Render(), Relation: r}
}

func ent(text string, conf float64) domain.Entity {
	return domain.Entity{Text: text, Type: domain.EntityLocation, Confidence: conf}
}

func TestFuseTiananmenScenario(t *testing.T) {
	f := newFuser(t)
	passage := "天安门广场位于北京市中心，是世界上最大的城市广场之一。"

	got := f.Fuse("天安门附近有什么景点？",
		[]domain.RetrievalHit{vhit("t1", 0.92, passage)},
		[]domain.RetrievalHit{ghit("天安门", "NEARBY", "故宫", 3, 5, "天安门")},
		[]domain.Entity{ent("天安门", 0.9)},
		2000,
	)

	assert.Contains(t, got.Entities, "天安门")
	assert.False(t, got.Empty)
	require.Contains(t, got.Text, passage)
	require.Contains(t, got.Text, "天安门 -[NEARBY]-> 故宫")
	assert.Less(t, strings.Index(got.Text, passage), strings.Index(got.Text, "[实体关系] 天安门 -[NEARBY]-> 故宫"))
}

func TestFuseEmptyReturnsMarker(t *testing.T) {
	f := newFuser(t)

	got := f.Fuse("q", nil, nil, nil, 2000)
	assert.Equal(t, NoContextMarker, got.Text)
	assert.True(t, got.Empty)
	assert.NotNil(t, got.VectorHits)
	assert.NotNil(t, got.GraphHits)
	assert.NotNil(t, got.Entities)

	got = f.Fuse("q", []domain.RetrievalHit{vhit("t1", 0.5, "  ")}, nil, nil, 2000)
	assert.True(t, got.Empty)
}

func TestFuseZeroBudgetReturnsMarker(t *testing.T) {
	got := newFuser(t).Fuse("q", []domain.RetrievalHit{vhit("t1", 0.5, "短文本")}, nil, nil, 0)
	assert.True(t, got.Empty)
	assert.Equal(t, 1, got.Dropped)
}

func TestFuseDedupesVectorHitsByHigherScore(t *testing.T) {
	f := newFuser(t)
	hits := []domain.RetrievalHit{
		vhit("a", 0.40, "故宫是明清两代的皇家宫殿。"),
		vhit("b", 0.60, "景山公园在故宫北侧。"),
		vhit("a", 0.90, "故宫是明清两代的皇家宫殿。"),
	}

	got := f.Fuse("q", hits, nil, nil, 2000)
	require.Len(t, got.VectorHits, 2)
	assert.Equal(t, "a", got.VectorHits[0].Ref)
	assert.Equal(t, 0.90, got.VectorHits[0].Score)
	assert.Equal(t, 1, strings.Count(got.Text, "故宫是明清两代的皇家宫殿。"))
	assert.True(t, strings.HasPrefix(got.Text, "故宫是明清两代的皇家宫殿。"))
}

func TestFuseDedupesGraphHits(t *testing.T) {
	f := newFuser(t)
	h := ghit("天安门", "NEARBY", "故宫", 1, 1, "天安门")

	got := f.Fuse("q", nil, []domain.RetrievalHit{h, h}, nil, 2000)
	assert.Len(t, got.GraphHits, 1)
	assert.Equal(t, 1, strings.Count(got.Text, "NEARBY"))
}

func TestFuseSkipsRepeatedPassageText(t *testing.T) {
	f := newFuser(t)
	hits := []domain.RetrievalHit{vhit("a", 0.9, "同一段介绍"), vhit("b", 0.8, "同一段介绍")}

	got := f.Fuse("q", hits, nil, nil, 2000)
	assert.Equal(t, "同一段介绍", got.Text)
}

func TestFuseStopsAtFirstCandidateThatDoesNotFit(t *testing.T) {
	f := newFuser(t)
	hits := []domain.RetrievalHit{
		vhit("a", 0.9, "一二三四五"),
		vhit("b", 0.8, "一二三四五六七八九十"),
		vhit("c", 0.7, "短"),
	}

	got := f.Fuse("q", hits, nil, nil, 8)
	assert.Equal(t, "一二三四五", got.Text)
	assert.Equal(t, 2, got.Dropped)
}

func TestFuseSingleOversizedCandidateKeptWhole(t *testing.T) {
	f := newFuser(t)
	long := strings.Repeat("长", 50)

	got := f.Fuse("q", []domain.RetrievalHit{vhit("a", 0.9, long), vhit("b", 0.1, "短")}, nil, nil, 10)
	assert.Equal(t, long, got.Text)
	assert.False(t, got.Empty)
	assert.Equal(t, 1, got.Dropped)
}

func TestFuseBudgetBound(t *testing.T) {
	f := newFuser(t)
	var vectors, graphs []domain.RetrievalHit
	for i := 0; i < 8; i++ {
		vectors = append(vectors, vhit(fmt.Sprintf("t%d", i), 1-float64(i)/10, strings.Repeat("景", 5+i*3)))
		graphs = append(graphs, ghit(fmt.Sprintf("甲%d", i), "NEARBY", fmt.Sprintf("乙%d", i), i, 8-i, fmt.Sprintf("甲%d", i)))
	}
	entities := []domain.Entity{ent("甲1", 0.9), ent("甲3", 0.6)}

	for budget := 1; budget <= 400; budget += 7 {
		got := f.Fuse("q", vectors, graphs, entities, budget)
		n := utf8.RuneCountInString(got.Text)
		if got.Empty || n <= budget {
			continue
		}
		// Only a lone oversized first candidate may exceed the budget.
		assert.Equal(t, strings.TrimSpace(vectors[0].Payload), got.Text, "budget %d", budget)
	}
}

func TestFuseIdempotent(t *testing.T) {
	f := newFuser(t)
	vectors := []domain.RetrievalHit{vhit("b", 0.5, "乙"), vhit("a", 0.5, "甲"), vhit("c", 0.7, "丙")}
	graphs := []domain.RetrievalHit{
		ghit("x", "R", "y", 1, 1),
		ghit("y", "R", "z", 2, 2, "y"),
		ghit("z", "R", "w", 2, 2, "z"),
	}
	entities := []domain.Entity{ent("y", 0.8), ent("z", 0.8)}

	first := f.Fuse("q", vectors, graphs, entities, 100)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, f.Fuse("q", vectors, graphs, entities, 100))
	}
	// Equal scores keep input order.
	assert.Equal(t, []string{"c", "b", "a"}, refs(first.VectorHits))
}

func TestFuseGraphRanking(t *testing.T) {
	graphs := []domain.RetrievalHit{
		ghit("颐和园", "NEARBY", "圆明园", 10, 10, "颐和园"),
		ghit("故宫", "NEARBY", "景山", 2, 3, "故宫"),
		ghit("故宫", "HAS_CATEGORY", "博物馆", 2, 20, "故宫"),
		ghit("天坛", "位于", "东城区", 1, 1),
	}
	entities := []domain.Entity{ent("故宫", 0.9), ent("颐和园", 0.6)}

	t.Run("confidence then degree", func(t *testing.T) {
		got := newFuser(t, RankByConfidence, RankByDegree).Fuse("q", nil, graphs, entities, 2000)
		assert.Equal(t, []string{
			"故宫|HAS_CATEGORY|博物馆",
			"故宫|NEARBY|景山",
			"颐和园|NEARBY|圆明园",
			"天坛|位于|东城区",
		}, relationNames(got.GraphHits))
	})

	t.Run("degree then confidence", func(t *testing.T) {
		got := newFuser(t, RankByDegree, RankByConfidence).Fuse("q", nil, graphs, entities, 2000)
		assert.Equal(t, []string{
			"故宫|HAS_CATEGORY|博物馆",
			"颐和园|NEARBY|圆明园",
			"故宫|NEARBY|景山",
			"天坛|位于|东城区",
		}, relationNames(got.GraphHits))
	})

	t.Run("vector hits always precede graph hits", func(t *testing.T) {
		got := newFuser(t).Fuse("q", []domain.RetrievalHit{vhit("t", 0.01, "低分段落")}, graphs, entities, 2000)
		assert.True(t, strings.HasPrefix(got.Text, "低分段落\n[实体关系]"))
	})
}

func TestNewRejectsBadRankOrder(t *testing.T) {
	_, err := New(Config{GraphRankOrder: []RankKey{"pagerank"}})
	assert.Error(t, err)
	_, err = New(Config{GraphRankOrder: []RankKey{RankByDegree, RankByDegree}})
	assert.Error(t, err)
	assert.Equal(t, []RankKey{RankByDegree, RankByConfidence}, ParseRankOrder([]string{" Degree", "confidence"}))
}

func refs(hits []domain.RetrievalHit) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Ref)
	}
	return out
}

func relationNames(hits []domain.RetrievalHit) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Relation.From.Name()+"|"+h.Relation.Type+"|"+h.Relation.To.Name())
	}
	return out
}
