// Package fusion merges vector and graph retrieval results into one bounded,
// deduplicated context for the language model.
package fusion

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
)

// NoContextMarker replaces the context text when nothing was retrieved or
// nothing fits the budget.
const NoContextMarker = "【无相关资料】知识库中没有找到与该问题相关的内容。"

// RankKey names one graph-hit ordering criterion.
type RankKey string

const (
	// RankByConfidence prefers hits anchored on a more confident entity.
	RankByConfidence RankKey = "confidence"
	// RankByDegree prefers hits touching better-connected nodes.
	RankByDegree RankKey = "degree"
)

var DefaultGraphRankOrder = []RankKey{RankByConfidence, RankByDegree}

type Config struct {
	// GraphRankOrder is applied left to right; insertion order always breaks
	// the remaining ties.
	GraphRankOrder []RankKey
	Separator      string
	Marker         string
}

type Fuser struct {
	order     []RankKey
	separator string
	marker    string
}

func New(cfg Config) (*Fuser, error) {
	f := &Fuser{
		order:     cfg.GraphRankOrder,
		separator: cfg.Separator,
		marker:    cfg.Marker,
	}
	if len(f.order) == 0 {
		f.order = DefaultGraphRankOrder
	}
	seen := make(map[RankKey]bool, len(f.order))
	for _, k := range f.order {
		if k != RankByConfidence && k != RankByDegree {
			return nil, fmt.Errorf("unknown graph rank key %q", k)
		}
		if seen[k] {
			return nil, fmt.Errorf("duplicate graph rank key %q", k)
		}
		seen[k] = true
	}
	if f.separator == "" {
		f.separator = "\n"
	}
	if f.marker == "" {
		f.marker = NoContextMarker
	}
	return f, nil
}

// ParseRankOrder converts configuration strings to rank keys.
func ParseRankOrder(keys []string) []RankKey {
	out := make([]RankKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, RankKey(strings.ToLower(strings.TrimSpace(k))))
	}
	return out
}

// Fuse builds the context. Vector hits come first by descending score, then
// graph hits in rank order. Candidates are appended whole until the next one
// would push the text past charBudget runes. A first candidate that alone
// exceeds the budget is kept whole. The result depends only on the inputs.
func (f *Fuser) Fuse(query string, vectorHits, graphHits []domain.RetrievalHit, entities []domain.Entity, charBudget int) domain.FusedContext {
	vectors := dedupeVector(vectorHits)
	graphs := f.rankGraph(dedupeGraph(graphHits), entities)

	out := domain.FusedContext{
		Entities:   entityTexts(entities),
		VectorHits: vectors,
		GraphHits:  graphs,
	}

	candidates := make([]string, 0, len(vectors)+len(graphs))
	for _, h := range vectors {
		candidates = append(candidates, strings.TrimSpace(h.Payload))
	}
	for _, h := range graphs {
		candidates = append(candidates, renderGraph(h))
	}

	var (
		buf      strings.Builder
		used     int
		emitted  int
		rendered = make(map[string]bool, len(candidates))
		sepLen   = utf8.RuneCountInString(f.separator)
	)
	for i, c := range candidates {
		if c == "" || rendered[c] {
			continue
		}
		cost := utf8.RuneCountInString(c)
		if emitted > 0 {
			cost += sepLen
		}
		if charBudget <= 0 {
			out.Dropped = countRemaining(candidates[i:], rendered)
			break
		}
		if used+cost > charBudget {
			if emitted == 0 {
				buf.WriteString(c)
				rendered[c] = true
				emitted++
				out.Dropped = countRemaining(candidates[i+1:], rendered)
			} else {
				out.Dropped = countRemaining(candidates[i:], rendered)
			}
			break
		}
		if emitted > 0 {
			buf.WriteString(f.separator)
		}
		buf.WriteString(c)
		rendered[c] = true
		used += cost
		emitted++
	}

	if emitted == 0 {
		out.Text = f.marker
		out.Empty = true
		return out
	}
	out.Text = buf.String()
	return out
}

// dedupeVector keeps the highest-scoring hit per text_id and sorts by
// descending score, stable on first appearance.
func dedupeVector(hits []domain.RetrievalHit) []domain.RetrievalHit {
	out := make([]domain.RetrievalHit, 0, len(hits))
	index := make(map[string]int, len(hits))
	for _, h := range hits {
		if i, ok := index[h.Ref]; ok {
			if h.Score > out[i].Score {
				out[i] = h
			}
			continue
		}
		index[h.Ref] = len(out)
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func dedupeGraph(hits []domain.RetrievalHit) []domain.RetrievalHit {
	out := make([]domain.RetrievalHit, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		key := h.Ref
		if h.Relation != nil {
			key = h.Relation.Key()
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, h)
	}
	return out
}

type rankedHit struct {
	hit        domain.RetrievalHit
	confidence float64
	degree     int
}

func (f *Fuser) rankGraph(hits []domain.RetrievalHit, entities []domain.Entity) []domain.RetrievalHit {
	conf := make(map[string]float64, len(entities))
	for _, e := range entities {
		if e.Confidence > conf[e.Text] {
			conf[e.Text] = e.Confidence
		}
	}

	ranked := make([]rankedHit, len(hits))
	for i, h := range hits {
		ranked[i] = rankedHit{hit: h, confidence: hitConfidence(h, conf), degree: hitDegree(h)}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		for _, k := range f.order {
			switch k {
			case RankByConfidence:
				if a.confidence != b.confidence {
					return a.confidence > b.confidence
				}
			case RankByDegree:
				if a.degree != b.degree {
					return a.degree > b.degree
				}
			}
		}
		return false
	})

	out := make([]domain.RetrievalHit, len(ranked))
	for i, r := range ranked {
		out[i] = r.hit
	}
	return out
}

// hitConfidence is the best confidence among the entities the hit was
// reached from, or that name one of its endpoints.
func hitConfidence(h domain.RetrievalHit, conf map[string]float64) float64 {
	if h.Relation == nil {
		return 0
	}
	best := 0.0
	names := append([]string{h.Relation.From.Name(), h.Relation.To.Name()}, h.Relation.Anchors...)
	for _, n := range names {
		if c := conf[n]; c > best {
			best = c
		}
	}
	return best
}

func hitDegree(h domain.RetrievalHit) int {
	if h.Relation == nil {
		return 0
	}
	return max(h.Relation.FromDegree, h.Relation.ToDegree)
}

func renderGraph(h domain.RetrievalHit) string {
	if h.Relation != nil {
		return h.Relation.Render()
	}
	return strings.TrimSpace(h.Payload)
}

func entityTexts(entities []domain.Entity) []string {
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.Text)
	}
	return out
}

func countRemaining(candidates []string, rendered map[string]bool) int {
	n := 0
	seen := make(map[string]bool)
	for _, c := range candidates {
		if c == "" || rendered[c] || seen[c] {
			continue
		}
		seen[c] = true
		n++
	}
	return n
}
