// Package entity finds candidate named entities in visitor utterances.
package entity

import (
	"sort"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
)

// Extractor returns entities sorted by descending confidence, ties by first
// appearance. It returns an empty slice, never nil, when nothing is found and
// must not mutate shared state.
type Extractor interface {
	Extract(text string) []domain.Entity
}

type combined []Extractor

// Combine merges the output of several extractors. When two report the same
// text the higher confidence wins and the earliest offset is kept.
func Combine(extractors ...Extractor) Extractor {
	return combined(extractors)
}

func (c combined) Extract(text string) []domain.Entity {
	var all []domain.Entity
	for _, e := range c {
		all = append(all, e.Extract(text)...)
	}
	return normalize(all)
}

// normalize dedupes by text and applies the canonical ordering.
func normalize(in []domain.Entity) []domain.Entity {
	out := make([]domain.Entity, 0, len(in))
	index := make(map[string]int, len(in))

	for _, e := range in {
		if e.Text == "" {
			continue
		}
		if i, ok := index[e.Text]; ok {
			cur := &out[i]
			if e.Confidence > cur.Confidence {
				cur.Confidence = e.Confidence
				cur.Type = e.Type
			}
			if e.Offset < cur.Offset {
				cur.Offset = e.Offset
			}
			continue
		}
		index[e.Text] = len(out)
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if out[i].Offset != out[j].Offset {
			return out[i].Offset < out[j].Offset
		}
		return out[i].Text < out[j].Text
	})
	return out
}

// Names returns the texts of the first limit entities; limit <= 0 means all.
func Names(entities []domain.Entity, limit int) []string {
	if limit <= 0 || limit > len(entities) {
		limit = len(entities)
	}
	names := make([]string, 0, limit)
	for _, e := range entities[:limit] {
		names = append(names, e.Text)
	}
	return names
}
