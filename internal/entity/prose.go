package entity

import (
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
)

// Prose tags English named entities, for visitors who ask in English.
// Text without Latin letters is skipped without loading the model.
type Prose struct{}

func NewProse() *Prose {
	return &Prose{}
}

func (p *Prose) Extract(text string) []domain.Entity {
	if !hasLatinLetter(text) {
		return []domain.Entity{}
	}

	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		logger.Warn("prose tagging failed", zap.Error(err))
		return []domain.Entity{}
	}

	var found []domain.Entity
	for _, ent := range doc.Entities() {
		typ, conf := mapProseLabel(ent.Label)
		off := strings.Index(text, ent.Text)
		if off < 0 {
			off = len(text)
		}
		found = append(found, domain.Entity{Text: ent.Text, Type: typ, Confidence: conf, Offset: off})
	}
	return normalize(found)
}

func mapProseLabel(label string) (domain.EntityType, float64) {
	switch label {
	case "GPE", "LOC", "FAC":
		return domain.EntityLocation, 0.8
	case "PERSON":
		return domain.EntityPerson, 0.8
	case "ORG":
		return domain.EntityOrg, 0.7
	default:
		return domain.EntityOther, 0.7
	}
}

func hasLatinLetter(s string) bool {
	for _, r := range s {
		if r < unicode.MaxASCII && unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
