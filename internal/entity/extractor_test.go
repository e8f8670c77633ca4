package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
)

func gazetteer() map[string]domain.EntityType {
	return map[string]domain.EntityType{
		"天安门":   domain.EntityLocation,
		"天安门广场": domain.EntityLocation,
		"故宫":    domain.EntityLocation,
		"故宫博物院": domain.EntityLocation,
		"乾隆":    domain.EntityPerson,
	}
}

func texts(es []domain.Entity) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.Text)
	}
	return out
}

func TestDictionaryExtract(t *testing.T) {
	d := NewDictionary(gazetteer())

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"known landmark", "天安门附近有什么景点？", []string{"天安门"}},
		{"longest match wins", "天安门广场有多大", []string{"天安门广场"}},
		{"two landmarks keep text order", "从故宫博物院到天安门怎么走", []string{"故宫博物院", "天安门"}},
		{"keyword fallback ranks after dictionary", "乾隆和圆明园的故事", []string{"乾隆", "圆明园", "故事"}},
		{"no entities", "你好", []string{}},
		{"empty input", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Extract(tt.input)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, texts(got))
		})
	}
}

func TestDictionaryConfidenceAndTypes(t *testing.T) {
	d := NewDictionary(gazetteer())

	got := d.Extract("乾隆喜欢的颐和园")
	require.Len(t, got, 2)
	assert.Equal(t, domain.Entity{Text: "乾隆", Type: domain.EntityPerson, Confidence: DictionaryConfidence, Offset: 0}, got[0])
	assert.Equal(t, "喜欢", got[1].Text)
	assert.Equal(t, domain.EntityKeyword, got[1].Type)
	assert.Equal(t, KeywordConfidence, got[1].Confidence)
}

func TestDictionaryWithoutGazetteerFallsBackToKeywords(t *testing.T) {
	d := NewDictionary(nil)

	got := d.Extract("天安门附近有什么景点？")
	require.Len(t, got, 1)
	assert.Equal(t, "天安门", got[0].Text)
	assert.Equal(t, KeywordConfidence, got[0].Confidence)
}

func TestDictionaryDedupesRepeats(t *testing.T) {
	d := NewDictionary(gazetteer())
	got := d.Extract("故宫和故宫")
	assert.Equal(t, []string{"故宫"}, texts(got))
	assert.Equal(t, 0, got[0].Offset)
}

func TestDictionaryDeterministic(t *testing.T) {
	d := NewDictionary(gazetteer())
	q := "故宫博物院和天安门广场哪个更值得去"
	first := d.Extract(q)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, d.Extract(q))
	}
}

func TestDictionaryReplaceAndAdd(t *testing.T) {
	d := NewDictionary(nil)
	assert.Equal(t, 0, d.Len())

	d.Add("雍和宫", domain.EntityLocation)
	d.Add("宫", domain.EntityLocation)
	assert.Equal(t, 1, d.Len())
	assert.Equal(t, []string{"雍和宫"}, texts(d.Extract("雍和宫在哪里")))

	d.Replace(map[string]domain.EntityType{"天坛": domain.EntityLocation})
	assert.Equal(t, 1, d.Len())
	got := d.Extract("雍和宫和天坛")
	assert.Equal(t, "天坛", got[0].Text)
	assert.Equal(t, DictionaryConfidence, got[0].Confidence)
}

type staticExtractor []domain.Entity

func (s staticExtractor) Extract(string) []domain.Entity { return s }

func TestCombine(t *testing.T) {
	a := staticExtractor{
		{Text: "Beijing", Type: domain.EntityLocation, Confidence: 0.8, Offset: 10},
		{Text: "故宫", Type: domain.EntityKeyword, Confidence: 0.6, Offset: 0},
	}
	b := staticExtractor{
		{Text: "故宫", Type: domain.EntityLocation, Confidence: 0.9, Offset: 3},
		{Text: "Summer Palace", Type: domain.EntityLocation, Confidence: 0.8, Offset: 20},
	}

	got := Combine(a, b).Extract("ignored")
	assert.Equal(t, []domain.Entity{
		{Text: "故宫", Type: domain.EntityLocation, Confidence: 0.9, Offset: 0},
		{Text: "Beijing", Type: domain.EntityLocation, Confidence: 0.8, Offset: 10},
		{Text: "Summer Palace", Type: domain.EntityLocation, Confidence: 0.8, Offset: 20},
	}, got)
}

func TestProseSkipsNonLatinText(t *testing.T) {
	got := NewProse().Extract("天安门附近有什么景点？")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestProseEntitiesAreWellFormed(t *testing.T) {
	for _, e := range NewProse().Extract("Is the Forbidden City far from Tiananmen Square in Beijing?") {
		assert.NotEmpty(t, e.Text)
		assert.GreaterOrEqual(t, e.Confidence, 0.0)
		assert.LessOrEqual(t, e.Confidence, 1.0)
	}
}

func TestNames(t *testing.T) {
	es := []domain.Entity{{Text: "a"}, {Text: "b"}, {Text: "c"}}
	assert.Equal(t, []string{"a", "b"}, Names(es, 2))
	assert.Equal(t, []string{"a", "b", "c"}, Names(es, 0))
	assert.Equal(t, []string{}, Names(nil, 3))
}
