package entity

import (
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
)

const (
	DictionaryConfidence = 0.9
	KeywordConfidence    = 0.6

	minTermRunes    = 2
	minKeywordRunes = 2
	maxKeywordRunes = 8
)

// Function words and question scaffolding that separate keywords in
// visitor questions.
var defaultStopwords = []string{
	"附近", "周边", "周围", "旁边", "有什么", "有哪些", "什么", "哪些", "哪里", "哪儿", "怎么",
	"怎样", "如何", "为什么", "多少", "几点", "可以", "能不能", "是不是", "请问", "介绍",
	"一下", "讲讲", "说说", "告诉", "我们", "你们", "他们", "这个", "那个", "这里", "那里",
	"景点", "地方", "好玩", "推荐", "还有", "以及", "或者", "还是", "一个", "现在", "今天",
	"想去", "想要", "知道", "关于", "历史", "门票", "开放", "时间", "多大", "多远", "多久", "多长",
	"的", "了", "吗", "呢", "吧", "啊", "呀", "是", "有", "在", "和", "与", "及", "去", "到",
	"我", "你", "他", "她", "它", "这", "那", "都", "也", "就", "还", "很", "要", "想", "请",
}

// Dictionary is a gazetteer-backed extractor. Known names are found by
// forward maximum matching; the remaining Han text is split on stopwords and
// each leftover segment becomes a low-confidence keyword.
type Dictionary struct {
	mu      sync.RWMutex
	terms   map[string]domain.EntityType
	maxTerm int
	stop    map[string]struct{}
	maxStop int
}

func NewDictionary(terms map[string]domain.EntityType) *Dictionary {
	d := &Dictionary{stop: make(map[string]struct{}, len(defaultStopwords))}
	for _, w := range defaultStopwords {
		d.stop[w] = struct{}{}
		if n := utf8.RuneCountInString(w); n > d.maxStop {
			d.maxStop = n
		}
	}
	d.Replace(terms)
	return d
}

// Replace swaps the whole gazetteer.
func (d *Dictionary) Replace(terms map[string]domain.EntityType) {
	next := make(map[string]domain.EntityType, len(terms))
	maxTerm := 0
	for term, typ := range terms {
		if utf8.RuneCountInString(term) < minTermRunes {
			continue
		}
		next[term] = typ
		if n := utf8.RuneCountInString(term); n > maxTerm {
			maxTerm = n
		}
	}

	d.mu.Lock()
	d.terms = next
	d.maxTerm = maxTerm
	d.mu.Unlock()
}

// Add registers one more name. Existing entries keep their type.
func (d *Dictionary) Add(term string, typ domain.EntityType) {
	n := utf8.RuneCountInString(term)
	if n < minTermRunes {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.terms[term]; ok {
		return
	}
	d.terms[term] = typ
	if n > d.maxTerm {
		d.maxTerm = n
	}
}

func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.terms)
}

func (d *Dictionary) Extract(text string) []domain.Entity {
	runes := make([]rune, 0, len(text))
	offsets := make([]int, 0, len(text))
	for i, r := range text {
		runes = append(runes, r)
		offsets = append(offsets, i)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var (
		found    []domain.Entity
		bufStart = -1
	)
	flush := func(end int) {
		if bufStart < 0 {
			return
		}
		if n := end - bufStart; n >= minKeywordRunes && n <= maxKeywordRunes {
			found = append(found, domain.Entity{
				Text:       string(runes[bufStart:end]),
				Type:       domain.EntityKeyword,
				Confidence: KeywordConfidence,
				Offset:     offsets[bufStart],
			})
		}
		bufStart = -1
	}

	for i := 0; i < len(runes); {
		if term, typ, n := d.longestTerm(runes, i); n > 0 {
			flush(i)
			found = append(found, domain.Entity{
				Text:       term,
				Type:       typ,
				Confidence: DictionaryConfidence,
				Offset:     offsets[i],
			})
			i += n
			continue
		}
		if !unicode.Is(unicode.Han, runes[i]) {
			flush(i)
			i++
			continue
		}
		if n := d.longestStop(runes, i); n > 0 {
			flush(i)
			i += n
			continue
		}
		if bufStart < 0 {
			bufStart = i
		}
		i++
	}
	flush(len(runes))

	return normalize(found)
}

func (d *Dictionary) longestTerm(runes []rune, at int) (string, domain.EntityType, int) {
	for n := min(d.maxTerm, len(runes)-at); n >= minTermRunes; n-- {
		s := string(runes[at : at+n])
		if typ, ok := d.terms[s]; ok {
			return s, typ, n
		}
	}
	return "", "", 0
}

func (d *Dictionary) longestStop(runes []rune, at int) int {
	for n := min(d.maxStop, len(runes)-at); n >= 1; n-- {
		if _, ok := d.stop[string(runes[at:at+n])]; ok {
			return n
		}
	}
	return 0
}
