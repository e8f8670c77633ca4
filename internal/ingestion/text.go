package ingestion

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/fjwyyds6668/ai-tourguide/internal/storage/models"
)

var (
	whitespace  = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankLines  = regexp.MustCompile(`\n{2,}`)
	htmlTagLike = regexp.MustCompile(`(?i)<(html|body|div|p|h[1-6]|article|section|span|br)\b`)
)

const sentenceEnds = "。！？!?；;\n"

// LooksLikeHTML reports whether content should go through CleanHTML.
func LooksLikeHTML(content string) bool {
	return htmlTagLike.MatchString(content)
}

// CleanHTML extracts readable text, dropping page chrome.
func CleanHTML(html string) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse html: %w", err)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	doc.Find("script, style, nav, footer, header, aside, noscript").Each(func(_ int, s *goquery.Selection) {
		s.Remove()
	})

	var b strings.Builder
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, td, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		// Nested blocks are emitted by their innermost element only.
		if s.Find("p, li, td, pre, blockquote").Length() > 0 {
			return
		}
		if t := strings.TrimSpace(s.Text()); t != "" {
			b.WriteString(t)
			b.WriteByte('\n')
		}
	})
	text = b.String()
	if strings.TrimSpace(text) == "" {
		text = doc.Find("body").Text()
	}
	return title, NormalizeText(text), nil
}

// NormalizeText collapses runs of spaces and blank lines.
func NormalizeText(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(whitespace.ReplaceAllString(l, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankLines.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}

// ChunkText splits text into windows of at most size runes, each sharing
// overlap runes with its predecessor. A window ends at the last sentence
// boundary in its second half when there is one.
func ChunkText(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if size < 1 {
		size = 500
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	for start := 0; start < len(runes); {
		end := min(start+size, len(runes))
		if end < len(runes) {
			for i := end - 1; i > start+size/2; i-- {
				if strings.ContainsRune(sentenceEnds, runes[i]) {
					end = i + 1
					break
				}
			}
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
		start = max(end-overlap, start+1)
	}
	return chunks
}

// AttractionText renders an attraction as an indexable passage.
func AttractionText(a models.Attraction) string {
	lines := []string{"景点：" + a.Name}
	if a.Category != "" {
		lines = append(lines, "类别："+a.Category)
	}
	if a.Location != "" {
		lines = append(lines, "位置："+a.Location)
	}
	if a.Description != "" {
		lines = append(lines, "介绍："+a.Description)
	}
	if a.Latitude != nil && a.Longitude != nil {
		lines = append(lines, fmt.Sprintf("坐标：%.6f, %.6f", *a.Latitude, *a.Longitude))
	}
	return strings.Join(lines, "\n")
}

// AttractionTextID is the passage id of an attraction.
func AttractionTextID(id int64) string {
	return fmt.Sprintf("attraction_%d", id)
}
