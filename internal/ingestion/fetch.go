package ingestion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
)

const maxFetchBytes = 5 << 20

// Fetcher downloads a web page so it can be ingested like an uploaded one.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  "ai-tourguide-importer/1.0",
	}
}

// Fetch returns the page at url as a Document. The content type is taken
// from the response; anything that is not HTML is ingested as plain text.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Document{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("fetch %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return Document{}, fmt.Errorf("failed to read %s: %w", url, err)
	}

	contentType := "text"
	if strings.Contains(resp.Header.Get("Content-Type"), "html") || LooksLikeHTML(string(body)) {
		contentType = "html"
	}

	logger.Info("Page fetched", zap.String("url", url), zap.Int("bytes", len(body)), zap.String("content_type", contentType))
	return Document{
		Source:      url,
		Content:     string(body),
		ContentType: contentType,
	}, nil
}
