package ingestion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gugong":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html><head><title>故宫</title></head><body><p>故宫位于北京中轴线的中心。</p></body></html>"))
		case "/notes.txt":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("颐和园是皇家园林。"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(0)

	doc, err := f.Fetch(context.Background(), srv.URL+"/gugong")
	require.NoError(t, err)
	assert.Equal(t, "html", doc.ContentType)
	assert.Equal(t, srv.URL+"/gugong", doc.Source)
	assert.Contains(t, doc.Content, "故宫位于北京中轴线的中心。")

	doc, err = f.Fetch(context.Background(), srv.URL+"/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "text", doc.ContentType)

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "status 404")
}
