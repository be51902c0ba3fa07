package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/listing-scraper/internal/config"
	"github.com/sells-group/listing-scraper/internal/extract"
	"github.com/sells-group/listing-scraper/internal/fetch"
	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/internal/store"
	"github.com/sells-group/listing-scraper/pkg/anthropic"
	"github.com/sells-group/listing-scraper/pkg/anthropic/mocks"
)

const ferreteriaResponse = `{"metadata": {"source": {"name": "Ferretería X", "url": "https://example.do/biz", "summary": "Hardware store."},
  "result": {"success": true, "entities_found": 1}},
  "entities": [{"name": "Ferretería X", "address": "Calle 1, Santo Domingo", "category": "Business"}]}`

func ferreteriaPage() string {
	var b strings.Builder
	b.WriteString(`<html><head><script type="application/ld+json">{"@type": "HardwareStore", "name": "Ferretería X"}</script></head><body>`)
	for b.Len() < 25000 {
		b.WriteString("<p>Ferretería X vende herramientas y materiales en Santo Domingo.</p>")
	}
	b.WriteString("</body></html>")
	return b.String()
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "listings.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newWebsiteExtractor(t *testing.T, client anthropic.Client) *extract.Service {
	t.Helper()
	svc, err := extract.NewService(model.SchemaWebsite, client,
		config.AnthropicConfig{Model: "claude-haiku-4-5-20251001"},
		config.ExtractConfig{BatchSize: 3}, extract.Options{})
	require.NoError(t, err)
	return svc
}

func TestProcessURLs_SavesEntityWithProvenance(t *testing.T) {
	pageURL := "https://example.do/biz"
	f := &stubFetcher{pages: map[string]model.FetchResult{
		pageURL: model.FetchSuccess(pageURL, ferreteriaPage()),
	}}
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return strings.Contains(req.Messages[0].Content, "HardwareStore")
	})).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: ferreteriaResponse}},
	}, nil).Once()

	st := newTestStore(t)
	website := NewWebsiteOrchestrator(f, newWebsiteExtractor(t, client), nil, WebsiteConfig{}, nil)
	p := NewPersister(website, st, nil)

	res, err := p.ProcessURLs(context.Background(), []string{pageURL})
	require.NoError(t, err)

	assert.Equal(t, 1, res.URLsProcessed)
	assert.Equal(t, 1, res.EntitiesFound)
	assert.Equal(t, 1, res.Saved)
	assert.True(t, res.SavedToDB)
	assert.Equal(t, "completed", res.Status)

	list, err := st.ListBusinesses(context.Background(), store.BusinessFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Ferretería X", list[0].Name)
	assert.Equal(t, pageURL, list[0].SourceURL)
	assert.Equal(t, SourceTypeWebsite, list[0].SourceType)

	// Re-running merges into the same record.
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: ferreteriaResponse}},
	}, nil).Once()
	res, err = p.ProcessURLs(context.Background(), []string{pageURL})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Saved)
	assert.Equal(t, 1, res.Updated)

	n, err := st.CountBusinesses(context.Background(), store.BusinessFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestProcessURLs_ShortContentSkipsExtraction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html><body>"+strings.Repeat("a", 470)+"</body></html>")
	}))
	defer srv.Close()

	client := mocks.NewMockClient(t)
	st := newTestStore(t)
	website := NewWebsiteOrchestrator(fetch.NewDirect(fetch.Options{}, nil), newWebsiteExtractor(t, client), nil, WebsiteConfig{}, nil)
	p := NewPersister(website, st, nil)

	res, err := p.ProcessURLs(context.Background(), []string{srv.URL})
	require.NoError(t, err)

	assert.Equal(t, 0, res.EntitiesFound)
	assert.Equal(t, 1, res.Failed)
	assert.False(t, res.SavedToDB)
	require.Len(t, res.Results, 1)
	assert.Contains(t, res.Results[0].Status().ErrorDetails, model.StatusHTMLTooShort)
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}
