package scrape

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/listing-scraper/internal/extract"
	"github.com/sells-group/listing-scraper/internal/model"
)

// stubFetcher serves canned results and records calls.
type stubFetcher struct {
	pages map[string]model.FetchResult
	delay time.Duration

	mu    sync.Mutex
	calls []string

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (f *stubFetcher) Fetch(_ context.Context, url string) model.FetchResult {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if r, ok := f.pages[url]; ok {
		return r
	}
	return model.FetchFailure(url, model.StatusUnexpectedError, "no such page")
}

// stubManyFetcher records the batches passed to FetchMany.
type stubManyFetcher struct {
	stubFetcher
	batches [][]string
}

func (f *stubManyFetcher) FetchMany(ctx context.Context, urls []string) []model.FetchResult {
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), urls...))
	f.mu.Unlock()
	out := make([]model.FetchResult, len(urls))
	for i, u := range urls {
		out[i] = f.Fetch(ctx, u)
	}
	return out
}

// stubExtractor answers with fn and records the items it saw.
type stubExtractor struct {
	fn    func(it extract.Item) model.ExtractionResult
	items []extract.Item
	calls int
}

func (e *stubExtractor) Extract(_ context.Context, items []extract.Item, _ extract.Method) []model.ExtractionResult {
	e.calls++
	e.items = append(e.items, items...)
	out := make([]model.ExtractionResult, len(items))
	for i, it := range items {
		out[i] = e.fn(it)
	}
	return out
}

func page(body string) string {
	return "<html><body><main><p>" + body + "</p></main></body></html>"
}

func longPage(body string) string {
	return page(body + strings.Repeat(" Lorem ipsum dolor sit amet.", 100))
}

func searchResult(query string, urls ...string) model.ExtractionResult {
	r := &model.SearchExtraction{
		Metadata: model.SearchMetadata{
			Context: model.SearchContext{Query: query},
			Result:  model.SearchOutcome{Outcome: model.Outcome{Success: true}},
		},
	}
	for _, u := range urls {
		r.URLs = append(r.URLs, model.RelevantURL{Title: u, URL: u})
	}
	r.Normalize()
	return r
}

func websiteResult(sourceName, reportedURL string, names ...string) model.ExtractionResult {
	r := &model.WebsiteExtraction{
		Metadata: model.WebsiteMetadata{
			Source: model.SourceInfo{Name: sourceName, URL: reportedURL},
			Result: model.WebsiteOutcome{Outcome: model.Outcome{Success: true}},
		},
	}
	for _, n := range names {
		r.Entities = append(r.Entities, model.Business{Name: n, Address: "Calle 1, Santo Domingo", Category: model.CategoryBusiness})
	}
	r.Normalize()
	return r
}
