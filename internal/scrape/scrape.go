// Package scrape drives the fetch, normalize and extract stages for search
// result pages and business websites.
package scrape

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-scraper/internal/artifacts"
	"github.com/sells-group/listing-scraper/internal/extract"
	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/internal/normalize"
)

// ErrInvalidRequest is returned for requests that cannot be run.
var ErrInvalidRequest = eris.New("scrape: invalid request")

// Extractor turns normalized items into extraction results, index-aligned
// with the input.
type Extractor interface {
	Extract(ctx context.Context, items []extract.Item, method extract.Method) []model.ExtractionResult
}

// debugItem is the shape written to the debug dump for each fetched page.
type debugItem struct {
	URL            string `json:"url"`
	Query          string `json:"query,omitempty"`
	Content        string `json:"content"`
	StructuredData []any  `json:"structured_data"`
}

// prepare normalizes successful fetches into extraction items. It returns
// the items and, for each, the index of its fetch in fetched.
func prepare(n *normalize.Normalizer, fetched []model.FetchResult, queries map[string]string) ([]extract.Item, []int) {
	var (
		items []extract.Item
		index []int
	)
	for i, f := range fetched {
		if !f.OK() {
			continue
		}
		norm := n.Normalize(f.Content)
		items = append(items, extract.Item{
			URL:            f.URL,
			Content:        norm.Content,
			StructuredData: norm.StructuredData,
			Query:          queries[f.URL],
		})
		index = append(index, i)
	}
	return items, index
}

func writeDebug(w *artifacts.Writer, log *zap.Logger, kind model.SchemaKind, items []extract.Item) {
	if !w.Enabled() || len(items) == 0 {
		return
	}
	dump := make([]debugItem, len(items))
	for i, it := range items {
		dump[i] = debugItem{URL: it.URL, Query: it.Query, Content: it.Content, StructuredData: it.StructuredData}
	}
	if _, err := w.WriteDebug(kind, dump); err != nil {
		log.Warn("scrape: debug dump failed", zap.Error(err))
	}
}

func saveOutput(w *artifacts.Writer, log *zap.Logger, kind model.SchemaKind, results []model.ExtractionResult) {
	if !w.Enabled() || len(results) == 0 {
		return
	}
	if _, err := w.SaveOutput(kind, results); err != nil {
		log.Warn("scrape: output save failed", zap.Error(err))
	}
}

// merge places extraction results back at their fetch positions and fills
// the rest with envelopes built from the fetch errors.
func merge(kind model.SchemaKind, fetched []model.FetchResult, index []int, extracted []model.ExtractionResult) []model.ExtractionResult {
	out := make([]model.ExtractionResult, len(fetched))
	for j, i := range index {
		out[i] = extracted[j]
	}
	for i, f := range fetched {
		if out[i] == nil {
			out[i] = extract.ErrorEnvelope(kind, f.URL, fetchFailureDetails(f))
		}
	}
	return out
}

func fetchFailureDetails(f model.FetchResult) string {
	if f.ErrorMessage != "" {
		return f.StatusCode + ": " + f.ErrorMessage
	}
	return "fetch failed with status " + f.StatusCode
}
