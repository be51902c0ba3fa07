package scrape

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/listing-scraper/internal/artifacts"
	"github.com/sells-group/listing-scraper/internal/extract"
	"github.com/sells-group/listing-scraper/internal/fetch"
	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/internal/normalize"
	"github.com/sells-group/listing-scraper/internal/resilience"
	"github.com/sells-group/listing-scraper/internal/search"
)

const defaultSearchBatch = 3

// SearchRequest is the input of a search run. Exactly one of Terms and
// URLs must be set.
type SearchRequest struct {
	Terms   []string
	URLs    []string
	Options search.Options
}

// SearchOutput is the result of a search run.
type SearchOutput struct {
	URLs           []string                 `json:"urls"`
	Processed      int                      `json:"processed"`
	Successful     int                      `json:"successful"`
	Failed         int                      `json:"failed"`
	TotalURLsFound int                      `json:"total_urls_found"`
	Status         string                   `json:"status"`
	Results        []model.ExtractionResult `json:"results"`
}

// SearchConfig tunes the search orchestrator.
type SearchConfig struct {
	// BatchSize is the number of result pages fetched at once.
	BatchSize int
	// Delay separates fetch batches.
	Delay  time.Duration
	Method extract.Method
	// Defaults are merged into every request's search options.
	Defaults search.Options
}

// SearchOrchestrator turns search terms or search URLs into candidate
// business URLs.
type SearchOrchestrator struct {
	fetcher   fetch.Fetcher
	norm      *normalize.Normalizer
	extractor Extractor
	artifacts *artifacts.Writer
	cfg       SearchConfig
	log       *zap.Logger
}

// NewSearchOrchestrator creates a SearchOrchestrator. The extractor must
// use the search schema. w may be nil.
func NewSearchOrchestrator(f fetch.Fetcher, ex Extractor, w *artifacts.Writer, cfg SearchConfig, log *zap.Logger) *SearchOrchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSearchBatch
	}
	if !cfg.Method.Valid() {
		cfg.Method = extract.MethodAssisted
	}
	return &SearchOrchestrator{
		fetcher:   f,
		norm:      normalize.New(log),
		extractor: ex,
		artifacts: w,
		cfg:       cfg,
		log:       log.With(zap.String("orchestrator", "search")),
	}
}

// Run fetches each search page, extracts candidate URLs and returns them
// deduplicated in discovery order. Per-page failures are recorded as error
// envelopes in Results.
func (o *SearchOrchestrator) Run(ctx context.Context, req SearchRequest) (*SearchOutput, error) {
	urls, queries, err := o.resolve(req)
	if err != nil {
		return nil, err
	}

	o.log.Info("scrape: starting search run", zap.Int("search_urls", len(urls)))
	fetched := o.fetchBatches(ctx, urls)

	items, index := prepare(o.norm, fetched, queries)
	o.log.Info("scrape: search pages fetched",
		zap.Int("ok", len(items)),
		zap.Int("failed", len(fetched)-len(items)),
	)
	writeDebug(o.artifacts, o.log, model.SchemaSearch, items)

	var extracted []model.ExtractionResult
	if len(items) > 0 {
		extracted = o.extractor.Extract(ctx, items, o.cfg.Method)
	}
	saveOutput(o.artifacts, o.log, model.SchemaSearch, extracted)

	results := merge(model.SchemaSearch, fetched, index, extracted)
	found := collectURLs(results)
	ok := model.CountSuccessful(results)

	o.log.Info("scrape: search run complete",
		zap.Int("pages", len(results)),
		zap.Int("successful", ok),
		zap.Int("urls_found", len(found)),
	)
	return &SearchOutput{
		URLs:           found,
		Processed:      len(urls),
		Successful:     ok,
		Failed:         len(results) - ok,
		TotalURLsFound: len(found),
		Status:         "completed",
		Results:        results,
	}, nil
}

// resolve returns the search URLs for req and the term each was built
// from.
func (o *SearchOrchestrator) resolve(req SearchRequest) ([]string, map[string]string, error) {
	hasTerms, hasURLs := len(req.Terms) > 0, len(req.URLs) > 0
	switch {
	case !hasTerms && !hasURLs:
		return nil, nil, eris.Wrap(ErrInvalidRequest, "either search terms or search URLs are required")
	case hasTerms && hasURLs:
		return nil, nil, eris.Wrap(ErrInvalidRequest, "search terms and search URLs are mutually exclusive")
	}

	queries := map[string]string{}
	if hasURLs {
		return req.URLs, queries, nil
	}

	opts := req.Options.Merge(o.cfg.Defaults)
	urls := make([]string, 0, len(req.Terms))
	for _, term := range req.Terms {
		u, err := search.Build(term, opts)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "build search url for %q", term)
		}
		urls = append(urls, u)
		queries[u] = term
	}
	return urls, queries, nil
}

// fetchBatches fetches urls in sequential batches with a delay between
// them. The output is index-aligned with urls.
func (o *SearchOrchestrator) fetchBatches(ctx context.Context, urls []string) []model.FetchResult {
	out := make([]model.FetchResult, len(urls))
	size := o.cfg.BatchSize
	total := (len(urls)-1)/size + 1

	for start := 0; start < len(urls); start += size {
		end := min(start+size, len(urls))
		if err := ctx.Err(); err != nil {
			for i := start; i < len(urls); i++ {
				out[i] = model.FetchFailure(urls[i], model.StatusUnexpectedError, "search cancelled: "+err.Error())
			}
			break
		}
		o.log.Info("scrape: fetching search batch",
			zap.Int("batch", start/size+1),
			zap.Int("total_batches", total),
		)

		batch := urls[start:end]
		if many, ok := o.fetcher.(fetch.ManyFetcher); ok {
			copy(out[start:end], many.FetchMany(ctx, batch))
		} else {
			g := new(errgroup.Group)
			for i, u := range batch {
				g.Go(func() error {
					out[start+i] = o.fetcher.Fetch(ctx, u)
					return nil
				})
			}
			_ = g.Wait()
		}

		if end < len(urls) {
			_ = resilience.Sleep(ctx, o.cfg.Delay)
		}
	}
	return out
}

// collectURLs flattens the urls of successful results, dropping repeats.
func collectURLs(results []model.ExtractionResult) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, r := range results {
		s, ok := r.(*model.SearchExtraction)
		if !ok || !s.Metadata.Result.Success {
			continue
		}
		for _, u := range s.URLs {
			if u.URL == "" || seen[u.URL] {
				continue
			}
			seen[u.URL] = true
			out = append(out, u.URL)
		}
	}
	return out
}
