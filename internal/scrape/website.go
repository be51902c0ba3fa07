package scrape

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sells-group/listing-scraper/internal/artifacts"
	"github.com/sells-group/listing-scraper/internal/extract"
	"github.com/sells-group/listing-scraper/internal/fetch"
	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/internal/normalize"
)

const defaultWebsiteConcurrency = 5

// SourceTypeWebsite tags entities extracted from business websites.
const SourceTypeWebsite = "website"

// WebsiteConfig tunes the website orchestrator.
type WebsiteConfig struct {
	// MaxConcurrent bounds simultaneous direct fetches.
	MaxConcurrent int
	// RequestDelay is the minimum spacing between direct fetch starts.
	RequestDelay time.Duration
	Method       extract.Method
}

// WebsiteOutput is the result of a website run.
type WebsiteOutput struct {
	// Results is index-aligned with the input URLs.
	Results []model.ExtractionResult
	// Entities carry source_url, source_name and source_type.
	Entities []model.Business
	Fetched  int
	Failed   int
}

// WebsiteOrchestrator fetches business pages and extracts their entities.
type WebsiteOrchestrator struct {
	fetcher   fetch.Fetcher
	norm      *normalize.Normalizer
	extractor Extractor
	artifacts *artifacts.Writer
	cfg       WebsiteConfig
	log       *zap.Logger
}

// NewWebsiteOrchestrator creates a WebsiteOrchestrator. The extractor must
// use the website schema. w may be nil.
func NewWebsiteOrchestrator(f fetch.Fetcher, ex Extractor, w *artifacts.Writer, cfg WebsiteConfig, log *zap.Logger) *WebsiteOrchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultWebsiteConcurrency
	}
	if !cfg.Method.Valid() {
		cfg.Method = extract.MethodDirect
	}
	return &WebsiteOrchestrator{
		fetcher:   f,
		norm:      normalize.New(log),
		extractor: ex,
		artifacts: w,
		cfg:       cfg,
		log:       log.With(zap.String("orchestrator", "website")),
	}
}

// Run fetches urls, extracts entities from the pages that passed the
// content gate and tags each entity with the page it came from.
func (o *WebsiteOrchestrator) Run(ctx context.Context, urls []string) (*WebsiteOutput, error) {
	if len(urls) == 0 {
		return &WebsiteOutput{Results: []model.ExtractionResult{}, Entities: []model.Business{}}, nil
	}

	o.log.Info("scrape: starting website run", zap.Int("urls", len(urls)))
	fetched := o.fetchAll(ctx, urls)

	items, index := prepare(o.norm, fetched, nil)
	o.log.Info("scrape: websites fetched",
		zap.Int("ok", len(items)),
		zap.Int("failed", len(fetched)-len(items)),
	)
	writeDebug(o.artifacts, o.log, model.SchemaWebsite, items)

	var extracted []model.ExtractionResult
	if len(items) > 0 {
		extracted = o.extractor.Extract(ctx, items, o.cfg.Method)
	}
	saveOutput(o.artifacts, o.log, model.SchemaWebsite, extracted)

	entities := []model.Business{}
	for j, r := range extracted {
		w, ok := r.(*model.WebsiteExtraction)
		if !ok || !w.Metadata.Result.Success {
			continue
		}
		for _, e := range w.Entities {
			// Provenance follows the fetched URL, not the URL the model reported.
			e.SourceURL = items[j].URL
			e.SourceName = w.Metadata.Source.Name
			e.SourceType = SourceTypeWebsite
			entities = append(entities, e)
		}
	}

	results := merge(model.SchemaWebsite, fetched, index, extracted)
	ok := model.CountSuccessful(results)
	o.log.Info("scrape: website run complete",
		zap.Int("urls", len(urls)),
		zap.Int("successful", ok),
		zap.Int("entities", len(entities)),
	)
	return &WebsiteOutput{
		Results:  results,
		Entities: entities,
		Fetched:  len(items),
		Failed:   len(results) - ok,
	}, nil
}

// fetchAll uses the backend's batch call when it has one. Otherwise every
// URL is fetched with at most MaxConcurrent in flight and starts spaced by
// RequestDelay.
func (o *WebsiteOrchestrator) fetchAll(ctx context.Context, urls []string) []model.FetchResult {
	if many, ok := o.fetcher.(fetch.ManyFetcher); ok {
		return many.FetchMany(ctx, urls)
	}

	out := make([]model.FetchResult, len(urls))
	sem := semaphore.NewWeighted(int64(o.cfg.MaxConcurrent))
	limit := rate.Inf
	if o.cfg.RequestDelay > 0 {
		limit = rate.Every(o.cfg.RequestDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	var wg sync.WaitGroup
	for i, u := range urls {
		if err := sem.Acquire(ctx, 1); err != nil {
			out[i] = model.FetchFailure(u, model.StatusUnexpectedError, "fetch cancelled: "+err.Error())
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			if err := limiter.Wait(ctx); err != nil {
				out[i] = model.FetchFailure(u, model.StatusUnexpectedError, "fetch cancelled: "+err.Error())
				return
			}
			out[i] = o.fetcher.Fetch(ctx, u)
		}()
	}
	wg.Wait()
	return out
}
