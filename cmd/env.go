package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-scraper/internal/artifacts"
	"github.com/sells-group/listing-scraper/internal/extract"
	"github.com/sells-group/listing-scraper/internal/fetch"
	"github.com/sells-group/listing-scraper/internal/geo"
	"github.com/sells-group/listing-scraper/internal/jobs"
	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/internal/scrape"
	"github.com/sells-group/listing-scraper/internal/search"
	"github.com/sells-group/listing-scraper/internal/store"
	"github.com/sells-group/listing-scraper/pkg/anthropic"
)

// initStore opens the configured store and applies migrations. Callers
// close it.
func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// appEnv holds everything the serve and run commands share.
type appEnv struct {
	Store      store.Store
	Runner     *jobs.Runner
	Search     *scrape.SearchOrchestrator
	Persister  *scrape.Persister
	extractors []*extract.Service
}

// Close logs token usage and releases the store.
func (e *appEnv) Close() {
	for _, svc := range e.extractors {
		svc.Usage().LogCost(logger, cfg.Anthropic.Model, string(svc.Kind()))
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp wires fetchers, extraction services, orchestrators and the job
// runner. mode is passed to config validation.
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	client := anthropic.NewClient(cfg.Anthropic.Key, cfg.Anthropic.BaseURL)
	writer := artifacts.New(cfg.Artifacts, logger)
	fence := geo.NewFence(cfg.Geo, logger)

	var robots *fetch.RobotsPolicy
	if cfg.Fetch.RespectRobots {
		robots = fetch.NewRobotsPolicy(cfg.Fetch.RobotsAgent, cfg.Fetch.Timeout(), logger)
	}
	browser := fetch.BrowserConfig{
		Headless:   cfg.Fetch.Headless,
		ChromePath: cfg.Fetch.ChromePath,
		Workers:    cfg.Fetch.BrowserWorkers,
	}

	websiteFetcher, err := newFetcher(cfg.Website.Backend, cfg.Website.MinContentLength, writer, browser, robots)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	searchFetcher, err := newFetcher(cfg.Search.Backend, cfg.Search.MinContentLength, writer, browser, robots)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	opts := extract.Options{Logger: logger}
	if fence != nil {
		opts.Fence = fence
	}
	websiteSvc, err := extract.NewService(model.SchemaWebsite, client, cfg.Anthropic, cfg.Extract, opts)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	searchSvc, err := extract.NewService(model.SchemaSearch, client, cfg.Anthropic, cfg.Extract, opts)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	website := scrape.NewWebsiteOrchestrator(websiteFetcher, websiteSvc, writer, scrape.WebsiteConfig{
		MaxConcurrent: cfg.Website.MaxConcurrent,
		RequestDelay:  time.Duration(cfg.Website.RequestDelayMS) * time.Millisecond,
		Method:        extract.Method(cfg.Website.Method),
	}, logger)
	searcher := scrape.NewSearchOrchestrator(searchFetcher, searchSvc, writer, scrape.SearchConfig{
		BatchSize: cfg.Search.MaxConcurrent,
		Delay:     time.Duration(cfg.Search.DelaySecs * float64(time.Second)),
		Method:    extract.Method(cfg.Search.Method),
		Defaults:  searchDefaults(),
	}, logger)
	persister := scrape.NewPersister(website, st, logger)

	runner := jobs.New(st, persister, searcher, jobs.Config{
		Workers:           cfg.Jobs.Workers,
		QueueSize:         cfg.Jobs.QueueSize,
		HeartbeatInterval: time.Duration(cfg.Jobs.HeartbeatIntervalSecs) * time.Second,
		Lease:             time.Duration(cfg.Jobs.LeaseSecs) * time.Second,
		SweepInterval:     time.Duration(cfg.Jobs.SweepIntervalSecs) * time.Second,
	}, logger)

	logger.Info("app initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("website_backend", cfg.Website.Backend),
		zap.String("search_backend", cfg.Search.Backend),
		zap.Bool("geo_fence", fence != nil),
	)

	return &appEnv{
		Store:      st,
		Runner:     runner,
		Search:     searcher,
		Persister:  persister,
		extractors: []*extract.Service{websiteSvc, searchSvc},
	}, nil
}

func newFetcher(backend string, minLen int, w *artifacts.Writer, browser fetch.BrowserConfig, robots *fetch.RobotsPolicy) (fetch.Fetcher, error) {
	opts := fetch.Options{
		MinContentLength: minLen,
		Timeout:          cfg.Fetch.Timeout(),
		Logger:           logger,
	}
	if fetch.Backend(backend) == fetch.BackendBrowser {
		opts.Timeout = cfg.Fetch.BrowserTimeout()
	}
	if w.Enabled() {
		opts.Debug = w
	}
	return fetch.New(fetch.Backend(backend), opts, browser, robots)
}

// searchDefaults are the option values merged into every built search URL.
func searchDefaults() search.Options {
	return search.Options{
		Country:  cfg.Search.Country,
		Language: cfg.Search.Language,
		Num:      cfg.Search.ResultsPerPage,
	}
}
