package scrape

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/internal/store"
)

// ProcessResult summarizes a persisted website run.
type ProcessResult struct {
	URLsProcessed int                      `json:"urls_processed"`
	EntitiesFound int                      `json:"entities_found"`
	Failed        int                      `json:"failed"`
	Saved         int                      `json:"saved"`
	Updated       int                      `json:"updated"`
	SavedToDB     bool                     `json:"saved_to_db"`
	Status        string                   `json:"status"`
	Results       []model.ExtractionResult `json:"results"`
}

// Persister runs the website orchestrator and merges the entities into the
// business store.
type Persister struct {
	website *WebsiteOrchestrator
	store   store.BusinessStore
	log     *zap.Logger
}

// NewPersister creates a Persister.
func NewPersister(website *WebsiteOrchestrator, st store.BusinessStore, log *zap.Logger) *Persister {
	if log == nil {
		log = zap.NewNop()
	}
	return &Persister{website: website, store: st, log: log}
}

// ProcessURLs scrapes urls and saves every extracted entity.
func (p *Persister) ProcessURLs(ctx context.Context, urls []string) (*ProcessResult, error) {
	out, err := p.website.Run(ctx, urls)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: website run")
	}

	res := &ProcessResult{
		URLsProcessed: len(urls),
		EntitiesFound: len(out.Entities),
		Failed:        out.Failed,
		Status:        "completed",
		Results:       out.Results,
	}
	if len(out.Entities) == 0 {
		return res, nil
	}

	saved, err := p.store.SaveEntities(ctx, out.Entities, SourceTypeWebsite)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: save entities")
	}
	res.Saved, res.Updated = saved.Saved, saved.Updated
	res.SavedToDB = true

	p.log.Info("scrape: entities persisted",
		zap.Int("entities", len(out.Entities)),
		zap.Int("saved", saved.Saved),
		zap.Int("updated", saved.Updated),
	)
	return res, nil
}
