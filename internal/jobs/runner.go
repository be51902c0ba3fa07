// Package jobs runs scraping jobs on a pool of workers fed from a buffered
// queue. Job state lives in the store; the queue only carries ids.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/internal/scrape"
	"github.com/sells-group/listing-scraper/internal/store"
)

// ErrInvalidJob is returned by Submit for malformed job requests.
var ErrInvalidJob = eris.New("jobs: invalid job")

// AbandonedMessage is recorded on running jobs whose lease expired.
const AbandonedMessage = "job abandoned: no heartbeat"

// WebsiteProcessor scrapes and persists business websites.
type WebsiteProcessor interface {
	ProcessURLs(ctx context.Context, urls []string) (*scrape.ProcessResult, error)
}

// Searcher discovers candidate URLs from search pages.
type Searcher interface {
	Run(ctx context.Context, req scrape.SearchRequest) (*scrape.SearchOutput, error)
}

// Config tunes the worker pool and lease handling.
type Config struct {
	Workers           int
	QueueSize         int
	HeartbeatInterval time.Duration
	Lease             time.Duration
	SweepInterval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.Lease <= 0 {
		c.Lease = 2 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	return c
}

// PipelineResult is stored on completed pipeline jobs.
type PipelineResult struct {
	Search  *scrape.SearchOutput  `json:"search"`
	Website *scrape.ProcessResult `json:"website,omitempty"`
}

// Runner owns job execution.
type Runner struct {
	store    store.JobStore
	website  WebsiteProcessor
	searcher Searcher
	cfg      Config
	log      *zap.Logger
	now      func() time.Time

	queue chan string
	wg    sync.WaitGroup
}

// New creates a Runner. Call Start to begin processing the queue.
func New(st store.JobStore, website WebsiteProcessor, searcher Searcher, cfg Config, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Runner{
		store:    st,
		website:  website,
		searcher: searcher,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		queue:    make(chan string, cfg.QueueSize),
	}
}

// Validate checks that params fit jobType.
func Validate(jobType model.JobType, params model.JobParameters) error {
	if !jobType.Valid() {
		return eris.Wrapf(ErrInvalidJob, "unknown job type %q", jobType)
	}
	hasURLs, hasTerms := len(params.URLs) > 0, len(params.Terms) > 0
	switch jobType {
	case model.JobTypeWebsite:
		if !hasURLs {
			return eris.Wrap(ErrInvalidJob, "website jobs require urls")
		}
	case model.JobTypeSearch:
		if hasURLs == hasTerms {
			return eris.Wrap(ErrInvalidJob, "search jobs require either terms or urls")
		}
	case model.JobTypePipeline:
		if !hasTerms {
			return eris.Wrap(ErrInvalidJob, "pipeline jobs require terms")
		}
	}
	return nil
}

// Submit persists a pending job and queues it. It does not wait for the
// job to run.
func (r *Runner) Submit(ctx context.Context, jobType model.JobType, params model.JobParameters) (*model.Job, error) {
	if err := Validate(jobType, params); err != nil {
		return nil, err
	}
	job, err := r.store.CreateJob(ctx, jobType, params)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: create")
	}
	r.enqueue(job.ID)
	r.log.Info("jobs: submitted", zap.String("job_id", job.ID), zap.String("type", string(jobType)))
	return job, nil
}

// Cancel fails a pending job. It returns store.ErrNotFound or
// store.ErrConflict when the job is unknown or already started.
func (r *Runner) Cancel(ctx context.Context, id string) error {
	if err := r.store.CancelJob(ctx, id); err != nil {
		return err
	}
	r.log.Info("jobs: cancelled", zap.String("job_id", id))
	return nil
}

// enqueue never blocks. A full queue leaves the job pending for the next
// sweep.
func (r *Runner) enqueue(id string) {
	select {
	case r.queue <- id:
	default:
		r.log.Warn("jobs: queue full, job left for next sweep", zap.String("job_id", id))
	}
}

// Start runs an initial sweep and launches the workers and the sweeper.
// They stop when ctx is done; Wait blocks until they have exited.
func (r *Runner) Start(ctx context.Context) {
	r.sweep(ctx)

	for i := range r.cfg.Workers {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.worker(ctx, i)
		}()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()

	r.log.Info("jobs: runner started", zap.Int("workers", r.cfg.Workers))
}

// Wait blocks until all goroutines launched by Start have returned.
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) worker(ctx context.Context, n int) {
	log := r.log.With(zap.Int("worker", n))
	for {
		select {
		case <-ctx.Done():
			log.Debug("jobs: worker stopping")
			return
		case id := <-r.queue:
			if err := r.Run(ctx, id); err != nil {
				log.Error("jobs: run failed", zap.String("job_id", id), zap.Error(err))
			}
		}
	}
}

// sweep fails running jobs with an expired lease and requeues pending
// jobs.
func (r *Runner) sweep(ctx context.Context) {
	cutoff := r.now().Add(-r.cfg.Lease)
	n, err := r.store.FailStaleJobs(ctx, cutoff, AbandonedMessage)
	if err != nil {
		r.log.Error("jobs: stale sweep failed", zap.Error(err))
	} else if n > 0 {
		r.log.Warn("jobs: failed abandoned jobs", zap.Int("count", n))
	}

	ids, err := r.store.PendingJobIDs(ctx)
	if err != nil {
		r.log.Error("jobs: pending lookup failed", zap.Error(err))
		return
	}
	for _, id := range ids {
		r.enqueue(id)
	}
}

// Run executes one job synchronously. A job that is no longer pending is
// skipped. Failures inside the job are recorded on it; the returned error
// only reports store failures.
func (r *Runner) Run(ctx context.Context, id string) error {
	started, err := r.store.MarkJobRunning(ctx, id)
	if err != nil {
		return eris.Wrap(err, "jobs: mark running")
	}
	if !started {
		r.log.Debug("jobs: skipping job that is not pending", zap.String("job_id", id))
		return nil
	}

	job, err := r.store.GetJob(ctx, id)
	if err != nil {
		return eris.Wrap(err, "jobs: load")
	}
	log := r.log.With(zap.String("job_id", id), zap.String("type", string(job.Type)))
	log.Info("jobs: started")

	stopHeartbeat := r.heartbeat(ctx, id, log)
	result, runErr := r.dispatch(ctx, job, log)
	stopHeartbeat()

	if runErr != nil {
		log.Error("jobs: failed", zap.Error(runErr))
		return eris.Wrap(r.store.FailJob(context.WithoutCancel(ctx), id, runErr.Error()), "jobs: record failure")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(r.store.FailJob(context.WithoutCancel(ctx), id, "encode result: "+err.Error()), "jobs: record failure")
	}
	if err := r.store.CompleteJob(context.WithoutCancel(ctx), id, data); err != nil {
		return eris.Wrap(err, "jobs: complete")
	}
	log.Info("jobs: completed")
	return nil
}

// heartbeat refreshes the job lease until the returned stop func is called.
func (r *Runner) heartbeat(ctx context.Context, id string, log *zap.Logger) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(r.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.store.HeartbeatJob(ctx, id); err != nil {
					log.Warn("jobs: heartbeat failed", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

// dispatch runs the sub-pipeline for job. Panics become errors.
func (r *Runner) dispatch(ctx context.Context, job *model.Job, log *zap.Logger) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("jobs: panic", zap.Any("panic", p))
			result, err = nil, eris.Errorf("panic: %v", p)
		}
	}()

	params := job.Parameters
	switch job.Type {
	case model.JobTypeWebsite:
		r.progress(ctx, job.ID, 0, len(params.URLs), fmt.Sprintf("Processing %d website URLs...", len(params.URLs)), log)
		return r.website.ProcessURLs(ctx, params.URLs)

	case model.JobTypeSearch:
		if len(params.Terms) > 0 {
			r.progress(ctx, job.ID, 0, len(params.Terms), fmt.Sprintf("Processing %d search terms...", len(params.Terms)), log)
		} else {
			r.progress(ctx, job.ID, 0, len(params.URLs), fmt.Sprintf("Processing %d search URLs...", len(params.URLs)), log)
		}
		return r.searcher.Run(ctx, scrape.SearchRequest{Terms: params.Terms, URLs: params.URLs})

	case model.JobTypePipeline:
		return r.pipeline(ctx, job, log)
	}
	return nil, eris.Errorf("unknown job type %q", job.Type)
}

func (r *Runner) pipeline(ctx context.Context, job *model.Job, log *zap.Logger) (*PipelineResult, error) {
	r.progress(ctx, job.ID, 0, 2, "Starting pipeline: Search phase...", log)
	found, err := r.searcher.Run(ctx, scrape.SearchRequest{Terms: job.Parameters.Terms})
	if err != nil {
		return nil, eris.Wrap(err, "search phase")
	}
	res := &PipelineResult{Search: found}

	r.progress(ctx, job.ID, 1, 2, "Search complete. Starting scraping phase...", log)
	if len(found.URLs) > 0 {
		res.Website, err = r.website.ProcessURLs(ctx, found.URLs)
		if err != nil {
			return nil, eris.Wrap(err, "scraping phase")
		}
	} else {
		log.Info("jobs: search found no urls, skipping scraping phase")
	}

	r.progress(ctx, job.ID, 2, 2, "Pipeline complete!", log)
	return res, nil
}

func (r *Runner) progress(ctx context.Context, id string, step, total int, msg string, log *zap.Logger) {
	err := r.store.AppendJobProgress(ctx, id, model.Progress{CurrentStep: step, TotalSteps: total, Message: msg})
	if err != nil {
		log.Warn("jobs: progress update failed", zap.Error(err))
	}
}
