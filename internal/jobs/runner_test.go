package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/internal/scrape"
	"github.com/sells-group/listing-scraper/internal/store"
)

type stubWebsite struct {
	mu    sync.Mutex
	calls [][]string
	err   error
	panic bool
}

func (s *stubWebsite) ProcessURLs(_ context.Context, urls []string) (*scrape.ProcessResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, urls)
	s.mu.Unlock()
	if s.panic {
		panic("boom")
	}
	if s.err != nil {
		return nil, s.err
	}
	return &scrape.ProcessResult{URLsProcessed: len(urls), EntitiesFound: len(urls), Status: "completed"}, nil
}

type stubSearcher struct {
	urls []string
	err  error
}

func (s *stubSearcher) Run(_ context.Context, req scrape.SearchRequest) (*scrape.SearchOutput, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &scrape.SearchOutput{URLs: s.urls, Processed: len(req.Terms) + len(req.URLs), TotalURLsFound: len(s.urls), Status: "completed"}, nil
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitTerminal(t *testing.T, st store.JobStore, id string) *model.Job {
	t.Helper()
	var job *model.Job
	require.Eventually(t, func() bool {
		j, err := st.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		typ     model.JobType
		params  model.JobParameters
		wantErr bool
	}{
		{"website ok", model.JobTypeWebsite, model.JobParameters{URLs: []string{"https://a.do"}}, false},
		{"website without urls", model.JobTypeWebsite, model.JobParameters{Terms: []string{"x"}}, true},
		{"search terms", model.JobTypeSearch, model.JobParameters{Terms: []string{"x"}}, false},
		{"search urls", model.JobTypeSearch, model.JobParameters{URLs: []string{"https://g.com"}}, false},
		{"search both", model.JobTypeSearch, model.JobParameters{Terms: []string{"x"}, URLs: []string{"https://g.com"}}, true},
		{"search neither", model.JobTypeSearch, model.JobParameters{}, true},
		{"pipeline ok", model.JobTypePipeline, model.JobParameters{Terms: []string{"x"}}, false},
		{"pipeline without terms", model.JobTypePipeline, model.JobParameters{}, true},
		{"unknown type", model.JobType("crawl"), model.JobParameters{URLs: []string{"https://a.do"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.typ, tt.params)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidJob))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunner_WebsiteJobCompletes(t *testing.T) {
	st := newTestStore(t)
	web := &stubWebsite{}
	r := New(st, web, &stubSearcher{}, Config{Workers: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	job, err := r.Submit(ctx, model.JobTypeWebsite, model.JobParameters{URLs: []string{"https://a.do", "https://b.do"}})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)

	done := waitTerminal(t, st, job.ID)
	assert.Equal(t, model.JobStatusCompleted, done.Status)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)

	var res scrape.ProcessResult
	require.NoError(t, json.Unmarshal(done.Result, &res))
	assert.Equal(t, 2, res.URLsProcessed)

	require.Len(t, done.Logs, 1)
	assert.Equal(t, "Processing 2 website URLs...", done.Logs[0].Message)
	assert.Equal(t, 2, done.TotalSteps)

	cancel()
	r.Wait()
}

func TestRunner_FailureRecorded(t *testing.T) {
	st := newTestStore(t)
	r := New(st, &stubWebsite{err: errors.New("store unavailable")}, &stubSearcher{}, Config{}, nil)
	ctx := context.Background()

	job, err := r.Submit(ctx, model.JobTypeWebsite, model.JobParameters{URLs: []string{"https://a.do"}})
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx, job.ID))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, "store unavailable", got.Error)
	assert.NotNil(t, got.CompletedAt)
}

func TestRunner_PanicRecorded(t *testing.T) {
	st := newTestStore(t)
	r := New(st, &stubWebsite{panic: true}, &stubSearcher{}, Config{}, nil)
	ctx := context.Background()

	job, err := r.Submit(ctx, model.JobTypeWebsite, model.JobParameters{URLs: []string{"https://a.do"}})
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx, job.ID))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, "panic: boom", got.Error)
}

func TestRunner_Pipeline(t *testing.T) {
	st := newTestStore(t)
	web := &stubWebsite{}
	r := New(st, web, &stubSearcher{urls: []string{"https://a.do", "https://b.do"}}, Config{}, nil)
	ctx := context.Background()

	job, err := r.Submit(ctx, model.JobTypePipeline, model.JobParameters{Terms: []string{"hoteles"}})
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx, job.ID))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)

	require.Len(t, web.calls, 1)
	assert.Equal(t, []string{"https://a.do", "https://b.do"}, web.calls[0])

	var msgs []string
	for _, l := range got.Logs {
		msgs = append(msgs, l.Message)
	}
	assert.Equal(t, []string{
		"Starting pipeline: Search phase...",
		"Search complete. Starting scraping phase...",
		"Pipeline complete!",
	}, msgs)
	assert.Equal(t, 2, got.CurrentStep)

	var res PipelineResult
	require.NoError(t, json.Unmarshal(got.Result, &res))
	require.NotNil(t, res.Website)
	assert.Equal(t, 2, res.Website.URLsProcessed)
}

func TestRunner_PipelineWithoutURLs(t *testing.T) {
	st := newTestStore(t)
	web := &stubWebsite{}
	r := New(st, web, &stubSearcher{}, Config{}, nil)
	ctx := context.Background()

	job, err := r.Submit(ctx, model.JobTypePipeline, model.JobParameters{Terms: []string{"hoteles"}})
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx, job.ID))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Empty(t, web.calls)
}

func TestRunner_SearchFailure(t *testing.T) {
	st := newTestStore(t)
	r := New(st, &stubWebsite{}, &stubSearcher{err: errors.New("no search urls")}, Config{}, nil)
	ctx := context.Background()

	job, err := r.Submit(ctx, model.JobTypeSearch, model.JobParameters{URLs: []string{"https://www.google.com/search?q=x"}})
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx, job.ID))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, "Processing 1 search URLs...", got.Logs[0].Message)
}

func TestRunner_Cancel(t *testing.T) {
	st := newTestStore(t)
	r := New(st, &stubWebsite{}, &stubSearcher{}, Config{}, nil)
	ctx := context.Background()

	pending, err := r.Submit(ctx, model.JobTypeWebsite, model.JobParameters{URLs: []string{"https://a.do"}})
	require.NoError(t, err)
	require.NoError(t, r.Cancel(ctx, pending.ID))

	got, err := st.GetJob(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, store.CancelledMessage, got.Error)

	// A cancelled job is never started.
	require.NoError(t, r.Run(ctx, pending.ID))
	got, err = st.GetJob(ctx, pending.ID)
	require.NoError(t, err)
	assert.Nil(t, got.StartedAt)

	running, err := st.CreateJob(ctx, model.JobTypeWebsite, model.JobParameters{URLs: []string{"https://b.do"}})
	require.NoError(t, err)
	_, err = st.MarkJobRunning(ctx, running.ID)
	require.NoError(t, err)
	assert.True(t, errors.Is(r.Cancel(ctx, running.ID), store.ErrConflict))

	assert.True(t, errors.Is(r.Cancel(ctx, "missing"), store.ErrNotFound))
}

func TestRunner_SweepFailsAbandonedAndRequeuesPending(t *testing.T) {
	st := newTestStore(t)
	r := New(st, &stubWebsite{}, &stubSearcher{}, Config{Lease: time.Minute}, nil)
	ctx := context.Background()

	stuck, err := st.CreateJob(ctx, model.JobTypeWebsite, model.JobParameters{URLs: []string{"https://a.do"}})
	require.NoError(t, err)
	_, err = st.MarkJobRunning(ctx, stuck.ID)
	require.NoError(t, err)
	pending, err := st.CreateJob(ctx, model.JobTypeWebsite, model.JobParameters{URLs: []string{"https://b.do"}})
	require.NoError(t, err)

	r.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	r.sweep(ctx)

	got, err := st.GetJob(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, AbandonedMessage, got.Error)

	require.Len(t, r.queue, 1)
	assert.Equal(t, pending.ID, <-r.queue)
}

func TestRunner_SubmitWithFullQueue(t *testing.T) {
	st := newTestStore(t)
	r := New(st, &stubWebsite{}, &stubSearcher{}, Config{QueueSize: 1}, nil)
	ctx := context.Background()

	for range 3 {
		_, err := r.Submit(ctx, model.JobTypeWebsite, model.JobParameters{URLs: []string{"https://a.do"}})
		require.NoError(t, err)
	}
	assert.Len(t, r.queue, 1)

	ids, err := st.PendingJobIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestRunner_HeartbeatRefreshesLease(t *testing.T) {
	st := newTestStore(t)
	r := New(st, &stubWebsite{}, &stubSearcher{}, Config{HeartbeatInterval: 10 * time.Millisecond}, nil)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, model.JobTypeWebsite, model.JobParameters{URLs: []string{"https://a.do"}})
	require.NoError(t, err)
	_, err = st.MarkJobRunning(ctx, job.ID)
	require.NoError(t, err)
	before, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)

	stop := r.heartbeat(ctx, job.ID, r.log)
	time.Sleep(50 * time.Millisecond)
	stop()

	after, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, after.HeartbeatAt)
	assert.True(t, after.HeartbeatAt.After(*before.HeartbeatAt))
}
