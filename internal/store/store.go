package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-scraper/internal/model"
)

var (
	// ErrNotFound is returned when a job or business does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrConflict is returned when a conditional transition does not apply.
	ErrConflict = eris.New("store: conflict")
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Skip   int             `json:"skip,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// BusinessFilter specifies criteria for listing businesses.
type BusinessFilter struct {
	Search   string `json:"search,omitempty"`
	Category string `json:"category,omitempty"`
	Sort     string `json:"sort,omitempty"`
	Order    string `json:"order,omitempty"`
	Skip     int    `json:"skip,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// SaveResult counts what SaveEntities did.
type SaveResult struct {
	Saved   int `json:"saved"`
	Updated int `json:"updated"`
}

// CategoryCount is one row of the category distribution.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// JobStore persists job lifecycle state. Transitions are conditional
// updates so concurrent workers never move a job backwards.
type JobStore interface {
	CreateJob(ctx context.Context, jobType model.JobType, params model.JobParameters) (*model.Job, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	// MarkJobRunning moves a pending job to running. It reports false when
	// the job was no longer pending.
	MarkJobRunning(ctx context.Context, id string) (bool, error)
	CompleteJob(ctx context.Context, id string, result json.RawMessage) error
	FailJob(ctx context.Context, id string, msg string) error
	// CancelJob fails a pending job. ErrConflict if it is not pending.
	CancelJob(ctx context.Context, id string) error
	AppendJobProgress(ctx context.Context, id string, p model.Progress) error
	HeartbeatJob(ctx context.Context, id string) error
	// FailStaleJobs fails running jobs whose heartbeat is older than cutoff.
	FailStaleJobs(ctx context.Context, cutoff time.Time, msg string) (int, error)
	PendingJobIDs(ctx context.Context) ([]string, error)
	CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error)
}

// BusinessStore persists deduplicated business records.
type BusinessStore interface {
	SaveEntities(ctx context.Context, entities []model.Business, sourceType string) (SaveResult, error)
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
	ListBusinesses(ctx context.Context, filter BusinessFilter) ([]model.Business, error)
	CountBusinesses(ctx context.Context, filter BusinessFilter) (int, error)
	ListCategories(ctx context.Context) ([]string, error)
	CategoryCounts(ctx context.Context, limit int) ([]CategoryCount, error)
}

// Store is the full persistence surface.
type Store interface {
	JobStore
	BusinessStore

	Migrate(ctx context.Context) error
	Close() error
}

const (
	defaultLimit = 100
	maxLimit     = 1000

	initialProgress = "Initializing..."

	// CancelledMessage is the error recorded on a cancelled job.
	CancelledMessage = "Cancelled by user"
)

// likePattern builds a case-insensitive substring pattern with LIKE
// metacharacters escaped by backslash.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// sortColumn maps a requested sort key onto a column; unknown keys sort by
// created_at.
func sortColumn(key string) string {
	switch key {
	case "name", "created_at", "updated_at":
		return key
	}
	return "created_at"
}

func sortDirection(order string) string {
	if order == "asc" || order == "1" {
		return "ASC"
	}
	return "DESC"
}
