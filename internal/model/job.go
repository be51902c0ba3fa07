package model

import (
	"encoding/json"
	"time"
)

// JobType selects the sub-pipeline a job dispatches to.
type JobType string

const (
	JobTypeWebsite  JobType = "website"
	JobTypeSearch   JobType = "search"
	JobTypePipeline JobType = "pipeline"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeWebsite, JobTypeSearch, JobTypePipeline:
		return true
	}
	return false
}

// JobStatus represents where a job is in its lifecycle.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// JobParameters holds the inputs of a job. Website jobs use URLs, search
// jobs use Terms or URLs (not both), pipeline jobs use Terms.
type JobParameters struct {
	URLs  []string `json:"urls,omitempty"`
	Terms []string `json:"terms,omitempty"`
}

// LogEntry is one append-only progress record.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Step      int       `json:"step"`
}

// Progress is a phase-boundary update reported by a running job.
type Progress struct {
	CurrentStep int    `json:"current_step"`
	TotalSteps  int    `json:"total_steps"`
	Message     string `json:"progress_message"`
}

// Job is a unit of pipeline work with persisted lifecycle state.
type Job struct {
	ID              string          `json:"id"`
	Type            JobType         `json:"type"`
	Status          JobStatus       `json:"status"`
	Parameters      JobParameters   `json:"parameters"`
	CurrentStep     int             `json:"current_step"`
	TotalSteps      int             `json:"total_steps"`
	ProgressMessage string          `json:"progress_message"`
	Logs            []LogEntry      `json:"logs"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	HeartbeatAt     *time.Time      `json:"heartbeat_at,omitempty"`
}
