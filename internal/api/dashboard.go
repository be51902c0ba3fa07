package api

import (
	"net/http"

	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/internal/store"
)

const (
	topCategories = 10
	recentJobs    = 5
)

// Stats are the dashboard totals.
type Stats struct {
	TotalBusinesses int `json:"total_businesses"`
	TotalJobs       int `json:"total_jobs"`
	PendingJobs     int `json:"pending_jobs"`
	RunningJobs     int `json:"running_jobs"`
	CompletedJobs   int `json:"completed_jobs"`
	FailedJobs      int `json:"failed_jobs"`
}

// CategoryStat is one bar of the category distribution.
type CategoryStat struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DashboardResponse is returned by GET /dashboard/stats.
type DashboardResponse struct {
	Stats      Stats          `json:"stats"`
	Categories []CategoryStat `json:"categories"`
	RecentJobs []model.Job    `json:"recent_jobs"`
}

func (s *Server) dashboardStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	total, err := s.store.CountBusinesses(ctx, store.BusinessFilter{})
	if err != nil {
		s.writeStoreError(w, err, "", "")
		return
	}
	byStatus, err := s.store.CountJobsByStatus(ctx)
	if err != nil {
		s.writeStoreError(w, err, "", "")
		return
	}
	counts, err := s.store.CategoryCounts(ctx, topCategories)
	if err != nil {
		s.writeStoreError(w, err, "", "")
		return
	}
	recent, err := s.store.ListJobs(ctx, store.JobFilter{Limit: recentJobs})
	if err != nil {
		s.writeStoreError(w, err, "", "")
		return
	}

	resp := DashboardResponse{
		Stats: Stats{
			TotalBusinesses: total,
			PendingJobs:     byStatus[model.JobStatusPending],
			RunningJobs:     byStatus[model.JobStatusRunning],
			CompletedJobs:   byStatus[model.JobStatusCompleted],
			FailedJobs:      byStatus[model.JobStatusFailed],
		},
		Categories: make([]CategoryStat, 0, len(counts)),
		RecentJobs: recent,
	}
	for _, n := range byStatus {
		resp.Stats.TotalJobs += n
	}
	for _, c := range counts {
		name := c.Category
		if name == "" {
			name = "Uncategorized"
		}
		resp.Categories = append(resp.Categories, CategoryStat{Name: name, Count: c.Count})
	}
	if resp.RecentJobs == nil {
		resp.RecentJobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, resp)
}
