package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/internal/store"
)

const defaultJobLimit = 20

type createJobRequest struct {
	Type       model.JobType       `json:"type"`
	Parameters model.JobParameters `json:"parameters"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	job, err := s.runner.Submit(r.Context(), req.Type, req.Parameters)
	if err != nil {
		s.writeStoreError(w, err, "job not found", "job conflict")
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	skip, err := intParam(r, "skip", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r, "limit", defaultJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := model.JobStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}

	list, err := s.store.ListJobs(r.Context(), store.JobFilter{Status: status, Skip: skip, Limit: limit})
	if err != nil {
		s.writeStoreError(w, err, "", "")
		return
	}
	if list == nil {
		list = []model.Job{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err, "job not found", "")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.runner.Cancel(r.Context(), id); err != nil {
		s.writeStoreError(w, err, "job not found", "job is not pending")
		return
	}
	s.log.Info("api: job cancelled", zap.String("job_id", id))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Job cancelled"})
}
