package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/internal/store"
)

const (
	defaultBusinessLimit = 100
	maxBusinessLimit     = 1000
)

// businessView is the wire form of a stored business: hours given as plain
// text are wrapped in an object.
type businessView struct {
	model.Business
	Hours any `json:"hours,omitempty"`
}

func view(b model.Business) businessView {
	return businessView{Business: b, Hours: b.HoursForDisplay()}
}

func businessFilter(r *http.Request) (store.BusinessFilter, string) {
	q := r.URL.Query()
	f := store.BusinessFilter{
		Search:   q.Get("search"),
		Category: q.Get("category"),
		Sort:     q.Get("sort"),
		Order:    q.Get("order"),
	}
	switch f.Sort {
	case "", "name", "created_at", "updated_at":
	default:
		return f, "sort must be one of name, created_at, updated_at"
	}
	switch f.Order {
	case "", "asc", "desc", "1", "-1":
	default:
		return f, "order must be asc or desc"
	}
	return f, ""
}

func (s *Server) listBusinesses(w http.ResponseWriter, r *http.Request) {
	f, msg := businessFilter(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	var err error
	if f.Skip, err = intParam(r, "skip", 0); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Limit, err = intParam(r, "limit", defaultBusinessLimit); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Limit < 1 || f.Limit > maxBusinessLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}

	list, err := s.store.ListBusinesses(r.Context(), f)
	if err != nil {
		s.writeStoreError(w, err, "", "")
		return
	}
	out := make([]businessView, 0, len(list))
	for _, b := range list {
		out = append(out, view(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) countBusinesses(w http.ResponseWriter, r *http.Request) {
	f, msg := businessFilter(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	n, err := s.store.CountBusinesses(r.Context(), f)
	if err != nil {
		s.writeStoreError(w, err, "", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.store.ListCategories(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "", "")
		return
	}
	if cats == nil {
		cats = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"categories": cats})
}

func (s *Server) getBusiness(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.GetBusiness(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err, "business not found", "")
		return
	}
	writeJSON(w, http.StatusOK, view(*b))
}
