package database

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"crosscount/internal/logging"
)

const (
	defaultRunsLimit      = 50
	defaultCrossingsLimit = 1000
)

// Handler serves stored runs and crossings as JSON:
//
//	GET /runs                      newest runs, ?limit=N
//	GET /runs/{id}                 one run with its final counts
//	GET /runs/{id}/crossings       crossings in order, ?counter=NAME&limit=N
type Handler struct {
	db     *Database
	logger *logrus.Entry
}

// NewHandler creates the HTTP handler for db
func NewHandler(db *Database, logger logrus.FieldLogger) *Handler {
	return &Handler{db: db, logger: logging.Component(logger, "RunsAPI")}
}

// Runs lists stored runs, newest first
func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultRunsLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	runs, err := h.db.ListRuns(limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if runs == nil {
		runs = []*RunRecord{}
	}
	writeJSON(w, runs)
}

// Run returns one run with its counts
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, run)
}

// Crossings lists the crossings of one run
func (h *Handler) Crossings(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultCrossingsLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	crossings, err := h.db.ListCrossings(run.ID, r.URL.Query().Get("counter"), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if crossings == nil {
		crossings = []*CrossingRecord{}
	}
	writeJSON(w, crossings)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*RunRecord, bool) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "Missing run id", http.StatusBadRequest)
		return nil, false
	}
	run, err := h.db.GetRun(id)
	if err != nil {
		h.fail(w, err)
		return nil, false
	}
	if run == nil {
		http.Error(w, fmt.Sprintf("Run not found: %s", id), http.StatusNotFound)
		return nil, false
	}
	return run, true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	h.logger.Errorf("Request failed: %v", err)
	http.Error(w, "Internal error", http.StatusInternalServerError)
}

// queryLimit parses ?limit=N; zero means no limit
func queryLimit(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
