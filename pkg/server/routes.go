package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog/log"

	scheduler "github.com/alextanhongpin/ani-scheduler"
	"github.com/alextanhongpin/ani-scheduler/pkg/anime"
	"github.com/alextanhongpin/ani-scheduler/pkg/store"
)

// Schedule lists the scheduled tasks.
type Schedule interface {
	Entries(now time.Time) []scheduler.Entry
}

// History reads what the tasks produced.
type History interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]store.Run, error)
	ListItems(ctx context.Context, since time.Time) ([]anime.Item, error)
}

type handler struct {
	sched   Schedule
	history History
	now     func() time.Time
}

// NewHandler exposes the schedule and its history as read-only JSON.
func NewHandler(sched Schedule, history History) http.Handler {
	h := &handler{
		sched:   sched,
		history: history,
		now:     time.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Get("/tasks", h.tasks)
	r.Get("/runs", h.runs)
	r.Get("/runs/{name}", h.runs)
	r.Get("/items", h.items)

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) tasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data": h.sched.Entries(h.now()),
	})
}

func (h *handler) runs(w http.ResponseWriter, r *http.Request) {
	var filter store.RunFilter
	if name := chi.URLParam(r, "name"); name != "" {
		filter.Names = []string{name}
	} else if names := r.URL.Query().Get("names"); names != "" {
		filter.Names = strings.Split(names, ",")
	}

	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")

			return
		}
		filter.Limit = limit
	}

	runs, err := h.history.ListRuns(r.Context(), filter)
	if err != nil {
		log.Err(err).Str("pkg", "server").Msg("failed to list runs")
		writeError(w, http.StatusInternalServerError, "failed to list runs")

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": runs})
}

// items lists the items updated today, or since the "since" date
// (YYYY-MM-DD, local time).
func (h *handler) items(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.ParseInLocation(time.DateOnly, s, now.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be YYYY-MM-DD")

			return
		}
		since = t
	}

	items, err := h.history.ListItems(r.Context(), since)
	if err != nil {
		log.Err(err).Str("pkg", "server").Msg("failed to list items")
		writeError(w, http.StatusInternalServerError, "failed to list items")

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": items})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
