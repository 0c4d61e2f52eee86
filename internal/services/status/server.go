package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/NordCoder/Pricerus/internal/domain/notification"
	"github.com/NordCoder/Pricerus/internal/domain/price"
	"github.com/NordCoder/Pricerus/internal/domain/scrape"
	"github.com/NordCoder/Pricerus/internal/domain/tracking"
	"github.com/NordCoder/Pricerus/internal/repository"
	"github.com/NordCoder/Pricerus/internal/services/scheduler"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type Ticker interface {
	TriggerTick(ctx context.Context, now time.Time) (scheduler.TickReport, error)
}

type Server struct {
	Log           *zap.Logger
	Configs       tracking.Repo
	Runs          scrape.Repo
	Prices        price.Repo
	Notifications notification.Repo
	Ticker        Ticker
	Clock         notification.Clock
	Keys          Keys
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.With(RequireAdmin(s.Keys)).Post("/ticks", s.handleTick)

		r.Route("/configs/{id}", func(r chi.Router) {
			r.Use(RequireAny(s.Keys))
			r.Get("/status", s.handleStatus)
			r.Get("/runs", s.handleRuns)
			r.Get("/observations", s.handleObservations)
			r.Get("/notifications", s.handleNotifications)
		})
	})
	return r
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Ticker.TriggerTick(r.Context(), s.Clock.Now())
	if err != nil {
		s.Log.Error("trigger tick", zap.String("tick_id", rep.TickID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "tick failed")
		return
	}
	writeJSON(w, http.StatusAccepted, rep)
}

type latestRun struct {
	Outcome    scrape.Outcome    `json:"outcome"`
	ErrorClass scrape.ErrorClass `json:"error_class,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

type statusView struct {
	ConfigID        int64      `json:"config_id"`
	Enabled         bool       `json:"enabled"`
	TargetPrice     string     `json:"target_price"`
	LastAttemptedAt *time.Time `json:"last_attempted_at"`
	LastSucceededAt *time.Time `json:"last_succeeded_at"`
	LastPrice       *string    `json:"last_price"`
	Latest          *latestRun `json:"latest"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.configID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	cfg, err := s.Configs.GetByID(ctx, id)
	if err != nil {
		s.storeError(w, "get config", err)
		return
	}
	view := statusView{
		ConfigID:        cfg.ID,
		Enabled:         cfg.Enabled,
		TargetPrice:     cfg.TargetPrice.StringFixed(2),
		LastAttemptedAt: cfg.LastAttemptedAt,
		LastSucceededAt: cfg.LastSucceededAt,
	}

	run, err := s.Runs.Latest(ctx, id)
	if err != nil {
		s.storeError(w, "latest run", err)
		return
	}
	if run != nil {
		view.Latest = &latestRun{
			Outcome:    run.Outcome,
			ErrorClass: run.ErrorClass,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
		}
	}

	o, err := s.Prices.Latest(ctx, id)
	if err != nil {
		s.storeError(w, "latest observation", err)
		return
	}
	if o != nil {
		p := o.Price.StringFixed(2)
		view.LastPrice = &p
	}
	writeJSON(w, http.StatusOK, view)
}

type runView struct {
	ID         int64             `json:"id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Outcome    scrape.Outcome    `json:"outcome"`
	Price      *string           `json:"price,omitempty"`
	ErrorClass scrape.ErrorClass `json:"error_class,omitempty"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := s.configID(w, r)
	if !ok {
		return
	}
	if !s.exists(w, r, id) {
		return
	}
	runs, err := s.Runs.ListByConfig(r.Context(), id, limit(r))
	if err != nil {
		s.storeError(w, "list runs", err)
		return
	}
	out := make([]runView, 0, len(runs))
	for _, x := range runs {
		v := runView{ID: x.ID, StartedAt: x.StartedAt, FinishedAt: x.FinishedAt, Outcome: x.Outcome, ErrorClass: x.ErrorClass}
		if x.Price != nil {
			p := x.Price.StringFixed(2)
			v.Price = &p
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	id, ok := s.configID(w, r)
	if !ok {
		return
	}
	if !s.exists(w, r, id) {
		return
	}
	list, err := s.Prices.ListByConfig(r.Context(), id, limit(r))
	if err != nil {
		s.storeError(w, "list observations", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := s.configID(w, r)
	if !ok {
		return
	}
	if !s.exists(w, r, id) {
		return
	}
	list, err := s.Notifications.ListByConfig(r.Context(), id, limit(r))
	if err != nil {
		s.storeError(w, "list notifications", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) configID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad config id")
		return 0, false
	}
	return id, true
}

func (s *Server) exists(w http.ResponseWriter, r *http.Request, id int64) bool {
	if _, err := s.Configs.GetByID(r.Context(), id); err != nil {
		s.storeError(w, "get config", err)
		return false
	}
	return true
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "config not found")
		return
	}
	s.Log.Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "store error")
}

func limit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
