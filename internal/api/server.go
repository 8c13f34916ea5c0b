package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/baller70/tbfcontentmachineapp-sub003/internal/cache"
	"github.com/baller70/tbfcontentmachineapp-sub003/internal/coordinator"
	"github.com/baller70/tbfcontentmachineapp-sub003/internal/domain"
	"github.com/baller70/tbfcontentmachineapp-sub003/internal/processor"
	"github.com/baller70/tbfcontentmachineapp-sub003/internal/recurrence"
	"github.com/baller70/tbfcontentmachineapp-sub003/internal/store"
)

// SeriesProcessor is the processing surface the API needs.
type SeriesProcessor interface {
	Process(ctx context.Context, seriesID string) domain.ProcessingResult
	ScheduleFirstPost(ctx context.Context, seriesID string) domain.ProcessingResult
	OnExternalEvent(ctx context.Context, ev processor.WebhookEvent) (*domain.ProcessingResult, error)
}

// Sweeper runs a polling pass on demand.
type Sweeper interface {
	Sweep(ctx context.Context) []domain.ProcessingResult
}

const rateSnapshotTTL = 30 * time.Second

type Server struct {
	r         *chi.Mux
	repo      store.Repository
	proc      SeriesProcessor
	coord     *coordinator.Coordinator
	sweeper   Sweeper
	rateCache *cache.Cache[coordinator.RateSnapshot]
}

func NewServer(repo store.Repository, proc SeriesProcessor, coord *coordinator.Coordinator, sweeper Sweeper) http.Handler {
	return NewServerWithDebug(repo, proc, coord, sweeper, false)
}

func NewServerWithDebug(repo store.Repository, proc SeriesProcessor, coord *coordinator.Coordinator, sweeper Sweeper, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{
		r:         r,
		repo:      repo,
		proc:      proc,
		coord:     coord,
		sweeper:   sweeper,
		rateCache: cache.New[coordinator.RateSnapshot](4, rateSnapshotTTL),
	}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)

	r.Post("/api/series", s.createSeries)
	r.Get("/api/series", s.listSeries)
	r.Post("/api/series/batch", s.enqueueBatch)
	r.Get("/api/series/batch/status", s.batchStatus)
	r.Get("/api/series/batch/status/{id}", s.batchStatusOne)
	r.Get("/api/series/batch/summary", s.batchSummary)
	r.Delete("/api/series/batch/completed", s.clearCompleted)
	r.Get("/api/series/{id}", s.getSeries)
	r.Patch("/api/series/{id}", s.patchSeries)
	r.Delete("/api/series/{id}", s.cancelSeries)
	r.Post("/api/series/{id}/process", s.processSeries)

	r.Get("/api/ratelimit", s.rateLimit)
	r.Post("/api/webhooks/late", s.webhook)
	r.Post("/api/sweep", s.sweep)

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("contentmachine_up 1\n"))
}

type createSeriesReq struct {
	Name           string   `json:"name"`
	AccountID      string   `json:"account_id"`
	Weekdays       []string `json:"weekdays"`
	TimeOfDay      string   `json:"time_of_day"`
	Timezone       string   `json:"timezone"`
	StartDate      string   `json:"start_date"`
	EndDate        *string  `json:"end_date,omitempty"`
	MaxRuns        *int     `json:"max_runs,omitempty"`
	FolderPath     string   `json:"folder_path"`
	PromptTemplate string   `json:"prompt_template"`
	LoopEnabled    bool     `json:"loop_enabled"`
	ProfileID      string   `json:"profile_id"`
	Platforms      []string `json:"platforms"`
}

func (req createSeriesReq) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Name, validation.Required),
		validation.Field(&req.AccountID, validation.Required),
		validation.Field(&req.Weekdays, validation.Required, validation.Each(validation.By(validWeekday))),
		validation.Field(&req.TimeOfDay, validation.Required, validation.By(validTimeOfDay)),
		validation.Field(&req.Timezone, validation.Required, validation.By(validTimezone)),
		validation.Field(&req.StartDate, validation.Required, validation.Date("2006-01-02")),
		validation.Field(&req.FolderPath, validation.Required),
		validation.Field(&req.PromptTemplate, validation.Required),
		validation.Field(&req.ProfileID, validation.Required),
		validation.Field(&req.Platforms, validation.Required),
	)
}

func validWeekday(value interface{}) error {
	s, _ := value.(string)
	_, err := domain.ParseWeekday(s)
	return err
}

func validTimeOfDay(value interface{}) error {
	s, _ := value.(string)
	if !recurrence.ValidTimeOfDay(s) {
		return errors.New("must be HH:MM")
	}
	return nil
}

func validTimezone(value interface{}) error {
	s, _ := value.(string)
	if !recurrence.ValidTimezone(s) {
		return errors.New("must be a valid IANA timezone")
	}
	return nil
}

type createSeriesResp struct {
	ID     string                  `json:"id"`
	Result domain.ProcessingResult `json:"result"`
}

func (s *Server) createSeries(w http.ResponseWriter, r *http.Request) {
	var req createSeriesReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	weekdays := make([]time.Weekday, 0, len(req.Weekdays))
	for _, d := range req.Weekdays {
		wd, _ := domain.ParseWeekday(d)
		weekdays = append(weekdays, wd)
	}

	series := domain.Series{
		Name:             req.Name,
		AccountID:        req.AccountID,
		Weekdays:         weekdays,
		TimeOfDay:        req.TimeOfDay,
		Timezone:         req.Timezone,
		StartDate:        req.StartDate,
		MaxRuns:          req.MaxRuns,
		FolderPath:       req.FolderPath,
		PromptTemplate:   req.PromptTemplate,
		LoopEnabled:      req.LoopEnabled,
		CurrentFileIndex: 1,
		ProfileID:        req.ProfileID,
		Platforms:        req.Platforms,
		Status:           domain.SeriesActive,
	}
	if req.EndDate != nil {
		t, err := time.Parse(time.RFC3339, *req.EndDate)
		if err != nil {
			http.Error(w, "end_date must be RFC3339: "+err.Error(), 400)
			return
		}
		series.EndDate = &t
	}

	id, err := s.repo.CreateSeries(r.Context(), series)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	res := s.proc.ScheduleFirstPost(r.Context(), id)
	writeJSON(w, http.StatusCreated, createSeriesResp{ID: id, Result: res})
}

func (s *Server) listSeries(w http.ResponseWriter, r *http.Request) {
	all, err := s.repo.ListSeries(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	views := make([]seriesView, 0, len(all))
	for _, sr := range all {
		views = append(views, toView(sr))
	}
	writeJSON(w, 200, views)
}

func (s *Server) getSeries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sr, err := s.repo.GetSeries(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "not found", 404)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, toView(sr))
}

type patchSeriesReq struct {
	Status string `json:"status"`
}

func (req patchSeriesReq) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Status, validation.Required,
			validation.In("ACTIVE", "PAUSED", "CANCELLED")),
	)
}

func (s *Server) patchSeries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req patchSeriesReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	err := s.repo.UpdateSeriesStatus(r.Context(), id, domain.SeriesStatus(req.Status))
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "not found", 404)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	sr, err := s.repo.GetSeries(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, toView(sr))
}

func (s *Server) cancelSeries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.repo.UpdateSeriesStatus(r.Context(), id, domain.SeriesCancelled)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "not found", 404)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) processSeries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.repo.GetSeries(r.Context(), id); errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "not found", 404)
		return
	}
	writeJSON(w, 200, s.proc.Process(r.Context(), id))
}

type batchReq struct {
	SeriesIDs []string `json:"series_ids"`
}

func (s *Server) enqueueBatch(w http.ResponseWriter, r *http.Request) {
	var req batchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if len(req.SeriesIDs) > coordinator.MaxBatchSize {
		http.Error(w, "batch too large", 400)
		return
	}
	for _, id := range req.SeriesIDs {
		_, err := s.repo.GetSeries(r.Context(), id)
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "unknown series "+id, 400)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
	}

	res, err := s.coord.Enqueue(req.SeriesIDs)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) batchStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, s.coord.AllStatus())
}

func (s *Server) batchStatusOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, ok := s.coord.Status(id)
	if !ok {
		http.Error(w, "not found", 404)
		return
	}
	writeJSON(w, 200, j)
}

func (s *Server) batchSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, s.coord.Summary())
}

func (s *Server) clearCompleted(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]int{"cleared": s.coord.ClearCompleted()})
}

func (s *Server) rateLimit(w http.ResponseWriter, r *http.Request) {
	if snap, ok := s.rateCache.Get("24h"); ok {
		writeJSON(w, 200, snap)
		return
	}
	snap, err := s.coord.RateSnapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	s.rateCache.Set("24h", snap)
	writeJSON(w, 200, snap)
}

type webhookResp struct {
	Acknowledged bool                     `json:"acknowledged"`
	Result       *domain.ProcessingResult `json:"result,omitempty"`
}

func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	var ev processor.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	res, err := s.proc.OnExternalEvent(r.Context(), ev)
	if err != nil {
		if domain.KindOf(err) == domain.KindValidation {
			http.Error(w, err.Error(), 400)
			return
		}
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, webhookResp{Acknowledged: true, Result: res})
}

func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	results := s.sweeper.Sweep(r.Context())
	if results == nil {
		results = []domain.ProcessingResult{}
	}
	writeJSON(w, 200, results)
}

type seriesView struct {
	ID                string     `json:"id"`
	AccountID         string     `json:"account_id"`
	Name              string     `json:"name"`
	Weekdays          []string   `json:"weekdays"`
	TimeOfDay         string     `json:"time_of_day"`
	Timezone          string     `json:"timezone"`
	StartDate         string     `json:"start_date"`
	EndDate           *time.Time `json:"end_date,omitempty"`
	MaxRuns           *int       `json:"max_runs,omitempty"`
	RunCount          int        `json:"run_count"`
	FolderPath        string     `json:"folder_path"`
	PromptTemplate    string     `json:"prompt_template"`
	LoopEnabled       bool       `json:"loop_enabled"`
	CurrentFileIndex  int        `json:"current_file_index"`
	ProfileID         string     `json:"profile_id"`
	Platforms         []string   `json:"platforms"`
	CurrentLatePostID *string    `json:"current_late_post_id,omitempty"`
	NextScheduledAt   *time.Time `json:"next_scheduled_at,omitempty"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toView(s domain.Series) seriesView {
	days := make([]string, 0, len(s.Weekdays))
	for _, d := range s.Weekdays {
		days = append(days, strings.ToUpper(d.String()))
	}
	return seriesView{
		ID:                s.ID,
		AccountID:         s.AccountID,
		Name:              s.Name,
		Weekdays:          days,
		TimeOfDay:         s.TimeOfDay,
		Timezone:          s.Timezone,
		StartDate:         s.StartDate,
		EndDate:           s.EndDate,
		MaxRuns:           s.MaxRuns,
		RunCount:          s.RunCount,
		FolderPath:        s.FolderPath,
		PromptTemplate:    s.PromptTemplate,
		LoopEnabled:       s.LoopEnabled,
		CurrentFileIndex:  s.CurrentFileIndex,
		ProfileID:         s.ProfileID,
		Platforms:         s.Platforms,
		CurrentLatePostID: s.CurrentLatePostID,
		NextScheduledAt:   s.NextScheduledAt,
		Status:            string(s.Status),
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
