// Package server exposes the matcher over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/spigell/md-matcher/internal/ai"
	"github.com/spigell/md-matcher/internal/directory"
	"github.com/spigell/md-matcher/internal/feedback"
	"github.com/spigell/md-matcher/internal/filtering"
	"github.com/spigell/md-matcher/internal/matching"
	"github.com/spigell/md-matcher/internal/prompt"
	"github.com/spigell/md-matcher/internal/response"
)

const (
	maxBodyBytes   = 1 << 20
	recentOutcomes = 256
)

// Store is the directory cache.
type Store interface {
	Snapshot(ctx context.Context) (*directory.Snapshot, error)
	Refresh(ctx context.Context) (*directory.Snapshot, error)
}

// Matcher runs match requests.
type Matcher interface {
	Match(ctx context.Context, req matching.Request) (*matching.Outcome, error)
}

// Stats reports collected metrics.
type Stats interface {
	Summary(ctx context.Context) (map[string]float64, error)
}

// Deps wires the server. Sink and Stats are optional; the feedback and
// stats endpoints answer 503 without them.
type Deps struct {
	Store   Store
	Matcher Matcher
	Steps   []filtering.Filter
	Sink    feedback.Sink
	Stats   Stats
	Logger  *zap.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	store   Store
	matcher Matcher
	steps   []filtering.Filter
	sink    feedback.Sink
	stats   Stats
	logger  *zap.Logger
	recent  *outcomeCache
}

// New creates a Server.
func New(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		store:   deps.Store,
		matcher: deps.Matcher,
		steps:   deps.Steps,
		sink:    deps.Sink,
		stats:   deps.Stats,
		logger:  log,
		recent:  newOutcomeCache(recentOutcomes),
	}
}

// Router returns the routes.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/directors", s.directors).Methods(http.MethodGet)
	v1.HandleFunc("/providers", s.providers).Methods(http.MethodGet)
	v1.HandleFunc("/directory/refresh", s.refresh).Methods(http.MethodPost)
	v1.HandleFunc("/match", s.match).Methods(http.MethodPost)
	v1.HandleFunc("/feedback", s.feedback).Methods(http.MethodPost)
	v1.HandleFunc("/stats", s.statsSummary).Methods(http.MethodGet)

	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type directorView struct {
	*directory.MedicalDirector
	CapacityStatus string `json:"capacity_status"`
}

func (s *Server) directors(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Snapshot(r.Context())
	if err != nil {
		s.writeMatchError(w, err)
		return
	}

	views := make([]directorView, 0, len(snap.Directors))
	for _, d := range snap.Directors {
		views = append(views, directorView{MedicalDirector: d, CapacityStatus: d.CapacityStatus()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":    snap.Source,
		"loaded_at": snap.LoadedAt,
		"directors": views,
		"closed":    len(snap.Closed),
		"filters":   filtering.Describe(s.steps),
	})
}

func (s *Server) providers(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Snapshot(r.Context())
	if err != nil {
		s.writeMatchError(w, err)
		return
	}

	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		p := snap.FindProvider(q)
		if p == nil {
			writeError(w, http.StatusNotFound, "provider not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"providers": []*directory.Provider{p}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": snap.Providers})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Refresh(r.Context())
	if err != nil {
		s.writeMatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":    snap.Source,
		"loaded_at": snap.LoadedAt,
		"directors": len(snap.Directors),
		"closed":    len(snap.Closed),
		"providers": len(snap.Providers),
	})
}

type matchResponse struct {
	RequestID  string              `json:"request_id"`
	Provider   *directory.Provider `json:"provider"`
	Steps      []filtering.Step    `json:"filter_steps"`
	Eligible   int                 `json:"eligible"`
	Shortlist  []string            `json:"shortlist"`
	SameState  int                 `json:"same_state"`
	Excluded   int                 `json:"excluded"`
	Fallback   bool                `json:"soft_filter_fallback,omitempty"`
	Abandoned  []string            `json:"abandoned_filters,omitempty"`
	Model      string              `json:"model"`
	Attempts   int                 `json:"attempts"`
	Result     *response.Result    `json:"result"`
	DurationMS int64               `json:"duration_ms"`
}

func newMatchResponse(out *matching.Outcome) matchResponse {
	resp := matchResponse{
		RequestID:  out.RequestID,
		Provider:   out.Provider,
		Steps:      out.Steps,
		Eligible:   out.Eligible,
		Result:     out.Result,
		DurationMS: out.Duration.Milliseconds(),
	}
	if out.Shortlist != nil {
		for _, d := range out.Shortlist.Directors {
			resp.Shortlist = append(resp.Shortlist, d.Name)
		}
		resp.SameState = out.Shortlist.SameState
		resp.Excluded = out.Shortlist.Excluded
		resp.Fallback = out.Shortlist.Fallback
		resp.Abandoned = out.Shortlist.Abandoned
	}
	if out.Completion != nil {
		resp.Model = out.Completion.Model
		resp.Attempts = out.Completion.Attempts
	}
	return resp
}

func (s *Server) match(w http.ResponseWriter, r *http.Request) {
	if s.matcher == nil {
		writeError(w, http.StatusServiceUnavailable, "matching is not configured")
		return
	}

	var req matching.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.matcher.Match(r.Context(), req)
	if err != nil {
		s.writeMatchError(w, err)
		return
	}
	s.recent.put(out)
	writeJSON(w, http.StatusOK, newMatchResponse(out))
}

type feedbackRequest struct {
	RequestID string `json:"request_id"`
	matching.Feedback
}

func (s *Server) feedback(w http.ResponseWriter, r *http.Request) {
	if s.sink == nil {
		writeError(w, http.StatusServiceUnavailable, "feedback sink is not configured")
		return
	}

	var req feedbackRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out := s.recent.get(req.RequestID)
	if out == nil {
		writeError(w, http.StatusNotFound, "unknown or expired request_id")
		return
	}

	record := matching.FeedbackRecord(out, req.Feedback)
	if err := record.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := feedback.Append(r.Context(), s.sink, record); err != nil {
		s.logger.Error("saving feedback", zap.Error(err), zap.String("request_id", req.RequestID))
		writeError(w, http.StatusBadGateway, "feedback could not be saved")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": record.ID})
}

func (s *Server) statsSummary(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics are not configured")
		return
	}
	summary, err := s.stats.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) writeMatchError(w http.ResponseWriter, err error) {
	var (
		reqErr     *matching.RequestError
		loadErr    *directory.LoadError
		noEligible *filtering.NoEligibleError
		assembly   *prompt.AssemblyError
		completion *ai.CompletionError
		parse      *response.ParseError
	)

	switch {
	case errors.As(err, &reqErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, matching.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &noEligible):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":  err.Error(),
			"rule":   noEligible.Rule,
			"reason": noEligible.Reason,
		})
	case errors.As(err, &assembly):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &loadErr):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &completion):
		status := http.StatusBadGateway
		if completion.Overloaded {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
	case errors.As(err, &parse):
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": err.Error(),
			"stage": parse.Stage,
			"raw":   parse.Raw,
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		s.logger.Error("unexpected match failure", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
