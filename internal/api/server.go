// Package api exposes study sessions, sync and statistics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/abhisek/studysync/internal/progress"
	"github.com/abhisek/studysync/internal/reconcile"
	"github.com/abhisek/studysync/internal/session"
	"github.com/abhisek/studysync/internal/study"
)

// Options wires a Server.
type Options struct {
	Sessions   *session.Service
	Reconciler *reconcile.Reconciler
	Stats      *progress.Aggregator
	Logger     zerolog.Logger

	// IdleTimeout ends sessions that see no request for this long.
	IdleTimeout time.Duration
	Clock       func() time.Time
}

// DefaultIdleTimeout is used when Options.IdleTimeout is unset.
const DefaultIdleTimeout = 2 * time.Hour

// Server routes HTTP requests to the study services. Running sessions live
// in memory, keyed by session ID, until they are completed, ended or idle
// past IdleTimeout.
type Server struct {
	opts Options

	mu      sync.Mutex
	engines map[string]*liveEngine
}

type liveEngine struct {
	engine   *session.Engine
	lastUsed time.Time
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Server{opts: opts, engines: make(map[string]*liveEngine)}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.startSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Get("/question", s.currentQuestion)
				r.Post("/answers", s.submitAnswer)
				r.Post("/complete", s.completeSession)
				r.Post("/end", s.endSession)
			})
		})

		r.Route("/sync", func(r chi.Router) {
			r.Post("/", s.runSync)
			r.Get("/status", s.syncStatus)
		})

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/stats/weekly", s.weeklyStats)
			r.Get("/stats/monthly", s.monthlyStats)
			r.Get("/sessions/recent", s.recentSessions)
			r.Get("/progress", s.progressRange)
		})
	})

	return r
}

// accessLog logs one line per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.opts.Logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go s.sweepLoop(sweepCtx)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.opts.Logger.Info().Str("addr", addr).Msg("listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) engine(id string) (*session.Engine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	le, ok := s.engines[id]
	if !ok {
		return nil, false
	}
	le.lastUsed = s.opts.Clock()
	return le.engine, true
}

func (s *Server) register(e *session.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engines[e.Session().ID] = &liveEngine{engine: e, lastUsed: s.opts.Clock()}
}

func (s *Server) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.engines, id)
}

func (s *Server) sweepLoop(ctx context.Context) {
	interval := s.opts.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

// sweep ends every session idle for longer than IdleTimeout. Unanswered
// questions count as wrong, the same as an explicit end.
func (s *Server) sweep(ctx context.Context) int {
	cutoff := s.opts.Clock().Add(-s.opts.IdleTimeout)

	s.mu.Lock()
	var idle []*session.Engine
	for id, le := range s.engines {
		if le.lastUsed.Before(cutoff) {
			idle = append(idle, le.engine)
			delete(s.engines, id)
		}
	}
	s.mu.Unlock()

	for _, e := range idle {
		ectx, cancel := context.WithTimeout(ctx, 30*time.Second)
		res, err := e.EndEarly(ectx)
		cancel()
		log := s.opts.Logger.With().Str("session_id", e.Session().ID).Logger()
		if err != nil {
			log.Warn().Err(err).Msg("end idle session")
			continue
		}
		log.Info().Float64("score", res.Score).Bool("buffered", res.Buffered).Msg("ended idle session")
	}
	return len(idle)
}

type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, map[string]apiError{
		"error": {Code: code, Message: msg, RequestID: middleware.GetReqID(r.Context())},
	})
}

// writeErr maps a domain error to a status code.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case study.IsValidation(err):
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case study.IsInvalidState(err):
		writeError(w, r, http.StatusConflict, "INVALID_STATE", err.Error())
	case study.IsOutOfRange(err):
		writeError(w, r, http.StatusConflict, "OUT_OF_RANGE", err.Error())
	case study.IsUnavailable(err):
		writeError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, r, 499, "CANCELLED", err.Error())
	default:
		s.opts.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &study.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &study.ValidationError{Field: name, Reason: fmt.Sprintf("not a number: %q", v)}
	}
	return n, nil
}

func queryDay(r *http.Request, name, layout string, def time.Time) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(layout, v)
	if err != nil {
		return time.Time{}, &study.ValidationError{Field: name, Reason: fmt.Sprintf("want %s", layout)}
	}
	return t, nil
}
