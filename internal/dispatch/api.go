package dispatch

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/antonkrylov/livecon/internal/history"
	"github.com/antonkrylov/livecon/internal/scripts"
)

type collectionsResponse struct {
	Collections []scripts.Summary `json:"collections"`
	Errors      map[string]string `json:"errors,omitempty"`
}

type runResponse struct {
	Run    history.Run `json:"run"`
	Output []string    `json:"output"`
}

type cancelResponse struct {
	Canceled []string `json:"canceled"`
}

// ErrReadOnly is reported for state-changing calls on a read-only server.
var ErrReadOnly = errors.New("method not allowed in readonly mode")

func (s *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		s.requestLog,
		middleware.Recoverer,
	)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/ws", s.handleWebSocket)
	r.Route("/api", func(r chi.Router) {
		r.Use(s.readOnly)
		r.Get("/collections", s.listCollections)
		r.Get("/overrides", s.listOverrides)
		r.Put("/overrides/{environment}", s.putOverrides)
		r.Get("/runs", s.listRuns)
		r.Get("/runs/{id}", s.getRun)
		r.Post("/runs/{id}/cancel", s.cancelRun)
		r.Post("/cancel", s.cancelAll)
	})
	return r
}

// readOnly lets only reads through when the server runs with ReadOnly.
func (s *Server) readOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.ReadOnly && r.Method != http.MethodGet && r.Method != http.MethodHead {
			s.writeError(w, http.StatusForbidden, ErrReadOnly)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"id", middleware.GetReqID(r.Context()),
			"remote", r.RemoteAddr,
			"method", r.Method,
			"path", r.URL.RequestURI(),
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
		)
	})
}

func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	list, bad, err := s.svc.Catalog().List()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := collectionsResponse{Collections: list}
	if resp.Collections == nil {
		resp.Collections = []scripts.Summary{}
	}
	if len(bad) > 0 {
		resp.Errors = make(map[string]string, len(bad))
		for path, err := range bad {
			resp.Errors[path] = err.Error()
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listOverrides(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Overrides().All())
}

func (s *Server) putOverrides(w http.ResponseWriter, r *http.Request) {
	env := chi.URLParam(r, "environment")
	var values map[string]string
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&values); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.svc.Overrides().Set(env, values)
	s.logger.Info("temp overrides saved", "environment", env, "keys", len(values))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	hist := s.svc.History()
	if hist == nil {
		s.writeJSON(w, http.StatusOK, []history.Run{})
		return
	}
	s.writeJSON(w, http.StatusOK, hist.List())
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	hist := s.svc.History()
	if hist == nil {
		s.writeError(w, http.StatusNotFound, history.ErrNotFound)
		return
	}
	id := chi.URLParam(r, "id")
	run, err := hist.Get(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, history.ErrNotFound) {
			status = http.StatusNotFound
		}
		s.writeError(w, status, err)
		return
	}
	output, err := hist.Output(id)
	if err != nil && !errors.Is(err, history.ErrNotFound) {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if output == nil {
		output = []string{}
	}
	s.writeJSON(w, http.StatusOK, runResponse{Run: run, Output: output})
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.svc.Cancel(id) {
		s.writeError(w, http.StatusNotFound, history.ErrNotFound)
		return
	}
	s.logger.Info("run canceled", "run", id, "request_id", middleware.GetReqID(r.Context()))
	s.writeJSON(w, http.StatusAccepted, cancelResponse{Canceled: []string{id}})
}

func (s *Server) cancelAll(w http.ResponseWriter, r *http.Request) {
	ids := s.svc.CancelAll()
	s.logger.Info("runs canceled", "count", len(ids), "request_id", middleware.GetReqID(r.Context()))
	s.writeJSON(w, http.StatusAccepted, cancelResponse{Canceled: ids})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
