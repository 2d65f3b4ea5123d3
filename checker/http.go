package checker

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"
)

// Handler returns the HTTP surface: /health, /metrics and the /api routes.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	s.RegisterHTTP(r)
	return r
}

// RegisterHTTP mounts the service endpoints on r.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.basicAuth)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/latest", s.handleLatestRun)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/errors", s.handleRunErrors)
		r.Get("/missing", s.handleMissing)
		r.Get("/subscriptions/{user}", s.handleListSubscriptions)
		r.Post("/subscriptions", s.handleSubscribe)
		r.Delete("/subscriptions", s.handleUnsubscribe)
		r.Post("/run", s.handleRunNow)
	})
}

// basicAuth guards /api when an admin password hash is configured.
func (s *Service) basicAuth(next http.Handler) http.Handler {
	hash := s.config.HTTP.AdminPasswordHash
	if hash == "" {
		return next
	}
	user := s.config.HTTP.AdminUser
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
			bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="ckanwatch"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "running": s.running.Load()}
	if run, err := s.LastRun(r.Context()); err == nil {
		resp["last_run"] = run
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := s.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if runs == nil {
		runs = []Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Service) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.LastRun(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Service) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Service) handleRunErrors(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "latest" {
		id = ""
	}
	results, err := s.ProbeErrors(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if results == nil {
		results = []ProbeResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Service) handleMissing(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Missing(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []MissingEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Service) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "user"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	subs, err := s.Subscriptions(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

type subscriptionRequest struct {
	UserID int64            `json:"user_id"`
	Kind   SubscriptionKind `json:"kind"`
	Value  string           `json:"value"`
}

func decodeSubscription(w http.ResponseWriter, r *http.Request) (subscriptionRequest, error) {
	var req subscriptionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		return req, errors.New("invalid JSON body")
	}
	if req.UserID == 0 || req.Value == "" {
		return req, errors.New("user_id, kind and value required")
	}
	return req, nil
}

func (s *Service) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSubscription(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	value, created, err := s.Subscribe(r.Context(), req.Kind, req.UserID, req.Value)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"user_id": req.UserID, "kind": req.Kind, "value": value, "created": created})
}

func (s *Service) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSubscription(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	removed, err := s.Unsubscribe(r.Context(), req.Kind, req.UserID, req.Value)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

func (s *Service) handleRunNow(w http.ResponseWriter, r *http.Request) {
	id, err := s.StartRun()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id})
}

func (s *Service) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoSnapshot):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("checker: http", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
