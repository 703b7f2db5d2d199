package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bizcal/internal/aggregate"
	"bizcal/internal/config"
	appLog "bizcal/internal/log"
	"bizcal/internal/model"
)

// Engine is the scheduling core the HTTP API sits on. *aggregate.Service
// implements it.
type Engine interface {
	EventsForDay(ctx context.Context, date time.Time) (aggregate.Result, error)
	EventsForWeek(ctx context.Context, start, end time.Time) (aggregate.Result, error)
	EventsForMonth(ctx context.Context, year int, month time.Month) (aggregate.Result, error)
	AllEvents(ctx context.Context) (aggregate.Result, error)

	CreateEvent(ctx context.Context, in model.NewEvent) (model.Event, error)
	DeleteEvent(ctx context.Context, ref model.EventRef) error

	Availability(ctx context.Context, date time.Time, duration, buffer time.Duration) ([]model.Slot, error)
	CheckOverlap(ctx context.Context, start, end time.Time, buffer time.Duration, exclude string) (aggregate.Overlap, error)

	Config(ctx context.Context) (aggregate.ConfigView, error)
	UpdateConfig(ctx context.Context, c *config.CalendarConfig) (aggregate.ConfigView, error)
}

var _ Engine = (*aggregate.Service)(nil)

// Server provides the scheduling HTTP API.
type Server struct {
	cfg    *config.Config
	engine Engine
	router *mux.Router
	loc    *time.Location
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, engine Engine) *Server {
	s := &Server{
		cfg:    cfg,
		engine: engine,
		router: mux.NewRouter(),
		loc:    cfg.Location(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root http.Handler, wrapped with basic auth when it is
// configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// HTTPServer builds the http.Server bound to cfg.Listen. Shutdown is left to
// the caller.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/events/day", s.handleDay).Methods(http.MethodGet)
	api.HandleFunc("/events/week", s.handleWeek).Methods(http.MethodGet)
	api.HandleFunc("/events/month", s.handleMonth).Methods(http.MethodGet)
	api.HandleFunc("/events/all", s.handleAll).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/events/{uid}", s.handleDelete).Methods(http.MethodDelete)

	api.HandleFunc("/availability", s.handleAvailability).Methods(http.MethodGet)
	api.HandleFunc("/availability/check", s.handleCheck).Methods(http.MethodPost)

	api.HandleFunc("/config", s.handleGetConfig).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handlePutConfig).Methods(http.MethodPut, http.MethodPost)

	api.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// 빈 사용자명 또는 비밀번호가 설정된 경우에는 비활성화로 취급한다.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health 는 항상 무인증으로 노출한다.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="bizcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
