// Package httpapi exposes the control plane over HTTP. Test-level wire
// field names are kebab-case, while the health and queue-status replies
// use camelCase names; the conversion from the supervisor's types happens
// here and nowhere else.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matthew-bram/test-probe/internal/probeerr"
	"github.com/matthew-bram/test-probe/internal/supervisor"
)

// Server carries the HTTP control plane.
type Server struct {
	sup    *supervisor.Supervisor
	logger *slog.Logger
	http   *http.Server
}

// Config parameterizes the HTTP listener.
type Config struct {
	Addr                  string
	RequestTimeout        time.Duration
	MaxConcurrentRequests int
	PromRegistry          *prometheus.Registry
}

// NewServer builds the router and listener. Call Start to serve.
func NewServer(cfg Config, sup *supervisor.Supervisor, logger *slog.Logger) *Server {
	s := &Server{sup: sup, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	if cfg.MaxConcurrentRequests > 0 {
		r.Use(middleware.Throttle(cfg.MaxConcurrentRequests))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/test/initialize", s.handleInitialize)
		r.Post("/test/start", s.handleStart)
		r.Get("/test/{testId}/status", s.handleStatus)
		r.Post("/test/{testId}/cancel", s.handleCancel)
		r.Get("/queue", s.handleQueue)
	})
	if cfg.PromRegistry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.PromRegistry, promhttp.HandlerOpts{}))
	}

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Wire shapes. Test-level shapes use kebab-case field names; the health
// and queue-status shapes use camelCase names.

type healthResponse struct {
	Status      string `json:"status"`
	ActorSystem string `json:"actorSystem"`
	Timestamp   string `json:"timestamp"`
	Error       string `json:"error,omitempty"`
}

type initializeResponse struct {
	TestID string `json:"test-id"`
}

type startRequest struct {
	TestID           string `json:"test-id"`
	BlockStoragePath string `json:"block-storage-path"`
	TestType         string `json:"test-type,omitempty"`
}

type startResponse struct {
	TestID   string `json:"test-id"`
	Accepted bool   `json:"accepted"`
	TestType string `json:"test-type,omitempty"`
	Message  string `json:"message"`
}

type statusResponse struct {
	TestID          string `json:"test-id"`
	State           string `json:"state"`
	Success         *bool  `json:"success,omitempty"`
	Error           string `json:"error,omitempty"`
	Message         string `json:"message,omitempty"`
	ScenariosPassed *int   `json:"scenarios-passed,omitempty"`
	ScenariosFailed *int   `json:"scenarios-failed,omitempty"`
	EvidencePath    string `json:"evidence-path,omitempty"`
	StartedAt       string `json:"started-at,omitempty"`
	CompletedAt     string `json:"completed-at,omitempty"`
	QueuePosition   int    `json:"queue-position,omitempty"`
}

type cancelResponse struct {
	TestID    string `json:"test-id"`
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message,omitempty"`
}

type queueResponse struct {
	TotalTests       int    `json:"totalTests"`
	SetupCount       int    `json:"setupCount"`
	LoadingCount     int    `json:"loadingCount"`
	LoadedCount      int    `json:"loadedCount"`
	TestingCount     int    `json:"testingCount"`
	CompletedCount   int    `json:"completedCount"`
	ExceptionCount   int    `json:"exceptionCount"`
	QueuedCount      int    `json:"queuedCount"`
	CurrentlyTesting string `json:"currentlyTesting,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := s.sup.GetHealth()
	resp := healthResponse{
		Status:      "healthy",
		ActorSystem: "running",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if !health.Healthy {
		resp.Status = "unhealthy"
		resp.ActorSystem = "degraded"
		resp.Error = "restart budget exhausted"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleInitialize(w http.ResponseWriter, _ *http.Request) {
	id := s.sup.Initialize()
	writeJSON(w, http.StatusOK, initializeResponse{TestID: id})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "request body does not parse")
		return
	}
	if req.TestID == "" || req.BlockStoragePath == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "test-id and block-storage-path are required")
		return
	}

	result, err := s.sup.Start(req.TestID, req.BlockStoragePath)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{
		TestID:   req.TestID,
		Accepted: result.Accepted,
		TestType: req.TestType,
		Message:  result.Message,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testId")
	status := s.sup.GetStatus(testID)
	if status.State == supervisor.StateUnknown {
		writeError(w, http.StatusNotFound, "NotFound", "no such test")
		return
	}

	resp := statusResponse{
		TestID:          status.TestID,
		State:           status.State,
		Success:         status.Success,
		Error:           status.ErrorKind,
		Message:         status.ErrorMessage,
		ScenariosPassed: status.ScenariosPassed,
		ScenariosFailed: status.ScenariosFailed,
		EvidencePath:    status.EvidencePath,
		QueuePosition:   status.QueuePosition,
	}
	if status.StartedAt != nil {
		resp.StartedAt = status.StartedAt.Format(time.RFC3339)
	}
	if status.CompletedAt != nil {
		resp.CompletedAt = status.CompletedAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testId")
	if s.sup.GetStatus(testID).State == supervisor.StateUnknown {
		writeError(w, http.StatusNotFound, "NotFound", "no such test")
		return
	}
	result := s.sup.Cancel(testID)
	writeJSON(w, http.StatusOK, cancelResponse{
		TestID:    testID,
		Cancelled: result.Cancelled,
		Message:   result.Message,
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	qs := s.sup.GetQueueStatus()
	writeJSON(w, http.StatusOK, queueResponse{
		TotalTests:       qs.TotalTests,
		SetupCount:       qs.SetupCount,
		LoadingCount:     qs.LoadingCount,
		LoadedCount:      qs.LoadedCount,
		TestingCount:     qs.TestingCount,
		CompletedCount:   qs.CompletedCount,
		ExceptionCount:   qs.ExceptionCount,
		QueuedCount:      qs.QueuedCount,
		CurrentlyTesting: qs.CurrentlyTesting,
	})
}

// writeKindError maps error kinds onto HTTP statuses.
func writeKindError(w http.ResponseWriter, err error) {
	kind := probeerr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case probeerr.KindServiceTimeout:
		status = http.StatusGatewayTimeout
	case probeerr.KindServiceUnavailable:
		status = http.StatusServiceUnavailable
	case probeerr.KindInvalidTopicDirectiveFormat:
		status = http.StatusBadRequest
	}

	var pe *probeerr.Error
	message := err.Error()
	if errors.As(err, &pe) {
		message = pe.Message
	}
	writeError(w, status, string(kind), message)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Error: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
