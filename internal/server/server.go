package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/copyleftdev/qfe/internal/config"
	"github.com/copyleftdev/qfe/internal/errors"
	"github.com/copyleftdev/qfe/internal/logging"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

// Server implements the HTTP and JSON-RPC server for the solver service.
// It manages solve jobs and provides endpoints to start, monitor, and cancel them.
type Server struct {
	cfg     *config.Config
	logger  Logger
	metrics *metrics

	// Job state management
	jobs   map[string]*Job
	jobsMu sync.RWMutex // Protects the jobs map

	workers chan struct{}
	wg      sync.WaitGroup
}

// NewServer creates a new server instance with the given config and logger
// The logger parameter accepts any type that implements the Logger interface
func NewServer(cfg *config.Config, logger Logger) *Server {
	workers := cfg.Optimization.WorkerCount
	if workers < 1 {
		workers = 1
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: newMetrics(),
		jobs:    make(map[string]*Job),
		workers: make(chan struct{}, workers),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/solve", s.handleSolve)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/solve/{id}", s.handleCancel)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// MetricsHandler exposes the server's Prometheus registry.
func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.handler()
}

// StartSolve validates req and queues a solve job.
func (s *Server) StartSolve(req SolveRequest) (*Job, error) {
	solver, err := newSolver(s.cfg, req, s.logger.WithFields(map[string]interface{}{"component": "solver"}))
	if err != nil {
		return nil, err
	}
	job := s.newJob(solver)
	s.logger.Info("Solve queued", map[string]interface{}{"job_id": job.ID})
	return job, nil
}

// Job returns the job with the given id.
func (s *Server) Job(id string) (*Job, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", id).WithComponent("server")
	}
	return job, nil
}

// CancelSolve stops a pending or running job.
func (s *Server) CancelSolve(id string) error {
	job, err := s.Job(id)
	if err != nil {
		return err
	}
	if err := job.requestCancel(); err != nil {
		return err
	}
	s.logger.Info("Solve cancelled", map[string]interface{}{"job_id": id})
	return nil
}

// handleSolve handles POST /api/v1/solve.
func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	var req SolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondHTTPError(w, errors.Wrap(fmt.Errorf("%w: %w", errors.ErrInvalidArgument, err), "malformed request body"))
		return
	}

	job, err := s.StartSolve(req)
	if err != nil {
		s.respondHTTPError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.ID,
		"status": StatusPending,
	})
}

// handleStatus handles GET /api/v1/status/{id}. ?history=true adds the full
// iteration log.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.Job(chi.URLParam(r, "id"))
	if err != nil {
		s.respondHTTPError(w, err)
		return
	}
	withHistory, _ := strconv.ParseBool(r.URL.Query().Get("history"))
	respondJSON(w, http.StatusOK, job.view(withHistory))
}

// handleCancel handles DELETE /api/v1/solve/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.CancelSolve(id); err != nil {
		s.respondHTTPError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": id,
		"status": StatusCancelled,
	})
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request struct {
		JSONRPC string            `json:"jsonrpc"`
		ID      interface{}       `json:"id"`
		Method  string            `json:"method"`
		Params  []json.RawMessage `json:"params,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, codeParseError, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" {
		s.respondWithError(w, codeInvalidRequest, "Invalid Request", request.ID)
		return
	}

	// Route to appropriate handler
	var result interface{}
	var err error

	switch request.Method {
	case "solve.start":
		result, err = s.rpcStart(request.Params)
	case "solve.status":
		result, err = s.rpcStatus(request.Params)
	case "solve.cancel":
		result, err = s.rpcCancel(request.Params)
	default:
		s.respondWithError(w, codeMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		code := codeServerError
		if errors.Is(err, errors.ErrInvalidArgument) {
			code = codeInvalidParams
		}
		s.respondWithError(w, code, err.Error(), request.ID)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

// rpcStart handles solve.start.
// Expected parameters: [SolveRequest]
// Returns: {"job_id": "...", "status": "pending"}
func (s *Server) rpcStart(params []json.RawMessage) (interface{}, error) {
	var req SolveRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	job, err := s.StartSolve(req)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"job_id": job.ID,
		"status": StatusPending,
	}, nil
}

type jobParams struct {
	JobID   string `json:"job_id"`
	History bool   `json:"history,omitempty"`
}

// rpcStatus handles solve.status.
// Expected parameters: [{"job_id": "...", "history": false}]
func (s *Server) rpcStatus(params []json.RawMessage) (interface{}, error) {
	var p jobParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	job, err := s.Job(p.JobID)
	if err != nil {
		return nil, err
	}
	return job.view(p.History), nil
}

// rpcCancel handles solve.cancel.
// Expected parameters: [{"job_id": "..."}]
func (s *Server) rpcCancel(params []json.RawMessage) (interface{}, error) {
	var p jobParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.CancelSolve(p.JobID); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"job_id": p.JobID,
		"status": StatusCancelled,
	}, nil
}

func decodeParams(params []json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return errors.Wrap(errors.ErrInvalidArgument, "missing required parameters")
	}
	if err := json.Unmarshal(params[0], v); err != nil {
		return errors.Wrap(fmt.Errorf("%w: %w", errors.ErrInvalidArgument, err), "invalid parameter format, expected object")
	}
	return nil
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Error("Request error", map[string]interface{}{
		"status":  code,
		"message": message,
	})

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	})
}

// respondHTTPError sends a REST error response with the status matching err.
func (s *Server) respondHTTPError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	fields := map[string]interface{}{
		"status": status,
		"error":  err.Error(),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request error", fields)
	} else {
		s.logger.Warn("Request rejected", fields)
	}
	respondJSON(w, status, map[string]interface{}{"error": err.Error()})
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// Close cancels every unfinished job and waits for the workers to return.
func (s *Server) Close() error {
	s.jobsMu.RLock()
	count := len(s.jobs)
	for _, job := range s.jobs {
		// Terminal jobs report a conflict, which is expected here.
		_ = job.requestCancel()
	}
	s.jobsMu.RUnlock()

	s.wg.Wait()
	s.logger.Info("Server closed", map[string]interface{}{"jobs": count})
	return nil
}
