package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/qfe/internal/config"
	"github.com/copyleftdev/qfe/internal/logging"
)

const (
	shiftedTask = `$variables: 2; $function: (x[0] - 1) * (x[0] - 1) + (x[1] + 2) * (x[1] + 2) + 4;`
	boundedTask = shiftedTask + ` $constraints: x[1] >= -1;`
)

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
	}

	// Set up HTTP config
	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.IdleTimeout = 120 * time.Second
	cfg.HTTP.ShutdownTimeout = 30 * time.Second

	// Set up logging
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"
	cfg.Logging.Output = "stdout"

	// Set up solver defaults
	cfg.Solver.MaxIterations = 100
	cfg.Solver.MinPositionChange = 1e-3
	cfg.Solver.MinFunctionChange = 1e-3
	cfg.Solver.MaxConstraintError = 1e-4
	cfg.Solver.InitialSigma = 1
	cfg.Solver.Penalty = "proper"
	cfg.Solver.Strategy = "newton"
	cfg.Solver.Timeout = time.Minute
	cfg.Solver.JobRetention = time.Hour

	// Set up optimization
	cfg.Optimization.WorkerCount = 3

	return cfg
}

// testLogger creates a test logger that discards its output
func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.New(logging.InfoLevel, io.Discard)
}

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	srv := NewServer(testConfig(t), testLogger(t))
	t.Cleanup(func() { _ = srv.Close() })

	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	r.Handle("/metrics", srv.MetricsHandler())
	return srv, r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var response map[string]interface{}
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	}
	return rr, response
}

// waitForStatus polls the status endpoint until the job reaches want.
func waitForStatus(t *testing.T, h http.Handler, id, want string) map[string]interface{} {
	t.Helper()
	var last map[string]interface{}
	require.Eventually(t, func() bool {
		_, last = doJSON(t, h, http.MethodGet, "/api/v1/status/"+id, nil)
		return last["status"] == want
	}, 10*time.Second, 10*time.Millisecond, "job %s never reached %s", id, want)
	return last
}

func TestNewServer(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t))
	assert.NotNil(t, srv, "Server should be created")
	assert.Equal(t, 3, cap(srv.workers))
}

func TestRegisterRoutes(t *testing.T) {
	_, r := newTestServer(t)

	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{"POST", "/api/v1/solve", true},
		{"GET", "/api/v1/status/123", true},
		{"DELETE", "/api/v1/solve/123", true},
		{"POST", "/rpc", true},
		{"GET", "/healthz", false}, // Not registered by server package
		{"GET", "/nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}"))
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			// Unknown jobs answer 404 with a JSON body, unknown routes with plain text
			routed := rr.Header().Get("Content-Type") == "application/json"
			assert.Equal(t, tt.shouldExist, routed, "status %d", rr.Code)
		})
	}
}

func TestClose(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t))
	assert.NoError(t, srv.Close(), "Close should not return an error")
}

func TestRespondWithError(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t))

	tests := []struct {
		name       string
		code       int
		message    string
		id         interface{}
		expectedID interface{}
	}{
		{name: "valid error response", code: codeInvalidParams, message: "invalid input", id: "123", expectedID: "123"},
		{name: "nil id", code: codeServerError, message: "server error", id: nil, expectedID: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.respondWithError(rr, tt.code, tt.message, tt.id)

			// JSON-RPC errors travel with 200
			assert.Equal(t, http.StatusOK, rr.Code)

			var response map[string]interface{}
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))

			errObj, ok := response["error"].(map[string]interface{})
			require.True(t, ok, "response should contain error object")
			assert.Equal(t, float64(tt.code), errObj["code"])
			assert.Equal(t, tt.message, errObj["message"])
			assert.Equal(t, tt.expectedID, response["id"])
			assert.Equal(t, "2.0", response["jsonrpc"])
		})
	}
}

func TestSolve_Unconstrained(t *testing.T) {
	_, h := newTestServer(t)

	rr, body := doJSON(t, h, http.MethodPost, "/api/v1/solve", SolveRequest{
		Task:         shiftedTask,
		InitialPoint: []float64{5, 5},
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	id, ok := body["job_id"].(string)
	require.True(t, ok)
	assert.Equal(t, StatusPending, body["status"])

	status := waitForStatus(t, h, id, StatusCompleted)
	result := status["result"].(map[string]interface{})
	point := result["point"].([]interface{})
	assert.InDelta(t, 1.0, point[0], 1e-2)
	assert.InDelta(t, -2.0, point[1], 1e-2)
	assert.InDelta(t, 4.0, result["function"], 1e-3)
	assert.Equal(t, true, result["constraints_met"])
	assert.NotContains(t, status, "error")
	assert.Contains(t, status, "end_time")
	assert.NotContains(t, status, "history")
}

func TestSolve_Constrained(t *testing.T) {
	_, h := newTestServer(t)

	for _, penalty := range []string{"", "proper", "zero"} {
		t.Run("penalty="+penalty, func(t *testing.T) {
			req := SolveRequest{Task: boundedTask, InitialPoint: []float64{0, 0}, Penalty: penalty}
			if penalty == "zero" {
				req.InitialSigma = 2
			}
			rr, body := doJSON(t, h, http.MethodPost, "/api/v1/solve", req)
			require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

			status := waitForStatus(t, h, body["job_id"].(string), StatusCompleted)
			result := status["result"].(map[string]interface{})
			point := result["point"].([]interface{})
			assert.InDelta(t, 1.0, point[0], 1e-2)
			assert.InDelta(t, -1.0, point[1], 1e-2)
			assert.InDelta(t, 5.0, result["function"], 1e-2)
			assert.Equal(t, true, result["constraints_met"])
		})
	}
}

func TestSolve_RandomStartWithHistory(t *testing.T) {
	_, h := newTestServer(t)

	rr, body := doJSON(t, h, http.MethodPost, "/api/v1/solve", SolveRequest{
		Task:        shiftedTask,
		RandomStart: true,
		Bounds:      [][2]float64{{-10, 10}, {-10, 10}},
		Seed:        42,
		Strategy:    "golden-section",
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	id := body["job_id"].(string)
	waitForStatus(t, h, id, StatusCompleted)

	_, status := doJSON(t, h, http.MethodGet, "/api/v1/status/"+id+"?history=true", nil)
	history, ok := status["history"].([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, history)
	assert.Equal(t, float64(len(history)), status["records"])

	first := history[0].(map[string]interface{})
	assert.Equal(t, float64(0), first["iteration"])
	for _, v := range first["point"].([]interface{}) {
		assert.GreaterOrEqual(t, v, -10.0)
		assert.LessOrEqual(t, v, 10.0)
	}
}

func TestSolve_BadRequest(t *testing.T) {
	_, h := newTestServer(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed body", `{"task": `},
		{"syntax error", SolveRequest{Task: "$variables: 1;", InitialPoint: []float64{0}}},
		{"unknown penalty", SolveRequest{Task: shiftedTask, InitialPoint: []float64{0, 0}, Penalty: "nope"}},
		{"unknown strategy", SolveRequest{Task: shiftedTask, InitialPoint: []float64{0, 0}, Strategy: "nope"}},
		{"dimension mismatch", SolveRequest{Task: shiftedTask, InitialPoint: []float64{0}}},
		{"random without bounds", SolveRequest{Task: shiftedTask, RandomStart: true}},
		{"negative threshold", SolveRequest{Task: shiftedTask, InitialPoint: []float64{0, 0}, MinPositionChange: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := doJSON(t, h, http.MethodPost, "/api/v1/solve", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestStatus_NotFound(t *testing.T) {
	_, h := newTestServer(t)

	rr, body := doJSON(t, h, http.MethodGet, "/api/v1/status/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, body["error"], "missing")

	rr, _ = doJSON(t, h, http.MethodDelete, "/api/v1/solve/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCancel_PendingJob(t *testing.T) {
	srv, h := newTestServer(t)

	// Hold every worker so the job cannot start.
	for i := 0; i < cap(srv.workers); i++ {
		srv.workers <- struct{}{}
	}
	defer func() {
		for i := 0; i < cap(srv.workers); i++ {
			<-srv.workers
		}
	}()

	_, body := doJSON(t, h, http.MethodPost, "/api/v1/solve", SolveRequest{Task: shiftedTask, InitialPoint: []float64{0, 0}})
	id := body["job_id"].(string)

	_, status := doJSON(t, h, http.MethodGet, "/api/v1/status/"+id, nil)
	assert.Equal(t, StatusPending, status["status"])

	rr, body := doJSON(t, h, http.MethodDelete, "/api/v1/solve/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, StatusCancelled, body["status"])

	status = waitForStatus(t, h, id, StatusCancelled)
	assert.Contains(t, status["error"], "context canceled")

	rr, _ = doJSON(t, h, http.MethodDelete, "/api/v1/solve/"+id, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCancel_FinishedJob(t *testing.T) {
	_, h := newTestServer(t)

	_, body := doJSON(t, h, http.MethodPost, "/api/v1/solve", SolveRequest{Task: shiftedTask, InitialPoint: []float64{0, 0}})
	id := body["job_id"].(string)
	waitForStatus(t, h, id, StatusCompleted)

	rr, _ := doJSON(t, h, http.MethodDelete, "/api/v1/solve/"+id, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestJobs_FinishedJobsExpire(t *testing.T) {
	srv, h := newTestServer(t)
	srv.cfg.Solver.JobRetention = time.Millisecond

	_, body := doJSON(t, h, http.MethodPost, "/api/v1/solve", SolveRequest{Task: shiftedTask, InitialPoint: []float64{0, 0}})
	first := body["job_id"].(string)
	waitForStatus(t, h, first, StatusCompleted)
	time.Sleep(10 * time.Millisecond)

	// Registering the next job drops the expired one.
	_, body = doJSON(t, h, http.MethodPost, "/api/v1/solve", SolveRequest{Task: shiftedTask, InitialPoint: []float64{3, 3}})
	second := body["job_id"].(string)

	rr, _ := doJSON(t, h, http.MethodGet, "/api/v1/status/"+first, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr, _ = doJSON(t, h, http.MethodGet, "/api/v1/status/"+second, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSolve_DivergenceFails(t *testing.T) {
	_, h := newTestServer(t)

	_, body := doJSON(t, h, http.MethodPost, "/api/v1/solve", SolveRequest{
		Task:         `$variables: 1; $function: 1 / (x[0] - 2);`,
		InitialPoint: []float64{2},
	})
	status := waitForStatus(t, h, body["job_id"].(string), StatusFailed)
	assert.Contains(t, status["error"], "non-finite value")
}

func rpc(t *testing.T, h http.Handler, method string, params ...interface{}) map[string]interface{} {
	t.Helper()
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if len(params) > 0 {
		request["params"] = params
	}
	rr, response := doJSON(t, h, http.MethodPost, "/rpc", request)
	require.Equal(t, http.StatusOK, rr.Code)
	return response
}

func rpcErrorCode(t *testing.T, response map[string]interface{}) float64 {
	t.Helper()
	errObj, ok := response["error"].(map[string]interface{})
	require.True(t, ok, "expected an error, got %v", response)
	return errObj["code"].(float64)
}

func TestJSONRPC_Lifecycle(t *testing.T) {
	_, h := newTestServer(t)

	response := rpc(t, h, "solve.start", SolveRequest{Task: boundedTask, InitialPoint: []float64{10, 10}})
	require.NotContains(t, response, "error")
	result := response["result"].(map[string]interface{})
	id := result["job_id"].(string)
	assert.Equal(t, StatusPending, result["status"])

	require.Eventually(t, func() bool {
		r := rpc(t, h, "solve.status", map[string]interface{}{"job_id": id})
		return r["result"].(map[string]interface{})["status"] == StatusCompleted
	}, 10*time.Second, 10*time.Millisecond)

	response = rpc(t, h, "solve.status", map[string]interface{}{"job_id": id, "history": true})
	status := response["result"].(map[string]interface{})
	assert.NotEmpty(t, status["history"])
	best := status["result"].(map[string]interface{})
	assert.InDelta(t, 5.0, best["function"], 1e-2)

	response = rpc(t, h, "solve.cancel", map[string]interface{}{"job_id": id})
	assert.Equal(t, float64(codeServerError), rpcErrorCode(t, response))
}

func TestJSONRPC_Errors(t *testing.T) {
	_, h := newTestServer(t)

	t.Run("parse error", func(t *testing.T) {
		_, response := doJSON(t, h, http.MethodPost, "/rpc", `{"jsonrpc": `)
		assert.Equal(t, float64(codeParseError), rpcErrorCode(t, response))
		assert.Nil(t, response["id"])
	})

	t.Run("wrong version", func(t *testing.T) {
		_, response := doJSON(t, h, http.MethodPost, "/rpc", `{"jsonrpc": "1.0", "id": 7, "method": "solve.start"}`)
		assert.Equal(t, float64(codeInvalidRequest), rpcErrorCode(t, response))
		assert.Equal(t, float64(7), response["id"])
	})

	t.Run("unknown method", func(t *testing.T) {
		assert.Equal(t, float64(codeMethodNotFound), rpcErrorCode(t, rpc(t, h, "solve.pause")))
	})

	t.Run("missing params", func(t *testing.T) {
		assert.Equal(t, float64(codeInvalidParams), rpcErrorCode(t, rpc(t, h, "solve.start")))
	})

	t.Run("bad task", func(t *testing.T) {
		response := rpc(t, h, "solve.start", SolveRequest{Task: "$function: x[0];"})
		assert.Equal(t, float64(codeInvalidParams), rpcErrorCode(t, response))
	})

	t.Run("unknown job", func(t *testing.T) {
		response := rpc(t, h, "solve.status", map[string]interface{}{"job_id": "missing"})
		assert.Equal(t, float64(codeServerError), rpcErrorCode(t, response))
	})
}

func TestMetrics(t *testing.T) {
	_, h := newTestServer(t)

	_, body := doJSON(t, h, http.MethodPost, "/api/v1/solve", SolveRequest{Task: shiftedTask, InitialPoint: []float64{3, 3}})
	waitForStatus(t, h, body["job_id"].(string), StatusCompleted)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	text := rr.Body.String()
	assert.Contains(t, text, `qfe_solve_jobs_total{status="completed"} 1`)
	assert.Contains(t, text, "qfe_solve_duration_seconds_count 1")
	assert.Contains(t, text, "qfe_solve_iterations_count 1")
	assert.Contains(t, text, "qfe_solve_jobs_running 0")
	assert.Contains(t, text, "go_goroutines")
}

func TestRecordView_NonFinite(t *testing.T) {
	assert.Nil(t, finite(math.NaN()))
	assert.Nil(t, finite(math.Inf(1)))
	assert.Equal(t, 2.5, finite(2.5))
}
