package httpserver

import (
	"context"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"
)

// Health probe routes registered by HealthHandler.Register.
const (
	PingPath  = "/ping"
	LivePath  = "/livez"
	ReadyPath = "/readyz"
)

// HealthCheck reports nil when the checked dependency is usable.
type HealthCheck func(ctx context.Context) error

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status  string `json:"status"`
	Latency string `json:"latency"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of the liveness and readiness probes.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Hostname  string                 `json:"hostname,omitempty"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// PingResponse is the body of the ping probe.
type PingResponse struct {
	Status string `json:"status"`
}

// HealthHandler serves /ping, /livez and /readyz.
type HealthHandler struct {
	serviceName string
	version     string
	startTime   time.Time
	hostname    string

	mu              sync.RWMutex
	livenessChecks  map[string]HealthCheck
	readinessChecks map[string]HealthCheck
}

// HealthOption configures a HealthHandler.
type HealthOption func(*HealthHandler)

func withHealthServiceName(name string) HealthOption {
	return func(h *HealthHandler) {
		h.serviceName = name
	}
}

// WithVersion sets the version reported by the probes.
func WithVersion(version string) HealthOption {
	return func(h *HealthHandler) {
		if version != "" {
			h.version = version
		}
	}
}

// NewHealthHandler creates a handler with no checks. Prefer WithHealth, which
// also fills in the server's name.
func NewHealthHandler(opts ...HealthOption) *HealthHandler {
	hostname, _ := os.Hostname()
	h := &HealthHandler{
		serviceName:     "unknown",
		version:         "dev",
		startTime:       time.Now(),
		hostname:        hostname,
		livenessChecks:  make(map[string]HealthCheck),
		readinessChecks: make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddLivenessCheck registers a check run by /livez.
func (h *HealthHandler) AddLivenessCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.livenessChecks[name] = check
}

// AddReadinessCheck registers a check run by /readyz. A load run against a
// remote endpoint waits for readiness before sending traffic.
func (h *HealthHandler) AddReadinessCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessChecks[name] = check
}

// Register mounts the three probes on mux.
func (h *HealthHandler) Register(mux *http.ServeMux) {
	mux.Handle(PingPath, h.PingHandler())
	mux.Handle(LivePath, h.LiveHandler())
	mux.Handle(ReadyPath, h.ReadyHandler())
}

// PingHandler always answers 200 without running checks.
func (h *HealthHandler) PingHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, Response[PingResponse]{Data: PingResponse{Status: "pong"}})
	})
}

// LiveHandler answers 200 when every liveness check passes, 503 otherwise.
func (h *HealthHandler) LiveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.serveChecks(w, r, func() map[string]HealthCheck { return h.livenessChecks })
	})
}

// ReadyHandler answers 200 when every readiness check passes, 503 otherwise.
func (h *HealthHandler) ReadyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.serveChecks(w, r, func() map[string]HealthCheck { return h.readinessChecks })
	})
}

func (h *HealthHandler) serveChecks(w http.ResponseWriter, r *http.Request, set func() map[string]HealthCheck) {
	h.mu.RLock()
	checks := make(map[string]HealthCheck, len(set()))
	for name, c := range set() {
		checks[name] = c
	}
	h.mu.RUnlock()

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	now := time.Now()
	results := make(map[string]CheckResult, len(checks))
	var failures []Error
	for _, name := range names {
		start := time.Now()
		err := checks[name](r.Context())
		result := CheckResult{Status: "ok", Latency: time.Since(start).String()}
		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			failures = append(failures, Error{Field: name, Message: err.Error()})
		}
		results[name] = result
	}

	data := HealthResponse{
		Status:    "ok",
		Service:   h.serviceName,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Hostname:  h.hostname,
		Timestamp: now.UTC().Format(time.RFC3339),
		Checks:    results,
	}
	status, message := http.StatusOK, "all checks passed"
	if len(failures) > 0 {
		data.Status = "fail"
		status, message = http.StatusServiceUnavailable, "one or more checks failed"
	}

	WriteJSON(w, status, Response[HealthResponse]{Data: data, Errors: failures, Message: message})
}
