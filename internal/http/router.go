package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Krakaw/scratchpad/internal/domain"
	"github.com/Krakaw/scratchpad/internal/service/scratch"
	"github.com/Krakaw/scratchpad/internal/service/shared"
	"github.com/Krakaw/scratchpad/internal/ws"
)

const (
	defaultLogTail     = 100
	healthCheckTimeout = 2 * time.Second
)

// Scratches is the lifecycle manager surface exposed over HTTP.
type Scratches interface {
	Create(ctx context.Context, opts scratch.CreateOptions) (*domain.Scratch, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]domain.ScratchStatus, error)
	Get(ctx context.Context, name string) (domain.ScratchStatus, error)
	Logs(ctx context.Context, name, service string, tail int) ([]string, error)
}

// SharedServices is the provisioner surface exposed over HTTP.
type SharedServices interface {
	StatusAll(ctx context.Context) ([]shared.ServiceStatus, error)
	StartAll(ctx context.Context) error
	StopAll(ctx context.Context) error
	StartService(ctx context.Context, key string) error
	StopService(ctx context.Context, key string) error
}

// Databases exposes provisioned database listing.
type Databases interface {
	ListDatabases(ctx context.Context, key string) ([]string, error)
}

// Proxy exposes routing regeneration and the rendered config.
type Proxy interface {
	Regenerate(ctx context.Context) error
	Reload(ctx context.Context) error
	GetConfig() (string, error)
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	scratches Scratches
	services  SharedServices
	databases Databases
	proxy     Proxy
	hub       *ws.Hub
	upgrader  websocket.Upgrader
	health    func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	scratchOps         *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, scratches Scratches, services SharedServices, databases Databases, proxy Proxy, hub *ws.Hub, health func(context.Context) error) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		scratches: scratches,
		services:  services,
		databases: databases,
		proxy:     proxy,
		hub:       hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		health: health,
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.HandleFunc("/scratches", r.audit("/scratches", r.handleScratches))
	r.mux.HandleFunc("/scratches/", r.audit("/scratches/{name}", r.handleScratchSubroutes))
	r.mux.HandleFunc("/services", r.audit("/services", r.handleServices))
	r.mux.HandleFunc("/services/", r.audit("/services/{key}", r.handleServiceSubroutes))
	r.mux.HandleFunc("/proxy/config", r.audit("/proxy/config", r.handleProxyConfig))
	r.mux.HandleFunc("/proxy/reload", r.audit("/proxy/reload", r.handleProxyReload))
	r.mux.HandleFunc("/webhooks/github", r.audit("/webhooks/github", r.handleGithubWebhook))
	r.mux.HandleFunc("/ws", r.handleWS)
	r.mux.Handle("/metrics", promhttp.Handler())
}

func (r *Router) handleScratches(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		statuses, err := r.scratches.List(req.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, statuses)
	case http.MethodPost:
		var payload struct {
			Branch   string `json:"branch"`
			Name     string `json:"name"`
			Profile  string `json:"profile"`
			Template string `json:"template"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(payload.Branch) == "" && strings.TrimSpace(payload.Name) == "" {
			writeError(w, http.StatusBadRequest, "branch or name is required")
			return
		}
		created, err := r.scratches.Create(req.Context(), scratch.CreateOptions{
			Branch:   payload.Branch,
			Name:     payload.Name,
			Profile:  payload.Profile,
			Template: payload.Template,
		})
		r.recordScratchOp("create", err)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleScratchSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/scratches/")
	parts := strings.Split(trimmed, "/")
	name := parts[0]
	if name == "" {
		r.notFound(w)
		return
	}

	switch {
	case len(parts) == 1:
		r.handleScratch(w, req, name)
	case len(parts) == 2 && parts[1] == "start":
		r.handleScratchAction(w, req, name, "start", "started", r.scratches.Start)
	case len(parts) == 2 && parts[1] == "stop":
		r.handleScratchAction(w, req, name, "stop", "stopped", r.scratches.Stop)
	case len(parts) == 2 && parts[1] == "restart":
		r.handleScratchAction(w, req, name, "restart", "restarted", r.scratches.Restart)
	case len(parts) == 3 && parts[1] == "logs":
		r.handleScratchLogs(w, req, name, parts[2])
	default:
		r.notFound(w)
	}
}

func (r *Router) handleScratch(w http.ResponseWriter, req *http.Request, name string) {
	switch req.Method {
	case http.MethodGet:
		status, err := r.scratches.Get(req.Context(), name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	case http.MethodDelete:
		err := r.scratches.Delete(req.Context(), name)
		r.recordScratchOp("delete", err)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleScratchAction(w http.ResponseWriter, req *http.Request, name, op, done string, action func(context.Context, string) error) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	err := action(req.Context(), name)
	r.recordScratchOp(op, err)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": done})
}

func (r *Router) handleScratchLogs(w http.ResponseWriter, req *http.Request, name, service string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	tail, _ := strconv.Atoi(req.URL.Query().Get("tail"))
	if tail <= 0 {
		tail = defaultLogTail
	}
	lines, err := r.scratches.Logs(req.Context(), name, service, tail)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scratch": name,
		"service": service,
		"lines":   lines,
	})
}

func (r *Router) handleServices(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	statuses, err := r.services.StatusAll(req.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (r *Router) handleServiceSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/services/")
	parts := strings.Split(trimmed, "/")

	// Bulk operations keep the /services/<verb> shape.
	if len(parts) == 1 {
		switch parts[0] {
		case "start":
			r.handleBulkServiceAction(w, req, r.services.StartAll)
			return
		case "stop":
			r.handleBulkServiceAction(w, req, r.services.StopAll)
			return
		}
		r.notFound(w)
		return
	}

	key := parts[0]
	if key == "" || len(parts) != 2 {
		r.notFound(w)
		return
	}
	switch parts[1] {
	case "start":
		r.handleServiceAction(w, req, key, r.services.StartService)
	case "stop":
		r.handleServiceAction(w, req, key, r.services.StopService)
	case "databases":
		r.handleServiceDatabases(w, req, key)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleBulkServiceAction(w http.ResponseWriter, req *http.Request, action func(context.Context) error) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if err := action(req.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleServiceAction(w http.ResponseWriter, req *http.Request, key string, action func(context.Context, string) error) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if err := action(req.Context(), key); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleServiceDatabases(w http.ResponseWriter, req *http.Request, key string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	names, err := r.databases.ListDatabases(req.Context(), key)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"service": key, "databases": names})
}

func (r *Router) handleProxyConfig(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	content, err := r.proxy.GetConfig()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(content))
}

func (r *Router) handleProxyReload(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if err := r.proxy.Regenerate(req.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := r.proxy.Reload(req.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// githubWebhookPayload is the subset of GitHub's push and pull_request event
// bodies needed to find the branch.
type githubWebhookPayload struct {
	Ref         string `json:"ref"`
	Action      string `json:"action"`
	PullRequest *struct {
		Head struct {
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
}

func (p githubWebhookPayload) branch() string {
	if p.Ref != "" {
		return strings.TrimPrefix(p.Ref, "refs/heads/")
	}
	if p.PullRequest != nil {
		return p.PullRequest.Head.Ref
	}
	return ""
}

// handleGithubWebhook creates a scratch for the branch named in a GitHub
// push or pull request event.
func (r *Router) handleGithubWebhook(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload githubWebhookPayload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	branch := payload.branch()
	if branch == "" {
		writeError(w, http.StatusBadRequest, "no branch found in payload")
		return
	}
	r.logger.Info("github webhook received", "branch", branch, "action", payload.Action)

	created, err := r.scratches.Create(req.Context(), scratch.CreateOptions{Branch: branch})
	r.recordScratchOp("create", err)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	go client.WritePump()
	go client.ReadPump(r.hub)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.health != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.health(ctx); err != nil {
			status = "degraded"
			components["docker"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["docker"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
