package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/barckcode/puyu-api/internal/domain"
	awsprovider "github.com/barckcode/puyu-api/internal/provider/aws"
	"github.com/barckcode/puyu-api/internal/service/auth"
	"github.com/barckcode/puyu-api/internal/service/provision"
	"github.com/barckcode/puyu-api/internal/ws"
)

// Authorizer verifies bearer tokens.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (*auth.Principal, error)
}

// Provisioner runs and reports provisioning requests.
type Provisioner interface {
	CreateInstance(ctx context.Context, in provision.CreateInstanceInput) (*provision.InstanceSummary, error)
	GetRun(ctx context.Context, runID string) (*domain.ProvisioningRun, error)
}

// ImageSearcher looks up machine images.
type ImageSearcher interface {
	SearchImages(ctx context.Context, q awsprovider.ImageQuery) ([]awsprovider.Image, error)
}

// ProjectService manages projects and their mirrored resources.
type ProjectService interface {
	Create(ctx context.Context, name string) (*domain.Project, error)
	Get(ctx context.Context, projectID int64) (*domain.Project, error)
	List(ctx context.Context) ([]domain.Project, error)
	Resources(ctx context.Context, projectID int64, region string) (*domain.ProjectResources, error)
}

// Subscriptions tracks websocket subscribers per project.
type Subscriptions interface {
	Register(projectID int64, client ws.Subscriber)
	Unregister(projectID int64, client ws.Subscriber)
}

// Options carries the collaborators of the router.
type Options struct {
	Logger        *slog.Logger
	Auth          Authorizer
	Provisioner   Provisioner
	Images        ImageSearcher
	Projects      ProjectService
	Hub           Subscriptions
	Limiter       RateLimiter
	Registerer    prometheus.Registerer
	Gatherer      prometheus.Gatherer
	DefaultRegion string
	AllowedOrigin string
	WriteLimit    int
	ReadLimit     int
	DBHealth      func(context.Context) error
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux           *http.ServeMux
	logger        *slog.Logger
	auth          Authorizer
	provisioner   Provisioner
	images        ImageSearcher
	projects      ProjectService
	hub           Subscriptions
	upgrader      websocket.Upgrader
	limiter       RateLimiter
	registerer    prometheus.Registerer
	gatherer      prometheus.Gatherer
	defaultRegion string
	allowedOrigin string
	writeLimit    int
	readLimit     int
	dbHealth      func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault     = time.Minute
	rateWindowRealtime    = 30 * time.Second
	rateLimitWriteDefault = 30
	rateLimitReadDefault  = 120
	rateLimitWebsocket    = 30
	healthCheckTimeout    = 2 * time.Second
	maxRequestBody        = 1 << 20
)

// NewRouter assembles routes with dependencies.
func NewRouter(opts Options) *Router {
	r := &Router{
		mux:           http.NewServeMux(),
		logger:        opts.Logger,
		auth:          opts.Auth,
		provisioner:   opts.Provisioner,
		images:        opts.Images,
		projects:      opts.Projects,
		hub:           opts.Hub,
		limiter:       opts.Limiter,
		registerer:    opts.Registerer,
		gatherer:      opts.Gatherer,
		defaultRegion: opts.DefaultRegion,
		allowedOrigin: strings.TrimSpace(opts.AllowedOrigin),
		writeLimit:    opts.WriteLimit,
		readLimit:     opts.ReadLimit,
		dbHealth:      opts.DBHealth,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.registerer == nil {
		r.registerer = prometheus.DefaultRegisterer
	}
	if r.gatherer == nil {
		r.gatherer = prometheus.DefaultGatherer
	}
	if r.writeLimit == 0 {
		r.writeLimit = rateLimitWriteDefault
	}
	if r.readLimit == 0 {
		r.readLimit = rateLimitReadDefault
	}
	r.upgrader = websocket.Upgrader{CheckOrigin: r.checkOrigin}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))

	r.authed("/aws/instance", r.writeLimit, rateWindowDefault, r.handleCreateInstance)
	r.authed("/aws/ami/search", r.readLimit, rateWindowDefault, r.handleImageSearch)
	r.authed("/provisioning/runs/{id}", r.readLimit, rateWindowDefault, r.handleGetRun)
	r.authed("/ws/provisioning", rateLimitWebsocket, rateWindowRealtime, r.handleProvisioningWS)
	r.authed("/projects", r.writeLimit, rateWindowDefault, r.handleProjects)
	r.authed("/projects/{id}", r.readLimit, rateWindowDefault, r.handleProject)
	r.authed("/projects/{id}/resources", r.readLimit, rateWindowDefault, r.handleProjectResources)
}

// authed registers an audited route that requires a bearer token and is rate limited per caller.
func (r *Router) authed(pattern string, limit int, window time.Duration, h http.HandlerFunc) {
	policy := ratePolicy{route: pattern, limit: limit, window: window}
	r.mux.HandleFunc(pattern, r.audit(pattern, r.protected(policy, h)))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
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
		reqID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		if r.allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", r.allowedOrigin)
			w.Header().Set("Vary", "Origin")
		}

		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
			"request_id", reqID,
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if principal, ok := principalFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "subject", principal.Subject)
		}
		fields = append(fields, "actor", actor)

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
	ctx    context.Context
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

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) checkOrigin(req *http.Request) bool {
	origin := req.Header.Get("Origin")
	if origin == "" || r.allowedOrigin == "" || r.allowedOrigin == "*" {
		return true
	}
	return strings.EqualFold(origin, r.allowedOrigin)
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
