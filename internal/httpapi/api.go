// Package httpapi exposes the storage service over HTTP: ingestion, the
// machine registry, range queries, the live WebSocket feed and the admin
// endpoints.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/live"
	"github.com/xtxerr/rigwatch/internal/logging"
	"github.com/xtxerr/rigwatch/internal/registry"
	"github.com/xtxerr/rigwatch/internal/storage"
	"github.com/xtxerr/rigwatch/internal/storage/compaction"
	"github.com/xtxerr/rigwatch/internal/storage/export"
	"github.com/xtxerr/rigwatch/internal/storage/query"
	"github.com/xtxerr/rigwatch/internal/storage/retention"
	"github.com/xtxerr/rigwatch/internal/storage/types"
)

var log = logging.Component("httpapi")

// Backend is the storage surface the API drives.
type Backend interface {
	Ingest(ctx context.Context, b storage.Batch) (storage.IngestResult, error)
	Flush(ctx context.Context) (int, error)
	Query(ctx context.Context, req query.Request) (*query.Result, error)
	Export(ctx context.Context, w io.Writer, req export.Request) (int64, error)

	Retention(ctx context.Context) (types.RetentionConfig, error)
	SetRetention(ctx context.Context, cfg types.RetentionConfig) (types.RetentionConfig, error)
	Cleanup(ctx context.Context, req storage.CleanupRequest) (retention.CleanupResult, error)
	Reaggregate(ctx context.Context, machineID string, start, end time.Time, resolution string) ([]compaction.RunResult, error)
	Stats(ctx context.Context) (*storage.AdminStats, error)
	Health(ctx context.Context) storage.Health

	Registry() *registry.Registry
	Live() *live.Hub
}

// Options configures the handler.
type Options struct {
	// MaxBodyBytes caps request bodies. 0 means 8 MiB.
	MaxBodyBytes int64

	// LiveInterval is the push cadence of /v1/live/{machine}. 0 means 2s.
	LiveInterval time.Duration

	// Gatherer serves /metrics. nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// Now is the time source for the online judgment.
	Now func() time.Time
}

// Handler serves the HTTP API.
type Handler struct {
	backend Backend
	opts    Options
	router  *mux.Router
}

// NewHandler creates the handler and its routes.
func NewHandler(backend Backend, opts Options) *Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 8 << 20
	}
	if opts.LiveInterval <= 0 {
		opts.LiveInterval = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	h := &Handler{backend: backend, opts: opts, router: mux.NewRouter()}
	h.routes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	r := h.router
	r.Use(recoverMiddleware, logMiddleware)

	api := r.PathPrefix("/v1").Subrouter()

	// Ingestion and registry
	api.HandleFunc("/ingest", h.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/machines", h.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/machines", h.handleListMachines).Methods(http.MethodGet)
	api.HandleFunc("/machines/{id}", h.handleGetMachine).Methods(http.MethodGet)
	api.HandleFunc("/machines/{id}/active", h.handleSetActive).Methods(http.MethodPut)

	// Query and live
	api.HandleFunc("/query", h.handleQuery).Methods(http.MethodGet)
	api.HandleFunc("/live", h.handleLiveList).Methods(http.MethodGet)
	api.HandleFunc("/live/{id}", h.handleLive).Methods(http.MethodGet)

	// Administration
	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/retention", h.handleGetRetention).Methods(http.MethodGet)
	admin.HandleFunc("/retention", h.handleSetRetention).Methods(http.MethodPut)
	admin.HandleFunc("/stats", h.handleStats).Methods(http.MethodGet)
	admin.HandleFunc("/cleanup", h.handleCleanup).Methods(http.MethodPost)
	admin.HandleFunc("/reaggregate", h.handleReaggregate).Methods(http.MethodPost)
	admin.HandleFunc("/flush", h.handleFlush).Methods(http.MethodPost)
	admin.HandleFunc("/export", h.handleExport).Methods(http.MethodGet)

	api.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)

	if h.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// =============================================================================
// Responses
// =============================================================================

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn("encode response", "error", err)
	}
}

// respondError maps err to a status through its category.
func respondError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "error", err)
	}
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
	})
}

// decode reads a JSON body. Malformed bodies are validation errors.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("body exceeds %d bytes: %w", tooLarge.Limit, errors.ErrInvalidValue)
		}
		if errors.IsValidation(err) {
			return err
		}
		return fmt.Errorf("invalid JSON: %v: %w", err, errors.ErrInvalidValue)
	}
	return nil
}

// =============================================================================
// Middleware
// =============================================================================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				log.Error("handler panic",
					"path", r.URL.Path,
					"panic", v,
					"stack", string(debug.Stack()))
				respondError(w, fmt.Errorf("panic: %v: %w", v, errors.ErrInternal))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// remoteHost returns the client IP of r.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
