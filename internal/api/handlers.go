package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kenneth/nac-producer/internal/audit"
	"github.com/kenneth/nac-producer/internal/ekey"
	"github.com/kenneth/nac-producer/internal/metrics"
	"github.com/kenneth/nac-producer/internal/middleware"
	"github.com/kenneth/nac-producer/internal/ndn"
	"github.com/kenneth/nac-producer/internal/producer"
	"github.com/kenneth/nac-producer/internal/store"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes = 64 << 20

// Handler serves the producer API: E-KEY registration, producing content
// into the store and serving stored objects back.
type Handler struct {
	producer     *producer.Producer
	registry     *ekey.Registry
	store        store.Store
	policy       *NamePolicy
	logger       *logrus.Logger
	metrics      *metrics.Metrics
	audit        audit.Logger
	tp           trace.TracerProvider
	maxBodyBytes int64
	metricsPath  string
}

// Option configures a Handler.
type Option func(*Handler)

// WithPolicy restricts producible content names.
func WithPolicy(p *NamePolicy) Option {
	return func(h *Handler) { h.policy = p }
}

// WithAudit records object accesses.
func WithAudit(l audit.Logger) Option {
	return func(h *Handler) { h.audit = l }
}

// WithMaxBodyBytes bounds request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// WithTracerProvider enables a server span per request.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(h *Handler) {
		if tp != nil {
			h.tp = tp
		}
	}
}

// WithMetricsPath serves Prometheus metrics at path. An empty path
// disables the endpoint.
func WithMetricsPath(path string) Option {
	return func(h *Handler) { h.metricsPath = path }
}

// NewHandler creates a new API handler.
func NewHandler(p *producer.Producer, registry *ekey.Registry, st store.Store, logger *logrus.Logger, m *metrics.Metrics, opts ...Option) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &Handler{
		producer:     p,
		registry:     registry,
		store:        st,
		logger:       logger,
		metrics:      m,
		tp:           noop.NewTracerProvider(),
		maxBodyBytes: DefaultMaxBodyBytes,
		metricsPath:  "/metrics",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", metrics.HealthHandler()).Methods(http.MethodGet)
	r.HandleFunc("/ready", metrics.ReadinessHandler(h.store.Ping)).Methods(http.MethodGet)
	r.HandleFunc("/live", metrics.LivenessHandler()).Methods(http.MethodGet)
	if h.metricsPath != "" && h.metrics != nil {
		r.Handle(h.metricsPath, h.metrics.Handler()).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(middleware.TracingMiddleware(h.tp))
	v1.HandleFunc("/ekeys", h.handleRegisterEKey).Methods(http.MethodPost)
	v1.HandleFunc("/objects/{name:.*}", h.handlePutObject).Methods(http.MethodPut)
	v1.HandleFunc("/objects/{name:.*}", h.handleGetObject).Methods(http.MethodGet)
}

// Router returns the full HTTP handler with logging, metrics and panic
// recovery applied.
func (h *Handler) Router() http.Handler {
	// Keep percent-escapes so name components may contain '/'.
	r := mux.NewRouter().UseEncodedPath()
	h.RegisterRoutes(r)

	var handler http.Handler = r
	handler = middleware.MetricsMiddleware(h.metrics)(handler)
	handler = middleware.LoggingMiddleware(h.logger)(handler)
	handler = middleware.RecoveryMiddleware(h.logger)(handler)
	return handler
}

type registerResponse struct {
	KeyName string `json:"key_name"`
}

type produceResponse struct {
	ContentName string `json:"content_name"`
	KeyName     string `json:"key_name"`
	ContentSize int    `json:"content_size"`
}

// handleRegisterEKey accepts an E-KEY Data packet in wire form.
func (h *Handler) handleRegisterEKey(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	data, err := ndn.DecodeData(body)
	if err != nil {
		h.logger.WithError(err).Debug("Rejected malformed E-KEY")
		http.Error(w, "Malformed E-KEY packet", http.StatusBadRequest)
		return
	}

	name, err := h.registry.Register(data)
	switch {
	case errors.Is(err, ekey.ErrUntrusted):
		http.Error(w, "E-KEY is not signed by a trusted key", http.StatusForbidden)
		return
	case err != nil:
		http.Error(w, "Invalid E-KEY packet", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{KeyName: name.String()})
}

// handlePutObject produces the content and key objects for the request
// body and stores both.
func (h *Handler) handlePutObject(w http.ResponseWriter, r *http.Request) {
	name, err := ndn.ParseName("/" + mux.Vars(r)["name"])
	if err != nil || len(name) == 0 {
		http.Error(w, "Invalid content name", http.StatusBadRequest)
		return
	}
	ekeyParam := r.URL.Query().Get("ekey")
	if ekeyParam == "" {
		http.Error(w, "Missing ekey parameter", http.StatusBadRequest)
		return
	}
	ekeyName, err := ndn.ParseName(ekeyParam)
	if err != nil {
		http.Error(w, "Invalid ekey name", http.StatusBadRequest)
		return
	}

	log := h.logger.WithFields(logrus.Fields{
		"content_name":        name.String(),
		"encryption_key_name": ekeyName.String(),
		"request_id":          middleware.RequestIDFromContext(r.Context()),
	})

	if !h.policy.Allows(name) {
		log.Info("Content name denied by policy")
		http.Error(w, "Content name not allowed", http.StatusForbidden)
		return
	}

	keyName, der, found := h.registry.Lookup(ekeyName)
	if !found {
		http.Error(w, fmt.Sprintf("Unknown encryption key %s", ekeyName), http.StatusNotFound)
		return
	}

	payload, ok := h.readBody(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	content, key, err := h.producer.ProduceContext(ctx, name, payload, keyName, der)
	if err != nil {
		if producer.KindOf(err) == producer.ContractViolation {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.WithError(err).Error("Failed to produce objects")
		http.Error(w, "Failed to produce objects", http.StatusInternalServerError)
		return
	}

	if err := h.store.Put(ctx, content); err != nil {
		log.WithError(err).Error("Failed to store content object")
		http.Error(w, "Failed to store objects", http.StatusInternalServerError)
		return
	}
	if err := h.store.Put(ctx, key); err != nil {
		log.WithError(err).Error("Failed to store key object")
		// Do not leave content behind that nobody can decrypt.
		if delErr := h.store.Delete(ctx, content.Name); delErr != nil {
			log.WithError(delErr).Warn("Failed to remove orphaned content object")
		}
		http.Error(w, "Failed to store objects", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, produceResponse{
		ContentName: content.Name.String(),
		KeyName:     key.Name.String(),
		ContentSize: len(content.Content),
	})
}

// handleGetObject serves a stored object in wire form.
func (h *Handler) handleGetObject(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name, err := ndn.ParseName("/" + mux.Vars(r)["name"])
	if err != nil || len(name) == 0 {
		http.Error(w, "Invalid object name", http.StatusBadRequest)
		return
	}

	d, err := h.store.Get(r.Context(), name)
	if err == nil {
		var wire []byte
		if wire, err = d.Encode(); err == nil {
			h.logAccess(r, name, nil, start)
			w.Header().Set("Content-Type", "application/octet-stream")
			w.WriteHeader(http.StatusOK)
			w.Write(wire)
			return
		}
	}

	h.logAccess(r, name, err, start)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Object not found", http.StatusNotFound)
		return
	}
	h.logger.WithError(err).WithField("name", name.String()).Error("Failed to get object")
	http.Error(w, "Failed to get object", http.StatusInternalServerError)
}

func (h *Handler) logAccess(r *http.Request, name ndn.Name, err error, start time.Time) {
	if h.audit == nil {
		return
	}
	h.audit.LogAccess(name.String(), r.RemoteAddr, r.UserAgent(),
		middleware.RequestIDFromContext(r.Context()), err == nil, err, time.Since(start))
}

// readBody reads the bounded request body, writing the error response
// itself when that fails.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return nil, false
	}
	if body == nil {
		body = []byte{}
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
