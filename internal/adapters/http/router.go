package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/kmalykh/ragmesh/internal/core/domain"
	"github.com/kmalykh/ragmesh/internal/observability/metrics"
)

const serviceName = "api"

// ChatStreamer runs one orchestration and yields events in order. Yield
// returning an error means the consumer is gone.
type ChatStreamer interface {
	Stream(ctx context.Context, req domain.ChatRequest, yield func(domain.Event) error) error
}

// DocumentEnqueuer hands a validated ingest request to the worker queue.
type DocumentEnqueuer interface {
	Enqueue(ctx context.Context, req domain.IngestRequest) error
}

type Options struct {
	RateLimitRPS    float64
	RateLimitBurst  int
	MaxInFlight     int
	BackpressureMax time.Duration

	// Retrieval defaults applied to chat requests that leave them unset.
	DefaultTopK        int
	DefaultDenseWeight float64
	DefaultRerankTopN  int
}

type Router struct {
	chat    ChatStreamer
	ingest  DocumentEnqueuer
	metrics *metrics.HTTPServerMetrics
	logger  *slog.Logger
	opts    Options
}

func NewRouter(
	chat ChatStreamer,
	ingest DocumentEnqueuer,
	m *metrics.HTTPServerMetrics,
	logger *slog.Logger,
	opts Options,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BackpressureMax <= 0 {
		opts.BackpressureMax = 2 * time.Second
	}
	return &Router{chat: chat, ingest: ingest, metrics: m, logger: logger, opts: opts}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/chat/stream", rt.chatStream)
	mux.HandleFunc("/v1/documents", rt.addDocument)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, rt.opts.BackpressureMax)
	handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) addDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var payload struct {
		UserID          string `json:"user_id"`
		KnowledgeBaseID string `json:"knowledge_base_id"`
		DocumentID      string `json:"document_id"`
		Title           string `json:"title"`
		Text            string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	req := domain.IngestRequest{
		UserID:          payload.UserID,
		KnowledgeBaseID: payload.KnowledgeBaseID,
		DocumentID:      payload.DocumentID,
		Title:           payload.Title,
		Text:            payload.Text,
	}
	if err := rt.ingest.Enqueue(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case domain.IsKind(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case domain.IsKind(err, domain.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
	case domain.IsKind(err, domain.ErrTemporary):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
