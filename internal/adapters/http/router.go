package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/docuseek/qa-engine/internal/core/domain"
	"github.com/docuseek/qa-engine/internal/core/ports"
	"github.com/docuseek/qa-engine/internal/observability/metrics"
)

const serviceName = "qa-engine"

type RouterConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxConcurrent  int
	EnqueueWait    time.Duration
}

func (c RouterConfig) normalize() RouterConfig {
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = 10
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 20
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 32
	}
	if c.EnqueueWait <= 0 {
		c.EnqueueWait = 200 * time.Millisecond
	}
	return c
}

type Router struct {
	search  ports.SearchService
	answer  ports.AnswerService
	storage ports.IndexStorage
	metrics *metrics.HTTPServerMetrics
	cfg     RouterConfig
}

func NewRouter(
	search ports.SearchService,
	answer ports.AnswerService,
	storage ports.IndexStorage,
	m *metrics.HTTPServerMetrics,
	cfg RouterConfig,
) *Router {
	return &Router{
		search:  search,
		answer:  answer,
		storage: storage,
		metrics: m,
		cfg:     cfg.normalize(),
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}
	mux.HandleFunc("/v1/search", rt.searchHandler)
	mux.HandleFunc("/v1/search/stream", rt.searchStreamHandler)
	mux.HandleFunc("/v1/answer", rt.answerHandler)
	mux.HandleFunc("/v1/answer/stream", rt.streamHandler)
	mux.HandleFunc("/v1/files", rt.listFiles)
	mux.HandleFunc("/v1/files/", rt.getFile)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.MaxConcurrent, rt.cfg.EnqueueWait, rt.throttled("overload"))
	handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst, rt.throttled("rate_limit"))
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) throttled(reason string) func() {
	return func() {
		if rt.metrics != nil {
			rt.metrics.RecordThrottled(serviceName, reason)
		}
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) searchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req domain.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	start := time.Now()
	resp, err := rt.search.Search(r.Context(), req)
	if err != nil {
		writeError(w, mapErrorToHTTPStatus(err), err.Error())
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordSearch(serviceName, string(resp.Strategy), len(resp.Hits), time.Since(start))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) searchStreamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req domain.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	stream, err := newNDJSONStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	emit := func(res domain.StageResult) error {
		if rt.metrics != nil {
			rt.metrics.RecordStreamEvent(serviceName, "search_"+string(res.Stage))
		}
		return stream.write(res)
	}

	// Once the stream is open errors travel inside it; the status line
	// is already committed.
	if err := rt.search.StreamSearch(r.Context(), req, emit); err != nil {
		_ = stream.write(domain.StreamEvent{Type: domain.EventError, Message: err.Error()})
	}
}

func (rt *Router) answerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req domain.AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	start := time.Now()
	result, err := rt.answer.Answer(r.Context(), req)
	if err != nil {
		writeError(w, mapErrorToHTTPStatus(err), err.Error())
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordAnswer(
			serviceName,
			string(result.Intent),
			len(result.Hits),
			result.Answer != "",
			time.Since(start),
		)
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) streamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req domain.AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	stream, err := newNDJSONStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	emit := func(ev domain.StreamEvent) error {
		if rt.metrics != nil {
			rt.metrics.RecordStreamEvent(serviceName, string(ev.Type))
		}
		return stream.write(ev)
	}

	// Once the stream is open errors travel inside it; the status line
	// is already committed.
	if err := rt.answer.StreamAnswer(r.Context(), req, emit); err != nil {
		_ = stream.write(domain.StreamEvent{Type: domain.EventError, Message: err.Error()})
	}
}

func (rt *Router) listFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	files, err := rt.storage.FilesWithEmbeddings(r.Context())
	if err != nil {
		writeError(w, mapErrorToHTTPStatus(err), err.Error())
		return
	}
	if files == nil {
		files = []domain.FileRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (rt *Router) getFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/files/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "file id is required")
		return
	}

	file, err := rt.storage.GetFileByID(r.Context(), id)
	if err != nil {
		writeError(w, mapErrorToHTTPStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
