package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamd/internal/events"
	"streamd/pkg/types"
)

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	// Compression for JSON endpoints; NDJSON streams are not compressed.
	r.Use(middleware.Compress(5, "application/json"))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/models", handleModels(svc))
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) { writeJSON(w, http.StatusOK, svc.Status()) })
	r.Post("/load", handleLoad(svc))
	r.Post("/unload", handleUnload(svc))
	r.Post("/generate", handleGenerate(svc))
	r.Get("/ws", handleWebSocket(svc))
	r.Post("/stop", func(w http.ResponseWriter, r *http.Request) {
		svc.Stop()
		writeJSON(w, http.StatusOK, svc.Status())
	})
	r.Get("/history", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.HistoryResponse{Messages: nonNil(svc.History())})
	})
	r.Delete("/history", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.ClearHistory(); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/stats", handleStats(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

// handleModels lists known models.
//
// @Summary  List models
// @Produce  json
// @Success  200 {object} types.ModelsResponse
// @Router   /models [get]
func handleModels(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: nonNil(svc.ListModels())})
	}
}

// handleLoad loads a model, streaming progress as NDJSON.
//
// @Summary  Load a model
// @Accept   json
// @Produce  application/x-ndjson
// @Param    request body types.LoadRequest true "model and session options"
// @Success  200 {object} types.LoadProgress
// @Failure  400,404,409,503 {object} types.ErrorResponse
// @Router   /load [post]
func handleLoad(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.LoadRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.ModelID) == "" {
			writeJSONError(w, http.StatusBadRequest, "model_id is required")
			return
		}
		lvl := requestLogLevel(r)
		start := time.Now()
		logStart(r, lvl, "load start", map[string]string{"model": req.ModelID})
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		if wantsJSON(r) {
			if err := svc.Load(ctx, req, nil); err != nil {
				status := statusFor(err)
				logEnd(r, lvl, "load end", status, start, err)
				writeJSONError(w, status, err.Error())
				return
			}
			logEnd(r, lvl, "load end", http.StatusOK, start, nil)
			writeJSON(w, http.StatusOK, types.LoadProgress{Progress: 1, Done: true})
			return
		}

		sw := newStreamWriter(w)
		defer sw.Close()
		enc := json.NewEncoder(sw)
		var mu sync.Mutex
		line := func(p types.LoadProgress) {
			mu.Lock()
			defer mu.Unlock()
			if enc.Encode(p) == nil {
				sw.Flush()
			}
		}
		err := svc.Load(ctx, req, func(p float64) { line(types.LoadProgress{Progress: p}) })
		if err != nil {
			status := statusFor(err)
			logEnd(r, lvl, "load end", status, start, err)
			if !sw.Started() {
				writeJSONError(w, status, err.Error())
				return
			}
			line(types.LoadProgress{Error: err.Error()})
			return
		}
		logEnd(r, lvl, "load end", http.StatusOK, start, nil)
		line(types.LoadProgress{Progress: 1, Done: true})
	}
}

func handleUnload(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Unload(); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, svc.Status())
	}
}

// handleGenerate runs one turn, streaming StreamEvents as NDJSON. Clients
// sending Accept: application/json get a single GenerateResponse instead.
//
// @Summary  Generate
// @Accept   json
// @Produce  application/x-ndjson
// @Param    request body types.GenerateRequest true "prompt"
// @Success  200 {object} types.GenerateResponse
// @Failure  400,409,429,503 {object} types.ErrorResponse
// @Router   /generate [post]
func handleGenerate(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.GenerateRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}
		lvl := requestLogLevel(r)
		start := time.Now()
		logStart(r, lvl, "generate start", nil)

		// Join server base context with request context so shutdown cancels work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if generateTimeout > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(ctx, time.Duration(generateTimeout)*time.Second)
			defer tcancel()
		}

		if wantsJSON(r) {
			res, err := svc.Generate(ctx, req.Prompt, nil)
			if err != nil {
				status := generateStatus(w, err)
				logEnd(r, lvl, "generate end", status, start, err)
				writeJSONError(w, status, err.Error())
				return
			}
			logEnd(r, lvl, "generate end", http.StatusOK, start, nil)
			writeJSON(w, http.StatusOK, res)
			return
		}

		sw := newStreamWriter(w)
		defer sw.Close()
		var out io.Writer = sw
		if lvl >= LevelDebug {
			out = io.MultiWriter(sw, &lineLogger{prefix: "generate>", rid: middleware.GetReqID(r.Context())})
		}
		nd := events.NewNDJSON(out, sw.Flush)
		_, err := svc.Generate(ctx, req.Prompt, nd)
		if err != nil {
			// Client went away: nothing left to tell it.
			if r.Context().Err() != nil {
				return
			}
			status := statusFor(err)
			logEnd(r, lvl, "generate end", status, start, err)
			if !sw.Started() {
				status = generateStatus(w, err)
				writeJSONError(w, status, err.Error())
				return
			}
			_ = json.NewEncoder(sw).Encode(types.ErrorResponse{Error: err.Error(), Code: status})
			sw.Flush()
			return
		}
		logEnd(r, lvl, "generate end", http.StatusOK, start, nd.Err())
	}
}

// generateStatus maps err and, for backpressure, sets Retry-After.
func generateStatus(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("generate")
		w.Header().Set("Retry-After", "1")
	}
	return status
}

func handleStats(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, ok := svc.Stats()
		if !ok {
			writeJSONError(w, http.StatusNotFound, "no generation has completed yet")
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// decodeJSONBody enforces the JSON content type and body size limit.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Oversized bodies also land here; the size is not disclosed.
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// wantsJSON reports whether the client asked for a single JSON document
// instead of an NDJSON stream.
func wantsJSON(r *http.Request) bool {
	a := strings.ToLower(r.Header.Get("Accept"))
	return strings.Contains(a, "application/json") && !strings.Contains(a, "ndjson")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn().Err(err).Msg("encode response")
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
