package tts

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/silencevoice/silencevoice/internal/logging"
)

// Synthesizer turns text into MP3 audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Options configure the proxy router.
type Options struct {
	AllowedOrigins     []string
	RateLimitPerMinute int
}

type errorBody struct {
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details,omitempty"`
}

// NewRouter returns the proxy HTTP handler.
func NewRouter(synth Synthesizer, opts Options, logger *slog.Logger) http.Handler {
	logger = logging.OrDiscard(logger)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if opts.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(opts.RateLimitPerMinute, time.Minute))
		}
		r.Post("/api/tts", synthesizeHandler(synth, logger))
	})

	return r
}

func synthesizeHandler(synth Synthesizer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid JSON body"})
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Text is required"})
			return
		}

		reqID := middleware.GetReqID(r.Context())
		audio, err := synth.Synthesize(r.Context(), req.Text)
		if err != nil {
			var upstream *UpstreamError
			switch {
			case errors.Is(err, ErrMissingCredential):
				logger.Error("synthesis credential missing", "request_id", reqID, "env", CredentialEnv)
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: ErrMissingCredential.Error()})
			case errors.As(err, &upstream):
				logger.Error("elevenlabs api error",
					"request_id", reqID,
					"status", upstream.Status,
					"message", upstream.Message,
					"details", string(upstream.Details),
				)
				writeJSON(w, upstream.Status, errorBody{Error: upstream.Message, Details: upstream.Details})
			default:
				logger.Error("synthesis failed", "request_id", reqID, "error", err.Error())
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal Server Error"})
			}
			return
		}

		logger.Info("synthesis complete", "request_id", reqID, "text_length", len(req.Text), "audio_bytes", len(audio))
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(audio)
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"latency_ms", time.Since(started).Milliseconds(),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
