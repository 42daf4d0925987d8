package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/synadia-labs/ccpm-web/internal/config"
	"github.com/synadia-labs/ccpm-web/internal/gateway"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RequestId string

const (
	RequestIdKey RequestId = "request_id"
)

const maxBodyBytes = 1 << 20

type Middleware func(http.Handler) http.Handler

type HTTPServer interface {
	// serve until ctx is cancelled, then shut down gracefully
	Start(ctx context.Context) error

	Handler() http.Handler
}

type httpServer struct {
	port    string
	handler http.Handler
	logger  *slog.Logger
}

func (s *httpServer) Handler() http.Handler {
	return s.handler
}

func (s *httpServer) Start(ctx context.Context) error {
	// in-flight commands get ShutdownGrace to finish before they are killed
	base, cancelBase := GraceContext(ctx, ShutdownGrace)
	defer cancelBase()

	addr := fmt.Sprintf(":%s", s.port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
	}

	// leave room for cancelled handlers to write their replies
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownGrace+time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("error shutting down http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func NewHTTPServer(cfg *config.Config, gw gateway.Gateway, logger *slog.Logger) (HTTPServer, error) {
	port := cfg.Http.Port
	if port == "" {
		port = config.DefaultPort
	}

	index, err := renderIndex(cfg.Gateway.Prefix)
	if err != nil {
		return nil, err
	}

	middlewares := []Middleware{requestIdMiddleware, logMiddleware(logger)}

	mux := http.NewServeMux()

	middleware := func(next http.Handler) http.Handler {
		// Apply middlewares in reverse order so they execute in the correct sequence
		handler := next
		for i := len(middlewares) - 1; i >= 0; i-- {
			handler = middlewares[i](handler)
		}
		return handler
	}

	// index
	var page http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(index)
	})
	mux.Handle("GET /{$}", middleware(page))

	// health
	var health http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, gw.Health())
	})
	mux.Handle("GET /health", middleware(health))

	// execute
	var execute http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var command string
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err == nil {
			command, err = decodeExecuteRequest(data)
		}
		if err != nil {
			logger.Error("error decoding execute request", "request_id", requestId(r), "error", err)
			writeJSON(w, logger, gateway.Failure{
				Kind:    gateway.KindInternal,
				Message: fmt.Sprintf("invalid request body: %s", err),
			})
			return
		}
		writeJSON(w, logger, gw.Execute(r.Context(), command))
	})
	mux.Handle("POST /execute", middleware(execute))

	handler := otelhttp.NewHandler(corsMiddleware(mux), cfg.ServiceName)
	return &httpServer{port: port, handler: handler, logger: logger}, nil
}

// Failures are reported in the body, so every response is a 200.
func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		logger.Error("error writing response", "error", err)
	}
}

func requestId(r *http.Request) string {
	id, _ := r.Context().Value(RequestIdKey).(string)
	return id
}

// Unique ID for each request
func requestIdMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), RequestIdKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Log requests
func logMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", requestId(r),
				"status", rec.status,
				"duration", time.Since(start),
			)
		})
	}
}

// Allow the page to be served from another origin
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
