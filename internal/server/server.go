package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Options assembles the pieces mounted on the connector's single listener.
type Options struct {
	Addr    string
	MCPPath string

	Health  *Health
	Upload  http.Handler
	Metrics http.Handler
	MCP     http.Handler

	Log *slog.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server is the connector's HTTP front: probes, image upload, metrics and
// the MCP transport share one port so a single Render/Railway service
// definition covers everything.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

// New builds the server. The MCP handler is mounted at opts.MCPPath; a
// trailing slash makes it a subtree match so clients may post to either
// /mcp or /mcp/.
func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	mux := http.NewServeMux()
	if opts.Health != nil {
		opts.Health.Register(mux)
	}
	if opts.Upload != nil {
		mux.Handle("/upload-image", opts.Upload)
	}
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	if opts.MCP != nil {
		path := opts.MCPPath
		if path == "" {
			path = "/mcp/"
		}
		mux.Handle(path, opts.MCP)
		if last := len(path) - 1; path[last] == '/' && last > 0 {
			mux.Handle(path[:last], opts.MCP)
		}
	}

	readTimeout := opts.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout == 0 {
		// Streamable MCP responses can outlive a single search round trip.
		writeTimeout = 120 * time.Second
	}
	idleTimeout := opts.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 2 * time.Minute
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         opts.Addr,
			Handler:      requestLogger(log, mux),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  idleTimeout,
		},
		log: log,
	}
}

// ListenAndServe blocks serving requests until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs one line per request. Probe endpoints are skipped to
// keep platform health polling out of the logs.
func requestLogger(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health", "/ready", "/live", "/healthz", "/readyz", "/livez":
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
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

// Flush keeps streaming responses working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
