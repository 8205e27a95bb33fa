package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"lumacam/config"
)

// Server hosts the control API and the live preview WebSocket feed.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server

	handlers *Handlers
	preview  *PreviewFeed
}

// NewServer creates the web server around the pipeline components.
func NewServer(cfg *config.Config, handlers *Handlers, preview *PreviewFeed, logger *zap.Logger) *Server {
	return &Server{
		config:   cfg,
		logger:   logger,
		handlers: handlers,
		preview:  preview,
	}
}

// Start binds the listener and serves in a background goroutine.
func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.Int("port", s.config.Server.WebPort))

	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.handlers.HandleStatus)
	mux.HandleFunc("/api/config", s.handlers.HandleConfig)
	mux.HandleFunc("/api/presets", s.handlers.HandlePresets)
	mux.HandleFunc("/api/presets/select", s.handlers.HandleSelectPreset)
	mux.HandleFunc("/api/recording/start", s.handlers.HandleStartRecording)
	mux.HandleFunc("/api/recording/stop", s.handlers.HandleStopRecording)
	mux.HandleFunc("/api/zoom", s.handlers.HandleZoom)
	mux.HandleFunc("/api/stats", s.handlers.HandleStats)
	mux.HandleFunc("/health", s.handlers.HandleHealth)

	mux.HandleFunc("/ws/preview", s.preview.HandleWS)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Server.BindIP, s.config.Server.WebPort),
		Handler:      s.addMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Web server error", zap.Error(err))
		}
	}()

	s.logger.Info("Web server started", zap.String("address", s.httpServer.Addr))
	return nil
}

// addMiddleware wraps the mux with CORS headers and request logging.
func (s *Server) addMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler.ServeHTTP(lw, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", lw.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// loggingResponseWriter wraps http.ResponseWriter to capture the status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	s.logger.Info("Stopping web server")

	if s.httpServer == nil {
		return nil
	}

	timeout := time.Duration(s.config.Timeouts.HTTPShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Error during server shutdown", zap.Error(err))
		return err
	}

	s.preview.Close()
	s.logger.Info("Web server stopped")
	return nil
}
