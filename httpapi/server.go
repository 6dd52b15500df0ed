package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/pyexec/config"
	"github.com/isdmx/pyexec/orchestrator"
	"github.com/isdmx/pyexec/status"
)

// maxUploadMemory bounds the in-memory part of multipart parsing.
const maxUploadMemory = 32 << 20

// Service is the orchestrator surface the HTTP layer depends on.
type Service interface {
	EnqueueInstall(ctx context.Context, sessionID string, packages []string) (orchestrator.Enqueued, error)
	EnqueueExecute(ctx context.Context, sessionID, code string, env map[string]string) (orchestrator.Enqueued, error)
	Status(ctx context.Context, taskID string) (status.Record, bool, error)
	Terminate(ctx context.Context, sessionID string) (bool, error)
	Upload(ctx context.Context, sessionID, filename string, r io.Reader) (string, error)
	DownloadFile(ctx context.Context, sessionID, filename string) (orchestrator.Download, error)
}

// Server is the HTTP API server.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	svc    Service
	srv    *http.Server
}

// New creates a Server backed by the given service.
func New(cfg *config.Config, logger *zap.Logger, svc Service) *Server {
	return &Server{cfg: cfg, logger: logger, svc: svc}
}

// Handler builds the full route tree with middleware applied.
func (s *Server) Handler() http.Handler {
	protected := http.NewServeMux()
	protected.HandleFunc("POST /install", s.handleInstall)
	protected.HandleFunc("POST /execute", s.handleExecute)
	protected.HandleFunc("GET /status/{task_type}/{task_id}", s.handleStatus)
	protected.HandleFunc("POST /upload", s.handleUpload)
	protected.HandleFunc("GET /download", s.handleDownload)
	protected.HandleFunc("POST /terminate", s.handleTerminate)

	root := http.NewServeMux()
	root.HandleFunc("GET /health", s.handleHealth)
	root.Handle("/", s.requireAPIKey(protected))

	return s.recoverPanics(root)
}

// Start begins serving on the configured port and blocks.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.HTTPPort)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// requireAPIKey rejects requests whose key header does not match the
// configured credential. Rejection happens before any orchestration.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(s.cfg.Server.APIKeyHeader)
		want := s.cfg.Server.APIKey
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			s.errorResponse(w, http.StatusForbidden, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoverPanics converts any panic during request handling into a
// generic 500 that never leaks internal exception text.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("unhandled panic in request handler",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec))
				s.jsonResponse(w, http.StatusInternalServerError, map[string]string{
					"message": "An unexpected internal server error occurred.",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
