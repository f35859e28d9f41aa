// Package runtime hosts the process-level plumbing of a batch run: telemetry
// providers and the ops listener exposing health, readiness and metrics.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-speech-batch/internal/config"
)

// OpsServer serves /healthz, /readyz and /metrics while a batch runs.
type OpsServer struct {
	cfg        config.HTTPConfig
	logger     *slog.Logger
	metrics    http.Handler
	httpServer *http.Server
	listener   net.Listener
	ready      atomic.Bool
	wg         sync.WaitGroup
}

func NewOpsServer(cfg config.HTTPConfig, metrics http.Handler, logger *slog.Logger) *OpsServer {
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	return &OpsServer{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ops")),
		metrics: metrics,
	}
}

// Start binds the listener and serves in the background.
func (s *OpsServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/metrics", s.metrics)

	addr := fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ops listen %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	s.logger.Info("ops server started", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr reports the bound address, or "" before Start.
func (s *OpsServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// SetReady flips the readiness probe.
func (s *OpsServer) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *OpsServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.ready.Store(false)
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	return err
}

func (s *OpsServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *OpsServer) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
