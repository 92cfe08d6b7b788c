package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamehub/internal/config"
)

// Server serves one listener. Sessions run inside their request handlers, so
// Stop cancels every request context and then waits for the handlers to return.
type Server struct {
	addr    string
	handler http.Handler
	cfg     config.HTTPConfig
	logger  *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	ready   chan struct{}

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
	stopped  bool
}

// NewServer creates a Server for addr.
//
// Precondition: addr must be a host:port; handler and logger must be non-nil.
// Postcondition: Returns a Server ready to be started with ListenAndServe.
func NewServer(addr string, handler http.Handler, cfg config.HTTPConfig, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    addr,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With(zap.String("addr", addr)),
		baseCtx: ctx,
		cancel:  cancel,
		ready:   make(chan struct{}),
	}
}

// ListenAndServe binds the listener and serves until Stop is called.
//
// Precondition: ListenAndServe must be called at most once.
// Postcondition: Returns nil after Stop, or the bind/serve error.
func (s *Server) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.track(s.handler),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
		ErrorLog:          zap.NewStdLog(s.logger.Named("http")),
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	s.listener = listener
	s.srv = srv
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info("http server listening",
		zap.String("bound", listener.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving %s: %w", s.addr, err)
	}
	return nil
}

// track counts in-flight handlers, including hijacked WebSocket ones that
// http.Server.Shutdown does not wait for.
func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.wg.Add(1)
		defer s.wg.Done()
		next.ServeHTTP(w, r)
	})
}

// Stop closes the listener, ends every session, and waits up to
// cfg.ShutdownTimeout for plain requests to drain.
//
// Postcondition: No handler started by this Server is still running.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	srv := s.srv
	s.mu.Unlock()

	start := time.Now()
	s.cancel()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Warn("graceful shutdown incomplete, closing", zap.Error(err))
			_ = srv.Close()
		}
	}
	s.wg.Wait()

	s.logger.Info("http server stopped", zap.Duration("elapsed", time.Since(start)))
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or empty string if not yet listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
