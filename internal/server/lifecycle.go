// Package server runs the hub's long-lived components under one lifecycle:
// started together, stopped in reverse order on a signal, a cancelled context,
// or the first component failure.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// DefaultStopTimeout bounds how long one service may take to stop.
const DefaultStopTimeout = 15 * time.Second

// Service represents a long-running component that can be started and stopped.
type Service interface {
	// Start runs the service, blocking until it is stopped or fails.
	Start() error
	// Stop asks the service to shut down and returns once it has.
	Stop()
}

// FuncService adapts a start/stop function pair into the Service interface.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

// Start calls the underlying start function.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls the underlying stop function.
func (f *FuncService) Stop() { f.StopFn() }

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithStopTimeout overrides DefaultStopTimeout.
func WithStopTimeout(d time.Duration) Option {
	return func(l *Lifecycle) { l.stopTimeout = d }
}

// WithSignals replaces the SIGINT/SIGTERM set that triggers shutdown.
// Passing none disables signal handling.
func WithSignals(sigs ...os.Signal) Option {
	return func(l *Lifecycle) { l.signals = sigs }
}

// Lifecycle manages the startup and shutdown of named services.
type Lifecycle struct {
	logger      *zap.Logger
	stopTimeout time.Duration
	signals     []os.Signal

	mu       sync.Mutex
	services []*namedService
}

type namedService struct {
	name    string
	service Service
	exited  chan struct{}
}

// NewLifecycle creates a new Lifecycle manager.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		logger:      logger,
		stopTimeout: DefaultStopTimeout,
		signals:     []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add registers a named service. Services stop in the reverse of the order
// they were added.
//
// Precondition: name must be non-empty; svc must be non-nil; Run not yet called.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, &namedService{name: name, service: svc})
}

// Run starts every service and blocks until a signal arrives, ctx is
// cancelled, or a service fails.
//
// Postcondition: Every service has been stopped. Returns the first service
// failure, or nil for a requested shutdown.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()

	l.mu.Lock()
	services := append([]*namedService(nil), l.services...)
	l.mu.Unlock()

	errCh := make(chan error, len(services))
	for _, ns := range services {
		ns.exited = make(chan struct{})
		go l.runService(ns, errCh)
	}

	l.logger.Info("all services started",
		zap.Int("count", len(services)),
		zap.Duration("startup", time.Since(start)),
	)

	var sigCh chan os.Signal
	if len(l.signals) > 0 {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, l.signals...)
		defer signal.Stop(sigCh)
	}

	var runErr error
	select {
	case sig := <-sigCh:
		l.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		l.logger.Error("service error, shutting down", zap.Error(runErr))
	case <-ctx.Done():
		l.logger.Info("context cancelled, shutting down")
	}

	l.shutdown(services)

	l.logger.Info("shutdown complete", zap.Duration("total_uptime", time.Since(start)))
	return runErr
}

func (l *Lifecycle) runService(ns *namedService, errCh chan<- error) {
	defer close(ns.exited)
	l.logger.Info("starting service", zap.String("service", ns.name))
	svcStart := time.Now()
	if err := ns.service.Start(); err != nil {
		l.logger.Error("service failed",
			zap.String("service", ns.name),
			zap.Error(err),
			zap.Duration("uptime", time.Since(svcStart)),
		)
		errCh <- fmt.Errorf("service %s: %w", ns.name, err)
		return
	}
	l.logger.Info("service exited",
		zap.String("service", ns.name),
		zap.Duration("uptime", time.Since(svcStart)),
	)
}

// shutdown stops services in reverse order. A service that overruns the stop
// timeout is abandoned so the rest still get stopped.
func (l *Lifecycle) shutdown(services []*namedService) {
	shutdownStart := time.Now()
	for i := len(services) - 1; i >= 0; i-- {
		ns := services[i]
		svcStart := time.Now()
		l.logger.Info("stopping service", zap.String("service", ns.name))

		stopped := make(chan struct{})
		go func() {
			defer close(stopped)
			ns.service.Stop()
			<-ns.exited
		}()

		select {
		case <-stopped:
			l.logger.Info("service stopped",
				zap.String("service", ns.name),
				zap.Duration("elapsed", time.Since(svcStart)),
			)
		case <-time.After(l.stopTimeout):
			l.logger.Warn("service stop timed out",
				zap.String("service", ns.name),
				zap.Duration("timeout", l.stopTimeout),
			)
		}
	}
	l.logger.Info("all services stopped",
		zap.Duration("shutdown_elapsed", time.Since(shutdownStart)),
	)
}
