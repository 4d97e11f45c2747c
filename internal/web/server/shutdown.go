package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// GracefulShutdown runs a server until a signal or a context cancellation, then shuts
// it down and runs the cleanup hooks
type GracefulShutdown struct {
	server        *Server
	shutdownHooks []ShutdownHook
	timeout       time.Duration
	signals       []os.Signal
	logger        *zap.Logger
	mu            sync.Mutex
	shutdownOnce  sync.Once
	shutdownChan  chan struct{}
	shutdownError error
}

// ShutdownHook is a function called during graceful shutdown, after the server
// stopped accepting requests
type ShutdownHook func(ctx context.Context) error

// ShutdownConfig holds graceful shutdown configuration
type ShutdownConfig struct {
	// Timeout is the maximum time to wait for shutdown
	Timeout time.Duration

	// Signals to listen for (default: SIGINT, SIGTERM)
	Signals []os.Signal

	Logger *zap.Logger
}

// DefaultShutdownConfig returns default shutdown configuration
func DefaultShutdownConfig() *ShutdownConfig {
	return &ShutdownConfig{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// NewGracefulShutdown creates a new graceful shutdown handler
func NewGracefulShutdown(server *Server, config *ShutdownConfig) *GracefulShutdown {
	if config == nil {
		config = DefaultShutdownConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = server.logger
	}
	signals := config.Signals
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	return &GracefulShutdown{
		server:        server,
		shutdownHooks: make([]ShutdownHook, 0),
		timeout:       config.Timeout,
		signals:       signals,
		logger:        logger,
		shutdownChan:  make(chan struct{}),
	}
}

// RegisterHook registers a shutdown hook. Hooks run in registration order.
func (gs *GracefulShutdown) RegisterHook(hook ShutdownHook) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.shutdownHooks = append(gs.shutdownHooks, hook)
}

// Run starts the server and blocks until ctx is done, a signal arrives or the
// server fails
func (gs *GracefulShutdown) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		if err := gs.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server failed: %w", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, gs.signals...)
	defer stop()

	select {
	case <-ctx.Done():
		gs.logger.Info("shutdown requested, shutting down gracefully")
		return gs.Shutdown()
	case err := <-errChan:
		gs.runHooks()
		return err
	}
}

// Shutdown stops the server, then runs the hooks. Subsequent calls wait for the
// first one and return its result.
func (gs *GracefulShutdown) Shutdown() error {
	gs.shutdownOnce.Do(func() {
		gs.logger.Info("initiating graceful shutdown", zap.Duration("timeout", gs.timeout))

		ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
		defer cancel()

		if err := gs.server.Shutdown(ctx); err != nil {
			gs.shutdownError = fmt.Errorf("server shutdown error: %w", err)
			gs.logger.Error("server shutdown failed", zap.Error(err))
		} else {
			gs.logger.Info("server shutdown completed")
		}

		gs.runHooksWith(ctx)
		close(gs.shutdownChan)
	})

	<-gs.shutdownChan
	return gs.shutdownError
}

// Wait blocks until shutdown is complete
func (gs *GracefulShutdown) Wait() error {
	<-gs.shutdownChan
	return gs.shutdownError
}

func (gs *GracefulShutdown) runHooks() {
	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()
	gs.runHooksWith(ctx)
}

func (gs *GracefulShutdown) runHooksWith(ctx context.Context) {
	gs.mu.Lock()
	hooks := make([]ShutdownHook, len(gs.shutdownHooks))
	copy(hooks, gs.shutdownHooks)
	gs.mu.Unlock()

	for i, hook := range hooks {
		// a failing hook does not stop the others
		if err := hook(ctx); err != nil {
			gs.logger.Warn("shutdown hook failed", zap.Int("hook", i), zap.Error(err))
		}
	}
}
