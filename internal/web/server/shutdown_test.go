package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func createTestServer(t *testing.T, addr string) *Server {
	t.Helper()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server, err := New(&Config{Address: addr, Handler: handler})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return server
}

func TestDefaultShutdownConfig(t *testing.T) {
	config := DefaultShutdownConfig()

	if config.Timeout != 30*time.Second {
		t.Errorf("Expected timeout 30s, got %v", config.Timeout)
	}

	expectedSignals := map[os.Signal]bool{
		syscall.SIGINT:  true,
		syscall.SIGTERM: true,
	}
	if len(config.Signals) != len(expectedSignals) {
		t.Errorf("Expected 2 signals, got %d", len(config.Signals))
	}
	for _, sig := range config.Signals {
		if !expectedSignals[sig] {
			t.Errorf("Unexpected signal: %v", sig)
		}
	}
}

func TestNewGracefulShutdown_Defaults(t *testing.T) {
	gs := NewGracefulShutdown(createTestServer(t, "127.0.0.1:0"), &ShutdownConfig{Timeout: time.Second})

	if len(gs.signals) != 2 {
		t.Errorf("Expected 2 default signals, got %d", len(gs.signals))
	}
	if gs.logger == nil {
		t.Error("Expected the server logger when none is provided")
	}
}

func TestShutdown_RunsHooksInOrder(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	gs := NewGracefulShutdown(createTestServer(t, "127.0.0.1:0"), &ShutdownConfig{
		Timeout: 5 * time.Second,
		Logger:  zap.New(core),
	})

	var mu sync.Mutex
	var order []int
	for i := 1; i <= 3; i++ {
		index := i
		gs.RegisterHook(func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, index)
			if index == 2 {
				return errors.New("cache close failed")
			}
			return nil
		})
	}

	if err := gs.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("Expected hooks 1, 2, 3 to run in order, got %v", order)
	}
	if logs.FilterMessage("shutdown hook failed").Len() != 1 {
		t.Errorf("Expected the failing hook to be logged once, got %d", logs.FilterMessage("shutdown hook failed").Len())
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	gs := NewGracefulShutdown(createTestServer(t, "127.0.0.1:0"), &ShutdownConfig{Timeout: time.Second})

	calls := 0
	gs.RegisterHook(func(ctx context.Context) error {
		calls++
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gs.Shutdown()
		}()
	}
	wg.Wait()

	if err := gs.Wait(); err != nil {
		t.Errorf("Wait returned %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected hooks to run once, got %d", calls)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	srv := createTestServer(t, "127.0.0.1:0")
	gs := NewGracefulShutdown(srv, &ShutdownConfig{Timeout: 5 * time.Second})

	hookCalled := make(chan struct{})
	gs.RegisterHook(func(ctx context.Context) error {
		close(hookCalled)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gs.Run(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not start")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	select {
	case <-hookCalled:
	default:
		t.Error("Expected shutdown hook to be called")
	}
}

func TestRun_ListenFailure(t *testing.T) {
	gs := NewGracefulShutdown(createTestServer(t, "256.0.0.1:bad"), &ShutdownConfig{Timeout: time.Second})

	hookCalled := false
	gs.RegisterHook(func(ctx context.Context) error {
		hookCalled = true
		return nil
	})

	err := gs.Run(context.Background())

	if err == nil {
		t.Fatal("Expected listen error")
	}
	if !hookCalled {
		t.Error("Expected hooks to run after a server failure")
	}
}
