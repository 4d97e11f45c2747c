package server

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig(okHandler())

	if config.Address != "localhost:3000" {
		t.Errorf("Expected address localhost:3000, got %s", config.Address)
	}

	if config.ReadTimeout != 15*time.Second {
		t.Errorf("Expected ReadTimeout 15s, got %v", config.ReadTimeout)
	}

	if config.WriteTimeout != 15*time.Second {
		t.Errorf("Expected WriteTimeout 15s, got %v", config.WriteTimeout)
	}

	if config.IdleTimeout != 60*time.Second {
		t.Errorf("Expected IdleTimeout 60s, got %v", config.IdleTimeout)
	}
}

func TestNewServerNilConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("Expected error for nil config")
	}
}

func TestNewServerNilHandler(t *testing.T) {
	if _, err := New(DefaultConfig(nil)); err == nil {
		t.Error("Expected error for nil handler")
	}
}

func TestServerWithDatabase(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	config := DefaultConfig(okHandler())
	config.Database = DefaultDatabaseConfig(db)

	if _, err := New(config); err != nil {
		t.Fatalf("Failed to create server with database: %v", err)
	}

	if stats := db.Stats(); stats.MaxOpenConnections != 25 {
		t.Errorf("Expected MaxOpenConnections 25, got %d", stats.MaxOpenConnections)
	}
}

func TestServerWithClosedDatabase(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	db.Close()

	config := DefaultConfig(okHandler())
	config.Database = DefaultDatabaseConfig(db)

	if _, err := New(config); err == nil {
		t.Error("Expected ping failure on a closed database")
	}
}

func TestServerStartAndShutdown(t *testing.T) {
	config := DefaultConfig(okHandler())
	config.Address = "127.0.0.1:0"

	srv, err := New(config)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("Server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not start")
	}

	resp, err := http.Get("http://" + srv.Addr() + "/")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}

	if err := <-done; !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("Expected ErrServerClosed, got %v", err)
	}
}

func TestServerAddrBeforeStart(t *testing.T) {
	srv, _ := New(DefaultConfig(okHandler()))

	if srv.Addr() != "localhost:3000" {
		t.Errorf("Expected configured address, got %s", srv.Addr())
	}
}

func TestServerServeHTTP(t *testing.T) {
	srv, _ := New(DefaultConfig(okHandler()))

	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got %s", w.Body.String())
	}
}
