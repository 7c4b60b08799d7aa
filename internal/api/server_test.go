package api

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestNewServer(t *testing.T) {
	server := NewServer(":8080", http.NotFoundHandler())

	if server == nil {
		t.Fatal("expected server to be created")
	}
	if server.Addr() != ":8080" {
		t.Errorf("expected addr :8080, got %s", server.Addr())
	}
	if server.httpServer.WriteTimeout != 0 {
		t.Error("expected no write timeout so streams stay open")
	}
}

func TestServerServeAndShutdown(t *testing.T) {
	f, _ := newTestFacade(t)
	server := NewServer("127.0.0.1:0", NewRouter(RouterConfig{Facade: f}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Serve(ln)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("shutdown error: %v", err)
	}

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Serve returned error after shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Serve did not return after shutdown")
	}
}

func TestServerStart_InvalidAddr(t *testing.T) {
	server := NewServer("256.0.0.1:99999", http.NotFoundHandler())
	if err := server.Start(); err == nil {
		t.Error("expected listen error")
	}
}
