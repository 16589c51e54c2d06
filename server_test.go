package relay

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

type mockHandler struct {
	mu       sync.Mutex
	conns    []*Connection
	handleCh chan *Connection
}

func newMockHandler() *mockHandler {
	return &mockHandler{handleCh: make(chan *Connection, 10)}
}

func (h *mockHandler) Handle(conn *Connection) {
	h.mu.Lock()
	h.conns = append(h.conns, conn)
	h.mu.Unlock()
	conn.MarkConnected()

	select {
	case h.handleCh <- conn:
	default:
	}
}

func (h *mockHandler) getConns() []*Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Connection(nil), h.conns...)
}

func TestNewServer(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server, err := NewServer(addr)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()

	if server.listener == nil {
		t.Error("listener is nil")
	}
}

func TestNewServer_InvalidAddr(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server1, err := NewServer(addr)
	if err != nil {
		t.Fatalf("first NewServer failed: %v", err)
	}
	defer server1.Close()

	occupiedAddr := server1.listener.Addr().(*net.TCPAddr)
	if _, err := NewServer(occupiedAddr); err == nil {
		t.Error("expected error for occupied port")
	}
}

func TestServer_Close(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server, err := NewServer(addr)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	if err := server.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if _, err := server.listener.AcceptTCP(); err == nil {
		t.Error("expected error after close")
	}
}

func TestServer_Addr(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server, err := NewServer(addr)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()

	if server.Addr() == nil {
		t.Error("Addr returned nil")
	}
}

func TestServer_Serve(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server, err := NewServer(addr)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	handler := newMockHandler()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, handler) }()

	time.Sleep(50 * time.Millisecond)

	clientConn, err := net.DialTCP("tcp", nil, server.listener.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	defer clientConn.Close()

	select {
	case conn := <-handler.handleCh:
		if conn == nil {
			t.Error("handler received nil connection")
		} else if conn.State() != StateConnected {
			t.Errorf("handled connection state = %v, want Connected", conn.State())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for handler")
	}

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}
}

func TestServer_Serve_MultipleConnections(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server, err := NewServer(addr)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	handler := newMockHandler()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.Serve(ctx, handler)
	time.Sleep(50 * time.Millisecond)

	const numClients = 5
	clients := make([]*net.TCPConn, numClients)
	for i := 0; i < numClients; i++ {
		c, err := net.DialTCP("tcp", nil, server.listener.Addr().(*net.TCPAddr))
		if err != nil {
			t.Fatalf("client %d dial failed: %v", i, err)
		}
		clients[i] = c
	}

	for i := 0; i < numClients; i++ {
		select {
		case conn := <-handler.handleCh:
			if conn == nil {
				t.Errorf("handler %d received nil connection", i)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for handler %d", i)
		}
	}

	for _, c := range clients {
		c.Close()
	}

	if conns := handler.getConns(); len(conns) != numClients {
		t.Errorf("handler received %d connections, want %d", len(conns), numClients)
	}
}

func TestServer_Serve_ContextCanceled(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server, err := NewServer(addr)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	handler := newMockHandler()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, handler) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}
}
