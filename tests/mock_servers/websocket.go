package tests

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

type ClientMessage struct {
	Client    *websocket.Conn
	Message   []byte
	Timestamp time.Time
	Type      int // websocket.TextMessage, websocket.BinaryMessage, etc.
}

// MockWebSocketServer accepts websocket clients on /ws, records what they
// send and lets tests push frames to them.
type MockWebSocketServer struct {
	clients    map[*websocket.Conn]*sync.Mutex
	clientsMu  sync.RWMutex
	messages   []ClientMessage
	messagesMu sync.RWMutex
	upgrader   websocket.Upgrader
	server     *httptest.Server
	accepted   atomic.Int64

	// OnConnect, when set, runs for every new client before any read.
	OnConnect func(r *http.Request)
	// Reject makes the server answer upgrades with 503 while true.
	Reject atomic.Bool
}

func NewMockWebSocketServer() *MockWebSocketServer {
	m := &MockWebSocketServer{
		clients:  make(map[*websocket.Conn]*sync.Mutex),
		messages: make([]ClientMessage, 0),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for testing
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", m.handleWebSocket)
	mux.HandleFunc("/ws/", m.handleWebSocket)
	m.server = httptest.NewServer(mux)
	return m
}

// URL is the ws:// address of the /ws endpoint.
func (m *MockWebSocketServer) URL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http") + "/ws"
}

func (m *MockWebSocketServer) Stop() {
	m.DropClients()
	m.server.Close()
}

func (m *MockWebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if m.Reject.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if m.OnConnect != nil {
		m.OnConnect(r)
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("mock server: upgrade: %v", err)
		return
	}
	defer conn.Close()

	m.clientsMu.Lock()
	m.clients[conn] = &sync.Mutex{}
	m.clientsMu.Unlock()
	m.accepted.Add(1)

	defer func() {
		m.clientsMu.Lock()
		delete(m.clients, conn)
		m.clientsMu.Unlock()
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		m.messagesMu.Lock()
		m.messages = append(m.messages, ClientMessage{
			Client:    conn,
			Message:   message,
			Timestamp: time.Now(),
			Type:      messageType,
		})
		m.messagesMu.Unlock()
	}
}

// SendMessage sends a text frame to all connected clients.
func (m *MockWebSocketServer) SendMessage(message []byte) {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()

	for conn, mu := range m.clients {
		mu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, message)
		mu.Unlock()
		if err != nil {
			log.Debugf("mock server: send: %v", err)
		}
	}
}

// DropClients closes every client connection without a close handshake.
func (m *MockWebSocketServer) DropClients() {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()

	for conn := range m.clients {
		conn.Close()
	}
}

// GetConnectedClients returns the number of connected clients.
func (m *MockWebSocketServer) GetConnectedClients() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// Accepted counts every upgrade since the server started.
func (m *MockWebSocketServer) Accepted() int {
	return int(m.accepted.Load())
}

// WaitForClients polls until at least n clients are connected or timeout passes.
func (m *MockWebSocketServer) WaitForClients(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.GetConnectedClients() >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return m.GetConnectedClients() >= n
}

// GetAllMessages returns all messages received from all clients.
func (m *MockWebSocketServer) GetAllMessages() []ClientMessage {
	m.messagesMu.RLock()
	defer m.messagesMu.RUnlock()

	result := make([]ClientMessage, len(m.messages))
	copy(result, m.messages)
	return result
}

// ClearMessages clears all cached messages.
func (m *MockWebSocketServer) ClearMessages() {
	m.messagesMu.Lock()
	defer m.messagesMu.Unlock()
	m.messages = m.messages[:0]
}
