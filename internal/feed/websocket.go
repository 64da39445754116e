package feed

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig holds tunable parameters for the websocket feed server.
type WSConfig struct {
	// Buffer sizes for the underlying TCP connection.
	ReadBufferSize  int
	WriteBufferSize int

	// WriteTimeout bounds a single frame write to a client.
	WriteTimeout time.Duration

	// ClientBuffer is the per-client outbox depth. A client that falls
	// this far behind starts losing events.
	ClientBuffer int
}

// DefaultWSConfig returns production defaults for the event feed.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		WriteTimeout:    5 * time.Second,
		ClientBuffer:    256,
	}
}

// WSServer pushes marketplace events to websocket clients. Each client
// gets a buffered outbox drained by its own writer goroutine; slow
// consumers drop events instead of blocking the feed.
type WSServer struct {
	cfg      WSConfig
	upgrader websocket.Upgrader
	feed     <-chan Event

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

// NewWSServer creates a server that streams the given feed channel,
// typically a Broadcaster's SubscribeAll stream.
func NewWSServer(cfg WSConfig, feed <-chan Event) *WSServer {
	return &WSServer{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
		},
		feed:    feed,
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// ServeHTTP upgrades the request and registers the client for event
// delivery until the connection drops.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("feed: upgrade failed: %v", err)
		return
	}

	outbox := make(chan []byte, s.cfg.ClientBuffer)
	s.mu.Lock()
	s.clients[conn] = outbox
	s.mu.Unlock()

	go s.writeLoop(conn, outbox)

	// Drain (and discard) client frames so control messages are processed
	// and we notice disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.drop(conn)
}

// Run consumes the feed and fans events out to connected clients.
// It blocks until ctx is cancelled.
func (s *WSServer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case ev, ok := <-s.feed:
			if !ok {
				s.closeAll()
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("feed: marshal event: %v", err)
				continue
			}
			s.fanOut(data)
		}
	}
}

// fanOut delivers data to every client outbox without blocking.
func (s *WSServer) fanOut(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, outbox := range s.clients {
		select {
		case outbox <- data:
		default:
			// Outbox full — this client loses the event.
		}
	}
}

// writeLoop drains one client's outbox onto its connection.
func (s *WSServer) writeLoop(conn *websocket.Conn, outbox <-chan []byte) {
	for data := range outbox {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.drop(conn)
			return
		}
	}
	conn.Close()
}

// drop unregisters and closes a client. Safe to call more than once.
func (s *WSServer) drop(conn *websocket.Conn) {
	s.mu.Lock()
	outbox, ok := s.clients[conn]
	if ok {
		delete(s.clients, conn)
	}
	s.mu.Unlock()

	if ok {
		close(outbox)
	}
	conn.Close()
}

// closeAll disconnects every client.
func (s *WSServer) closeAll() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		s.drop(c)
	}
}
