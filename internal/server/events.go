package server

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/rfavre/ovhsentry/internal/bus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The server binds to localhost and auth happens via the access
		// secret, not the origin.
		return true
	},
}

type authEvent struct {
	Authenticated bool `json:"authenticated"`
}

// EventStream fans authentication transitions out to connected websocket
// clients. Clients that cannot keep up are dropped rather than buffered.
type EventStream struct {
	unsubscribe func()

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	stopped bool
}

func NewEventStream(authBus *bus.Bus) *EventStream {
	es := &EventStream{
		clients: make(map[*websocket.Conn]struct{}),
	}
	es.unsubscribe = authBus.Subscribe(es.broadcast)
	return es
}

func (es *EventStream) broadcast(authenticated bool) {
	es.mu.Lock()
	defer es.mu.Unlock()

	for conn := range es.clients {
		if err := conn.WriteJSON(authEvent{Authenticated: authenticated}); err != nil {
			slog.Debug("Dropping slow websocket client", "error", err)
			conn.Close()
			delete(es.clients, conn)
		}
	}
}

// add registers the client and sends the current flag as its first frame.
// Both happen under the lock so the greeting cannot interleave with a
// concurrent broadcast.
func (es *EventStream) add(conn *websocket.Conn, authenticated bool) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.stopped {
		return false
	}
	if err := conn.WriteJSON(authEvent{Authenticated: authenticated}); err != nil {
		return false
	}
	es.clients[conn] = struct{}{}
	return true
}

func (es *EventStream) remove(conn *websocket.Conn) {
	es.mu.Lock()
	defer es.mu.Unlock()
	delete(es.clients, conn)
}

// Stop unsubscribes from the bus and closes every connected client.
func (es *EventStream) Stop() {
	es.unsubscribe()

	es.mu.Lock()
	defer es.mu.Unlock()
	es.stopped = true
	for conn := range es.clients {
		conn.Close()
		delete(es.clients, conn)
	}
}

// handleEvents upgrades the connection and streams the current auth flag
// followed by every transition until the client disconnects.
func (s *Server) handleEvents(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	// The first frame carries the current flag so clients do not wait for
	// the next transition.
	state := s.manager.State()
	if !s.events.add(conn, state.IsAuthenticated) {
		conn.Close()
		return nil
	}
	defer func() {
		s.events.remove(conn)
		conn.Close()
	}()

	// Reads only serve to detect disconnects, clients never send payloads.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}
