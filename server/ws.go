package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arcform/reverb/enrich"
)

const (
	// writeWait bounds how long a slow client can stall a write
	writeWait = 10 * time.Second
	// clientSendBuffer is the per-client outbound message buffer
	clientSendBuffer = 32
)

// client is one WebSocket subscriber to the job update feed
type client struct {
	conn *websocket.Conn
	send chan *enrich.Job
}

// jobUpdateEvent is the wire format of the feed
type jobUpdateEvent struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Job       *enrich.Job `json:"job"`
}

// handleWebSocket upgrades the connection and streams job updates
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan *enrich.Job, clientSendBuffer),
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	total := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Infow("WebSocket client connected", "total_clients", total)

	go s.writeLoop(c)
	go s.readLoop(c)
}

// readLoop discards inbound frames and tears the client down on error
func (s *Server) readLoop(c *client) {
	defer s.removeClient(c)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop pushes queued job updates to the client
func (s *Server) writeLoop(c *client) {
	defer c.conn.Close()

	for job := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		event := jobUpdateEvent{
			Type:      "job_update",
			Timestamp: time.Now(),
			Job:       job,
		}
		if err := c.conn.WriteJSON(event); err != nil {
			return
		}
	}

	// Feed closed: say goodbye before hanging up
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

// removeClient unregisters a client and closes its send channel
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	total := len(s.clients)
	s.clientsMu.Unlock()

	c.conn.Close()
	s.logger.Infow("WebSocket client disconnected", "total_clients", total)
}

// pumpJobUpdates fans queue updates out to connected clients.
// Slow clients drop updates rather than stalling the pump.
func (s *Server) pumpJobUpdates() {
	defer s.wg.Done()

	updates := s.manager.GetQueue().Subscribe()
	defer func() {
		s.manager.GetQueue().Unsubscribe(updates)
		close(updates)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case job, ok := <-updates:
			if !ok {
				return
			}

			s.clientsMu.Lock()
			for c := range s.clients {
				select {
				case c.send <- job:
				default:
					// Client buffer full, drop this update
				}
			}
			s.clientsMu.Unlock()
		}
	}
}
