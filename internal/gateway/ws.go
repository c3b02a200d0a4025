package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/loom/internal/protocol"
	"github.com/haasonsaas/loom/internal/session"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsSendBuffer      = 64
	wsPingInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
)

// wsConn is one client connection. Reads are handled on the connection's
// goroutine; writes go through the send channel so agent broadcasts never
// block on a slow socket.
type wsConn struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	// conversationID is the conversation this connection last attached
	// to; abort frames without an explicit conversation target it.
	conversationID string
	// subscriptions maps conversation id to the agent subscriber handle.
	subscriptions map[string]int
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &wsConn{
		server:        s,
		conn:          conn,
		send:          make(chan []byte, wsSendBuffer),
		ctx:           ctx,
		cancel:        cancel,
		logger:        s.logger.With("conn_id", uuid.NewString()),
		subscriptions: make(map[string]int),
	}
	if s.metrics != nil {
		s.metrics.ConnectedClients.Inc()
		defer s.metrics.ConnectedClients.Dec()
	}
	c.run()
}

func (c *wsConn) run() {
	defer c.close()
	go c.writeLoop()
	c.readLoop()
}

func (c *wsConn) close() {
	for id, sub := range c.subscriptions {
		c.server.registry.Get(id).Unsubscribe(sub)
	}
	c.cancel()
	_ = c.conn.Close()
}

func (c *wsConn) readLoop() {
	c.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.handle(msg)
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case raw := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) handle(msg *protocol.ClientMessage) {
	switch msg.Type {
	case protocol.TypeSync:
		c.handleSync(msg)
	case protocol.TypeChatRequest:
		c.handleChatRequest(msg)
	case protocol.TypeAbort:
		c.handleAbort(msg)
	}
}

func (c *wsConn) handleSync(msg *protocol.ClientMessage) {
	if msg.ConversationID == "" {
		c.logger.Warn("sync without conversationId")
		return
	}
	agent := c.attach(msg.ConversationID)
	c.enqueue(agent.HandleSync(msg.LastEventID))
}

func (c *wsConn) handleChatRequest(msg *protocol.ClientMessage) {
	id := msg.ConversationID
	if id == "" {
		id = c.conversationID
	}
	if id == "" {
		id = uuid.NewString()
	}
	agent := c.attach(id)
	if reply := agent.HandleChatRequest(msg); reply != nil {
		c.enqueue(*reply)
	}
}

func (c *wsConn) handleAbort(msg *protocol.ClientMessage) {
	id := msg.ConversationID
	if id == "" {
		id = c.conversationID
	}
	if id == "" {
		return
	}
	c.server.registry.Get(id).HandleAbort(msg.RequestID)
}

// attach subscribes the connection to the conversation's broadcasts,
// creating the agent on first contact. Subsequent calls for the same
// conversation are cheap.
func (c *wsConn) attach(conversationID string) *session.Agent {
	agent := c.server.registry.Get(conversationID)
	c.conversationID = conversationID
	if _, ok := c.subscriptions[conversationID]; !ok {
		c.subscriptions[conversationID] = agent.Subscribe(c.enqueue)
	}
	return agent
}

// enqueue serializes a frame onto the send buffer without blocking; a
// client too slow to drain its buffer loses frames and recovers via sync.
func (c *wsConn) enqueue(msg protocol.ServerMessage) {
	raw, err := protocol.Encode(msg)
	if err != nil {
		c.logger.Error("encode frame", "type", msg.Type, "error", err)
		return
	}
	select {
	case c.send <- raw:
	case <-c.ctx.Done():
	default:
		c.logger.Warn("send buffer full, dropping frame", "type", msg.Type)
	}
}
