package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Signaling handles WebSocket session negotiation for the remote monitor.
type Signaling struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	clients map[string]*SignalClient
	mu      sync.RWMutex

	onOffer func(client *SignalClient, offer webrtc.SessionDescription) error
	onICE   func(client *SignalClient, candidate webrtc.ICECandidateInit) error

	sendBufferSize int
}

// SignalClient is one connected monitor viewer.
type SignalClient struct {
	id     string
	conn   *websocket.Conn
	server *Signaling
	logger *zap.Logger

	send chan []byte

	closed bool
	mu     sync.RWMutex
}

// SignalMessage is the wire envelope for signaling traffic.
type SignalMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// NewSignaling creates the signaling endpoint.
func NewSignaling(allowedOrigins []string, sendBufferSize int, logger *zap.Logger) *Signaling {
	if sendBufferSize <= 0 {
		sendBufferSize = 16
	}

	s := &Signaling{
		logger:         logger,
		clients:        make(map[string]*SignalClient),
		sendBufferSize: sendBufferSize,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins, logger),
	}
	return s
}

func originChecker(allowed []string, logger *zap.Logger) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		logger.Warn("Origin not allowed",
			zap.String("origin", origin),
			zap.Strings("allowed_origins", allowed))
		return false
	}
}

// SetHandlers binds the offer and ICE candidate handlers.
func (s *Signaling) SetHandlers(
	onOffer func(client *SignalClient, offer webrtc.SessionDescription) error,
	onICE func(client *SignalClient, candidate webrtc.ICECandidateInit) error,
) {
	s.onOffer = onOffer
	s.onICE = onICE
}

// HandleWebSocket upgrades the connection and runs the client pumps.
func (s *Signaling) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade signaling connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	client := &SignalClient{
		id:     clientID,
		conn:   conn,
		server: s,
		logger: s.logger.With(zap.String("client_id", clientID)),
		send:   make(chan []byte, s.sendBufferSize),
	}

	s.mu.Lock()
	s.clients[clientID] = client
	s.mu.Unlock()

	client.logger.Info("Monitor client connected", zap.String("remote_addr", r.RemoteAddr))

	go client.writePump()
	go client.readPump()
}

func (c *SignalClient) readPump() {
	defer c.close()

	for {
		var msg SignalMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("Signaling read error", zap.Error(err))
			}
			return
		}

		if err := c.handleMessage(msg); err != nil {
			c.logger.Error("Error handling signaling message", zap.Error(err))
			c.sendMessage("error", map[string]string{"message": err.Error()})
		}
	}
}

func (c *SignalClient) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.logger.Error("Signaling write error", zap.Error(err))
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *SignalClient) handleMessage(msg SignalMessage) error {
	switch msg.Type {
	case "offer":
		var offer webrtc.SessionDescription
		if err := c.unmarshalData(msg.Data, &offer); err != nil {
			return fmt.Errorf("invalid offer format: %w", err)
		}
		if c.server.onOffer != nil {
			return c.server.onOffer(c, offer)
		}

	case "ice-candidate":
		var candidate webrtc.ICECandidateInit
		if err := c.unmarshalData(msg.Data, &candidate); err != nil {
			return fmt.Errorf("invalid ICE candidate format: %w", err)
		}
		if c.server.onICE != nil {
			return c.server.onICE(c, candidate)
		}

	case "ping":
		c.sendMessage("pong", nil)

	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}

	return nil
}

// unmarshalData round-trips the decoded interface{} through JSON into the
// concrete target type.
func (c *SignalClient) unmarshalData(data interface{}, target interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

// SendAnswer sends a WebRTC answer to the client.
func (c *SignalClient) SendAnswer(answer webrtc.SessionDescription) error {
	return c.sendMessage("answer", answer)
}

// SendICECandidate sends an ICE candidate to the client.
func (c *SignalClient) SendICECandidate(candidate *webrtc.ICECandidate) error {
	if candidate == nil {
		return nil
	}
	return c.sendMessage("ice-candidate", candidate.ToJSON())
}

func (c *SignalClient) sendMessage(msgType string, data interface{}) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("client connection closed")
	}
	c.mu.RUnlock()

	raw, err := json.Marshal(SignalMessage{Type: msgType, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	select {
	case c.send <- raw:
		return nil
	case <-time.After(5 * time.Second):
		c.logger.Error("Send timeout, closing slow monitor client",
			zap.String("message_type", msgType))
		go c.close()
		return fmt.Errorf("send timeout")
	}
}

func (c *SignalClient) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.conn.Close()
	close(c.send)

	c.server.mu.Lock()
	delete(c.server.clients, c.id)
	c.server.mu.Unlock()

	c.logger.Info("Monitor client disconnected")
}

// ID returns the client identifier.
func (c *SignalClient) ID() string {
	return c.id
}

// ClientCount returns the number of connected signaling clients.
func (s *Signaling) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close disconnects all clients.
func (s *Signaling) Close() {
	s.mu.Lock()
	clients := make([]*SignalClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
