// Package monitor streams the graded output to remote viewers over WebRTC.
// It is a diagnostics surface fed by a latency-tuned side encoder; the
// recording path never waits on it.
package monitor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"lumacam/config"
)

// Server hosts the signaling endpoint and fans encoded units out to all
// connected peers.
type Server struct {
	config *config.Config
	logger *zap.Logger

	webrtcConfig webrtc.Configuration
	signaling    *Signaling
	encoder      *TapEncoder

	peers map[string]*Peer
	mu    sync.RWMutex

	frameRate  int
	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates the monitor server around the tap encoder.
func NewServer(cfg *config.Config, encoder *TapEncoder, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	var iceServers []webrtc.ICEServer
	if cfg.Monitor.STUNServer != "" {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{cfg.Monitor.STUNServer},
		})
	}

	s := &Server{
		config:       cfg,
		logger:       logger.With(zap.Int("port", cfg.Monitor.Port)),
		webrtcConfig: webrtc.Configuration{ICEServers: iceServers},
		encoder:      encoder,
		peers:        make(map[string]*Peer),
		frameRate:    30,
		ctx:          ctx,
		cancel:       cancel,
	}

	s.signaling = NewSignaling(cfg.Server.AllowedOrigins, cfg.Buffers.WebSocketSendBuffer, s.logger)
	s.signaling.SetHandlers(s.handleOffer, s.handleICECandidate)

	return s
}

// SetFrameRate records the capture frame rate used for sample pacing on
// new peers.
func (s *Server) SetFrameRate(rate int) {
	s.mu.Lock()
	if rate > 0 {
		s.frameRate = rate
	}
	s.mu.Unlock()
}

// Start binds the signaling HTTP listener and runs the distribution loop.
func (s *Server) Start() error {
	s.logger.Info("Starting monitor server")

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.signaling.HandleWebSocket)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.config.Server.BindIP, s.config.Monitor.Port),
		Handler: mux,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Monitor HTTP server error", zap.Error(err))
		}
	}()

	go s.distribute()

	s.logger.Info("Monitor server started")
	return nil
}

// distribute forwards encoded units to every streaming peer.
func (s *Server) distribute() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case unit, ok := <-s.encoder.Encoded():
			if !ok {
				return
			}
			s.mu.RLock()
			for _, peer := range s.peers {
				if peer.IsStreaming() {
					if err := peer.WriteUnit(unit); err != nil {
						s.logger.Error("Failed to write unit to peer",
							zap.String("peer_id", peer.ID()),
							zap.Error(err))
					}
				}
			}
			s.mu.RUnlock()
		}
	}
}

// handleOffer answers a viewer's offer and starts streaming to it.
func (s *Server) handleOffer(client *SignalClient, offer webrtc.SessionDescription) error {
	s.logger.Info("Received offer from monitor client", zap.String("client_id", client.ID()))

	s.mu.RLock()
	frameRate := s.frameRate
	peerCount := len(s.peers)
	s.mu.RUnlock()

	if max := s.config.Monitor.MaxClients; max > 0 && peerCount >= max {
		return fmt.Errorf("monitor is full (%d clients)", peerCount)
	}

	peer, err := NewPeer(client.ID(), s.webrtcConfig, frameRate, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	s.mu.Lock()
	s.peers[client.ID()] = peer
	s.mu.Unlock()

	peer.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			if err := client.SendICECandidate(candidate); err != nil {
				s.logger.Error("Failed to send ICE candidate",
					zap.String("client_id", client.ID()),
					zap.Error(err))
			}
		}
	})

	peer.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Info("Peer connection state changed",
			zap.String("client_id", client.ID()),
			zap.String("state", state.String()))
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			s.removePeer(client.ID())
		}
	})

	if err := peer.SetRemoteDescription(offer); err != nil {
		s.removePeer(client.ID())
		return err
	}

	answer, err := peer.CreateAnswer()
	if err != nil {
		s.removePeer(client.ID())
		return err
	}

	if err := client.SendAnswer(*answer); err != nil {
		s.removePeer(client.ID())
		return fmt.Errorf("failed to send answer: %w", err)
	}

	peer.StartStreaming()
	s.logger.Info("Monitor connection established", zap.String("client_id", client.ID()))
	return nil
}

func (s *Server) handleICECandidate(client *SignalClient, candidate webrtc.ICECandidateInit) error {
	s.mu.RLock()
	peer, exists := s.peers[client.ID()]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("no peer connection for client %s", client.ID())
	}
	return peer.AddICECandidate(candidate)
}

func (s *Server) removePeer(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if peer, exists := s.peers[clientID]; exists {
		peer.Close()
		delete(s.peers, clientID)
		s.logger.Info("Peer removed", zap.String("client_id", clientID))
	}
}

// PeerCount returns the number of connected peers.
func (s *Server) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Stats returns monitor statistics for the status API.
func (s *Server) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peerStats := make(map[string]interface{})
	for id, peer := range s.peers {
		peerStats[id] = peer.Stats()
	}
	return map[string]interface{}{
		"peer_count":   len(s.peers),
		"client_count": s.signaling.ClientCount(),
		"peers":        peerStats,
	}
}

// Stop shuts the monitor down.
func (s *Server) Stop() error {
	s.logger.Info("Stopping monitor server")

	s.cancel()

	if s.httpServer != nil {
		timeout := time.Duration(s.config.Timeouts.HTTPShutdownTimeout) * time.Second
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("Error shutting down monitor HTTP server", zap.Error(err))
		}
	}

	s.mu.Lock()
	for id, peer := range s.peers {
		peer.Close()
		delete(s.peers, id)
	}
	s.mu.Unlock()

	s.signaling.Close()
	s.encoder.Stop()

	s.logger.Info("Monitor server stopped")
	return nil
}
