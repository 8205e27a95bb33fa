package monitor

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

// Peer is one WebRTC connection carrying the graded monitor track.
type Peer struct {
	id             string
	pc             *webrtc.PeerConnection
	videoTrack     *webrtc.TrackLocalStaticSample
	logger         *zap.Logger
	sampleDuration time.Duration

	streaming bool
	mu        sync.RWMutex
}

// NewPeer creates a peer connection with an H.264 video track attached.
func NewPeer(id string, config webrtc.Configuration, frameRate int, logger *zap.Logger) (*Peer, error) {
	sampleDuration := time.Second / 30
	if frameRate > 0 {
		sampleDuration = time.Second / time.Duration(frameRate)
	}

	peer := &Peer{
		id:             id,
		logger:         logger.With(zap.String("peer_id", id)),
		sampleDuration: sampleDuration,
	}

	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	peer.pc = pc

	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		"video",
		"graded_monitor",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}
	peer.videoTrack = videoTrack

	if _, err := pc.AddTrack(videoTrack); err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to add video track: %w", err)
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		peer.logger.Info("ICE connection state changed", zap.String("state", state.String()))
	})

	peer.logger.Info("Peer connection created", zap.Duration("sample_duration", sampleDuration))
	return peer, nil
}

// SetRemoteDescription applies the viewer's offer.
func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// CreateAnswer builds and binds the local answer.
func (p *Peer) CreateAnswer() (*webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	return &answer, nil
}

// AddICECandidate adds a remote ICE candidate.
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if err := p.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

// OnICECandidate sets the local ICE candidate handler.
func (p *Peer) OnICECandidate(handler func(*webrtc.ICECandidate)) {
	p.pc.OnICECandidate(handler)
}

// OnConnectionStateChange sets the connection state handler.
func (p *Peer) OnConnectionStateChange(handler func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(handler)
}

// StartStreaming marks the peer ready to receive samples.
func (p *Peer) StartStreaming() {
	p.mu.Lock()
	p.streaming = true
	p.mu.Unlock()
}

// WriteUnit writes one encoded H.264 unit to the track.
func (p *Peer) WriteUnit(data []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.streaming {
		return nil
	}

	err := p.videoTrack.WriteSample(media.Sample{
		Data:     data,
		Duration: p.sampleDuration,
	})
	if err != nil {
		if err == io.ErrClosedPipe {
			return nil
		}
		return fmt.Errorf("failed to write video sample: %w", err)
	}
	return nil
}

// IsStreaming reports whether the peer accepts samples.
func (p *Peer) IsStreaming() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.streaming
}

// Stats returns connection statistics for the status API.
func (p *Peer) Stats() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return map[string]interface{}{
		"id":                   p.id,
		"connection_state":     p.pc.ConnectionState().String(),
		"ice_connection_state": p.pc.ICEConnectionState().String(),
		"is_streaming":         p.streaming,
	}
}

// Close tears the connection down.
func (p *Peer) Close() error {
	p.mu.Lock()
	p.streaming = false
	p.mu.Unlock()

	if err := p.pc.Close(); err != nil {
		p.logger.Error("Error closing peer connection", zap.Error(err))
		return err
	}
	p.logger.Info("Peer connection closed")
	return nil
}

// ID returns the peer identifier.
func (p *Peer) ID() string {
	return p.id
}
