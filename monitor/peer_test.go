package monitor

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap/zaptest"
)

// A peer comes up with the H.264 monitor track attached and is not
// streaming until told to.
func TestNewPeer(t *testing.T) {
	peer, err := NewPeer("test-peer", webrtc.Configuration{}, 60, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewPeer failed: %v", err)
	}
	defer peer.Close()

	if peer.ID() != "test-peer" {
		t.Errorf("expected id test-peer, got %s", peer.ID())
	}
	if peer.IsStreaming() {
		t.Error("fresh peer must not be streaming")
	}
	if peer.sampleDuration != time.Second/60 {
		t.Errorf("expected sample duration for 60fps, got %v", peer.sampleDuration)
	}
}

// A zero frame rate falls back to the 30fps sample duration.
func TestNewPeerDefaultRate(t *testing.T) {
	peer, err := NewPeer("test-peer", webrtc.Configuration{}, 0, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewPeer failed: %v", err)
	}
	defer peer.Close()

	if peer.sampleDuration != time.Second/30 {
		t.Errorf("expected 30fps fallback, got %v", peer.sampleDuration)
	}
}
