// Package record turns a sequence of graded video frames plus raw audio
// frames into a durable, correctly-timed movie file. The Session state
// machine is the single place in the pipeline where mutual exclusion is
// required: every append and every transition serializes through one mutex
// so the capture callback and any Stop caller observe consistent state.
package record

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"lumacam/camera"
)

// State is the recording lifecycle: idle -> starting -> recording ->
// finishing -> idle.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRecording
	StateFinishing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	case StateFinishing:
		return "finishing"
	default:
		return "unknown"
	}
}

// startingTimeDelay absorbs start-up jitter: the origin is the first
// observed video timestamp plus this offset, and nothing earlier is
// written.
const startingTimeDelay = 500 * time.Millisecond

// ErrNothingToFinalize is returned by Stop when no recording reached the
// writer: stopping from idle, or stopping a session that never accepted a
// video frame.
var ErrNothingToFinalize = errors.New("nothing to finalize")

// Session owns at most one active encode-to-file operation.
type Session struct {
	factory MuxerFactory
	logger  *zap.Logger

	mu           sync.Mutex
	state        State
	muxer        Muxer
	origin       time.Duration
	originKnown  bool
	duration     time.Duration
	pendingAudio []*camera.Frame
	droppedVideo int
}

// NewSession creates an idle session.
func NewSession(factory MuxerFactory, logger *zap.Logger) *Session {
	return &Session{factory: factory, logger: logger}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Duration returns the accumulated recording duration.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// DroppedVideo returns the count of video frames rejected by encoder
// backpressure.
func (s *Session) DroppedVideo() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.droppedVideo
}

// Start prepares the destination container and moves idle -> starting. A
// call while the session is already starting, recording or finishing is a
// no-op with state unchanged.
func (s *Session) Start(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		s.logger.Info("Recording start ignored, session busy",
			zap.String("state", s.state.String()))
		return nil
	}

	muxer, err := s.factory(settings)
	if err != nil {
		return fmt.Errorf("failed to create muxer: %w", err)
	}
	if err := muxer.Start(); err != nil {
		return fmt.Errorf("failed to start writer: %w", err)
	}

	s.muxer = muxer
	s.state = StateStarting
	s.origin = 0
	s.originKnown = false
	s.duration = 0
	s.droppedVideo = 0
	s.pendingAudio = nil

	s.logger.Info("Recording session starting",
		zap.Int("width", settings.Width),
		zap.Int("height", settings.Height),
		zap.Int("frame_rate", settings.FrameRate),
		zap.Int("bitrate", settings.Bitrate()),
		zap.String("codec", string(settings.Codec)),
		zap.Int("rotation", settings.Rotation))

	return nil
}

// AppendVideo feeds one graded video frame. The first frame observed while
// starting establishes the origin (its timestamp plus the half-second
// start-up offset) and begins the writer session; the session records only
// if the writer reports writable. Frames before the origin are dropped and
// never counted toward duration. A not-ready writer input drops the frame
// rather than blocking the caller.
func (s *Session) AppendVideo(frame *camera.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateStarting:
		s.origin = frame.PTS + startingTimeDelay
		s.originKnown = true
		if err := s.muxer.BeginSession(s.origin); err != nil {
			s.logger.Error("Failed to begin writer session", zap.Error(err))
			s.abortLocked()
			return
		}
		if !s.muxer.Writing() {
			s.logger.Warn("Writer not writable, reverting to idle")
			s.abortLocked()
			return
		}
		s.state = StateRecording
		s.logger.Info("Recording origin established",
			zap.Duration("origin", s.origin))
		// The establishing frame precedes the origin by the start-up
		// offset, so it falls through to the pre-origin drop below.
	case StateRecording:
	default:
		return
	}

	if frame.PTS < s.origin {
		return
	}

	if !s.muxer.VideoReady() {
		s.droppedVideo++
		return
	}

	if err := s.muxer.WriteVideo(frame); err != nil {
		s.logger.Error("Failed to write video frame", zap.Error(err))
		return
	}

	if d := frame.PTS - s.origin; d > s.duration {
		s.duration = d
	}

	s.flushAudioLocked(frame.PTS)
}

// AppendAudio feeds one raw audio frame. Audio is never dropped for
// arriving early: samples queue in order until a video frame advances the
// accepted timestamp horizon.
func (s *Session) AppendAudio(frame *camera.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStarting && s.state != StateRecording {
		return
	}

	s.pendingAudio = append(s.pendingAudio, frame)
}

// flushAudioLocked writes every pending audio sample with timestamp at or
// before the horizon, in original order. Flushing stops at the first sample
// past the horizon or at a not-ready audio input, so relative audio order
// is never violated.
func (s *Session) flushAudioLocked(horizon time.Duration) {
	flushed := 0
	for _, sample := range s.pendingAudio {
		if sample.PTS > horizon || !s.muxer.AudioReady() {
			break
		}
		if err := s.muxer.WriteAudio(sample); err != nil {
			s.logger.Error("Failed to write audio sample", zap.Error(err))
			break
		}
		flushed++
	}
	if flushed > 0 {
		s.pendingAudio = s.pendingAudio[flushed:]
	}
}

// Stop finalizes the recording and returns the output file path. From idle
// it performs no file I/O and returns ErrNothingToFinalize; a second Stop
// in a row can therefore never finalize twice. From starting, where no
// video frame ever established an origin, the prepared container is discarded
// and ErrNothingToFinalize is returned. An unplayable result has already
// been deleted by the muxer and surfaces as an error.
func (s *Session) Stop(ctx context.Context) (string, error) {
	s.mu.Lock()

	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return "", ErrNothingToFinalize
	case StateFinishing:
		s.mu.Unlock()
		return "", fmt.Errorf("recording already finishing")
	case StateStarting:
		s.abortLocked()
		s.mu.Unlock()
		return "", ErrNothingToFinalize
	}

	s.state = StateFinishing
	muxer := s.muxer
	recorded := s.duration
	s.mu.Unlock()

	// Finalization waits on the writer; it must not hold the lock, or the
	// capture path would block behind disk I/O.
	path, err := muxer.Finish(ctx)

	s.mu.Lock()
	s.state = StateIdle
	s.muxer = nil
	s.origin = 0
	s.originKnown = false
	s.duration = 0
	s.pendingAudio = nil
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Recording finalization failed", zap.Error(err))
		return "", err
	}

	s.logger.Info("Recording finalized",
		zap.String("path", path),
		zap.Duration("duration", recorded))
	return path, nil
}

// abortLocked discards the prepared container and resets to idle.
func (s *Session) abortLocked() {
	if s.muxer != nil {
		s.muxer.Abort()
	}
	s.muxer = nil
	s.state = StateIdle
	s.origin = 0
	s.originKnown = false
	s.duration = 0
	s.pendingAudio = nil
}
