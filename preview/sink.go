// Package preview shows the most recent graded frame without ever blocking
// capture. The sink throttles on source presentation-time advance, not wall
// clock, so pacing stays correct when upstream drops frames, and it
// forwards only when the display surface reports it can accept more data.
package preview

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"lumacam/camera"
)

// DefaultMinInterval is the minimum source-timestamp advance between
// forwarded frames: at most one preview frame per 20ms of presentation
// time, regardless of capture rate.
const DefaultMinInterval = 20 * time.Millisecond

// Surface is the displayable endpoint the sink feeds. Enqueue must be
// cheap; a surface signals backpressure through Ready, never by blocking.
type Surface interface {
	Ready() bool
	Enqueue(frame *camera.Frame)
}

// Sink throttles and fans graded frames into a surface, keeping the latest
// forwarded frame available for pull-style consumers.
type Sink struct {
	minInterval time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	surface Surface
	lastPTS time.Duration
	primed  bool

	latest    atomic.Pointer[camera.Frame]
	forwarded uint64
	dropped   uint64
}

// NewSink creates a sink. minInterval <= 0 selects the default 20ms.
func NewSink(minInterval time.Duration, logger *zap.Logger) *Sink {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Sink{minInterval: minInterval, logger: logger}
}

// Attach binds the display surface. A nil surface detaches; the sink keeps
// tracking the latest frame either way.
func (s *Sink) Attach(surface Surface) {
	s.mu.Lock()
	s.surface = surface
	s.mu.Unlock()
}

// Submit offers a graded frame. It never blocks: the frame is forwarded
// only when the source timestamp has advanced at least the throttle
// interval since the last forwarded frame and the surface is ready;
// otherwise it is dropped.
func (s *Sink) Submit(frame *camera.Frame) {
	s.mu.Lock()

	if s.primed && frame.PTS-s.lastPTS < s.minInterval {
		s.dropped++
		s.mu.Unlock()
		return
	}

	surface := s.surface
	if surface != nil && !surface.Ready() {
		s.dropped++
		s.mu.Unlock()
		return
	}

	s.lastPTS = frame.PTS
	s.primed = true
	s.forwarded++
	s.mu.Unlock()

	s.latest.Store(frame)
	if surface != nil {
		surface.Enqueue(frame)
	}
}

// Latest returns the most recently forwarded frame, or nil before the
// first one.
func (s *Sink) Latest() *camera.Frame {
	return s.latest.Load()
}

// Reset clears the throttle clock, e.g. after the capture session restarts
// and timestamps jump.
func (s *Sink) Reset() {
	s.mu.Lock()
	s.primed = false
	s.lastPTS = 0
	s.mu.Unlock()
}

// Stats returns forwarded/dropped counters for the status API.
func (s *Sink) Stats() (forwarded, dropped uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forwarded, s.dropped
}
