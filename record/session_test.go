package record

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"lumacam/camera"
)

// fakeMuxer records every call so tests can assert exactly what reached
// the writer.
type fakeMuxer struct {
	started  bool
	origin   time.Duration
	began    bool
	finished bool
	aborted  bool

	writing    bool
	videoReady bool
	audioReady bool

	videoFrames []*camera.Frame
	audioFrames []*camera.Frame
}

func newFakeMuxer() *fakeMuxer {
	return &fakeMuxer{writing: true, videoReady: true, audioReady: true}
}

func (m *fakeMuxer) Start() error { m.started = true; return nil }

func (m *fakeMuxer) BeginSession(origin time.Duration) error {
	m.began = true
	m.origin = origin
	return nil
}

func (m *fakeMuxer) Writing() bool    { return m.writing }
func (m *fakeMuxer) VideoReady() bool { return m.videoReady }
func (m *fakeMuxer) AudioReady() bool { return m.audioReady }

func (m *fakeMuxer) WriteVideo(frame *camera.Frame) error {
	m.videoFrames = append(m.videoFrames, frame)
	return nil
}

func (m *fakeMuxer) WriteAudio(frame *camera.Frame) error {
	m.audioFrames = append(m.audioFrames, frame)
	return nil
}

func (m *fakeMuxer) Finish(ctx context.Context) (string, error) {
	m.finished = true
	return "/tmp/out.MP4", nil
}

func (m *fakeMuxer) Abort() { m.aborted = true }

func videoFrameAt(t *testing.T, pts time.Duration) *camera.Frame {
	t.Helper()
	frame, err := camera.NewVideoFrame(pts, 4, 4)
	if err != nil {
		t.Fatalf("NewVideoFrame failed: %v", err)
	}
	return frame
}

func newTestSession(t *testing.T) (*Session, *fakeMuxer, *int) {
	t.Helper()
	muxer := newFakeMuxer()
	calls := 0
	factory := func(settings Settings) (Muxer, error) {
		calls++
		return muxer, nil
	}
	return NewSession(factory, zaptest.NewLogger(t)), muxer, &calls
}

// Stopping an idle session must not touch any writer.
func TestStopFromIdle(t *testing.T) {
	session, muxer, calls := newTestSession(t)

	path, err := session.Stop(context.Background())
	if err != ErrNothingToFinalize {
		t.Errorf("expected ErrNothingToFinalize, got %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
	if *calls != 0 || muxer.started {
		t.Error("idle stop must not create or start a muxer")
	}
}

// A second Start while a session is active is a no-op.
func TestStartWhileActive(t *testing.T) {
	session, _, calls := newTestSession(t)

	if err := session.Start(Settings{Width: 1920, Height: 1080, FrameRate: 30}); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := session.Start(Settings{Width: 1280, Height: 720, FrameRate: 30}); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if *calls != 1 {
		t.Errorf("expected 1 factory call, got %d", *calls)
	}
	if session.State() != StateStarting {
		t.Errorf("expected state starting, got %s", session.State())
	}
}

// The first video frame sets the origin half a second ahead of its own
// timestamp, so the establishing frame and everything before the origin is
// dropped and never contributes to duration.
func TestOriginEstablishmentDropsEarlyFrames(t *testing.T) {
	session, muxer, _ := newTestSession(t)

	if err := session.Start(Settings{Width: 1920, Height: 1080, FrameRate: 30}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	session.AppendVideo(videoFrameAt(t, 1*time.Second))
	if muxer.origin != 1500*time.Millisecond {
		t.Errorf("expected origin 1.5s, got %v", muxer.origin)
	}
	if session.State() != StateRecording {
		t.Errorf("expected state recording, got %s", session.State())
	}
	if len(muxer.videoFrames) != 0 {
		t.Errorf("establishing frame must be dropped, wrote %d frames", len(muxer.videoFrames))
	}

	session.AppendVideo(videoFrameAt(t, 1200*time.Millisecond))
	if len(muxer.videoFrames) != 0 {
		t.Error("pre-origin frame must be dropped")
	}
	if session.Duration() != 0 {
		t.Errorf("pre-origin frames must not advance duration, got %v", session.Duration())
	}

	session.AppendVideo(videoFrameAt(t, 1600*time.Millisecond))
	if len(muxer.videoFrames) != 1 {
		t.Fatalf("expected 1 written frame, got %d", len(muxer.videoFrames))
	}
	if session.Duration() != 100*time.Millisecond {
		t.Errorf("expected duration 100ms, got %v", session.Duration())
	}
}

// Duration only ever moves forward even when a late frame carries an older
// timestamp.
func TestDurationIsMonotonic(t *testing.T) {
	session, _, _ := newTestSession(t)

	if err := session.Start(Settings{Width: 1280, Height: 720, FrameRate: 30}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	session.AppendVideo(videoFrameAt(t, 0))
	session.AppendVideo(videoFrameAt(t, 2*time.Second))
	session.AppendVideo(videoFrameAt(t, 1700*time.Millisecond))

	if session.Duration() != 1500*time.Millisecond {
		t.Errorf("expected duration 1.5s, got %v", session.Duration())
	}
}

// Early audio queues and flushes in order once video advances the horizon
// past each sample.
func TestAudioFlushFollowsVideoHorizon(t *testing.T) {
	session, muxer, _ := newTestSession(t)

	if err := session.Start(Settings{Width: 1920, Height: 1080, FrameRate: 30}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	session.AppendAudio(camera.NewAudioFrame(900*time.Millisecond, []byte{1}))
	session.AppendAudio(camera.NewAudioFrame(1400*time.Millisecond, []byte{2}))
	session.AppendAudio(camera.NewAudioFrame(1600*time.Millisecond, []byte{3}))
	session.AppendAudio(camera.NewAudioFrame(1800*time.Millisecond, []byte{4}))

	if len(muxer.audioFrames) != 0 {
		t.Fatalf("audio must queue until video advances, wrote %d", len(muxer.audioFrames))
	}

	session.AppendVideo(videoFrameAt(t, 1*time.Second)) // origin at 1.5s
	session.AppendVideo(videoFrameAt(t, 1700*time.Millisecond))

	if len(muxer.audioFrames) != 3 {
		t.Fatalf("expected 3 flushed audio samples, got %d", len(muxer.audioFrames))
	}
	for i, want := range []time.Duration{900, 1400, 1600} {
		if muxer.audioFrames[i].PTS != want*time.Millisecond {
			t.Errorf("audio sample %d: expected PTS %vms, got %v", i, want, muxer.audioFrames[i].PTS)
		}
	}

	session.AppendVideo(videoFrameAt(t, 1900*time.Millisecond))
	if len(muxer.audioFrames) != 4 {
		t.Errorf("expected 4 flushed audio samples, got %d", len(muxer.audioFrames))
	}
}

// Stopping before any video frame established an origin discards the
// container without finalizing.
func TestStopDuringStartingAborts(t *testing.T) {
	session, muxer, _ := newTestSession(t)

	if err := session.Start(Settings{Width: 1920, Height: 1080, FrameRate: 30}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	session.AppendAudio(camera.NewAudioFrame(0, []byte{1}))

	path, err := session.Stop(context.Background())
	if err != ErrNothingToFinalize {
		t.Errorf("expected ErrNothingToFinalize, got %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
	if !muxer.aborted {
		t.Error("prepared container must be aborted")
	}
	if muxer.finished {
		t.Error("aborted session must not finalize")
	}
	if session.State() != StateIdle {
		t.Errorf("expected state idle, got %s", session.State())
	}
}

// Encoder backpressure drops frames instead of blocking the capture path.
func TestVideoBackpressureDrops(t *testing.T) {
	session, muxer, _ := newTestSession(t)

	if err := session.Start(Settings{Width: 1920, Height: 1080, FrameRate: 30}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	session.AppendVideo(videoFrameAt(t, 0))

	muxer.videoReady = false
	session.AppendVideo(videoFrameAt(t, 600*time.Millisecond))
	session.AppendVideo(videoFrameAt(t, 700*time.Millisecond))

	if len(muxer.videoFrames) != 0 {
		t.Errorf("expected no written frames, got %d", len(muxer.videoFrames))
	}
	if session.DroppedVideo() != 2 {
		t.Errorf("expected 2 dropped frames, got %d", session.DroppedVideo())
	}

	muxer.videoReady = true
	session.AppendVideo(videoFrameAt(t, 800*time.Millisecond))
	if len(muxer.videoFrames) != 1 {
		t.Errorf("expected 1 written frame after recovery, got %d", len(muxer.videoFrames))
	}
}

// A non-writable writer at origin time reverts the session to idle.
func TestUnwritableWriterReverts(t *testing.T) {
	session, muxer, _ := newTestSession(t)
	muxer.writing = false

	if err := session.Start(Settings{Width: 1920, Height: 1080, FrameRate: 30}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	session.AppendVideo(videoFrameAt(t, 0))

	if session.State() != StateIdle {
		t.Errorf("expected state idle, got %s", session.State())
	}
	if !muxer.aborted {
		t.Error("container must be aborted when the writer is not writable")
	}
}

// A full recording finalizes exactly once; the stop after it sees an idle
// session.
func TestStopFinalizesOnce(t *testing.T) {
	session, muxer, _ := newTestSession(t)

	if err := session.Start(Settings{Width: 1920, Height: 1080, FrameRate: 30}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// 30fps frames for a bit over three seconds past the origin.
	for i := 0; i < 100; i++ {
		session.AppendVideo(videoFrameAt(t, time.Duration(i)*time.Second/30))
	}

	path, err := session.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if path != "/tmp/out.MP4" {
		t.Errorf("unexpected path %q", path)
	}
	if !muxer.finished {
		t.Error("muxer must be finalized")
	}
	if session.State() != StateIdle {
		t.Errorf("expected state idle, got %s", session.State())
	}

	if _, err := session.Stop(context.Background()); err != ErrNothingToFinalize {
		t.Errorf("second stop: expected ErrNothingToFinalize, got %v", err)
	}
}
