package camera

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"lumacam/config"
	"lumacam/lut"
)

// fakeDevice is a scriptable capture unit fed by tests.
type fakeDevice struct {
	name    string
	formats []CaptureFormat
	minZoom float64
	maxZoom float64

	mu       sync.Mutex
	settings DeviceSettings
	started  bool
	resets   int

	video chan *Frame
	audio chan *Frame
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		name: "fake",
		formats: []CaptureFormat{
			{Width: 1920, Height: 1080, Subtype: Subtype420Full, FrameRateRanges: []FrameRateRange{{1, 60}}},
		},
		minZoom: 1,
		maxZoom: 8,
		video:   make(chan *Frame, 8),
		audio:   make(chan *Frame, 8),
	}
}

func (d *fakeDevice) Name() string             { return d.name }
func (d *fakeDevice) Formats() []CaptureFormat { return d.formats }
func (d *fakeDevice) MinZoom() float64         { return d.minZoom }
func (d *fakeDevice) MaxZoom() float64         { return d.maxZoom }

func (d *fakeDevice) Configure(settings DeviceSettings) error {
	d.mu.Lock()
	d.settings = settings
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Start(ctx context.Context) error {
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Video() <-chan *Frame { return d.video }
func (d *fakeDevice) Audio() <-chan *Frame { return d.audio }

func (d *fakeDevice) ResetPointsOfInterest() {
	d.mu.Lock()
	d.resets++
	d.mu.Unlock()
}

func (d *fakeDevice) appliedSettings() DeviceSettings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// fakeCatalog resolves every back lens to the one device, fronts to nil.
type fakeCatalog struct {
	device Device
}

func (c *fakeCatalog) Resolve(position config.Position, lens config.BackDevice) Device {
	if position == config.PositionFront {
		return nil
	}
	return c.device
}

func (c *fakeCatalog) BackDevices() []config.BackDevice {
	return []config.BackDevice{config.BackWideAngle}
}

// passGrader completes every grade synchronously without touching pixels.
type passGrader struct{}

func (passGrader) Grade(frame *Frame, cube *lut.Cube) error { return nil }

func (passGrader) GradeAsync(frame *Frame, cube *lut.Cube, done func(*Frame, error)) {
	done(frame, nil)
}

// collectSink gathers submitted frames behind a mutex for cross-goroutine
// assertions.
type collectSink struct {
	mu     sync.Mutex
	frames []*Frame
	resets int
}

func (s *collectSink) Submit(frame *Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
}

func (s *collectSink) Reset() {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
}

func (s *collectSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// fakeRecorder tracks appends and lifecycle calls.
type fakeRecorder struct {
	mu      sync.Mutex
	video   []*Frame
	audio   []*Frame
	started []RecordingOptions
	stops   int
}

func (r *fakeRecorder) Start(opts RecordingOptions) error {
	r.mu.Lock()
	r.started = append(r.started, opts)
	r.mu.Unlock()
	return nil
}

func (r *fakeRecorder) AppendVideo(frame *Frame) {
	r.mu.Lock()
	r.video = append(r.video, frame)
	r.mu.Unlock()
}

func (r *fakeRecorder) AppendAudio(frame *Frame) {
	r.mu.Lock()
	r.audio = append(r.audio, frame)
	r.mu.Unlock()
}

func (r *fakeRecorder) Stop(ctx context.Context) (string, error) {
	r.mu.Lock()
	r.stops++
	r.mu.Unlock()
	return "", nil
}

func (r *fakeRecorder) Duration() time.Duration { return 0 }

func (r *fakeRecorder) counts() (video, audio int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.video), len(r.audio)
}

func newTestController(t *testing.T) (*Controller, *fakeDevice, *collectSink, *fakeRecorder) {
	t.Helper()
	device := newFakeDevice()
	sink := &collectSink{}
	rec := &fakeRecorder{}
	cfg := &config.Config{}
	store := lut.NewStore(lut.DirResolver{Dir: t.TempDir()}, zaptest.NewLogger(t))
	ctrl := NewController(cfg, &fakeCatalog{device: device}, passGrader{}, store, sink, rec, zaptest.NewLogger(t))
	return ctrl, device, sink, rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// Configure negotiates the format, starts the device and resets the
// preview throttle.
func TestConfigureStartsSession(t *testing.T) {
	ctrl, device, sink, _ := newTestController(t)
	defer ctrl.StopSession()

	status := config.DefaultSessionStatus()
	status.FrameRate = 120 // device tops out at 60
	ctrl.Configure(status)

	settings := device.appliedSettings()
	if settings.Format.Width != 1920 || settings.Format.Height != 1080 {
		t.Errorf("expected 1920x1080, got %dx%d", settings.Format.Width, settings.Format.Height)
	}
	if settings.FrameRate != 60 {
		t.Errorf("expected rate clamped to 60, got %d", settings.FrameRate)
	}
	if settings.Mirrored {
		t.Error("back camera must not mirror")
	}
	sink.mu.Lock()
	resets := sink.resets
	sink.mu.Unlock()
	if resets != 1 {
		t.Errorf("expected 1 sink reset, got %d", resets)
	}
}

// An unresolvable device leaves capture stopped without failing.
func TestConfigureMissingDevice(t *testing.T) {
	ctrl, device, _, rec := newTestController(t)

	status := config.DefaultSessionStatus()
	status.Position = config.PositionFront
	ctrl.Configure(status)

	if device.appliedSettings().Format.Width != 0 {
		t.Error("device must stay unconfigured")
	}
	if err := ctrl.StartRecording(nil); err != ErrNoActiveSession {
		t.Errorf("expected ErrNoActiveSession, got %v", err)
	}
	if v, _ := rec.counts(); v != 0 {
		t.Error("no frames may reach the recorder")
	}
}

// Video frames flow through grading to preview and (cloned) to the
// recorder; audio goes straight to the recorder.
func TestFanOut(t *testing.T) {
	ctrl, device, sink, rec := newTestController(t)
	defer ctrl.StopSession()

	ctrl.Configure(config.DefaultSessionStatus())

	frame, err := NewVideoFrame(time.Second, 4, 4)
	if err != nil {
		t.Fatalf("NewVideoFrame failed: %v", err)
	}
	device.video <- frame
	device.audio <- NewAudioFrame(time.Second, []byte{1, 2})

	waitFor(t, "fan-out", func() bool {
		v, a := rec.counts()
		return sink.count() == 1 && v == 1 && a == 1
	})

	rec.mu.Lock()
	recorded := rec.video[0]
	rec.mu.Unlock()
	if recorded == frame {
		t.Error("recorder must receive a copy, not the preview frame")
	}
	sink.mu.Lock()
	previewed := sink.frames[0]
	sink.mu.Unlock()
	if previewed != frame {
		t.Error("preview must receive the graded frame itself")
	}
}

// The lens catalog passes through for the status API.
func TestAvailableLenses(t *testing.T) {
	ctrl, _, _, _ := newTestController(t)

	lenses := ctrl.AvailableLenses()
	if len(lenses) != 1 || lenses[0] != config.BackWideAngle {
		t.Errorf("unexpected lens list %v", lenses)
	}
}

// The wide x2 lens forces a 2.0 zoom factor; other lenses clamp the user
// factor to the 5.0 cap.
func TestZoomPolicy(t *testing.T) {
	ctrl, device, _, _ := newTestController(t)
	defer ctrl.StopSession()

	status := config.DefaultSessionStatus()
	status.BackDevice = config.BackWideAngleX2
	ctrl.Configure(status)
	if z := device.appliedSettings().ZoomFactor; z != 2.0 {
		t.Errorf("x2 lens: expected zoom 2.0, got %v", z)
	}

	status.BackDevice = config.BackWideAngle
	ctrl.Configure(status)
	ctrl.SetZoom(7.5) // device max 8, capped at 5
	if z := device.appliedSettings().ZoomFactor; z != 5.0 {
		t.Errorf("expected zoom capped at 5.0, got %v", z)
	}

	ctrl.SetZoom(0.2)
	if z := device.appliedSettings().ZoomFactor; z != 1.0 {
		t.Errorf("expected zoom floored at device min, got %v", z)
	}
}

// StartRecording latches the active geometry and the current orientation.
func TestStartRecordingLatchesState(t *testing.T) {
	ctrl, _, _, rec := newTestController(t)
	defer ctrl.StopSession()

	status := config.DefaultSessionStatus()
	status.FrameRate = 30
	ctrl.Configure(status)
	ctrl.SetOrientation(OrientationLandscapeLeft)

	loc := &LocationFix{Latitude: 1, Longitude: 2}
	if err := ctrl.StartRecording(loc); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}

	rec.mu.Lock()
	opts := rec.started[0]
	rec.mu.Unlock()
	if opts.Width != 1920 || opts.Height != 1080 || opts.FrameRate != 30 {
		t.Errorf("unexpected geometry %dx%d@%d", opts.Width, opts.Height, opts.FrameRate)
	}
	if opts.Orientation != OrientationLandscapeLeft {
		t.Errorf("expected latched orientation, got %s", opts.Orientation)
	}
	if opts.Location != loc {
		t.Error("location hint not carried")
	}
}

// Critical thermal pressure stops the recording and the capture session.
func TestThermalCriticalStopsEverything(t *testing.T) {
	ctrl, device, _, rec := newTestController(t)

	ctrl.Configure(config.DefaultSessionStatus())
	ctrl.HandleThermal(ThermalCritical)

	rec.mu.Lock()
	stops := rec.stops
	rec.mu.Unlock()
	if stops != 1 {
		t.Errorf("expected the recorder stopped once, got %d", stops)
	}
	device.mu.Lock()
	resets := device.resets
	device.mu.Unlock()
	if resets != 1 {
		t.Errorf("expected focus/exposure reset on stop, got %d", resets)
	}
	if ctrl.Thermal() != ThermalCritical {
		t.Errorf("expected latched critical state, got %s", ctrl.Thermal())
	}

	// Fair pressure alone changes nothing.
	ctrl.HandleThermal(ThermalFair)
	rec.mu.Lock()
	stops = rec.stops
	rec.mu.Unlock()
	if stops != 1 {
		t.Errorf("non-critical state must not stop, got %d stops", stops)
	}
}
