package camera

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"lumacam/config"
	"lumacam/lut"
)

// maxZoomCap bounds user zoom regardless of what the device reports.
const maxZoomCap = 5.0

// ErrNoActiveSession is returned when a recording is requested before any
// capture session is configured.
var ErrNoActiveSession = errors.New("no active capture session")

// Grader applies the color transform. Satisfied by grade.Engine.
type Grader interface {
	Grade(frame *Frame, cube *lut.Cube) error
	GradeAsync(frame *Frame, cube *lut.Cube, done func(*Frame, error))
}

// PreviewSink receives graded frames for display.
type PreviewSink interface {
	Submit(frame *Frame)
	Reset()
}

// LocationFix is an optional position hint latched when recording starts.
type LocationFix struct {
	Latitude           float64
	Longitude          float64
	Altitude           float64
	HorizontalAccuracy float64
}

// RecordingOptions describes one recording request, built from the active
// capture configuration and the state latched at start time.
type RecordingOptions struct {
	Width       int
	Height      int
	FrameRate   int
	Orientation Orientation
	Location    *LocationFix
}

// Recorder is the recording session as the controller sees it. Appends are
// gated by the recorder's own state machine; the controller feeds it
// unconditionally while a session may be active.
type Recorder interface {
	Start(opts RecordingOptions) error
	AppendVideo(frame *Frame)
	AppendAudio(frame *Frame)
	Stop(ctx context.Context) (string, error)
	Duration() time.Duration
}

// Controller is the single authority over device lifecycle and format
// negotiation. It owns the frame source and fans raw frames out to grading,
// preview and recording without ever blocking the capture path.
type Controller struct {
	cfg     *config.Config
	catalog Catalog
	grader  Grader
	luts    *lut.Store
	sink    PreviewSink
	rec     Recorder
	logger  *zap.Logger

	mu           sync.Mutex
	device       Device
	activeFormat *CaptureFormat
	activeRate   int
	status       config.SessionStatus
	userZoom     float64
	cancel       context.CancelFunc
	fanoutDone   chan struct{}

	stateMu     sync.Mutex
	orientation Orientation
	thermal     ThermalState

	onConfigured func(width, height, frameRate int)
}

// NewController wires the pipeline stages together.
func NewController(cfg *config.Config, catalog Catalog, grader Grader, luts *lut.Store, sink PreviewSink, rec Recorder, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:         cfg,
		catalog:     catalog,
		grader:      grader,
		luts:        luts,
		sink:        sink,
		rec:         rec,
		logger:      logger,
		userZoom:    1.0,
		orientation: OrientationPortrait,
		thermal:     ThermalNominal,
	}
}

// SetOnConfigured registers a hook fired after every successful Configure
// with the active capture geometry. Set it before the first Configure.
func (c *Controller) SetOnConfigured(fn func(width, height, frameRate int)) {
	c.onConfigured = fn
}

// Configure tears down any running session and re-applies device selection,
// format, frame rate, zoom and mirroring, then starts the device streaming.
// A missing device/position is a best-effort failure: logged, device left
// stopped, never fatal, since the hardware catalog varies by unit.
func (c *Controller) Configure(status config.SessionStatus) {
	c.StopSession()

	c.mu.Lock()
	defer c.mu.Unlock()

	device := c.catalog.Resolve(status.Position, status.BackDevice)
	if device == nil {
		c.logger.Warn("Requested device unavailable, leaving capture stopped",
			zap.String("position", string(status.Position)),
			zap.String("back_device", string(status.BackDevice)))
		return
	}

	format, rateRange := SelectFormat(device.Formats(), status.VideoResolution, status.FrameRate)
	if format == nil {
		c.logger.Warn("No capture format for requested resolution, leaving capture stopped",
			zap.Int("resolution", status.VideoResolution),
			zap.String("device", device.Name()))
		return
	}

	rate := status.FrameRate
	if rateRange != nil && float64(rate) > rateRange.Max {
		rate = int(rateRange.Max)
	}

	settings := DeviceSettings{
		Format:     *format,
		FrameRate:  rate,
		ZoomFactor: c.zoomFactorLocked(status),
		Mirrored:   status.Position == config.PositionFront && status.IsVideoMirrored,
	}

	if err := device.Configure(settings); err != nil {
		c.logger.Error("Failed to configure device, leaving capture stopped",
			zap.String("device", device.Name()),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := device.Start(ctx); err != nil {
		cancel()
		c.logger.Error("Failed to start device", zap.String("device", device.Name()), zap.Error(err))
		return
	}

	c.device = device
	c.activeFormat = format
	c.activeRate = rate
	c.status = status
	c.cancel = cancel
	c.fanoutDone = make(chan struct{})
	c.sink.Reset()

	go c.fanout(ctx, device, c.fanoutDone)

	if c.onConfigured != nil {
		c.onConfigured(format.Width, format.Height, rate)
	}

	c.logger.Info("Capture session configured",
		zap.String("device", device.Name()),
		zap.Int("width", format.Width),
		zap.Int("height", format.Height),
		zap.Int("frame_rate", rate),
		zap.Float64("zoom", settings.ZoomFactor),
		zap.Bool("mirrored", settings.Mirrored))
}

// zoomFactorLocked implements the lens zoom policy: the wide x2-crop lens
// forces a 2.0x digital factor, every other lens uses the user factor
// clamped to [device min, min(5.0, device max)].
func (c *Controller) zoomFactorLocked(status config.SessionStatus) float64 {
	if status.Position == config.PositionBack && status.BackDevice == config.BackWideAngleX2 {
		return 2.0
	}
	return c.userZoom
}

// SetZoom applies an explicit zoom factor from a pinch gesture, clamped to
// the device limits. No-op when no session is running.
func (c *Controller) SetZoom(factor float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return
	}

	min := c.device.MinZoom()
	max := c.device.MaxZoom()
	if max > maxZoomCap {
		max = maxZoomCap
	}
	if factor < min {
		factor = min
	}
	if factor > max {
		factor = max
	}
	c.userZoom = factor

	settings := DeviceSettings{
		Format:     *c.activeFormat,
		FrameRate:  c.activeRate,
		ZoomFactor: c.zoomFactorLocked(c.status),
		Mirrored:   c.status.Position == config.PositionFront && c.status.IsVideoMirrored,
	}

	if err := c.device.Configure(settings); err != nil {
		c.logger.Error("Failed to apply zoom", zap.Error(err))
	}
}

// StopSession stops streaming and unbinds the device. Idempotent and safe
// when no session is running. Focus and exposure are restored to center
// continuous-auto first so the next Configure starts from a known-good
// state.
func (c *Controller) StopSession() {
	c.mu.Lock()
	device := c.device
	cancel := c.cancel
	done := c.fanoutDone
	c.device = nil
	c.activeFormat = nil
	c.cancel = nil
	c.fanoutDone = nil
	c.mu.Unlock()

	if device == nil {
		return
	}

	device.ResetPointsOfInterest()
	cancel()
	if done != nil {
		<-done
	}

	c.logger.Info("Capture session stopped", zap.String("device", device.Name()))
}

// fanout is the single reader of the device streams. Every video frame is
// graded; the completion feeds preview and, when a recording is active, a
// copy to the recorder. Audio goes straight to the recorder, whose state
// machine gates it. Nothing here ever blocks on a consumer.
func (c *Controller) fanout(ctx context.Context, device Device, done chan struct{}) {
	defer close(done)

	frameCount := 0
	logInterval := c.cfg.Logging.FrameLogInterval
	if logInterval <= 0 {
		logInterval = 300
	}

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-device.Video():
			if !ok {
				return
			}
			frameCount++
			if frameCount%logInterval == 0 {
				c.logger.Debug("Processing video frame",
					zap.Int("frame_count", frameCount),
					zap.Duration("pts", frame.PTS))
			}
			cube := c.luts.Active()
			c.grader.GradeAsync(frame, cube, func(graded *Frame, err error) {
				if err != nil {
					// Per-frame fault: drop for this stage only.
					return
				}
				c.sink.Submit(graded)
				c.rec.AppendVideo(graded.Clone())
			})
		case frame, ok := <-device.Audio():
			if !ok {
				return
			}
			c.rec.AppendAudio(frame)
		}
	}
}

// StartRecording begins a recording with the orientation latched now and
// the caller's optional location hint. A session already active makes this
// a no-op inside the recorder's state machine.
func (c *Controller) StartRecording(location *LocationFix) error {
	c.mu.Lock()
	format := c.activeFormat
	rate := c.activeRate
	c.mu.Unlock()

	if format == nil {
		c.logger.Warn("Recording requested with no capture session running")
		return ErrNoActiveSession
	}

	opts := RecordingOptions{
		Width:       format.Width,
		Height:      format.Height,
		FrameRate:   rate,
		Orientation: c.Orientation(),
		Location:    location,
	}
	return c.rec.Start(opts)
}

// StopRecording finalizes the active recording and returns the output file
// path.
func (c *Controller) StopRecording() (string, error) {
	timeout := time.Duration(c.cfg.Timeouts.MuxerFinishTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.rec.Stop(ctx)
}

// RecordingDuration exposes the recorder's accumulated duration for the UI
// layer.
func (c *Controller) RecordingDuration() time.Duration {
	return c.rec.Duration()
}

// AvailableLenses lists the back lens selections this unit's catalog
// offers, in presentation order.
func (c *Controller) AvailableLenses() []config.BackDevice {
	return c.catalog.BackDevices()
}

// SetOrientation latches a new device attitude; called from the
// orientation sampler.
func (c *Controller) SetOrientation(o Orientation) {
	c.stateMu.Lock()
	c.orientation = o
	c.stateMu.Unlock()
}

// Orientation returns the last classified device attitude.
func (c *Controller) Orientation() Orientation {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.orientation
}

// HandleThermal reacts to a thermal state change. Critical pressure is an
// involuntary cancellation: stop the recording, then stop the device.
func (c *Controller) HandleThermal(state ThermalState) {
	c.stateMu.Lock()
	c.thermal = state
	c.stateMu.Unlock()

	if state != ThermalCritical {
		return
	}

	c.logger.Warn("Thermal critical: stopping recording and capture session")
	if _, err := c.StopRecording(); err != nil {
		// There may simply be no recording in flight; that is fine here.
		c.logger.Debug("Stop recording under thermal pressure", zap.Error(err))
	}
	c.StopSession()
}

// Thermal returns the last observed thermal state.
func (c *Controller) Thermal() ThermalState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.thermal
}
