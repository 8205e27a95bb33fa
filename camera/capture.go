package camera

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"lumacam/config"
)

// audioChunksPerSecond fixes the audio read granularity at 20ms buffers.
const audioChunksPerSecond = 50

// ExecDevice captures raw biplanar video and PCM audio through FFmpeg
// child processes, one per stream. Frames arrive on bounded channels and
// are dropped when the pipeline lags; video frames never block audio and
// vice versa.
type ExecDevice struct {
	cfg        config.DeviceConfig
	ffmpegPath string
	formats    []CaptureFormat
	logger     *zap.Logger

	mu       sync.Mutex
	settings DeviceSettings
	running  bool
	cancel   context.CancelFunc

	// sessionCtx is the context Start was last called with; restarts stay
	// under it so cancelling the session still stops a reconfigured device.
	sessionCtx context.Context

	videoChan chan *Frame
	audioChan chan *Frame
}

// NewExecDevice builds a device from its catalog entry.
func NewExecDevice(cfg config.DeviceConfig, ffmpegPath string, videoBuf, audioBuf int, logger *zap.Logger) *ExecDevice {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if videoBuf <= 0 {
		videoBuf = 30
	}
	if audioBuf <= 0 {
		audioBuf = 64
	}

	formats := make([]CaptureFormat, 0, len(cfg.Formats))
	for _, f := range cfg.Formats {
		subtype := SubtypeOther
		switch f.Subtype {
		case "420f":
			subtype = Subtype420Full
		case "420v":
			subtype = Subtype420Video
		}
		formats = append(formats, CaptureFormat{
			Width:             f.Width,
			Height:            f.Height,
			Subtype:           subtype,
			SecondaryNative2x: f.SecondaryNative2x,
			FrameRateRanges:   []FrameRateRange{{Min: f.MinRate, Max: f.MaxRate}},
		})
	}

	return &ExecDevice{
		cfg:        cfg,
		ffmpegPath: ffmpegPath,
		formats:    formats,
		logger:     logger.With(zap.String("device", cfg.Name)),
		videoChan:  make(chan *Frame, videoBuf),
		audioChan:  make(chan *Frame, audioBuf),
	}
}

func (d *ExecDevice) Name() string             { return d.cfg.Name }
func (d *ExecDevice) Formats() []CaptureFormat { return d.formats }

func (d *ExecDevice) MinZoom() float64 {
	if d.cfg.MinZoom > 0 {
		return d.cfg.MinZoom
	}
	return 1.0
}

func (d *ExecDevice) MaxZoom() float64 {
	if d.cfg.MaxZoom > 0 {
		return d.cfg.MaxZoom
	}
	return 1.0
}

// Configure stores the settings to apply on the next Start. A running
// device is restarted with the new settings.
func (d *ExecDevice) Configure(settings DeviceSettings) error {
	if settings.Format.Width <= 0 || settings.Format.Height <= 0 || settings.FrameRate <= 0 {
		return fmt.Errorf("invalid device settings %dx%d@%d",
			settings.Format.Width, settings.Format.Height, settings.FrameRate)
	}

	d.mu.Lock()
	d.settings = settings
	wasRunning := d.running
	cancel := d.cancel
	sessionCtx := d.sessionCtx
	d.mu.Unlock()

	if wasRunning {
		cancel()
		return d.Start(sessionCtx)
	}
	return nil
}

// Start launches the capture processes and the reader goroutines.
func (d *ExecDevice) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.settings.Format.Width == 0 {
		return fmt.Errorf("device not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.sessionCtx = ctx
	d.cancel = cancel
	d.running = true

	if err := d.startVideo(runCtx); err != nil {
		cancel()
		d.running = false
		return err
	}
	if d.cfg.AudioDevice != "" {
		if err := d.startAudio(runCtx); err != nil {
			// Video-only capture still works; recording will have no audio.
			d.logger.Warn("Audio capture unavailable", zap.Error(err))
		}
	}

	d.logger.Info("Capture started",
		zap.Int("width", d.settings.Format.Width),
		zap.Int("height", d.settings.Format.Height),
		zap.Int("frame_rate", d.settings.FrameRate),
		zap.Float64("zoom", d.settings.ZoomFactor),
		zap.Bool("mirrored", d.settings.Mirrored))
	return nil
}

// videoFilter builds the crop/scale/flip filter chain for the configured
// zoom and mirror.
func (d *ExecDevice) videoFilter() string {
	var filters []string
	if z := d.settings.ZoomFactor; z > 1.0 {
		filters = append(filters,
			fmt.Sprintf("crop=iw/%.3f:ih/%.3f", z, z),
			fmt.Sprintf("scale=%d:%d", d.settings.Format.Width, d.settings.Format.Height))
	}
	if d.settings.Mirrored {
		filters = append(filters, "hflip")
	}
	if len(filters) == 0 {
		return ""
	}
	out := filters[0]
	for _, f := range filters[1:] {
		out += "," + f
	}
	return out
}

func (d *ExecDevice) startVideo(ctx context.Context) error {
	width := d.settings.Format.Width
	height := d.settings.Format.Height
	rate := d.settings.FrameRate

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "v4l2",
		"-input_format", "nv12",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-framerate", fmt.Sprintf("%d", rate),
		"-i", d.cfg.VideoPath,
	}
	if filter := d.videoFilter(); filter != "" {
		args = append(args, "-vf", filter)
	}
	args = append(args,
		"-f", "rawvideo",
		"-pix_fmt", "nv12",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, d.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open video stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open video stderr: %w", err)
	}

	d.logger.Info("Starting video capture process", zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start video capture: %w", err)
	}

	go d.logStderr("video_capture_stderr", stderr)
	go d.videoLoop(ctx, stdout, width, height, rate)
	go d.waitProcess(ctx, cmd, "video")
	return nil
}

// videoLoop reads fixed-size raw frames and stamps them on a synthetic
// device clock derived from the frame index at the configured rate.
func (d *ExecDevice) videoLoop(ctx context.Context, stdout io.Reader, width, height, rate int) {
	reader := bufio.NewReaderSize(stdout, width*height*3)
	ySize := width * height
	cSize := width * height / 2
	frameDuration := time.Second / time.Duration(rate)

	var index int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame := &Frame{
			Kind:   KindVideo,
			PTS:    time.Duration(index) * frameDuration,
			Width:  width,
			Height: height,
			Y:      make([]byte, ySize),
			CbCr:   make([]byte, cSize),
		}
		if _, err := io.ReadFull(reader, frame.Y); err != nil {
			d.logReadEnd(ctx, "video", err)
			return
		}
		if _, err := io.ReadFull(reader, frame.CbCr); err != nil {
			d.logReadEnd(ctx, "video", err)
			return
		}
		index++

		select {
		case d.videoChan <- frame:
		default:
			d.logger.Debug("Dropping video frame, channel full")
		}
	}
}

func (d *ExecDevice) startAudio(ctx context.Context) error {
	sampleRate := d.cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	channels := d.cfg.Channels
	if channels <= 0 {
		channels = 1
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "alsa",
		"-i", d.cfg.AudioDevice,
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", fmt.Sprintf("%d", channels),
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, d.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open audio stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open audio stderr: %w", err)
	}

	d.logger.Info("Starting audio capture process", zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start audio capture: %w", err)
	}

	go d.logStderr("audio_capture_stderr", stderr)
	go d.audioLoop(ctx, stdout, sampleRate, channels)
	go d.waitProcess(ctx, cmd, "audio")
	return nil
}

// audioLoop reads 20ms PCM buffers and stamps them on the same synthetic
// clock the video loop uses.
func (d *ExecDevice) audioLoop(ctx context.Context, stdout io.Reader, sampleRate, channels int) {
	chunkBytes := sampleRate / audioChunksPerSecond * channels * 2
	chunkDuration := time.Second / audioChunksPerSecond
	reader := bufio.NewReaderSize(stdout, chunkBytes*4)

	var index int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pcm := make([]byte, chunkBytes)
		if _, err := io.ReadFull(reader, pcm); err != nil {
			d.logReadEnd(ctx, "audio", err)
			return
		}
		frame := NewAudioFrame(time.Duration(index)*chunkDuration, pcm)
		index++

		select {
		case d.audioChan <- frame:
		default:
			d.logger.Debug("Dropping audio buffer, channel full")
		}
	}
}

func (d *ExecDevice) logStderr(key string, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		d.logger.Debug(key, zap.String("line", scanner.Text()))
	}
}

func (d *ExecDevice) logReadEnd(ctx context.Context, stream string, err error) {
	if ctx.Err() != nil {
		return
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		d.logger.Info("Capture stream ended", zap.String("stream", stream))
		return
	}
	d.logger.Error("Capture read error", zap.String("stream", stream), zap.Error(err))
}

func (d *ExecDevice) waitProcess(ctx context.Context, cmd *exec.Cmd, stream string) {
	err := cmd.Wait()
	if ctx.Err() != nil {
		d.logger.Debug("Capture process stopped", zap.String("stream", stream))
		return
	}
	if err != nil {
		d.logger.Error("Capture process exited", zap.String("stream", stream), zap.Error(err))
	}
}

func (d *ExecDevice) Video() <-chan *Frame { return d.videoChan }
func (d *ExecDevice) Audio() <-chan *Frame { return d.audioChan }

// ResetPointsOfInterest restores continuous auto focus and exposure via
// v4l2 controls. Best effort: cameras without the controls just ignore it.
func (d *ExecDevice) ResetPointsOfInterest() {
	cmd := exec.Command("v4l2-ctl", "-d", d.cfg.VideoPath,
		"-c", "focus_automatic_continuous=1",
		"-c", "auto_exposure=0")
	if err := cmd.Run(); err != nil {
		d.logger.Debug("Reset points of interest not supported", zap.Error(err))
	}

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// ConfigCatalog resolves devices from the static configuration.
type ConfigCatalog struct {
	devices map[string]*ExecDevice
	order   []config.BackDevice
}

// NewConfigCatalog builds every configured device up front so repeated
// Configure calls reuse the same channels.
func NewConfigCatalog(cfg *config.Config, logger *zap.Logger) *ConfigCatalog {
	c := &ConfigCatalog{devices: make(map[string]*ExecDevice)}

	for _, dc := range cfg.Capture.Devices {
		key := dc.Position + "/" + dc.Lens
		if _, exists := c.devices[key]; exists {
			logger.Warn("Duplicate device entry ignored",
				zap.String("position", dc.Position),
				zap.String("lens", dc.Lens))
			continue
		}
		c.devices[key] = NewExecDevice(dc, cfg.Capture.FFmpegPath,
			cfg.Buffers.VideoChannelSize, cfg.Buffers.AudioChannelSize, logger)
		if dc.Position == string(config.PositionBack) {
			c.order = append(c.order, config.BackDevice(dc.Lens))
		}
	}

	return c
}

// Resolve returns the device for a position and lens, or nil when this
// unit has no such camera. Front lookups ignore the lens selection.
func (c *ConfigCatalog) Resolve(position config.Position, lens config.BackDevice) Device {
	if position == config.PositionFront {
		for key, d := range c.devices {
			if strings.HasPrefix(key, string(config.PositionFront)+"/") {
				return d
			}
		}
		return nil
	}
	if d, ok := c.devices[string(position)+"/"+string(lens)]; ok {
		return d
	}
	// The 2x crop mode is the wide lens, not a separate sensor.
	if lens == config.BackWideAngleX2 {
		if d, ok := c.devices[string(position)+"/"+string(config.BackWideAngle)]; ok {
			return d
		}
	}
	return nil
}

// BackDevices lists the configured back lenses in configuration order.
func (c *ConfigCatalog) BackDevices() []config.BackDevice {
	return c.order
}
