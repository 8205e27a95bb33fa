package record

import (
	"context"
	"time"

	"go.uber.org/zap"

	"lumacam/camera"
	"lumacam/config"
)

// Control adapts a Session to the camera controller's recorder contract.
// It resolves quality tier and dynamic range from the live session status
// at start time, so a status change between recordings takes effect without
// restarting the pipeline.
type Control struct {
	session *Session
	status  func() config.SessionStatus
	meta    MetadataProvider
	logger  *zap.Logger
}

// NewControl builds a Control. status is polled once per recording start.
func NewControl(session *Session, status func() config.SessionStatus, meta MetadataProvider, logger *zap.Logger) *Control {
	return &Control{session: session, status: status, meta: meta, logger: logger}
}

// Start latches the capture geometry and session status into muxer settings
// and starts the recording session.
func (c *Control) Start(opts camera.RecordingOptions) error {
	status := c.status()

	var loc *Location
	if opts.Location != nil {
		loc = &Location{
			Latitude:           opts.Location.Latitude,
			Longitude:          opts.Location.Longitude,
			Altitude:           opts.Location.Altitude,
			HorizontalAccuracy: opts.Location.HorizontalAccuracy,
		}
	}

	settings := BuildSettings(
		opts.Width, opts.Height, opts.FrameRate,
		status.QualityTier, status.DynamicRange,
		opts.Orientation.RotationDegrees(),
		c.meta.Metadata(loc),
	)

	c.logger.Info("Starting recording",
		zap.Int("width", settings.Width),
		zap.Int("height", settings.Height),
		zap.Int("frame_rate", settings.FrameRate),
		zap.String("codec", string(settings.Codec)),
		zap.String("container", string(settings.Container)),
		zap.Int("bitrate", settings.Bitrate()),
		zap.Int("rotation", settings.Rotation))

	return c.session.Start(settings)
}

// AppendVideo forwards a graded frame to the session.
func (c *Control) AppendVideo(frame *camera.Frame) {
	c.session.AppendVideo(frame)
}

// AppendAudio forwards an audio buffer to the session.
func (c *Control) AppendAudio(frame *camera.Frame) {
	c.session.AppendAudio(frame)
}

// Stop finalizes the recording and returns the output path.
func (c *Control) Stop(ctx context.Context) (string, error) {
	return c.session.Stop(ctx)
}

// Duration reports the accumulated recording duration.
func (c *Control) Duration() time.Duration {
	return c.session.Duration()
}
