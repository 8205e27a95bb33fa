package record

import (
	"context"
	"time"

	"lumacam/camera"
	"lumacam/config"
)

// Codec selects the video encoder for a recording.
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecHEVC Codec = "hevc"
)

// Container selects the movie container for a recording.
type Container string

const (
	ContainerMP4 Container = "mp4"
	ContainerMOV Container = "mov"
)

// Settings describes one encode-to-file operation. Built once when a
// recording starts; immutable afterwards.
type Settings struct {
	Width     int
	Height    int
	FrameRate int

	Quality config.QualityTier
	Range   config.DynamicRange

	Codec     Codec
	Container Container

	// Rotation is the fixed display transform in degrees, latched from the
	// device orientation at start time. It is container metadata, not a
	// per-frame operation.
	Rotation int

	AudioSampleRate int
	AudioChannels   int

	Meta Metadata
}

// qualityCoefficient scales bitrate per tier.
func qualityCoefficient(tier config.QualityTier) float64 {
	switch tier {
	case config.QualityNormal:
		return 0.1
	case config.QualityMax:
		return 0.15
	default:
		return 0.125
	}
}

// Bitrate returns the target video bitrate in bits per second: tier
// coefficient x frame rate x pixel count.
func (s Settings) Bitrate() int {
	return int(qualityCoefficient(s.Quality)*float64(s.FrameRate)) * s.Width * s.Height
}

// BuildSettings fills in the codec/container policy: H.264-in-MP4 by
// default, HEVC for anything above 2100 lines at more than 30fps, and HEVC
// Main10 whenever a non-SDR dynamic range is requested.
func BuildSettings(width, height, frameRate int, tier config.QualityTier, dynamicRange config.DynamicRange, rotation int, meta Metadata) Settings {
	s := Settings{
		Width:           width,
		Height:          height,
		FrameRate:       frameRate,
		Quality:         tier,
		Range:           dynamicRange,
		Codec:           CodecH264,
		Container:       ContainerMP4,
		Rotation:        rotation,
		AudioSampleRate: 48000,
		AudioChannels:   1,
		Meta:            meta,
	}

	if height > 2100 && frameRate > 30 {
		s.Codec = CodecHEVC
		s.Container = ContainerMOV
	}
	if dynamicRange != config.RangeSDR && dynamicRange != "" {
		s.Codec = CodecHEVC
	}

	return s
}

// Extension returns the output file extension for the container.
func (s Settings) Extension() string {
	if s.Container == ContainerMOV {
		return "MOV"
	}
	return "MP4"
}

// Muxer is one encode-to-file operation: a destination container with a
// video and an audio input. Implementations must never block WriteVideo or
// WriteAudio on disk or encoder progress; backpressure surfaces through the
// readiness accessors instead.
type Muxer interface {
	// Start creates the destination container, cleaning any stale temp file
	// at the same path first.
	Start() error

	// BeginSession establishes the origin timestamp all written samples are
	// zeroed against.
	BeginSession(origin time.Duration) error

	// Writing reports whether the writer is in a writable state.
	Writing() bool

	// VideoReady and AudioReady report whether the respective input can
	// accept another sample right now.
	VideoReady() bool
	AudioReady() bool

	WriteVideo(frame *camera.Frame) error
	WriteAudio(frame *camera.Frame) error

	// Finish marks both inputs finished, waits for finalization, validates
	// that the result is playable and returns its path. An unplayable file
	// is deleted and reported as an error.
	Finish(ctx context.Context) (string, error)

	// Abort discards the in-progress container without finalizing.
	Abort()
}

// MuxerFactory builds a muxer for one recording.
type MuxerFactory func(settings Settings) (Muxer, error)
