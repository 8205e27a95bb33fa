package camera

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Orientation is the device attitude latched into recorded output as a
// fixed rotation transform.
type Orientation int

const (
	OrientationPortrait Orientation = iota + 1
	OrientationPortraitUpsideDown
	OrientationLandscapeRight
	OrientationLandscapeLeft
)

// RotationDegrees maps the orientation to the display transform baked into
// a recording.
func (o Orientation) RotationDegrees() int {
	switch o {
	case OrientationPortraitUpsideDown:
		return 180
	case OrientationLandscapeRight:
		return 270
	case OrientationLandscapeLeft:
		return 90
	default:
		return 0
	}
}

func (o Orientation) String() string {
	switch o {
	case OrientationPortrait:
		return "portrait"
	case OrientationPortraitUpsideDown:
		return "portrait_upside_down"
	case OrientationLandscapeRight:
		return "landscape_right"
	case OrientationLandscapeLeft:
		return "landscape_left"
	default:
		return "unknown"
	}
}

// orientationDeadZone suppresses reclassification near 45-degree tilts so
// the latched orientation does not flicker.
const orientationDeadZone = 0.75

// ClassifyOrientation maps an accelerometer sample to an orientation.
// Returns ok=false inside the dead zone, meaning keep the previous value.
func ClassifyOrientation(x, y float64) (Orientation, bool) {
	abs := func(v float64) float64 {
		if v < 0 {
			return -v
		}
		return v
	}

	if abs(abs(x)-abs(y)) < orientationDeadZone {
		return 0, false
	}

	switch {
	case -y > x && x > y:
		return OrientationPortrait, true
	case -y < x && x > y:
		return OrientationLandscapeLeft, true
	case x < y && -x < y:
		return OrientationPortraitUpsideDown, true
	default:
		return OrientationLandscapeRight, true
	}
}

// Accelerometer supplies gravity samples for orientation classification.
type Accelerometer interface {
	// Sample returns the current x/y acceleration components in g.
	Sample() (x, y float64)
}

// OrientationSampler polls an accelerometer at a fixed interval and keeps
// the latest classification. All classification runs on the sampler's own
// goroutine; readers observe the value through the callback.
type OrientationSampler struct {
	accel    Accelerometer
	interval time.Duration
	onChange func(Orientation)
	logger   *zap.Logger
}

// NewOrientationSampler creates a sampler. onChange fires on every
// reclassification, from the sampler goroutine.
func NewOrientationSampler(accel Accelerometer, interval time.Duration, onChange func(Orientation), logger *zap.Logger) *OrientationSampler {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &OrientationSampler{
		accel:    accel,
		interval: interval,
		onChange: onChange,
		logger:   logger,
	}
}

// Run polls until the context is cancelled.
func (s *OrientationSampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	current := OrientationPortrait

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			x, y := s.accel.Sample()
			orientation, ok := ClassifyOrientation(x, y)
			if !ok || orientation == current {
				continue
			}
			current = orientation
			s.logger.Debug("Orientation changed", zap.String("orientation", orientation.String()))
			if s.onChange != nil {
				s.onChange(orientation)
			}
		}
	}
}
