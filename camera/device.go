package camera

import (
	"context"

	"lumacam/config"
)

// DeviceSettings is the configuration a Controller applies to a device
// before streaming starts. Replace-don't-mutate: a reconfiguration builds a
// new value and applies it wholesale.
type DeviceSettings struct {
	Format     CaptureFormat
	FrameRate  int
	ZoomFactor float64
	Mirrored   bool
}

// Device abstracts one physical capture unit. Implementations deliver a
// strictly timestamp-ordered sequence of raw video frames and a separate
// sequence of audio frames, each on its own channel, and never reorder
// within a stream.
type Device interface {
	// Name identifies the unit for logs.
	Name() string

	// Formats lists every capture format the unit exposes.
	Formats() []CaptureFormat

	// MinZoom and MaxZoom bound the digital zoom factor.
	MinZoom() float64
	MaxZoom() float64

	// Configure applies settings; it fails when the unit cannot be locked
	// for configuration.
	Configure(settings DeviceSettings) error

	// Start begins streaming until the context is cancelled.
	Start(ctx context.Context) error

	// Video and Audio expose the per-stream frame channels.
	Video() <-chan *Frame
	Audio() <-chan *Frame

	// ResetPointsOfInterest restores focus/exposure to center and the
	// continuous auto modes, so the next configuration starts from a
	// known-good state.
	ResetPointsOfInterest()
}

// Catalog resolves a camera position and lens selection to a Device. The
// hardware catalog varies by unit, so every lookup may come back empty.
type Catalog interface {
	// Resolve returns nil when this unit has no device for the selection.
	Resolve(position config.Position, lens config.BackDevice) Device

	// BackDevices lists the lens selections this unit supports, in
	// presentation order.
	BackDevices() []config.BackDevice
}
