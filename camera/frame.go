package camera

import (
	"errors"
	"fmt"
	"time"
)

// FrameKind tags a captured sample as video or audio.
type FrameKind int

const (
	KindVideo FrameKind = iota
	KindAudio
)

// Frame is one captured sample. Video frames carry a biplanar YCbCr 4:2:0
// layout: Y at full resolution (stride = Width) and interleaved CbCr at half
// resolution in each dimension (stride = Width, Height/2 rows). Audio frames
// carry raw PCM bytes. PTS is the monotonic device-clock presentation
// timestamp attached by the capture driver.
type Frame struct {
	Kind   FrameKind
	PTS    time.Duration
	Width  int
	Height int
	Y      []byte
	CbCr   []byte
	PCM    []byte
}

// NewVideoFrame allocates the plane backing for a video frame of the given
// dimensions. Both dimensions must be even for the half-resolution chroma
// plane to line up.
func NewVideoFrame(pts time.Duration, width, height int) (*Frame, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("invalid video frame dimensions %dx%d", width, height)
	}
	return &Frame{
		Kind:   KindVideo,
		PTS:    pts,
		Width:  width,
		Height: height,
		Y:      make([]byte, width*height),
		CbCr:   make([]byte, width*height/2),
	}, nil
}

// NewAudioFrame wraps PCM bytes as an audio frame.
func NewAudioFrame(pts time.Duration, pcm []byte) *Frame {
	return &Frame{Kind: KindAudio, PTS: pts, PCM: pcm}
}

// ErrInvalidPlanes marks a video frame whose plane lengths do not match
// its declared dimensions.
var ErrInvalidPlanes = errors.New("frame planes do not match declared dimensions")

// ValidPlanes reports whether the video frame's plane lengths match its
// declared dimensions. Grading treats a mismatch as a driver/format fault
// and drops the frame.
func (f *Frame) ValidPlanes() bool {
	if f.Kind != KindVideo || f.Width <= 0 || f.Height <= 0 {
		return false
	}
	return len(f.Y) == f.Width*f.Height && len(f.CbCr) == f.Width*f.Height/2
}

// Clone deep-copies the frame so the recording path can keep writing while
// the preview path reuses the original backing.
func (f *Frame) Clone() *Frame {
	c := *f
	if f.Y != nil {
		c.Y = append([]byte(nil), f.Y...)
	}
	if f.CbCr != nil {
		c.CbCr = append([]byte(nil), f.CbCr...)
	}
	if f.PCM != nil {
		c.PCM = append([]byte(nil), f.PCM...)
	}
	return &c
}
