package web

import (
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"lumacam/camera"
)

// The biplanar chroma plane deinterleaves into the separate Cb/Cr planes
// of the image view.
func TestFrameToYCbCr(t *testing.T) {
	frame, err := camera.NewVideoFrame(0, 4, 2)
	if err != nil {
		t.Fatalf("NewVideoFrame failed: %v", err)
	}
	for i := range frame.Y {
		frame.Y[i] = uint8(i)
	}
	// One chroma row of two (Cb, Cr) pairs.
	copy(frame.CbCr, []byte{10, 20, 30, 40})

	img, err := frameToYCbCr(frame)
	if err != nil {
		t.Fatalf("frameToYCbCr failed: %v", err)
	}

	if img.Rect.Dx() != 4 || img.Rect.Dy() != 2 {
		t.Errorf("unexpected bounds %v", img.Rect)
	}
	for i := 0; i < 8; i++ {
		if img.Y[i] != uint8(i) {
			t.Errorf("Y[%d]: expected %d, got %d", i, i, img.Y[i])
		}
	}
	if img.Cb[0] != 10 || img.Cb[1] != 30 {
		t.Errorf("Cb plane: expected [10 30], got [%d %d]", img.Cb[0], img.Cb[1])
	}
	if img.Cr[0] != 20 || img.Cr[1] != 40 {
		t.Errorf("Cr plane: expected [20 40], got [%d %d]", img.Cr[0], img.Cr[1])
	}
}

// Mismatched planes are rejected before any pixel work.
func TestFrameToYCbCrInvalid(t *testing.T) {
	frame := &camera.Frame{Kind: camera.KindVideo, Width: 4, Height: 2, Y: make([]byte, 3)}
	if _, err := frameToYCbCr(frame); err != camera.ErrInvalidPlanes {
		t.Errorf("expected ErrInvalidPlanes, got %v", err)
	}
}

// An empty allow list admits any origin; a configured list admits only its
// members plus same-host requests carrying no origin.
func TestOriginChecker(t *testing.T) {
	open := originChecker(nil)
	req := httptest.NewRequest("GET", "/ws/preview", nil)
	req.Header.Set("Origin", "http://evil.example")
	if !open(req) {
		t.Error("empty allow list must admit any origin")
	}

	restricted := originChecker([]string{"http://cam.local"})

	req = httptest.NewRequest("GET", "/ws/preview", nil)
	req.Header.Set("Origin", "http://cam.local")
	if !restricted(req) {
		t.Error("listed origin must be admitted")
	}

	req = httptest.NewRequest("GET", "/ws/preview", nil)
	req.Header.Set("Origin", "http://evil.example")
	if restricted(req) {
		t.Error("unlisted origin must be rejected")
	}

	req = httptest.NewRequest("GET", "/ws/preview", nil)
	if !restricted(req) {
		t.Error("absent origin must be admitted")
	}
}

// Enqueue never blocks the pipeline, even with no viewers connected.
func TestPreviewFeedEnqueueNonBlocking(t *testing.T) {
	feed := NewPreviewFeed(85, 16, nil, zaptest.NewLogger(t))
	defer feed.Close()

	if feed.Viewers() != 0 {
		t.Errorf("expected 0 viewers, got %d", feed.Viewers())
	}

	// Enqueue without viewers must neither block nor panic.
	frame, err := camera.NewVideoFrame(time.Millisecond, 4, 4)
	if err != nil {
		t.Fatalf("NewVideoFrame failed: %v", err)
	}
	feed.Enqueue(frame)
	feed.Enqueue(frame)
}
