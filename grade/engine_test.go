package grade

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"lumacam/camera"
	"lumacam/lut"
)

func grayFrame(t *testing.T, width, height int) *camera.Frame {
	t.Helper()
	frame, err := camera.NewVideoFrame(0, width, height)
	if err != nil {
		t.Fatalf("NewVideoFrame failed: %v", err)
	}
	for i := range frame.Y {
		frame.Y[i] = 128
	}
	for i := range frame.CbCr {
		frame.CbCr[i] = 128
	}
	return frame
}

// The neutral cube passes a gray frame through untouched; gray survives the
// color-space round trip exactly.
func TestGradeNeutralIdentity(t *testing.T) {
	engine := NewEngine(2, zaptest.NewLogger(t))
	defer engine.Close()

	frame := grayFrame(t, 16, 16)
	if err := engine.Grade(frame, lut.NewNeutralCube()); err != nil {
		t.Fatalf("Grade failed: %v", err)
	}

	for i, v := range frame.Y {
		if v != 128 {
			t.Fatalf("Y[%d] changed: %d", i, v)
		}
	}
	for i, v := range frame.CbCr {
		if v != 128 {
			t.Fatalf("CbCr[%d] changed: %d", i, v)
		}
	}
}

// Arbitrary colors under the identity cube stay within round-trip rounding
// of their inputs.
func TestGradeNeutralNearIdentity(t *testing.T) {
	engine := NewEngine(0, zaptest.NewLogger(t))
	defer engine.Close()

	frame, err := camera.NewVideoFrame(0, 8, 8)
	if err != nil {
		t.Fatalf("NewVideoFrame failed: %v", err)
	}
	for i := range frame.Y {
		frame.Y[i] = uint8(40 + i*2)
	}
	for i := range frame.CbCr {
		frame.CbCr[i] = uint8(100 + i)
	}
	original := frame.Clone()

	if err := engine.Grade(frame, nil); err != nil {
		t.Fatalf("Grade failed: %v", err)
	}

	for i := range frame.Y {
		diff := int(frame.Y[i]) - int(original.Y[i])
		if diff < -3 || diff > 3 {
			t.Fatalf("Y[%d] drifted by %d (%d -> %d)", i, diff, original.Y[i], frame.Y[i])
		}
	}
	for i := range frame.CbCr {
		diff := int(frame.CbCr[i]) - int(original.CbCr[i])
		if diff < -3 || diff > 3 {
			t.Fatalf("CbCr[%d] drifted by %d (%d -> %d)", i, diff, original.CbCr[i], frame.CbCr[i])
		}
	}
}

// Plane/dimension mismatches surface as a per-frame error.
func TestGradeInvalidPlanes(t *testing.T) {
	engine := NewEngine(1, zaptest.NewLogger(t))
	defer engine.Close()

	if err := engine.Grade(nil, nil); err != camera.ErrInvalidPlanes {
		t.Errorf("nil frame: expected ErrInvalidPlanes, got %v", err)
	}

	frame := &camera.Frame{Kind: camera.KindVideo, Width: 16, Height: 16, Y: make([]byte, 10)}
	if err := engine.Grade(frame, nil); err != camera.ErrInvalidPlanes {
		t.Errorf("short planes: expected ErrInvalidPlanes, got %v", err)
	}
}

// Async grading completes through the dispatch queue and reports via the
// callback.
func TestGradeAsync(t *testing.T) {
	engine := NewEngine(2, zaptest.NewLogger(t))
	defer engine.Close()

	frame := grayFrame(t, 16, 16)
	done := make(chan error, 1)
	engine.GradeAsync(frame, lut.NewNeutralCube(), func(graded *camera.Frame, err error) {
		if graded != frame {
			t.Error("callback must receive the submitted frame")
		}
		done <- err
	})

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("async grade failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("async grade did not complete")
	}
}
