package camera

import "testing"

// A format matching the target dimensions with a covering rate range is
// selected directly.
func TestSelectFormatExactMatch(t *testing.T) {
	formats := []CaptureFormat{
		{Width: 1280, Height: 720, Subtype: Subtype420Full, FrameRateRanges: []FrameRateRange{{1, 60}}},
		{Width: 1920, Height: 1080, Subtype: Subtype420Full, FrameRateRanges: []FrameRateRange{{1, 120}}},
		{Width: 3840, Height: 2160, Subtype: Subtype420Full, FrameRateRanges: []FrameRateRange{{1, 60}}},
	}

	format, r := SelectFormat(formats, 2160, 60)
	if format == nil {
		t.Fatal("expected a format, got nil")
	}
	if format.Width != 3840 || format.Height != 2160 {
		t.Errorf("expected 3840x2160, got %dx%d", format.Width, format.Height)
	}
	if r == nil || r.Max != 60 {
		t.Errorf("expected covering range with max 60, got %+v", r)
	}
}

// When no range covers the target rate, the highest-rate range at the
// requested resolution is the fallback.
func TestSelectFormatRateFallback(t *testing.T) {
	formats := []CaptureFormat{
		{Width: 1920, Height: 1080, Subtype: Subtype420Full, FrameRateRanges: []FrameRateRange{{1, 30}, {1, 60}}},
	}

	format, r := SelectFormat(formats, 1080, 120)
	if format == nil || r == nil {
		t.Fatal("expected fallback format and range")
	}
	if r.Max != 60 {
		t.Errorf("expected max rate 60, got %v", r.Max)
	}
}

// Formats exposing the 2x secondary native resolution win over those that
// do not.
func TestSelectFormatPrefersSecondaryNative(t *testing.T) {
	formats := []CaptureFormat{
		{Width: 1920, Height: 1080, Subtype: Subtype420Full, FrameRateRanges: []FrameRateRange{{1, 60}}},
		{Width: 1920, Height: 1080, Subtype: Subtype420Full, SecondaryNative2x: true, FrameRateRanges: []FrameRateRange{{1, 30}}},
	}

	format, _ := SelectFormat(formats, 1080, 30)
	if format == nil {
		t.Fatal("expected a format, got nil")
	}
	if !format.SecondaryNative2x {
		t.Error("expected the secondary-native format to be preferred")
	}
}

// The full-range 4:2:0 subtype wins over the video-range variant.
func TestSelectFormatPrefersFullRangeSubtype(t *testing.T) {
	formats := []CaptureFormat{
		{Width: 1920, Height: 1080, Subtype: Subtype420Video, FrameRateRanges: []FrameRateRange{{1, 120}}},
		{Width: 1920, Height: 1080, Subtype: Subtype420Full, FrameRateRanges: []FrameRateRange{{1, 60}}},
	}

	format, _ := SelectFormat(formats, 1080, 60)
	if format == nil {
		t.Fatal("expected a format, got nil")
	}
	if format.Subtype != Subtype420Full {
		t.Errorf("expected 420f, got %s", format.Subtype)
	}
}

// No format at the requested resolution means no selection at all.
func TestSelectFormatNoResolutionMatch(t *testing.T) {
	formats := []CaptureFormat{
		{Width: 1280, Height: 720, Subtype: Subtype420Full, FrameRateRanges: []FrameRateRange{{1, 60}}},
	}

	format, r := SelectFormat(formats, 2160, 30)
	if format != nil || r != nil {
		t.Errorf("expected no selection, got %+v / %+v", format, r)
	}
}
