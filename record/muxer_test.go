package record

import (
	"testing"

	"lumacam/config"
)

// Bitrate scales with the quality tier coefficient, frame rate and pixel
// count.
func TestBitrate(t *testing.T) {
	tests := []struct {
		name     string
		tier     config.QualityTier
		width    int
		height   int
		rate     int
		expected int
	}{
		{"normal 1080p30", config.QualityNormal, 1920, 1080, 30, 3 * 1920 * 1080},
		{"high 1080p30", config.QualityHigh, 1920, 1080, 30, 3 * 1920 * 1080},
		{"max 1080p30", config.QualityMax, 1920, 1080, 30, 4 * 1920 * 1080},
		{"high 4k60", config.QualityHigh, 3840, 2160, 60, 7 * 3840 * 2160},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Settings{Width: tt.width, Height: tt.height, FrameRate: tt.rate, Quality: tt.tier}
			if got := s.Bitrate(); got != tt.expected {
				t.Errorf("expected bitrate %d, got %d", tt.expected, got)
			}
		})
	}
}

// The codec/container policy: H.264-in-MP4 by default, HEVC-in-MOV above
// 2100 lines at high frame rates, HEVC for any non-SDR range.
func TestBuildSettingsPolicy(t *testing.T) {
	s := BuildSettings(1920, 1080, 30, config.QualityHigh, config.RangeSDR, 0, Metadata{})
	if s.Codec != CodecH264 || s.Container != ContainerMP4 {
		t.Errorf("1080p30 SDR: expected h264/mp4, got %s/%s", s.Codec, s.Container)
	}
	if s.Extension() != "MP4" {
		t.Errorf("expected extension MP4, got %s", s.Extension())
	}

	s = BuildSettings(3840, 2160, 60, config.QualityHigh, config.RangeSDR, 0, Metadata{})
	if s.Codec != CodecHEVC || s.Container != ContainerMOV {
		t.Errorf("4k60 SDR: expected hevc/mov, got %s/%s", s.Codec, s.Container)
	}
	if s.Extension() != "MOV" {
		t.Errorf("expected extension MOV, got %s", s.Extension())
	}

	s = BuildSettings(3840, 2160, 30, config.QualityHigh, config.RangeSDR, 0, Metadata{})
	if s.Codec != CodecH264 || s.Container != ContainerMP4 {
		t.Errorf("4k30 SDR: expected h264/mp4, got %s/%s", s.Codec, s.Container)
	}

	s = BuildSettings(1920, 1080, 30, config.QualityHigh, config.RangeHLG, 90, Metadata{})
	if s.Codec != CodecHEVC {
		t.Errorf("HLG: expected hevc, got %s", s.Codec)
	}
	if s.Container != ContainerMP4 {
		t.Errorf("HLG 1080p: container should stay mp4, got %s", s.Container)
	}
	if s.Rotation != 90 {
		t.Errorf("expected rotation 90, got %d", s.Rotation)
	}
}
