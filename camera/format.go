package camera

// PixelSubtype identifies the pixel layout a capture format delivers.
type PixelSubtype string

const (
	// Subtype420Full is the preferred biplanar full-range 4:2:0 layout.
	Subtype420Full PixelSubtype = "420f"
	// Subtype420Video is the video-range variant of the same layout.
	Subtype420Video PixelSubtype = "420v"
	// SubtypeOther covers everything the pipeline does not grade natively.
	SubtypeOther PixelSubtype = "other"
)

// FrameRateRange is one supported frame-rate span of a capture format.
type FrameRateRange struct {
	Min float64
	Max float64
}

// CaptureFormat is an immutable descriptor of one format a device exposes.
type CaptureFormat struct {
	Width             int
	Height            int
	Subtype           PixelSubtype
	FrameRateRanges   []FrameRateRange
	SecondaryNative2x bool // format exposes a 2x-zoom secondary native resolution
}

// widthForHeight maps a target resolution height to the width the sensor
// format must report for an exact match.
func widthForHeight(height int) int {
	switch height {
	case 1080:
		return 1920
	case 2160:
		return 3840
	default:
		return 1280
	}
}

// SelectFormat picks the capture format for a target height and frame rate.
//
// Candidates are first narrowed to those exposing the 2x-zoom secondary
// native resolution when any exist (higher-fidelity sensor crop), then to
// the preferred 4:2:0 planar subtype when any exist. The remaining formats
// are scanned for an exact {height, width-for-height} dimension match whose
// frame-rate range covers the target; the first such match wins. When no
// range covers the target rate, the candidate with the highest available
// max rate at the requested resolution is returned instead (first-found on
// ties), so the session still runs at the best rate the hardware offers.
func SelectFormat(candidates []CaptureFormat, targetHeight, targetFrameRate int) (*CaptureFormat, *FrameRateRange) {
	formats := candidates

	if narrowed := filterSecondaryNative2x(formats); len(narrowed) > 0 {
		formats = narrowed
	}
	if narrowed := filterSubtype(formats, Subtype420Full); len(narrowed) > 0 {
		formats = narrowed
	}

	needWidth := widthForHeight(targetHeight)

	var bestFormat *CaptureFormat
	var bestRange *FrameRateRange

	for i := range formats {
		format := &formats[i]
		if format.Height != targetHeight || format.Width != needWidth {
			continue
		}
		for j := range format.FrameRateRanges {
			r := &format.FrameRateRanges[j]
			if r.Max >= float64(targetFrameRate) {
				return format, r
			}
			if bestRange == nil || r.Max > bestRange.Max {
				bestFormat, bestRange = format, r
			}
		}
	}

	return bestFormat, bestRange
}

func filterSecondaryNative2x(formats []CaptureFormat) []CaptureFormat {
	var result []CaptureFormat
	for _, f := range formats {
		if f.SecondaryNative2x {
			result = append(result, f)
		}
	}
	return result
}

func filterSubtype(formats []CaptureFormat, subtype PixelSubtype) []CaptureFormat {
	var result []CaptureFormat
	for _, f := range formats {
		if f.Subtype == subtype {
			result = append(result, f)
		}
	}
	return result
}
