package record

import (
	"fmt"
	"time"
)

// Location is an optional position fix supplied when recording starts.
type Location struct {
	Latitude           float64
	Longitude          float64
	Altitude           float64
	HorizontalAccuracy float64
}

// ISO6709 renders the fix as a QuickTime-style location tag, e.g.
// "+59.7531+030.6291+014.528/".
func (l Location) ISO6709() string {
	return fmt.Sprintf("%+08.4f%+09.4f%+08.3f/", l.Latitude, l.Longitude, l.Altitude)
}

// Metadata holds the informational tags attached when a recording
// finalizes.
type Metadata struct {
	Make         string
	Model        string
	Software     string
	CreationTime time.Time
	Location     *Location
}

// MetadataProvider supplies the static device/software tags, merged with
// the caller's location hint.
type MetadataProvider interface {
	Metadata(location *Location) Metadata
}

// StaticMetadata is a MetadataProvider returning fixed device strings.
type StaticMetadata struct {
	Make     string
	Model    string
	Software string
}

func (m StaticMetadata) Metadata(location *Location) Metadata {
	return Metadata{
		Make:         m.Make,
		Model:        m.Model,
		Software:     m.Software,
		CreationTime: time.Now(),
		Location:     location,
	}
}
