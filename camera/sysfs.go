package camera

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// standardGravity converts the scaled IIO reading, which is in m/s^2,
// into g units so the orientation dead zone applies as designed.
const standardGravity = 9.81

// IIOAccelerometer reads gravity samples from an industrial-io sysfs
// device. Raw counts are normalized by the scale file when present and
// reported in g.
type IIOAccelerometer struct {
	Dir string
}

func (a IIOAccelerometer) Sample() (x, y float64) {
	scale := a.readFloat("in_accel_scale", 1.0)
	x = a.readFloat("in_accel_x_raw", 0) * scale / standardGravity
	y = a.readFloat("in_accel_y_raw", 0) * scale / standardGravity
	return x, y
}

func (a IIOAccelerometer) readFloat(name string, fallback float64) float64 {
	data, err := os.ReadFile(filepath.Join(a.Dir, name))
	if err != nil {
		return fallback
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return fallback
	}
	return v
}

// ZoneThermalSource maps a thermal zone's millidegree reading to the
// coarse pressure levels.
type ZoneThermalSource struct {
	Path string // e.g. /sys/class/thermal/thermal_zone0/temp
}

func (z ZoneThermalSource) State() ThermalState {
	data, err := os.ReadFile(z.Path)
	if err != nil {
		return ThermalNominal
	}
	milli, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return ThermalNominal
	}

	switch {
	case milli >= 90000:
		return ThermalCritical
	case milli >= 80000:
		return ThermalSerious
	case milli >= 70000:
		return ThermalFair
	default:
		return ThermalNominal
	}
}
