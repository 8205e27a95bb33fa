package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Position identifies which side of the device the camera faces.
type Position string

const (
	PositionFront Position = "front"
	PositionBack  Position = "back"
)

// BackDevice selects the back-camera lens.
type BackDevice string

const (
	BackUltraWide   BackDevice = "ultra_wide"
	BackWideAngle   BackDevice = "wide_angle"
	BackWideAngleX2 BackDevice = "wide_angle_x2" // wide lens with forced 2x crop
	BackTelephoto   BackDevice = "telephoto"
)

// QualityTier scales the recording bitrate.
type QualityTier string

const (
	QualityNormal QualityTier = "normal"
	QualityHigh   QualityTier = "high"
	QualityMax    QualityTier = "max"
)

// DynamicRange selects the codec profile for recorded output.
type DynamicRange string

const (
	RangeSDR   DynamicRange = "sdr"
	RangeHDR10 DynamicRange = "hdr10"
	RangeHLG   DynamicRange = "hlg"
)

// SessionStatus is the persisted camera session configuration. It is loaded
// once at startup, mutated by user action and written back atomically on
// every change.
type SessionStatus struct {
	Position        Position   `json:"position"`
	BackDevice      BackDevice `json:"backDevice"`
	FrameRate       int        `json:"frameRate"`
	VideoResolution int        `json:"videoResolution"` // target height: 720, 1080, 2160
	IsVideoMirrored bool       `json:"isVideoMirrored"`

	SelectedPresetName string       `json:"selectedPresetName"`
	QualityTier        QualityTier  `json:"qualityTier"`
	DynamicRange       DynamicRange `json:"dynamicRange"`
}

// DefaultSessionStatus is the hardcoded baseline used when no persisted
// status exists or the stored file cannot be decoded.
func DefaultSessionStatus() SessionStatus {
	return SessionStatus{
		Position:        PositionBack,
		BackDevice:      BackWideAngle,
		FrameRate:       120,
		VideoResolution: 1080,
		IsVideoMirrored: true,
		QualityTier:     QualityHigh,
		DynamicRange:    RangeSDR,
	}
}

// StatusStore persists a SessionStatus as a single JSON file.
type StatusStore struct {
	path   string
	logger *zap.Logger
}

// NewStatusStore creates a store backed by the given file path.
func NewStatusStore(path string, logger *zap.Logger) *StatusStore {
	return &StatusStore{path: path, logger: logger}
}

// Load reads the persisted status, falling back to the default baseline when
// the file is absent or undecodable.
func (s *StatusStore) Load() SessionStatus {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Info("Session status not found, using defaults", zap.String("path", s.path))
		return DefaultSessionStatus()
	}

	var status SessionStatus
	if err := json.Unmarshal(data, &status); err != nil {
		s.logger.Warn("Session status undecodable, using defaults",
			zap.String("path", s.path),
			zap.Error(err))
		return DefaultSessionStatus()
	}

	return status
}

// Save writes the status atomically: encode to a temp file in the same
// directory, then rename over the destination.
func (s *StatusStore) Save(status SessionStatus) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session status: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".status-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp status file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write session status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp status file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace session status: %w", err)
	}

	return nil
}
