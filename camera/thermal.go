package camera

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ThermalState mirrors the platform's coarse thermal pressure levels.
type ThermalState int

const (
	ThermalNominal ThermalState = iota
	ThermalFair
	ThermalSerious
	ThermalCritical
)

func (t ThermalState) String() string {
	switch t {
	case ThermalNominal:
		return "nominal"
	case ThermalFair:
		return "fair"
	case ThermalSerious:
		return "serious"
	case ThermalCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ThermalSource reads the current thermal state of the unit.
type ThermalSource interface {
	State() ThermalState
}

// ThermalSourceFunc adapts a function to a ThermalSource.
type ThermalSourceFunc func() ThermalState

func (f ThermalSourceFunc) State() ThermalState { return f() }

// ThermalMonitor polls a source and notifies on every state change. A
// critical reading is an involuntary-cancellation command for the active
// recording, not an error.
type ThermalMonitor struct {
	source   ThermalSource
	interval time.Duration
	onChange func(ThermalState)
	logger   *zap.Logger
}

// NewThermalMonitor creates a monitor. onChange fires from the monitor
// goroutine on every state transition.
func NewThermalMonitor(source ThermalSource, interval time.Duration, onChange func(ThermalState), logger *zap.Logger) *ThermalMonitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &ThermalMonitor{
		source:   source,
		interval: interval,
		onChange: onChange,
		logger:   logger,
	}
}

// Run polls until the context is cancelled.
func (m *ThermalMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	current := m.source.State()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := m.source.State()
			if state == current {
				continue
			}
			current = state
			if state == ThermalCritical {
				m.logger.Warn("Thermal state critical")
			} else {
				m.logger.Info("Thermal state changed", zap.String("state", state.String()))
			}
			if m.onChange != nil {
				m.onChange(state)
			}
		}
	}
}
