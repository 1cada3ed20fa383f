// Package sim provides a deterministic model of the ActivityBot wheels for tests and for
// running the tools without hardware.
package sim

import (
	"context"
	"math"
	"sync"

	"go.viam.com/abdrive/board"
)

// WheelConfig describes how a simulated wheel responds to its servo pulse.
type WheelConfig struct {
	// Gain is the speed in ticks per second per microsecond of pulse offset past the dead band.
	Gain float64 `json:"gain"`
	// DeadBand is the pulse offset, in microseconds, below which the wheel does not turn.
	DeadBand int `json:"dead_band"`
	// MaxRate caps the speed in ticks per second; 0 means uncapped.
	MaxRate int `json:"max_rate"`
	// Mirrored wheels turn forward on pulses shorter than center, like a right hand servo.
	Mirrored bool `json:"mirrored"`
	// SampleRateHz is the rate at which the encoder is read; every read advances the wheel by
	// one sample period.
	SampleRateHz int `json:"sample_rate_hz"`
}

// DefaultWheelConfig approximates an ActivityBot servo on a fresh battery pack.
func DefaultWheelConfig(mirrored bool) WheelConfig {
	return WheelConfig{Gain: 1.2, DeadBand: 10, MaxRate: 180, Mirrored: mirrored, SampleRateHz: 800}
}

// A Wheel is a simulated servo and encoder pair. It implements both board.ServoOutput and
// board.EncoderInput. Time only passes when the encoder is read, so a wheel that is sampled
// at its configured rate behaves like the real thing regardless of scheduling jitter.
type Wheel struct {
	mu       sync.Mutex
	cfg      WheelConfig
	width    int
	position float64
	stalled  bool
	reads    int
}

// NewWheel returns a stopped wheel.
func NewWheel(cfg WheelConfig) *Wheel {
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = 800
	}
	return &Wheel{cfg: cfg}
}

// SetPulseWidth sets the servo pulse; 0 lets the wheel coast to a stop.
func (w *Wheel) SetPulseWidth(ctx context.Context, widthUS int) error {
	if err := board.ValidatePulseWidth(widthUS); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.width = widthUS
	return nil
}

// Get advances the wheel by one sample period and returns the encoder level. The level
// changes once per tick.
func (w *Wheel) Get(ctx context.Context) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reads++
	w.position += w.rateLocked() / float64(w.cfg.SampleRateHz)
	return int64(math.Floor(w.position))&1 == 1, nil
}

// RateFor returns the signed forward speed, in ticks per second, the wheel turns at for a
// pulse width.
func (w *Wheel) RateFor(widthUS int) float64 {
	if widthUS == 0 {
		return 0
	}
	offset := widthUS - board.CenterPulseUS
	if w.cfg.Mirrored {
		offset = -offset
	}
	mag := math.Abs(float64(offset)) - float64(w.cfg.DeadBand)
	if mag <= 0 {
		return 0
	}
	rate := w.cfg.Gain * mag
	if w.cfg.MaxRate > 0 {
		rate = math.Min(rate, float64(w.cfg.MaxRate))
	}
	if offset < 0 {
		return -rate
	}
	return rate
}

func (w *Wheel) rateLocked() float64 {
	if w.stalled {
		return 0
	}
	return w.RateFor(w.width)
}

// Rate returns the current signed speed in ticks per second.
func (w *Wheel) Rate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rateLocked()
}

// SetStalled blocks or releases the wheel.
func (w *Wheel) SetStalled(stalled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stalled = stalled
}

// PulseWidth returns the last pulse width set.
func (w *Wheel) PulseWidth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width
}

// Ticks returns the signed number of whole ticks the wheel has turned.
func (w *Wheel) Ticks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int(math.Floor(w.position))
}

// Reads returns how many times the encoder was read.
func (w *Wheel) Reads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reads
}
