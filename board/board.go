// Package board defines the I/O surface the drive needs from the controller it runs on: one
// continuous rotation servo output and one encoder input per wheel.
package board

import (
	"context"

	"github.com/pkg/errors"
)

const (
	// CenterPulseUS is the pulse width at which a continuous rotation servo stands still.
	CenterPulseUS = 1500
	// MinPulseUS is the shortest pulse width a servo output accepts.
	MinPulseUS = 500
	// MaxPulseUS is the longest pulse width a servo output accepts.
	MaxPulseUS = 2500
	// PulseFrequencyHz is the servo refresh rate.
	PulseFrequencyHz = 50
)

// A ServoOutput generates the pulse train for one servo.
type ServoOutput interface {
	// SetPulseWidth sets the high time of each pulse in microseconds. A width of 0 stops the
	// pulse train, which lets the servo coast.
	SetPulseWidth(ctx context.Context, widthUS int) error
}

// An EncoderInput is a single digital encoder channel.
type EncoderInput interface {
	// Get returns the current level of the encoder pin.
	Get(ctx context.Context) (bool, error)
}

// A Board hands out servo outputs and encoder inputs by pin number.
type Board interface {
	ServoByPin(pin int) (ServoOutput, error)
	EncoderByPin(pin int) (EncoderInput, error)
	Close(ctx context.Context) error
}

// ValidatePulseWidth returns an error if widthUS is neither 0 nor within the servo range.
func ValidatePulseWidth(widthUS int) error {
	if widthUS == 0 || (widthUS >= MinPulseUS && widthUS <= MaxPulseUS) {
		return nil
	}
	return errors.Errorf("pulse width %dus outside of [%d, %d]", widthUS, MinPulseUS, MaxPulseUS)
}

// DutyCyclePct converts a pulse width to the duty cycle of a PWM signal at frequencyHz.
func DutyCyclePct(widthUS int, frequencyHz uint) float64 {
	period := 1.0 / float64(frequencyHz)
	return (float64(widthUS) / (1000 * 1000)) / period
}
