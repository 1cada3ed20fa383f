package sim

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/abdrive/board"
	"go.viam.com/abdrive/calibration"
)

// Board wires two simulated wheels to servo and encoder pin numbers.
type Board struct {
	wheels   [2]*Wheel
	servos   map[int]*Wheel
	encoders map[int]*Wheel
}

// NewBoard attaches left and right to the given pins.
func NewBoard(servos, encoders calibration.Pins, left, right *Wheel) *Board {
	return &Board{
		wheels:   [2]*Wheel{left, right},
		servos:   map[int]*Wheel{servos.Left: left, servos.Right: right},
		encoders: map[int]*Wheel{encoders.Left: left, encoders.Right: right},
	}
}

// NewDefaultBoard returns a board with default wheels on the default ActivityBot pins.
func NewDefaultBoard() *Board {
	return NewBoard(calibration.DefaultServoPins, calibration.DefaultEncoderPins,
		NewWheel(DefaultWheelConfig(false)), NewWheel(DefaultWheelConfig(true)))
}

// Wheel returns the wheel on side.
func (b *Board) Wheel(side calibration.Side) *Wheel {
	return b.wheels[side]
}

// ServoByPin returns the wheel whose servo is on pin.
func (b *Board) ServoByPin(pin int) (board.ServoOutput, error) {
	w, ok := b.servos[pin]
	if !ok {
		return nil, errors.Errorf("no simulated servo on pin %d", pin)
	}
	return w, nil
}

// EncoderByPin returns the wheel whose encoder is on pin.
func (b *Board) EncoderByPin(pin int) (board.EncoderInput, error) {
	w, ok := b.encoders[pin]
	if !ok {
		return nil, errors.Errorf("no simulated encoder on pin %d", pin)
	}
	return w, nil
}

// Close stops both wheels.
func (b *Board) Close(ctx context.Context) error {
	for _, w := range b.wheels {
		if err := w.SetPulseWidth(ctx, 0); err != nil {
			return err
		}
	}
	return nil
}

// LinearRig is a calibration.Rig that reads the speed of simulated wheels straight from their
// model instead of timing encoder edges.
type LinearRig struct {
	wheels [2]*Wheel
}

// NewLinearRig returns a rig over left and right.
func NewLinearRig(left, right *Wheel) *LinearRig {
	return &LinearRig{wheels: [2]*Wheel{left, right}}
}

func centerOffset(side calibration.Side, drive int) int {
	if side == calibration.Right {
		return board.CenterPulseUS - drive
	}
	return board.CenterPulseUS + drive
}

// Command drives side and holds the other wheel at its center pulse.
func (r *LinearRig) Command(ctx context.Context, side calibration.Side, drive int) error {
	for _, s := range calibration.Sides {
		width := board.CenterPulseUS
		if s == side {
			width = centerOffset(side, drive)
		}
		if err := r.wheels[s].SetPulseWidth(ctx, width); err != nil {
			return errors.Wrapf(err, "%s wheel", s)
		}
	}
	return nil
}

// TickRate returns the unsigned model speed of side, truncated to whole ticks per second.
func (r *LinearRig) TickRate(ctx context.Context, side calibration.Side) (int, error) {
	rate := r.wheels[side].Rate()
	if rate < 0 {
		rate = -rate
	}
	return int(rate), nil
}

// Stop silences both wheels.
func (r *LinearRig) Stop(ctx context.Context) error {
	for _, w := range r.wheels {
		if err := w.SetPulseWidth(ctx, 0); err != nil {
			return err
		}
	}
	return nil
}
