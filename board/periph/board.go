// Package periph implements board.Board on top of periph.io GPIO pins.
package periph

import (
	"context"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"

	"go.viam.com/abdrive/board"
	"go.viam.com/abdrive/logging"
)

// PinLookup resolves a pin name to a periph pin. gpioreg.ByName is used when nil.
type PinLookup func(name string) gpio.PinIO

// Board hands out periph backed servos and encoders. Host drivers must already be
// initialised, see periph.io/x/host/v3.
type Board struct {
	mu       sync.Mutex
	lookup   PinLookup
	servos   map[int]*servoPin
	encoders map[int]*encoderPin
	logger   logging.Logger
}

// NewBoard returns a board resolving pins through lookup.
func NewBoard(lookup PinLookup, logger logging.Logger) *Board {
	if lookup == nil {
		lookup = gpioreg.ByName
	}
	return &Board{
		lookup:   lookup,
		servos:   map[int]*servoPin{},
		encoders: map[int]*encoderPin{},
		logger:   logger,
	}
}

func (b *Board) pin(num int) (gpio.PinIO, error) {
	name := strconv.Itoa(num)
	p := b.lookup(name)
	if p == nil {
		return nil, errors.Errorf("no gpio pin named %q", name)
	}
	return p, nil
}

// ServoByPin returns a PWM servo output on pin.
func (b *Board) ServoByPin(pin int) (board.ServoOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.servos[pin]; ok {
		return s, nil
	}
	p, err := b.pin(pin)
	if err != nil {
		return nil, err
	}
	s := &servoPin{pin: p, logger: b.logger}
	b.servos[pin] = s
	return s, nil
}

// EncoderByPin configures pin as an input and returns it.
func (b *Board) EncoderByPin(pin int) (board.EncoderInput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.encoders[pin]; ok {
		return e, nil
	}
	p, err := b.pin(pin)
	if err != nil {
		return nil, err
	}
	if err := p.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, errors.Wrapf(err, "configuring encoder pin %d", pin)
	}
	e := &encoderPin{pin: p}
	b.encoders[pin] = e
	return e, nil
}

// Close drives every servo pin low.
func (b *Board) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	for num, s := range b.servos {
		err = multierr.Combine(err, errors.Wrapf(s.pin.Out(gpio.Low), "halting servo pin %d", num))
	}
	return err
}

type servoPin struct {
	mu     sync.Mutex
	pin    gpio.PinIO
	width  int
	logger logging.Logger
}

func (s *servoPin) SetPulseWidth(ctx context.Context, widthUS int) error {
	if err := board.ValidatePulseWidth(widthUS); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if widthUS == s.width {
		return nil
	}
	var err error
	if widthUS == 0 {
		err = s.pin.Out(gpio.Low)
	} else {
		duty := gpio.Duty(board.DutyCyclePct(widthUS, board.PulseFrequencyHz) * float64(gpio.DutyMax))
		err = s.pin.PWM(duty, board.PulseFrequencyHz*physic.Hertz)
	}
	if err != nil {
		return errors.Wrapf(err, "setting pulse width on %s", s.pin.Name())
	}
	s.logger.Debugw("servo pulse width changed", "pin", s.pin.Name(), "width_us", widthUS)
	s.width = widthUS
	return nil
}

type encoderPin struct {
	pin gpio.PinIO
}

func (e *encoderPin) Get(ctx context.Context) (bool, error) {
	return e.pin.Read() == gpio.High, nil
}
