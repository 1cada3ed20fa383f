// Package fake implements a fake board whose pins record writes and replay injected levels.
package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/abdrive/board"
)

// Board is a fake board.Board. Pins are created on first use.
type Board struct {
	mu       sync.Mutex
	servos   map[int]*Servo
	encoders map[int]*Encoder
	closed   bool

	// FailServoPins makes ServoByPin fail for the listed pins.
	FailServoPins map[int]bool
}

// NewBoard returns a new fake board.
func NewBoard() *Board {
	return &Board{
		servos:   map[int]*Servo{},
		encoders: map[int]*Encoder{},
	}
}

// ServoByPin returns the fake servo on pin.
func (b *Board) ServoByPin(pin int) (board.ServoOutput, error) {
	return b.Servo(pin)
}

// Servo returns the concrete fake servo on pin.
func (b *Board) Servo(pin int) (*Servo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailServoPins[pin] {
		return nil, errors.Errorf("no servo on pin %d", pin)
	}
	s, ok := b.servos[pin]
	if !ok {
		s = &Servo{}
		b.servos[pin] = s
	}
	return s, nil
}

// EncoderByPin returns the fake encoder on pin.
func (b *Board) EncoderByPin(pin int) (board.EncoderInput, error) {
	return b.Encoder(pin), nil
}

// Encoder returns the concrete fake encoder on pin.
func (b *Board) Encoder(pin int) *Encoder {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.encoders[pin]
	if !ok {
		e = &Encoder{}
		b.encoders[pin] = e
	}
	return e
}

// Close marks the board closed.
func (b *Board) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Close was called.
func (b *Board) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Servo is a fake servo output that remembers every width written to it.
type Servo struct {
	mu     sync.Mutex
	widths []int
	SetErr error
}

// SetPulseWidth records widthUS.
func (s *Servo) SetPulseWidth(ctx context.Context, widthUS int) error {
	if err := board.ValidatePulseWidth(widthUS); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetErr != nil {
		return s.SetErr
	}
	s.widths = append(s.widths, widthUS)
	return nil
}

// PulseWidth returns the last width written, 0 if none.
func (s *Servo) PulseWidth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.widths) == 0 {
		return 0
	}
	return s.widths[len(s.widths)-1]
}

// History returns a copy of all widths written.
func (s *Servo) History() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.widths...)
}

// Encoder is a fake encoder input. GetFunc, when set, overrides the stored level.
type Encoder struct {
	mu      sync.Mutex
	high    bool
	GetFunc func(ctx context.Context) (bool, error)
}

// Set sets the level returned by Get.
func (e *Encoder) Set(high bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.high = high
}

// Get returns the stored level.
func (e *Encoder) Get(ctx context.Context) (bool, error) {
	if e.GetFunc != nil {
		return e.GetFunc(ctx)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.high, nil
}
