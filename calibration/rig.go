package calibration

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"go.viam.com/abdrive/board"
)

// BoardRigConfig describes how a BoardRig polls its encoders.
type BoardRigConfig struct {
	// SampleRateHz is how often the encoder pins are read.
	SampleRateHz int `json:"sample_rate_hz"`
	// Timeout bounds a single rate reading; a wheel that produces no edge within it reads 0.
	Timeout time.Duration `json:"timeout"`
}

// DefaultBoardRigConfig polls at 800 Hz and gives up on a reading after half a second.
func DefaultBoardRigConfig() BoardRigConfig {
	return BoardRigConfig{SampleRateHz: 800, Timeout: 500 * time.Millisecond}
}

// A BoardRig is a Rig over the servo outputs and encoder inputs of a board.
type BoardRig struct {
	cfg      BoardRigConfig
	servos   [2]board.ServoOutput
	encoders [2]board.EncoderInput
	clock    clock.Clock
}

// NewBoardRig looks up the servo and encoder pins on b. clk may be nil to use the wall clock.
func NewBoardRig(b board.Board, servos, encoders Pins, cfg BoardRigConfig, clk clock.Clock) (*BoardRig, error) {
	if cfg.SampleRateHz <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	if clk == nil {
		clk = clock.New()
	}
	rig := &BoardRig{cfg: cfg, clock: clk}
	for side, pin := range [2]int{servos.Left, servos.Right} {
		s, err := b.ServoByPin(pin)
		if err != nil {
			return nil, errors.Wrapf(err, "%s servo", Side(side))
		}
		rig.servos[side] = s
	}
	for side, pin := range [2]int{encoders.Left, encoders.Right} {
		e, err := b.EncoderByPin(pin)
		if err != nil {
			return nil, errors.Wrapf(err, "%s encoder", Side(side))
		}
		rig.encoders[side] = e
	}
	return rig, nil
}

// pulseWidth converts a drive value for side into a servo pulse width; the right servo is
// mounted mirrored.
func pulseWidth(side Side, drive int) int {
	if side == Right {
		return board.CenterPulseUS - drive
	}
	return board.CenterPulseUS + drive
}

func (r *BoardRig) setBoth(ctx context.Context, widths [2]int) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, side := range Sides {
		side := side
		g.Go(func() error {
			return errors.Wrapf(r.servos[side].SetPulseWidth(ctx, widths[side]), "%s servo", side)
		})
	}
	return g.Wait()
}

// Command drives side and holds the other servo at its center pulse.
func (r *BoardRig) Command(ctx context.Context, side Side, drive int) error {
	widths := [2]int{board.CenterPulseUS, board.CenterPulseUS}
	widths[side] = pulseWidth(side, drive)
	return r.setBoth(ctx, widths)
}

// Stop silences both servos.
func (r *BoardRig) Stop(ctx context.Context) error {
	return r.setBoth(ctx, [2]int{0, 0})
}

// TickRate times the interval between two rising edges of the encoder of side, counted in
// polls, and converts it to ticks per second. Each rising edge period spans two ticks.
func (r *BoardRig) TickRate(ctx context.Context, side Side) (int, error) {
	enc := r.encoders[side]
	period := time.Second / time.Duration(r.cfg.SampleRateHz)
	maxPolls := int(r.cfg.Timeout / period)

	ticker := r.clock.Ticker(period)
	defer ticker.Stop()

	prev, err := enc.Get(ctx)
	if err != nil {
		return 0, err
	}
	firstRise := -1
	for poll := 1; poll <= maxPolls; poll++ {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
		level, err := enc.Get(ctx)
		if err != nil {
			return 0, err
		}
		if level && !prev {
			if firstRise >= 0 {
				return 2 * r.cfg.SampleRateHz / (poll - firstRise), nil
			}
			firstRise = poll
		}
		prev = level
	}
	return 0, nil
}
