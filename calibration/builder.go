package calibration

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/abdrive/eeprom"
	"go.viam.com/abdrive/logging"
	"go.viam.com/abdrive/utils"
)

// A Rig commands one wheel at a time and measures how fast it turns.
type Rig interface {
	// Command drives side at the given pulse width offset and holds the other wheel at center.
	Command(ctx context.Context, side Side, drive int) error
	// TickRate returns the unsigned encoder rate of side in ticks per second.
	TickRate(ctx context.Context, side Side) (int, error)
	// Stop silences both servos.
	Stop(ctx context.Context) error
}

// BuilderConfig describes a calibration sweep.
type BuilderConfig struct {
	// Start and End bound the swept drive values.
	Start int `json:"start"`
	End   int `json:"end"`
	// CoarseStep is used while the wheel turns faster than FineBelowRate, FineStep otherwise.
	CoarseStep    int `json:"coarse_step"`
	FineStep      int `json:"fine_step"`
	FineBelowRate int `json:"fine_below_rate"`

	SettleTime time.Duration `json:"settle_time"`
	// Samples is the number of rate readings averaged per drive value.
	Samples int `json:"samples"`
	// RateCeiling is the largest plausible average; larger or negative ones are retried.
	RateCeiling int `json:"rate_ceiling"`
	MaxRetries  int `json:"max_retries"`

	Process ProcessConfig `json:"process"`
}

// DefaultBuilderConfig returns the sweep used for the ActivityBot servos.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		Start:         -200,
		End:           200,
		CoarseStep:    5,
		FineStep:      2,
		FineBelowRate: 20,
		SettleTime:    200 * time.Millisecond,
		Samples:       10,
		RateCeiling:   210,
		MaxRetries:    5,
		Process:       DefaultProcessConfig(),
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *BuilderConfig) Validate(path string) error {
	switch {
	case cfg.Start >= cfg.End:
		return errors.Errorf("%s: start (%d) must be below end (%d)", path, cfg.Start, cfg.End)
	case cfg.CoarseStep <= 0 || cfg.FineStep <= 0:
		return errors.Errorf("%s: steps must be positive", path)
	case cfg.Samples <= 0:
		return errors.Errorf("%s: samples must be positive", path)
	case cfg.RateCeiling <= 0:
		return errors.Errorf("%s: rate_ceiling must be positive", path)
	case cfg.MaxRetries < 0:
		return errors.Errorf("%s: max_retries must not be negative", path)
	case cfg.SettleTime < 0:
		return errors.Errorf("%s: settle_time must not be negative", path)
	}
	return nil
}

// A Builder runs calibration sweeps on a rig and stores the resulting tables.
type Builder struct {
	cfg    BuilderConfig
	rig    Rig
	store  eeprom.Store
	layout Layout
	clock  clock.Clock
	logger logging.Logger
}

// NewBuilder returns a Builder. clk may be nil to use the wall clock.
func NewBuilder(
	cfg BuilderConfig,
	rig Rig,
	store eeprom.Store,
	layout Layout,
	clk clock.Clock,
	logger logging.Logger,
) (*Builder, error) {
	if err := cfg.Validate("calibration"); err != nil {
		return nil, err
	}
	if err := layout.Validate(store); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Builder{cfg: cfg, rig: rig, store: store, layout: layout, clock: clk, logger: logger}, nil
}

// Sweep steps the drive value of side through the configured range and returns the raw
// samples.
func (b *Builder) Sweep(ctx context.Context, side Side) ([]Sample, error) {
	var samples []Sample
	step := b.cfg.CoarseStep
	for drive := b.cfg.Start; ; drive = utils.MinInt(drive+step, b.cfg.End) {
		rate, err := b.measure(ctx, side, drive)
		if err != nil {
			return nil, err
		}
		b.logger.Debugw("calibration sample", "side", side, "drive", drive, "rate", rate)
		samples = append(samples, Sample{Drive: drive, Rate: rate})

		if rate < b.cfg.FineBelowRate && step == b.cfg.CoarseStep {
			step = b.cfg.FineStep
		}
		if rate > b.cfg.FineBelowRate {
			step = b.cfg.CoarseStep
		}
		if drive >= b.cfg.End {
			return samples, nil
		}
	}
}

func (b *Builder) measure(ctx context.Context, side Side, drive int) (int, error) {
	readings := make([]float64, b.cfg.Samples)
	for attempt := 0; ; attempt++ {
		if err := b.rig.Command(ctx, side, drive); err != nil {
			return 0, errors.Wrapf(err, "commanding %s wheel to %d", side, drive)
		}
		if err := b.settle(ctx); err != nil {
			return 0, err
		}
		for i := range readings {
			rate, err := b.rig.TickRate(ctx, side)
			if err != nil {
				return 0, errors.Wrapf(err, "measuring %s wheel", side)
			}
			readings[i] = float64(rate)
		}
		mean, err := stats.Mean(readings)
		if err != nil {
			return 0, err
		}
		avg := int(mean)
		if avg >= 0 && avg <= b.cfg.RateCeiling {
			return avg, nil
		}
		if attempt >= b.cfg.MaxRetries {
			b.logger.Warnw("implausible rate kept after retries",
				"side", side, "drive", drive, "rate", avg, "retries", attempt)
			return avg, nil
		}
		b.logger.Debugw("implausible rate, retrying", "side", side, "drive", drive, "rate", avg)
	}
}

func (b *Builder) settle(ctx context.Context) error {
	if b.cfg.SettleTime <= 0 {
		return ctx.Err()
	}
	timer := b.clock.Timer(b.cfg.SettleTime)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Calibrate sweeps side and returns its processed table. Nothing is persisted.
func (b *Builder) Calibrate(ctx context.Context, side Side) (*Table, error) {
	b.logger.Infof("calibrating %s wheel from %d to %d", side, b.cfg.Start, b.cfg.End)
	samples, err := b.Sweep(ctx, side)
	if err != nil {
		return nil, err
	}
	table, err := Process(samples, b.cfg.Process)
	if err != nil {
		return nil, errors.Wrapf(err, "processing %s wheel", side)
	}
	b.logger.Infow("calibrated", "side", side, "samples", len(samples),
		"entries", table.Len(), "zero_index", table.ZeroIndex)
	return table, nil
}

// CalibrateAll calibrates the left and then the right wheel, stops the rig and persists
// both tables followed by the calibration marker.
func (b *Builder) CalibrateAll(ctx context.Context) ([2]*Table, error) {
	var tables [2]*Table
	for _, side := range Sides {
		table, err := b.Calibrate(ctx, side)
		if err != nil {
			return tables, multierr.Combine(err, b.rig.Stop(context.Background()))
		}
		tables[side] = table
	}
	if err := b.rig.Stop(ctx); err != nil {
		return tables, errors.Wrap(err, "stopping calibration rig")
	}
	for _, side := range Sides {
		if err := Save(b.store, b.layout, side, tables[side]); err != nil {
			return tables, err
		}
	}
	if err := SaveMarker(b.store, b.layout); err != nil {
		return tables, err
	}
	b.logger.Info("calibration saved")
	return tables, nil
}
