// Package drive implements closed loop differential drive control for two continuous rotation
// servos with quadrature-less encoders: timed speed maneuvers, distance (goto) maneuvers with
// synchronized arcs, and the sampling task that counts encoder ticks and corrects the servos.
package drive

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"go.viam.com/abdrive/board"
	"go.viam.com/abdrive/calibration"
	"go.viam.com/abdrive/eeprom"
	"go.viam.com/abdrive/logging"
	"go.viam.com/abdrive/operation"
	"go.viam.com/abdrive/utils"
)

// ErrManeuverTimedOut is returned by blocking calls that did not complete within the
// configured maneuver timeout.
var ErrManeuverTimedOut = errors.New("maneuver timed out")

// snapWindow is the distance within which a new goto continues from the previous target
// rather than from the measured position, so small errors do not accumulate.
const snapWindow = 6

// settleCycles is how many control cycles a blocking speed change waits after the request
// was adopted.
const settleCycles = 6

// Option configures a Drive.
type Option func(*Drive)

// WithClock sets the clock the control task ticks on.
func WithClock(clk clock.Clock) Option {
	return func(d *Drive) {
		d.clock = clk
	}
}

// A Drive controls both wheels. It is safe for concurrent use; a new maneuver replaces the
// one in progress and any call still waiting on the old one returns.
type Drive struct {
	board  board.Board
	store  eeprom.Store
	layout calibration.Layout
	logger logging.Logger
	clock  clock.Clock

	loadOnce  sync.Once
	loadErr   error
	startOnce sync.Once
	autoStart bool
	task      *controlTask
	workers   *utils.StoppableWorkers
	opMgr     operation.SingleOperationManager
	published atomic.Uint64
	closed    atomic.Bool

	mu         sync.Mutex
	cfg        Config
	seq        uint64
	speedPrev  [2]int
	lastTarget [2]int
	lastMode   mode
}

// New returns a Drive for the servos and encoders on b. Calibration tables and pin records
// are read from store the first time a maneuver or query needs them.
func New(
	cfg Config,
	b board.Board,
	store eeprom.Store,
	layout calibration.Layout,
	logger logging.Logger,
	opts ...Option,
) (*Drive, error) {
	if err := cfg.Validate("drive"); err != nil {
		return nil, err
	}
	d := &Drive{
		board:     b,
		store:     store,
		layout:    layout,
		logger:    logger,
		clock:     clock.New(),
		cfg:       cfg,
		autoStart: true,
		workers:   utils.NewStoppableWorkers(),
		lastMode:  modeSpeed,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func clockPeriod(rateHz int) time.Duration {
	return time.Second / time.Duration(rateHz)
}

// ensureLoaded reads the calibration and pin records and builds the control task. A load
// failure is remembered and returned by every later call.
func (d *Drive) ensureLoaded() error {
	d.loadOnce.Do(func() {
		d.loadErr = d.load()
	})
	return d.loadErr
}

func (d *Drive) load() error {
	var tables [2]*calibration.Table
	for _, s := range calibration.Sides {
		t, err := calibration.Load(d.store, d.layout, s)
		if err != nil {
			return errors.Wrapf(err, "loading %s calibration", s)
		}
		tables[s] = t
	}
	pins, err := calibration.LoadPins(d.store, d.layout)
	if err != nil {
		return err
	}
	if !pins.ServosFound || !pins.EncodersFound {
		d.logger.Debugw("pin records missing, using defaults", "servos", pins.Servos, "encoders", pins.Encoders)
	}

	var servos [2]board.ServoOutput
	var encoders [2]board.EncoderInput
	servoPins := [2]int{pins.Servos.Left, pins.Servos.Right}
	encoderPins := [2]int{pins.Encoders.Left, pins.Encoders.Right}
	for _, s := range calibration.Sides {
		if servos[s], err = d.board.ServoByPin(servoPins[s]); err != nil {
			return errors.Wrapf(err, "%s servo", s)
		}
		if encoders[s], err = d.board.EncoderByPin(encoderPins[s]); err != nil {
			return errors.Wrapf(err, "%s encoder", s)
		}
	}

	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()
	d.task = newControlTask(cfg, servos, encoders, tables, d.clock, d.logger)
	return nil
}

// start loads the drive and starts the control task once.
func (d *Drive) start() error {
	if d.closed.Load() {
		return errors.New("drive is closed")
	}
	if err := d.ensureLoaded(); err != nil {
		return err
	}
	started := true
	d.startOnce.Do(func() {
		if d.autoStart {
			started = d.workers.Add(d.task.run)
		}
	})
	if !started {
		return errors.New("drive is closed")
	}
	return nil
}

// publish hands req to the control task. Must be called with d.mu held.
func (d *Drive) publish(req *request) uint64 {
	d.seq++
	req.seq = d.seq
	d.lastMode = req.mode
	d.task.pending.Store(req)
	d.published.Inc()
	return req.seq
}

// SetSpeed sets the target speed of each wheel in ticks per second. Speeds beyond the speed
// limit are clamped by the control task. Repeating the current request does nothing. When
// the drive is configured for blocking speed changes, SetSpeed returns once the change has
// been taken up and any stop in progress has finished.
func (d *Drive) SetSpeed(ctx context.Context, left, right int) error {
	if err := d.start(); err != nil {
		return err
	}
	d.mu.Lock()
	if d.lastMode == modeSpeed && d.speedPrev == [2]int{left, right} {
		d.mu.Unlock()
		return nil
	}
	seq := d.publishSpeed(left, right)
	blocking := d.cfg.BlockingSpeed
	d.mu.Unlock()

	if !blocking {
		return nil
	}
	return d.waitSpeed(ctx, seq)
}

// publishSpeed must be called with d.mu held.
func (d *Drive) publishSpeed(left, right int) uint64 {
	target := [2]int{left, right}
	current := [2]int{int(d.task.wheels[Left].speedPub.Load()), int(d.task.wheels[Right].speedPub.Load())}
	delta := [2]int{target[Left] - current[Left], target[Right] - current[Right]}

	req := &request{mode: modeSpeed, target: target, clamp: d.cfg.SpeedLimit}
	req.scaleArc(delta, d.cfg.rampStep(ForSpeed), d.cfg.SpeedLimit, false)
	d.speedPrev = target
	return d.publish(req)
}

// waitSpeed waits for request seq to be adopted and for the wheels to finish any stop.
func (d *Drive) waitSpeed(ctx context.Context, seq uint64) error {
	var settleAt uint64
	return d.wait(ctx, func() bool {
		if d.task.adoptedSeq.Load() < seq || d.stopping() {
			return false
		}
		if settleAt == 0 {
			settleAt = d.task.cycles.Load() + settleCycles
		}
		return d.task.cycles.Load() >= settleAt && !d.stopping()
	})
}

// waitStopped waits for request seq to be adopted and both wheels to come to rest.
func (d *Drive) waitStopped(ctx context.Context, seq uint64) error {
	return d.wait(ctx, func() bool {
		return d.task.adoptedSeq.Load() >= seq && !d.stopping() &&
			d.task.wheels[Left].speedPub.Load() == 0 && d.task.wheels[Right].speedPub.Load() == 0
	})
}

func (d *Drive) stopping() bool {
	return d.task.wheels[Left].stopPub.Load() != 0 || d.task.wheels[Right].stopPub.Load() != 0
}

// Ramp sets the target speeds like SetSpeed and waits until both wheels have reached them.
func (d *Drive) Ramp(ctx context.Context, left, right int) error {
	if err := d.SetSpeed(ctx, left, right); err != nil {
		return err
	}
	d.mu.Lock()
	limit := d.cfg.SpeedLimit
	seq := d.seq
	d.mu.Unlock()
	want := [2]int{lo.Clamp(left, -limit, limit), lo.Clamp(right, -limit, limit)}
	return d.wait(ctx, func() bool {
		return d.task.adoptedSeq.Load() >= seq &&
			int(d.task.wheels[Left].speedPub.Load()) == want[Left] &&
			int(d.task.wheels[Right].speedPub.Load()) == want[Right]
	})
}

// Goto moves each wheel the given number of ticks. Unequal distances drive an arc: the wheel
// with the shorter distance has its acceleration and top speed scaled down so both wheels
// finish together. A wheel within a few ticks of the previous goto's target continues from
// that target. A running speed maneuver is stopped first.
func (d *Drive) Goto(ctx context.Context, left, right int) error {
	if err := d.start(); err != nil {
		return err
	}
	d.mu.Lock()
	if d.lastMode == modeSpeed {
		if d.speedPrev != [2]int{} {
			d.publishSpeed(0, 0)
		}
		seq, blocking := d.seq, d.cfg.BlockingSpeed
		d.mu.Unlock()
		if blocking {
			if err := d.waitStopped(ctx, seq); err != nil {
				return err
			}
		}
		d.mu.Lock()
	}

	dist := [2]int{left, right}
	req := &request{mode: modeGoto, clamp: d.cfg.GotoSpeedLimit}
	for _, s := range calibration.Sides {
		ticks := int(d.task.wheels[s].ticks.Load())
		from := ticks
		if utils.AbsInt(d.lastTarget[s]-ticks) < snapWindow {
			from = d.lastTarget[s]
		}
		req.target[s] = from + dist[s]
	}
	req.scaleArc(dist, d.cfg.rampStep(ForGoto), d.cfg.GotoSpeedLimit, true)
	d.lastTarget = req.target
	d.speedPrev = [2]int{}
	seq := d.publish(req)
	blocking := d.cfg.BlockingGoto
	d.mu.Unlock()

	d.logger.Debugw("goto", "left", left, "right", right, "targets", req.target)
	if !blocking {
		return nil
	}
	return d.wait(ctx, func() bool {
		return d.task.adoptedSeq.Load() >= seq && d.gotoDone()
	})
}

func (d *Drive) gotoDone() bool {
	for _, s := range calibration.Sides {
		w := &d.task.wheels[s]
		if GotoState(w.statePub.Load()) != Idle || w.stopPub.Load() != 0 {
			return false
		}
	}
	return true
}

// wait polls cond until it holds, ctx is done, a newer maneuver starts waiting, or the
// maneuver timeout elapses.
func (d *Drive) wait(ctx context.Context, cond func() bool) error {
	d.mu.Lock()
	timeout, poll := d.cfg.ManeuverTimeout, d.cfg.PollInterval
	d.mu.Unlock()

	waitCtx := ctx
	if timeout > 0 {
		var cancel func()
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer utils.SlowLogger(waitCtx, d.clock, "maneuver still running", d.logger)()
	err := d.opMgr.WaitForSuccess(waitCtx, poll, func(context.Context) (bool, error) {
		return cond(), nil
	})
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return errors.Wrapf(ErrManeuverTimedOut, "not complete after %s", timeout)
	}
	return err
}

// Ticks returns the measured distance of each wheel in ticks.
func (d *Drive) Ticks() (int, int, error) {
	if err := d.ensureLoaded(); err != nil {
		return 0, 0, err
	}
	return int(d.task.wheels[Left].ticks.Load()), int(d.task.wheels[Right].ticks.Load()), nil
}

// TicksCalc returns the distance each wheel should have covered at its commanded speeds.
func (d *Drive) TicksCalc() (int, int, error) {
	if err := d.ensureLoaded(); err != nil {
		return 0, 0, err
	}
	return int(d.task.wheels[Left].ticksCalc.Load()), int(d.task.wheels[Right].ticksCalc.Load()), nil
}

// GotoStatus returns the goto state of one wheel, or for Both the sum of the two states, so
// zero always means no goto is in progress. A goto not yet taken up by the control task
// reports Ramping.
func (d *Drive) GotoStatus(side Side) (int, error) {
	if err := d.ensureLoaded(); err != nil {
		return 0, err
	}
	if side != Left && side != Right && side != Both {
		return 0, utils.NewSideError(int(side))
	}
	d.mu.Lock()
	pending := d.lastMode == modeGoto && d.task.adoptedSeq.Load() < d.seq
	d.mu.Unlock()

	status := func(s Side) int {
		if pending {
			return int(Ramping)
		}
		return int(d.task.wheels[s].statePub.Load())
	}
	if side == Both {
		return status(Left) + status(Right), nil
	}
	return status(side), nil
}

// State returns a snapshot of one wheel.
func (d *Drive) State(side Side) (WheelState, error) {
	if err := d.ensureLoaded(); err != nil {
		return WheelState{}, err
	}
	if side != Left && side != Right {
		return WheelState{}, utils.NewSideError(int(side))
	}
	return d.task.wheels[side].snapshot(), nil
}

// SetAcceleration sets the acceleration in ticks per second squared used by later maneuvers
// of the given kind.
func (d *Drive) SetAcceleration(kind Kind, ticksPerSecSq int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ticksPerSecSq < d.cfg.PulseRateHz {
		return errors.Errorf("%s acceleration must be at least %d ticks/s², got %d", kind, d.cfg.PulseRateHz, ticksPerSecSq)
	}
	switch kind {
	case ForSpeed:
		d.cfg.SpeedAcceleration = ticksPerSecSq
	case ForGoto:
		d.cfg.GotoAcceleration = ticksPerSecSq
	default:
		return errors.Errorf("unknown maneuver kind %d", kind)
	}
	return nil
}

// SetMaxSpeed sets the top speed in ticks per second of later maneuvers of the given kind.
func (d *Drive) SetMaxSpeed(kind Kind, ticksPerSec int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ticksPerSec <= 0 {
		return errors.Errorf("%s speed limit must be positive, got %d", kind, ticksPerSec)
	}
	switch kind {
	case ForSpeed:
		d.cfg.SpeedLimit = ticksPerSec
	case ForGoto:
		d.cfg.GotoSpeedLimit = ticksPerSec
	default:
		return errors.Errorf("unknown maneuver kind %d", kind)
	}
	return nil
}

// SetMaxVelocity is SetMaxSpeed.
func (d *Drive) SetMaxVelocity(kind Kind, ticksPerSec int) error {
	return d.SetMaxSpeed(kind, ticksPerSec)
}

// SetFeedback turns the encoder correction on or off. With it off the servos are driven from
// the calibration tables alone.
func (d *Drive) SetFeedback(enabled bool) error {
	if err := d.ensureLoaded(); err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg.Feedback = enabled
	d.mu.Unlock()
	d.task.feedback.Store(enabled)
	return nil
}

// SetErrorLimit sets how many ticks the calculated distance may lead or trail the measured one.
func (d *Drive) SetErrorLimit(ticks int) error {
	if ticks <= 0 {
		return errors.Errorf("error limit must be positive, got %d", ticks)
	}
	if err := d.ensureLoaded(); err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg.ErrorLimit = ticks
	d.mu.Unlock()
	d.task.errorLimit.Store(int64(ticks))
	return nil
}

// SetGotoMode selects whether Goto waits for the maneuver to finish.
func (d *Drive) SetGotoMode(blocking bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.BlockingGoto = blocking
}

// SetSpeedBlocking selects whether SetSpeed waits for the change to be taken up.
func (d *Drive) SetSpeedBlocking(blocking bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.BlockingSpeed = blocking
}

// Config returns the current settings.
func (d *Drive) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Stop ramps both wheels to a halt, abandoning any goto in progress. It does not wait.
func (d *Drive) Stop(ctx context.Context) error {
	if err := d.start(); err != nil {
		return err
	}
	d.opMgr.CancelRunning(ctx)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.publishSpeed(0, 0)
	return nil
}

// Close stops the control task and turns both servos off.
func (d *Drive) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}
	d.opMgr.CancelRunning(ctx)
	d.workers.Stop()
	// waits for a load in progress and keeps later ones from building a task
	d.loadOnce.Do(func() {
		d.loadErr = errors.New("drive is closed")
	})
	if d.task == nil {
		return nil
	}
	var err error
	for _, s := range calibration.Sides {
		err = multierr.Combine(err, errors.Wrapf(d.task.servos[s].SetPulseWidth(ctx, 0), "stopping %s servo", s))
	}
	return err
}
