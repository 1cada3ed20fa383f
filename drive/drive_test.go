package drive

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/abdrive/board/fake"
	"go.viam.com/abdrive/calibration"
	"go.viam.com/abdrive/eeprom"
	"go.viam.com/abdrive/logging"
	"go.viam.com/abdrive/sim"
	"go.viam.com/abdrive/utils"
)

// newSimDrive calibrates a pair of linear simulated wheels into a fresh store and returns a
// drive on them. The control task is not started; tests step it with cycles.
func newSimDrive(t *testing.T, cfg Config) (*Drive, *sim.Board) {
	t.Helper()
	logger := logging.NewTestLogger(t)
	left := sim.NewWheel(sim.WheelConfig{Gain: 2})
	right := sim.NewWheel(sim.WheelConfig{Gain: 2, Mirrored: true})

	bcfg := calibration.DefaultBuilderConfig()
	bcfg.SettleTime = 0
	bcfg.RateCeiling = 1000
	bcfg.Process.GlitchCeiling = 1000
	store := eeprom.NewMemory(eeprom.DefaultSize)
	layout := calibration.DefaultLayout()
	builder, err := calibration.NewBuilder(bcfg, sim.NewLinearRig(left, right), store, layout, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	_, err = builder.CalibrateAll(context.Background())
	test.That(t, err, test.ShouldBeNil)

	b := sim.NewBoard(calibration.DefaultServoPins, calibration.DefaultEncoderPins, left, right)
	d, err := New(cfg, b, store, layout, logger)
	test.That(t, err, test.ShouldBeNil)
	d.autoStart = false
	return d, b
}

func manualConfig() Config {
	cfg := DefaultConfig()
	cfg.BlockingGoto = false
	cfg.BlockingSpeed = false
	return cfg
}

// cycles runs n control cycles synchronously.
func cycles(d *Drive, n int) {
	for i := 0; i < n*d.task.ratio; i++ {
		d.task.tick(context.Background())
	}
}

// runGoto steps the drive until no goto is in progress and returns the cycles it took.
func runGoto(t *testing.T, d *Drive) int {
	t.Helper()
	for n := 1; n <= 3000; n++ {
		cycles(d, 1)
		status, err := d.GotoStatus(Both)
		test.That(t, err, test.ShouldBeNil)
		if status == 0 {
			return n
		}
	}
	t.Fatal("goto did not finish")
	return 0
}

func TestGotoStraight(t *testing.T) {
	ctx := context.Background()
	d, b := newSimDrive(t, manualConfig())

	test.That(t, d.Goto(ctx, 100, 100), test.ShouldBeNil)
	status, err := d.GotoStatus(Both)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, status, test.ShouldEqual, 2)

	cycles(d, 1)
	state, err := d.State(Left)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state.GotoState, test.ShouldEqual, Ramping)
	test.That(t, state.Speed, test.ShouldEqual, 4)

	maxSpeed := 0
	for n := 0; n < 3000; n++ {
		cycles(d, 1)
		state, err := d.State(Left)
		test.That(t, err, test.ShouldBeNil)
		if state.Speed > maxSpeed {
			maxSpeed = state.Speed
		}
		if status, _ := d.GotoStatus(Both); status == 0 {
			break
		}
	}
	test.That(t, maxSpeed, test.ShouldEqual, 64)

	left, right, err := d.Ticks()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, left, test.ShouldEqual, 100)
	test.That(t, right, test.ShouldEqual, 100)

	cycles(d, 20)
	left, right, err = d.Ticks()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, left, test.ShouldEqual, 100)
	test.That(t, right, test.ShouldEqual, 100)
	test.That(t, b.Wheel(Left).PulseWidth(), test.ShouldEqual, 0)
	test.That(t, b.Wheel(Right).PulseWidth(), test.ShouldEqual, 0)
}

func TestGotoSpin(t *testing.T) {
	d, _ := newSimDrive(t, manualConfig())

	test.That(t, d.Goto(context.Background(), 100, -100), test.ShouldBeNil)
	runGoto(t, d)
	left, right, err := d.Ticks()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, left, test.ShouldEqual, 100)
	test.That(t, right, test.ShouldEqual, -100)
}

func TestGotoArcFinishesTogether(t *testing.T) {
	cfg := manualConfig()
	cfg.Feedback = false
	d, _ := newSimDrive(t, cfg)

	test.That(t, d.Goto(context.Background(), 200, 100), test.ShouldBeNil)
	var leftRamp [2]int
	for n := 1; n <= 3000 && (leftRamp[Left] == 0 || leftRamp[Right] == 0); n++ {
		cycles(d, 1)
		for _, s := range calibration.Sides {
			if leftRamp[s] == 0 && d.task.wheels[s].gotoState != Ramping {
				leftRamp[s] = n
			}
		}
	}
	test.That(t, leftRamp[Left], test.ShouldBeGreaterThan, 0)
	test.That(t, utils.AbsInt(leftRamp[Right]-leftRamp[Left]), test.ShouldBeLessThanOrEqualTo, 1)
	test.That(t, d.task.wheels[Right].speedLimit, test.ShouldEqual, 32)
	test.That(t, d.task.wheels[Right].rampStep, test.ShouldEqual, 2)

	runGoto(t, d)
	left, right, err := d.Ticks()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, left, test.ShouldEqual, 200)
	test.That(t, right, test.ShouldEqual, 100)
}

func TestGotoContinuesFromPreviousTarget(t *testing.T) {
	ctx := context.Background()
	d, _ := newSimDrive(t, manualConfig())

	test.That(t, d.Goto(ctx, 50, 50), test.ShouldBeNil)
	runGoto(t, d)
	test.That(t, d.Goto(ctx, -20, 30), test.ShouldBeNil)
	cycles(d, 1)
	test.That(t, d.task.wheels[Left].target, test.ShouldEqual, 30)
	test.That(t, d.task.wheels[Right].target, test.ShouldEqual, 80)

	// far from the previous target the measured position is used instead
	d.mu.Lock()
	d.lastTarget = [2]int{500, 500}
	d.mu.Unlock()
	measured, _, err := d.Ticks()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.Goto(ctx, 10, 10), test.ShouldBeNil)
	cycles(d, 1)
	test.That(t, d.task.wheels[Left].target, test.ShouldEqual, measured+10)
}

func TestSetSpeedIdempotent(t *testing.T) {
	ctx := context.Background()
	d, _ := newSimDrive(t, manualConfig())

	test.That(t, d.SetSpeed(ctx, 0, 0), test.ShouldBeNil)
	test.That(t, int(d.published.Load()), test.ShouldEqual, 0)
	test.That(t, d.SetSpeed(ctx, 50, 50), test.ShouldBeNil)
	test.That(t, d.SetSpeed(ctx, 50, 50), test.ShouldBeNil)
	test.That(t, int(d.published.Load()), test.ShouldEqual, 1)
	test.That(t, d.SetSpeed(ctx, 60, 50), test.ShouldBeNil)
	test.That(t, int(d.published.Load()), test.ShouldEqual, 2)

	cycles(d, 10)
	left, err := d.State(Left)
	test.That(t, err, test.ShouldBeNil)
	right, err := d.State(Right)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, left.Speed, test.ShouldEqual, 60)
	test.That(t, right.Speed, test.ShouldEqual, 50)
	test.That(t, left.PulseWidth, test.ShouldBeGreaterThan, 1500)
	test.That(t, right.PulseWidth, test.ShouldBeLessThan, 1500)
}

func TestSetSpeedDithersShorterRamp(t *testing.T) {
	d, _ := newSimDrive(t, manualConfig())

	test.That(t, d.SetSpeed(context.Background(), 100, 30), test.ShouldBeNil)
	expected := []int{3, 7, 10, 14, 18, 21, 25, 28, 30}
	for n, want := range expected {
		cycles(d, 1)
		test.That(t, d.task.wheels[Right].speed, test.ShouldEqual, want)
		if n < len(expected)-1 {
			test.That(t, d.task.wheels[Left].speed, test.ShouldEqual, 12*(n+1))
		}
	}
	test.That(t, d.task.wheels[Left].speed, test.ShouldEqual, 100)
}

func TestSpeedClampedAtLimit(t *testing.T) {
	d, b := newSimDrive(t, manualConfig())

	test.That(t, d.SetSpeed(context.Background(), 500, -500), test.ShouldBeNil)
	cycles(d, 30)
	left, err := d.State(Left)
	test.That(t, err, test.ShouldBeNil)
	right, err := d.State(Right)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, left.Speed, test.ShouldEqual, 128)
	test.That(t, right.Speed, test.ShouldEqual, -128)
	for _, s := range calibration.Sides {
		width := b.Wheel(s).PulseWidth()
		test.That(t, width, test.ShouldBeGreaterThanOrEqualTo, 500)
		test.That(t, width, test.ShouldBeLessThanOrEqualTo, 2500)
	}
	test.That(t, b.Wheel(Left).Rate(), test.ShouldAlmostEqual, 128, 30)
}

func TestStopAbandonsGoto(t *testing.T) {
	ctx := context.Background()
	d, _ := newSimDrive(t, manualConfig())

	test.That(t, d.Goto(ctx, 1000, 1000), test.ShouldBeNil)
	cycles(d, 40)
	test.That(t, d.Stop(ctx), test.ShouldBeNil)
	cycles(d, 40)
	status, err := d.GotoStatus(Both)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, status, test.ShouldEqual, 0)
	state, err := d.State(Left)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state.Speed, test.ShouldEqual, 0)
	test.That(t, state.Ticks, test.ShouldBeLessThan, 1000)
}

func TestSettersValidate(t *testing.T) {
	d, _ := newSimDrive(t, manualConfig())

	test.That(t, d.SetAcceleration(ForGoto, 400), test.ShouldBeNil)
	cfg := d.Config()
	test.That(t, cfg.rampStep(ForGoto), test.ShouldEqual, 8)
	test.That(t, d.SetAcceleration(ForSpeed, 10), test.ShouldNotBeNil)
	test.That(t, d.SetMaxSpeed(ForGoto, 100), test.ShouldBeNil)
	test.That(t, d.Config().GotoSpeedLimit, test.ShouldEqual, 100)
	test.That(t, d.SetMaxSpeed(ForSpeed, 0), test.ShouldNotBeNil)
	test.That(t, d.SetErrorLimit(0), test.ShouldNotBeNil)
	test.That(t, d.SetErrorLimit(20), test.ShouldBeNil)
	test.That(t, int(d.task.errorLimit.Load()), test.ShouldEqual, 20)
	test.That(t, d.SetFeedback(false), test.ShouldBeNil)
	test.That(t, d.task.feedback.Load(), test.ShouldBeFalse)

	_, err := d.GotoStatus(Side(5))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = d.State(Both)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestUncalibratedHoldsCenter(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	b := fake.NewBoard()
	cfg := manualConfig()
	cfg.Feedback = false
	d, err := New(cfg, b, eeprom.NewMemory(eeprom.DefaultSize), calibration.DefaultLayout(), logger)
	test.That(t, err, test.ShouldBeNil)
	d.autoStart = false

	test.That(t, d.SetSpeed(context.Background(), 50, 50), test.ShouldBeNil)
	test.That(t, logs.FilterMessage("wheel is not calibrated, holding center pulse").Len(), test.ShouldEqual, 2)
	cycles(d, 5)
	for _, pin := range []int{calibration.DefaultServoPins.Left, calibration.DefaultServoPins.Right} {
		servo, err := b.Servo(pin)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, servo.PulseWidth(), test.ShouldEqual, 1500)
	}
}

func TestLoadFailure(t *testing.T) {
	b := fake.NewBoard()
	b.FailServoPins = map[int]bool{calibration.DefaultServoPins.Right: true}
	d, err := New(manualConfig(), b, eeprom.NewMemory(eeprom.DefaultSize), calibration.DefaultLayout(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	err = d.SetSpeed(context.Background(), 10, 10)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "right servo")
	_, _, err = d.Ticks()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleRateHz = 810
	_, err := New(cfg, fake.NewBoard(), eeprom.NewMemory(eeprom.DefaultSize), calibration.DefaultLayout(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "multiple of pulse_rate_hz")
}

func TestBlockingGoto(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.ManeuverTimeout = 20 * time.Second
	d, b := newSimDrive(t, cfg)
	d.autoStart = true
	defer func() {
		test.That(t, d.Close(ctx), test.ShouldBeNil)
	}()

	test.That(t, d.Goto(ctx, 64, 64), test.ShouldBeNil)
	left, right, err := d.Ticks()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, left, test.ShouldEqual, 64)
	test.That(t, right, test.ShouldEqual, 64)

	test.That(t, d.Ramp(ctx, 40, 40), test.ShouldBeNil)
	state, err := d.State(Right)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state.Speed, test.ShouldEqual, 40)

	test.That(t, d.SetSpeed(ctx, 0, 0), test.ShouldBeNil)
	test.That(t, d.Close(ctx), test.ShouldBeNil)
	test.That(t, b.Wheel(Left).PulseWidth(), test.ShouldEqual, 0)
	test.That(t, d.SetSpeed(ctx, 10, 10), test.ShouldNotBeNil)
}

func TestManeuverTimeout(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.ManeuverTimeout = 300 * time.Millisecond
	d, b := newSimDrive(t, cfg)
	d.autoStart = true
	defer func() {
		test.That(t, d.Close(ctx), test.ShouldBeNil)
	}()

	b.Wheel(Left).SetStalled(true)
	err := d.Goto(ctx, 50, 50)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrManeuverTimedOut), test.ShouldBeTrue)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = d.Goto(cancelled, 10, 10)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestSpeedWithRunningTask(t *testing.T) {
	ctx := context.Background()
	d, b := newSimDrive(t, manualConfig())
	d.autoStart = true
	defer func() {
		test.That(t, d.Close(ctx), test.ShouldBeNil)
	}()

	test.That(t, d.SetSpeed(ctx, 30, -30), test.ShouldBeNil)
	testutils.WaitForAssertionWithSleep(t, 20*time.Millisecond, 250, func(tb testing.TB) {
		tb.Helper()
		left, right, err := d.Ticks()
		test.That(tb, err, test.ShouldBeNil)
		test.That(tb, left, test.ShouldBeGreaterThan, 5)
		test.That(tb, right, test.ShouldBeLessThan, -5)
	})
	calcLeft, _, err := d.TicksCalc()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, calcLeft, test.ShouldBeGreaterThan, 0)

	test.That(t, d.Stop(ctx), test.ShouldBeNil)
	testutils.WaitForAssertionWithSleep(t, 20*time.Millisecond, 250, func(tb testing.TB) {
		tb.Helper()
		state, err := d.State(Left)
		test.That(tb, err, test.ShouldBeNil)
		test.That(tb, state.Speed, test.ShouldEqual, 0)
		test.That(tb, state.StopCount, test.ShouldEqual, 0)
		test.That(tb, b.Wheel(Left).PulseWidth(), test.ShouldEqual, 0)
	})
}

func TestStallKeepsErrorBounded(t *testing.T) {
	ctx := context.Background()
	cfg := manualConfig()
	d, b := newSimDrive(t, cfg)

	test.That(t, d.Goto(ctx, 300, 300), test.ShouldBeNil)
	cycles(d, 10)
	b.Wheel(Left).SetStalled(true)
	cycles(d, 1)
	stalledAt := d.task.wheels[Left].measured
	maxErr := 0
	for i := 0; i < 60; i++ {
		cycles(d, 1)
		w := &d.task.wheels[Left]
		test.That(t, w.measured, test.ShouldEqual, stalledAt)
		maxErr = utils.MaxInt(maxErr, utils.AbsInt(w.dc-w.measured))
	}
	test.That(t, maxErr, test.ShouldBeGreaterThan, 0)
	test.That(t, maxErr, test.ShouldBeLessThanOrEqualTo, cfg.ErrorLimit)

	b.Wheel(Left).SetStalled(false)
	runGoto(t, d)
	left, right, err := d.Ticks()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, left, test.ShouldEqual, 300)
	test.That(t, right, test.ShouldEqual, 300)
}

func TestCloseWhileStarting(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		d, b := newSimDrive(t, manualConfig())
		d.autoStart = true

		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = d.SetSpeed(ctx, 40, 40)
		}()
		test.That(t, d.Close(ctx), test.ShouldBeNil)
		<-done

		test.That(t, d.workers.Context().Err(), test.ShouldNotBeNil)
		test.That(t, d.SetSpeed(ctx, 40, 40), test.ShouldNotBeNil)
		time.Sleep(20 * time.Millisecond)
		test.That(t, b.Wheel(Left).PulseWidth(), test.ShouldEqual, 0)
		test.That(t, b.Wheel(Right).PulseWidth(), test.ShouldEqual, 0)
	}
}
