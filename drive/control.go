package drive

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"go.uber.org/atomic"

	"go.viam.com/abdrive/board"
	"go.viam.com/abdrive/calibration"
	"go.viam.com/abdrive/logging"
	"go.viam.com/abdrive/utils"
)

// controlTask samples both encoders at the sample rate and, once per control cycle, advances
// the ramps, runs the feedback loop and writes the servo pulses. All plain state in the
// wheels is owned by the goroutine running tick.
type controlTask struct {
	servos   [2]board.ServoOutput
	encoders [2]board.EncoderInput
	tables   [2]*calibration.Table
	// center is the drive value at each table's zero index
	center [2]int
	wheels [2]wheel
	logger logging.Logger
	clock  clock.Clock

	sampleRate int
	ratio      int
	stopPulses int
	nudge      int

	pending    atomic.Pointer[request]
	adoptedSeq atomic.Uint64
	cycles     atomic.Uint64
	feedback   atomic.Bool
	errorLimit atomic.Int64

	samples int
	seq     uint64
	clamp   int
	lastErr map[string]string
}

func newControlTask(
	cfg Config,
	servos [2]board.ServoOutput,
	encoders [2]board.EncoderInput,
	tables [2]*calibration.Table,
	clk clock.Clock,
	logger logging.Logger,
) *controlTask {
	ct := &controlTask{
		servos:     servos,
		encoders:   encoders,
		logger:     logger,
		clock:      clk,
		sampleRate: cfg.SampleRateHz,
		ratio:      cfg.SampleRateHz / cfg.PulseRateHz,
		stopPulses: cfg.StopPulses,
		nudge:      cfg.NudgeSpeed,
		clamp:      cfg.SpeedLimit,
		lastErr:    map[string]string{},
	}
	for _, s := range calibration.Sides {
		if !tables[s].Calibrated() {
			logger.Warnw("wheel is not calibrated, holding center pulse", "side", s)
		}
		ct.tables[s] = tables[s].WithSentinels()
		if ct.tables[s].Calibrated() {
			ct.center[s] = ct.tables[s].Entries[ct.tables[s].ZeroIndex].Drive
		}
		ct.wheels[s].rampStep = cfg.rampStep(ForSpeed)
		ct.wheels[s].speedLimit = cfg.SpeedLimit
		ct.wheels[s].speedMode = true
	}
	ct.feedback.Store(cfg.Feedback)
	ct.errorLimit.Store(int64(cfg.ErrorLimit))

	l, r := ct.interpolate(0, 0)
	ct.wheels[Left].width = board.CenterPulseUS + l
	ct.wheels[Right].width = board.CenterPulseUS + r
	return ct
}

// run ticks at the sample rate until ctx is done.
func (ct *controlTask) run(ctx context.Context) {
	ticker := ct.clock.Ticker(clockPeriod(ct.sampleRate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		ct.tick(ctx)
	}
}

// tick takes one encoder sample and runs a control cycle every ratio samples.
func (ct *controlTask) tick(ctx context.Context) {
	ct.sample(ctx)
	ct.samples++
	if ct.samples%ct.ratio == 0 {
		ct.cycle(ctx)
	}
}

// interpolate converts target speeds to signed drive values for both wheels. The right servo
// is mounted mirrored, so its value is negated.
func (ct *controlTask) interpolate(left, right int) (int, int) {
	return ct.tables[Left].Interpolate(left), -ct.tables[Right].Interpolate(right)
}

// forward reports whether width drives the wheel on side forward.
func (ct *controlTask) forward(side Side, width int) bool {
	if side == Left {
		return width > board.CenterPulseUS+ct.center[Left]
	}
	return width < board.CenterPulseUS-ct.center[Right]
}

func (ct *controlTask) backward(side Side, width int) bool {
	if side == Left {
		return width < board.CenterPulseUS+ct.center[Left]
	}
	return width > board.CenterPulseUS-ct.center[Right]
}

// sample debounces each encoder and counts a tick on every confirmed transition. Encoders
// only report a level, so direction comes from the pulse being driven; while the servo is
// unpowered the wheel is assumed to coast in its last direction.
func (ct *controlTask) sample(ctx context.Context) {
	for _, s := range calibration.Sides {
		w := &ct.wheels[s]
		level, err := ct.encoders[s].Get(ctx)
		ct.reportErr(s, err, "reading encoder")
		if err != nil {
			level = w.levelPrev
		}
		if !w.primed {
			w.level, w.levelPrev, w.primed = level, level, true
		}

		if level == w.levelPrev && w.level != level {
			w.level = level
			switch {
			case w.out == 0:
				w.measured += w.zdir
			case ct.forward(s, w.width):
				w.measured++
				w.zdir = 1
			case ct.backward(s, w.width):
				w.measured--
				w.zdir = -1
			default:
				w.measured += w.zdir
			}
		}
		w.levelPrev = level

		w.dca += w.speed
		w.dc = w.dca / ct.sampleRate
		w.ticks.Store(int64(w.measured))
		w.ticksCalc.Store(int64(w.dc))
	}
}

// adopt applies the newest published request, if any.
func (ct *controlTask) adopt() {
	req := ct.pending.Load()
	if req == nil || req.seq == ct.seq {
		return
	}
	for _, s := range calibration.Sides {
		w := &ct.wheels[s]
		w.rampStep = req.rampStep[s]
		w.speedLimit = req.speedLimit[s]
		w.ditherA, w.ditherAa, w.ditherAd, w.ditherAp = req.ditherA[s], 0, 0, 0
		w.ditherV, w.ditherVa, w.ditherVd, w.ditherVp = req.ditherV[s], 0, 0, 0
		switch req.mode {
		case modeGoto:
			w.target = req.target[s]
			w.gotoState = Ramping
			w.speedMode = false
		case modeSpeed:
			w.speedT = req.target[s]
			w.gotoState = Idle
			w.speedMode = true
		}
	}
	ct.clamp = req.clamp
	ct.seq = req.seq
	ct.adoptedSeq.Store(req.seq)
}

// cycle runs one control cycle.
func (ct *controlTask) cycle(ctx context.Context) {
	ct.adopt()

	inGoto := ct.wheels[Left].gotoState != Idle || ct.wheels[Right].gotoState != Idle
	dithering := inGoto || ct.wheels[Left].speedMode || ct.wheels[Right].speedMode
	for _, s := range calibration.Sides {
		w := &ct.wheels[s]
		if dithering {
			w.ditherAa += w.ditherA
			w.ditherAd = w.ditherAa/ditherScale - w.ditherAp/ditherScale
			w.ditherAp = w.ditherAa
		}
		if inGoto {
			w.ditherVa += w.ditherV
			w.ditherVd = w.ditherVa/ditherScale - w.ditherVp/ditherScale
			w.ditherVp = w.ditherVa
		}
		ct.advance(w)
	}

	left, right := ct.interpolate(ct.wheels[Left].speed, ct.wheels[Right].speed)
	feedback := ct.feedback.Load()
	edMax := int(ct.errorLimit.Load())
	for _, s := range calibration.Sides {
		w := &ct.wheels[s]
		offset, tsign := left, 1
		if s == Right {
			offset, tsign = right, -1
		}
		if feedback {
			ct.correct(w, offset, tsign, edMax)
		} else {
			w.width = board.CenterPulseUS + offset
		}
		w.width = lo.Clamp(w.width, board.MinPulseUS, board.MaxPulseUS)

		out := 0
		if w.speed != 0 {
			out = w.width
		} else {
			if w.stopCount > 0 {
				w.stopCount--
			}
			if w.stopCount == 0 {
				w.ed, w.ea = 0, 0
				w.dc = w.measured
				w.dca = w.dc * ct.sampleRate
			}
		}
		if out != w.written {
			err := ct.servos[s].SetPulseWidth(ctx, out)
			ct.reportErr(s, err, "writing servo pulse")
			if err == nil {
				w.written = out
			}
		}
		w.out = out
		w.publish()
	}
	ct.cycles.Inc()
}

// advance moves one wheel through its goto states and ramps its speed toward the target.
func (ct *controlTask) advance(w *wheel) {
	if w.gotoState == Ramping {
		if w.speed != 0 {
			w.guard = stoppingDistance(w.speed, w.rampStep, w.ditherA)
		}
		remaining := w.target - w.measured
		switch {
		case utils.AbsInt(remaining) <= utils.AbsInt(w.guard)+utils.AbsInt(w.ditherVd):
			w.speedT = 0
			w.gotoState = Settling
		case remaining > 0:
			w.speedT = w.speedLimit + w.ditherVd
		default:
			w.speedT = -w.speedLimit - w.ditherVd
		}
	}

	settled := w.gotoState == Settling && w.stopCount == 0 && w.speed == 0 && w.speedOld == w.speed
	if settled || (w.gotoState == Nudging && w.stopCount == 0) {
		if distErr := w.target - w.measured; distErr == 0 {
			w.gotoState = Idle
			w.nudges = 0
			w.speed = 0
		} else {
			w.nudges++
			w.speed = utils.SignInt(distErr) * ct.nudge
			w.gotoState = Nudging
		}
	}

	w.speedT = lo.Clamp(w.speedT, -ct.clamp, ct.clamp)
	if w.stopCount == 0 && w.gotoState != Nudging {
		switch {
		case w.speedT > w.speed+w.rampStep:
			w.speed += w.rampStep + w.ditherAd
		case w.speedT < w.speed-w.rampStep:
			w.speed -= w.rampStep + w.ditherAd
		default:
			w.speed = w.speedT
		}
	}
	if w.speedOld != w.speed && w.speed == 0 {
		w.stopCount = ct.stopPulses
	}
	w.speedOld = w.speed
}

// correct runs the PI loop that keeps the measured distance on the calculated one and sets
// the wheel's pulse width. offset is the open loop drive value from the table; tsign is +1
// for the left servo and -1 for the mirrored right one.
func (ct *controlTask) correct(w *wheel, offset, tsign, edMax int) {
	w.ed = w.dc - w.measured
	switch {
	case w.ed > edMax:
		w.ed = edMax
		w.dc = w.measured + edMax
		w.dca = w.dc * ct.sampleRate
	case w.ed < -edMax:
		w.ed = -edMax
		w.dc = w.measured - edMax
		w.dca = w.dc * ct.sampleRate
	default:
		w.ea += w.ed
	}

	switch {
	case w.speed > 0:
		w.p = w.ed * (3 + w.speed/10)
		if w.ed > 0 && w.ed != edMax {
			w.i++
		} else if w.ed < 0 && w.ed != -edMax {
			w.i--
		}
	case w.speed < 0:
		w.p = w.ed * (-3 + w.speed/10)
		if w.ed > 0 && w.ed != edMax {
			w.i--
		} else if w.ed < 0 && w.ed != -edMax {
			w.i++
		}
	}
	limit := utils.AbsInt(w.speed)
	w.i = lo.Clamp(w.i, -limit, limit)

	switch {
	case w.speed > 0:
		w.width = tsign*w.i + tsign*w.p + offset + board.CenterPulseUS
	case w.speed < 0:
		w.width = -tsign*w.i - tsign*w.p + offset + board.CenterPulseUS
	default:
		w.width = offset + board.CenterPulseUS
		w.i = 0
	}
}

// stoppingDistance returns the ticks needed to ramp from speed down to zero. A wheel whose
// whole ramp step was scaled into the dither fraction uses the fraction instead.
func stoppingDistance(speed, rampStep, ditherA int) int {
	denom := 100 * rampStep
	if denom == 0 {
		denom = 2 * ditherA
	}
	if denom == 0 {
		return 0
	}
	return speed * utils.AbsInt(speed) / denom
}

// reportErr logs hardware errors once per distinct message so a failing pin does not flood
// the log at the sample rate.
func (ct *controlTask) reportErr(side Side, err error, what string) {
	key := what + " " + side.String()
	if err == nil {
		delete(ct.lastErr, key)
		return
	}
	if msg := err.Error(); msg != ct.lastErr[key] {
		ct.lastErr[key] = msg
		ct.logger.Warnw(what+" failed", "side", side, "error", err)
	}
}
