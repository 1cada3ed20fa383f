package drive

import (
	"go.uber.org/atomic"

	"go.viam.com/abdrive/calibration"
)

// Side selects a wheel, or both for GotoStatus.
type Side = calibration.Side

// Wheel selectors.
const (
	Left  = calibration.Left
	Right = calibration.Right
	Both  = Side(2)
)

// GotoState is the progress of a goto maneuver on one wheel.
type GotoState int

// Goto states. A wheel is Idle unless a goto is in progress.
const (
	Idle GotoState = iota
	Ramping
	Settling
	Nudging
)

func (s GotoState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ramping:
		return "ramping"
	case Settling:
		return "settling"
	case Nudging:
		return "nudging"
	default:
		return "unknown"
	}
}

// WheelState is a snapshot of one wheel as last published by the control task.
type WheelState struct {
	Ticks      int
	TicksCalc  int
	Speed      int
	GotoState  GotoState
	StopCount  int
	PulseWidth int
}

// wheel holds the control state of one side. Plain fields belong to the control goroutine;
// the atomics are copies it publishes for the maneuver API.
type wheel struct {
	ticks     atomic.Int64
	ticksCalc atomic.Int64
	speedPub  atomic.Int64
	statePub  atomic.Int32
	stopPub   atomic.Int32
	widthPub  atomic.Int64

	measured  int
	target    int
	speed     int
	speedT    int
	speedOld  int
	gotoState GotoState
	stopCount int
	nudges    int
	guard     int
	speedMode bool

	rampStep   int
	speedLimit int
	ditherA    int
	ditherAa   int
	ditherAd   int
	ditherAp   int
	ditherV    int
	ditherVa   int
	ditherVd   int
	ditherVp   int

	// calculated distance, accumulated at the sample rate and in ticks
	dca int
	dc  int
	// PI terms
	ed int
	ea int
	p  int
	i  int

	// encoder debounce
	primed    bool
	level     bool
	levelPrev bool
	zdir      int

	// width is the pulse the controller computed, out the one emitted (0 when off) and
	// written the last one the servo accepted
	width   int
	out     int
	written int
}

func (w *wheel) publish() {
	w.ticks.Store(int64(w.measured))
	w.ticksCalc.Store(int64(w.dc))
	w.speedPub.Store(int64(w.speed))
	w.statePub.Store(int32(w.gotoState))
	w.stopPub.Store(int32(w.stopCount))
	w.widthPub.Store(int64(w.out))
}

func (w *wheel) snapshot() WheelState {
	return WheelState{
		Ticks:      int(w.ticks.Load()),
		TicksCalc:  int(w.ticksCalc.Load()),
		Speed:      int(w.speedPub.Load()),
		GotoState:  GotoState(w.statePub.Load()),
		StopCount:  int(w.stopPub.Load()),
		PulseWidth: int(w.widthPub.Load()),
	}
}
