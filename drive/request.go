package drive

import "go.viam.com/abdrive/utils"

type mode int

const (
	modeSpeed mode = iota + 1
	modeGoto
)

// A request is a maneuver handed from the API to the control task. It is never modified
// after it is published; the task adopts the newest one at the start of a control cycle.
type request struct {
	seq  uint64
	mode mode
	// target is the final tick count for a goto and the target speed otherwise
	target     [2]int
	rampStep   [2]int
	speedLimit [2]int
	ditherA    [2]int
	ditherV    [2]int
	// clamp bounds the target speed of both wheels
	clamp int
}

// ditherScale is the fixed point denominator of the dither fractions.
const ditherScale = 50

// scaleArc fills in the per wheel ramp step, speed limit and dither fractions so that the
// wheel with the smaller delta is slowed in proportion and both finish together. Deltas are
// distances for a goto and speed changes for a speed request; the speed limit is only
// scaled for a goto.
func (r *request) scaleArc(delta [2]int, baseStep, baseLimit int, scaleLimit bool) {
	for _, s := range [2]Side{Left, Right} {
		r.rampStep[s] = baseStep
		r.speedLimit[s] = baseLimit
		r.ditherA[s] = 0
		r.ditherV[s] = 0

		other := 1 - s
		short, long := delta[s], delta[other]
		if utils.AbsInt(long) <= utils.AbsInt(short) {
			continue
		}
		r.rampStep[s] = baseStep * utils.AbsInt(short) / utils.AbsInt(long)
		r.ditherA[s] = utils.AbsInt((baseStep * short) % utils.AbsInt(long) * ditherScale / utils.AbsInt(long))
		if scaleLimit {
			r.speedLimit[s] = baseLimit * utils.AbsInt(short) / utils.AbsInt(long)
			r.ditherV[s] = utils.AbsInt((baseLimit * short) % utils.AbsInt(long) * ditherScale / utils.AbsInt(long))
		}
	}
}
