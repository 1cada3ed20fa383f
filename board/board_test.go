package board

import (
	"testing"

	"go.viam.com/test"
)

func TestValidatePulseWidth(t *testing.T) {
	test.That(t, ValidatePulseWidth(0), test.ShouldBeNil)
	test.That(t, ValidatePulseWidth(CenterPulseUS), test.ShouldBeNil)
	test.That(t, ValidatePulseWidth(MinPulseUS), test.ShouldBeNil)
	test.That(t, ValidatePulseWidth(MaxPulseUS), test.ShouldBeNil)
	test.That(t, ValidatePulseWidth(MaxPulseUS+1), test.ShouldNotBeNil)
	test.That(t, ValidatePulseWidth(-1500), test.ShouldNotBeNil)
}

func TestDutyCyclePct(t *testing.T) {
	test.That(t, DutyCyclePct(1500, PulseFrequencyHz), test.ShouldAlmostEqual, 0.075)
	test.That(t, DutyCyclePct(2000, 100), test.ShouldAlmostEqual, 0.2)
	test.That(t, DutyCyclePct(0, PulseFrequencyHz), test.ShouldEqual, 0)
}
