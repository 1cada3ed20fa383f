package calibration

import (
	"fmt"
	"io"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"go.viam.com/abdrive/eeprom"
	"go.viam.com/abdrive/utils"
)

// SideMask is a set of wheels.
type SideMask uint8

// Members of a SideMask.
const (
	MaskLeft SideMask = 1 << iota
	MaskRight
	MaskBoth = MaskLeft | MaskRight
)

func (m SideMask) describe() string {
	switch m {
	case MaskLeft:
		return "the left"
	case MaskRight:
		return "the right"
	default:
		return "both of the"
	}
}

// SupplyClass classifies the battery voltage implied by the top speeds of both wheels.
type SupplyClass int

// Supply classes from flat to too high.
const (
	SupplyOK SupplyClass = iota
	SupplyDeadOrReversedCell
	SupplyDeadOr5VJumper
	SupplyLow
	SupplyOverVoltage
)

// Thresholds on the averaged top speed, in ticks per second.
const (
	supplyDead     = 100
	supplyJumper   = 140
	supplyLow      = 150
	supplyHigh     = 205
	centerMaxDrive = 45
	swappedAvgMax  = 60
	swappedWindow  = 25
	swappedBand    = 8
)

// A Report is the result of Diagnose.
type Report struct {
	// MissingRecords is set when the calibration marker or a pin record is absent.
	MissingRecords bool
	SwappedCables  SideMask
	NoSignal       SideMask
	NeedsCentering SideMask
	// Supply is the average top speed of each wheel, in ticks per second.
	Supply      [2]int
	SupplyClass SupplyClass
	// Gain is the least squares slope of rate over drive value for each wheel.
	Gain [2]float64
	// Entries and ZeroIndex echo the shape of each loaded table.
	Entries   [2]int
	ZeroIndex [2]int
}

// OK reports whether nothing is wrong.
func (r *Report) OK() bool {
	return !r.MissingRecords && r.SwappedCables == 0 && r.NoSignal == 0 &&
		r.NeedsCentering == 0 && r.SupplyClass == SupplyOK
}

// Diagnose inspects the stored calibration for the usual assembly mistakes.
func Diagnose(store eeprom.Store, layout Layout) (*Report, error) {
	var tables [2]*Table
	for _, side := range Sides {
		t, err := Load(store, layout, side)
		if err != nil {
			return nil, err
		}
		tables[side] = t
	}
	marker, err := HasMarker(store, layout)
	if err != nil {
		return nil, err
	}
	pins, err := LoadPins(store, layout)
	if err != nil {
		return nil, err
	}
	report := DiagnoseTables(tables)
	report.MissingRecords = !marker || !pins.ServosFound || !pins.EncodersFound
	return report, nil
}

// DiagnoseTables runs the table checks of Diagnose on tables as they were stored.
func DiagnoseTables(tables [2]*Table) *Report {
	report := &Report{}
	for _, side := range Sides {
		t := tables[side]
		if t == nil {
			t = &Table{}
		}
		mask := SideMask(1) << side
		report.Entries[side] = t.Len()
		report.ZeroIndex[side] = t.ZeroIndex
		switch {
		case noSignal(t):
			report.NoSignal |= mask
		case swapped(t):
			report.SwappedCables |= mask
		}
		if t.Calibrated() && utils.AbsInt(t.Entries[t.ZeroIndex].Drive) > centerMaxDrive {
			report.NeedsCentering |= mask
		}
		report.Supply[side] = supply(t)
		report.Gain[side] = gain(t)
	}
	report.SupplyClass = classifySupply((report.Supply[Left] + report.Supply[Right]) / 2)
	return report
}

// noSignal matches a wheel whose encoder never produced an edge: the whole sweep collapses
// into the dead zone.
func noSignal(t *Table) bool {
	if t.Len() < 3 {
		return true
	}
	for _, e := range t.Entries[1 : t.Len()-1] {
		if e.Rate != 0 {
			return false
		}
	}
	return true
}

// swapped matches a wheel that barely moves at full reverse drive yet reads a flat, nonzero
// rate over the following entries, which is what the opposite wheel creeping looks like.
func swapped(t *Table) bool {
	if t.Len() < 5+swappedWindow {
		return false
	}
	head := make([]float64, 3)
	for i := range head {
		head[i] = float64(utils.AbsInt(t.Entries[2+i].Rate))
	}
	mean, err := stats.Mean(head)
	if err != nil || mean >= swappedAvgMax {
		return false
	}
	avg := int(mean)
	deviations, sum := swappedWindow, 0
	for _, e := range t.Entries[5 : 5+swappedWindow] {
		rate := utils.AbsInt(e.Rate)
		sum += rate
		if utils.AbsInt(rate-avg) < swappedBand {
			deviations--
		}
	}
	return deviations < 4 && sum != 0
}

// supply averages the ten fastest rates at each end of the sweep.
func supply(t *Table) int {
	n := t.Len()
	if n < 22 {
		return 0
	}
	rates := make([]float64, 0, 20)
	for i := 1; i <= 10; i++ {
		rates = append(rates, float64(utils.AbsInt(t.Entries[i].Rate)), float64(utils.AbsInt(t.Entries[n-1-i].Rate)))
	}
	sum, err := stats.Sum(rates)
	if err != nil {
		return 0
	}
	return (int(sum) + 1) / 20
}

func gain(t *Table) float64 {
	if t.Len() < 2 {
		return 0
	}
	xs := make([]float64, t.Len())
	ys := make([]float64, t.Len())
	for i, e := range t.Entries {
		xs[i] = float64(e.Drive)
		ys[i] = float64(e.Rate)
	}
	_, beta := stat.LinearRegression(xs, ys, nil, false)
	return beta
}

func classifySupply(avg int) SupplyClass {
	switch {
	case avg < supplyDead:
		return SupplyDeadOrReversedCell
	case avg < supplyJumper:
		return SupplyDeadOr5VJumper
	case avg < supplyLow:
		return SupplyLow
	case avg > supplyHigh:
		return SupplyOverVoltage
	default:
		return SupplyOK
	}
}

// Write prints the diagnosis in plain language. Cable and signal problems mask the checks
// that depend on a working sweep.
func (r *Report) Write(w io.Writer) error {
	var b strings.Builder
	if r.OK() {
		b.WriteString("The calibration completed successfully.\n")
		_, err := io.WriteString(w, b.String())
		return errors.Wrap(err, "writing calibration report")
	}
	b.WriteString("One or more problems were detected.\n\nDetails:\n\n")
	if r.MissingRecords {
		b.WriteString("The calibration procedure does not appear to have been completed.\n\n")
	}
	if r.SwappedCables != 0 {
		b.WriteString("Either the servo cables or the encoder cables are swapped.\n\n")
	}
	if r.NoSignal != 0 && r.SwappedCables == 0 {
		fmt.Fprintf(&b, "No encoder signal detected from %s wheel(s).\n\n", r.NoSignal.describe())
	}
	if r.NeedsCentering != 0 && r.SwappedCables == 0 && r.NoSignal == 0 {
		fmt.Fprintf(&b, "The servo on %s side(s) needs mechanical centering.\n\n", r.NeedsCentering.describe())
	}
	if r.SwappedCables == 0 && r.NoSignal == 0 && r.NeedsCentering == 0 {
		switch r.SupplyClass {
		case SupplyDeadOrReversedCell:
			b.WriteString("The batteries are either dead or a cell is inserted backwards. " +
				"A short circuit on the prototyping area would also explain the slow wheels.\n\n")
		case SupplyDeadOr5VJumper:
			b.WriteString("The batteries are dead or the servo power jumper is still at 5V; " +
				"it should be at VIN.\n\n")
		case SupplyLow:
			b.WriteString("The batteries are too low. Use fresh cells or recharge the pack to 7-8 V.\n\n")
		case SupplyOverVoltage:
			b.WriteString("Servo speeds indicate a supply above 8.5 V. Use a lower voltage source " +
				"to avoid damaging the servos.\n\n")
		case SupplyOK:
		}
	}
	_, err := io.WriteString(w, b.String())
	return errors.Wrap(err, "writing calibration report")
}
