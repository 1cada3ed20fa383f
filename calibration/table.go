// Package calibration builds, persists, loads and interprets the per-wheel tables that map a
// servo drive value to the wheel speed it produces.
package calibration

import (
	"fmt"
)

const (
	// Sentinel is the rate forced onto both ends of a loaded table so that a search starting
	// at the zero index always finds a bracketing pair.
	Sentinel = 1000
	// MaxEntries is the largest table that will be saved or loaded.
	MaxEntries = 150
)

// Side selects a wheel.
type Side int

// The two wheels.
const (
	Left Side = iota
	Right
)

// Sides lists both wheels in calibration order.
var Sides = [2]Side{Left, Right}

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

// An Entry pairs a drive value, the signed pulse width offset in microseconds from center,
// with the signed speed in ticks per second it produced.
type Entry struct {
	Drive int `json:"drive"`
	Rate  int `json:"rate"`
}

// A Table is a calibration table for one wheel. Entries are ordered by Drive and, once
// processed, Rate is non-decreasing. Tables are not modified after they are built; the
// helpers below return copies.
type Table struct {
	Entries   []Entry `json:"entries"`
	ZeroIndex int     `json:"zero_index"`
}

// Len returns the number of entries, 0 for a nil table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Entries)
}

// Calibrated reports whether the table holds enough data to interpolate.
func (t *Table) Calibrated() bool {
	n := t.Len()
	return n >= 2 && n <= MaxEntries && t.ZeroIndex >= 0 && t.ZeroIndex < n
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	return &Table{Entries: append([]Entry(nil), t.Entries...), ZeroIndex: t.ZeroIndex}
}

// WithSentinels returns a copy whose first and last rates are replaced by -Sentinel and
// Sentinel. Requests beyond the measured range then interpolate toward the end entries
// instead of running off the table.
func (t *Table) WithSentinels() *Table {
	out := t.Clone()
	if !out.Calibrated() {
		return out
	}
	out.Entries[0].Rate = -Sentinel
	out.Entries[len(out.Entries)-1].Rate = Sentinel
	return out
}

// Monotonic reports whether Rate never decreases with index.
func (t *Table) Monotonic() bool {
	for i := 1; i < t.Len(); i++ {
		if t.Entries[i].Rate < t.Entries[i-1].Rate {
			return false
		}
	}
	return true
}

// DriveRange returns the smallest and largest drive values.
func (t *Table) DriveRange() (int, int) {
	if t.Len() == 0 {
		return 0, 0
	}
	return t.Entries[0].Drive, t.Entries[len(t.Entries)-1].Drive
}

// Interpolate returns the drive value expected to produce rate. Positive rates are searched
// upward from the zero index, zero and negative ones downward. An exact match returns its
// drive value; otherwise the bracketing pair is interpolated linearly. Rates outside the
// table clamp to its end entries. An uncalibrated table returns 0, the center pulse.
func (t *Table) Interpolate(rate int) int {
	if !t.Calibrated() {
		return 0
	}
	e := t.Entries
	z := t.ZeroIndex
	if rate == 0 {
		return e[z].Drive
	}

	prev := z
	if rate > 0 {
		for r := z; r < len(e); r++ {
			if e[r].Rate == rate {
				return e[r].Drive
			}
			if e[prev].Rate < rate && e[r].Rate > rate {
				return lerp(e[prev], e[r], rate)
			}
			prev = r
		}
		return e[len(e)-1].Drive
	}

	for r := z; r >= 0; r-- {
		if e[r].Rate == rate {
			return e[r].Drive
		}
		if e[prev].Rate > rate && e[r].Rate < rate {
			return lerp(e[prev], e[r], rate)
		}
		prev = r
	}
	return e[0].Drive
}

// lerp interpolates between from and to; the rates must differ.
func lerp(from, to Entry, rate int) int {
	return from.Drive + (to.Drive-from.Drive)*(rate-from.Rate)/(to.Rate-from.Rate)
}
