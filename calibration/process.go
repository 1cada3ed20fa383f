package calibration

import (
	"github.com/pkg/errors"

	"go.viam.com/abdrive/utils"
)

// A Sample is one raw sweep measurement: the drive value commanded and the unsigned tick
// rate the encoder reported for it.
type Sample struct {
	Drive int
	Rate  int
}

// ProcessConfig holds the thresholds of the post-processing pipeline.
type ProcessConfig struct {
	// SpikeThreshold is how far a rate must exceed both neighbors to count as a spike.
	SpikeThreshold int `json:"spike_threshold"`
	// GlitchCeiling is the largest plausible rate; larger ones are smoothed.
	GlitchCeiling int `json:"glitch_ceiling"`
}

// DefaultProcessConfig returns the thresholds tuned for the ActivityBot servos.
func DefaultProcessConfig() ProcessConfig {
	return ProcessConfig{SpikeThreshold: 30, GlitchCeiling: 200}
}

// Process turns raw sweep samples into a table. Samples must be ordered by drive value.
//
// The pipeline smooths spikes and stray zeros (an edge zero takes its neighbor's rate), smooths negative and over-ceiling glitches,
// collapses the dead zone to the single entry that becomes the zero index, signs the rates
// below it and finally raises any rate that is lower than its predecessor so the table is
// monotonic.
func Process(samples []Sample, cfg ProcessConfig) (*Table, error) {
	n := len(samples)
	if n == 0 {
		return nil, errors.New("no calibration samples")
	}
	for i := 1; i < n; i++ {
		if samples[i].Drive <= samples[i-1].Drive {
			return nil, errors.Errorf("samples not ordered by drive at index %d (%d after %d)",
				i, samples[i].Drive, samples[i-1].Drive)
		}
	}

	drive := make([]int, n)
	rate := make([]int, n)
	for i, s := range samples {
		drive[i] = s.Drive
		rate[i] = s.Rate
	}

	for r := 1; r < n-1; r++ {
		if rate[r] > rate[r-1]+cfg.SpikeThreshold && rate[r] > rate[r+1]+cfg.SpikeThreshold {
			rate[r] = (rate[r-1] + rate[r+1]) / 2
		}
	}
	for r := 1; r < n-1; r++ {
		if rate[r] == 0 && rate[r-1] != 0 && rate[r+1] != 0 {
			rate[r] = (rate[r-1] + rate[r+1]) / 2
		}
	}
	if n > 1 {
		if rate[0] == 0 && rate[1] != 0 {
			rate[0] = rate[1]
		}
		if rate[n-1] == 0 && rate[n-2] != 0 {
			rate[n-1] = rate[n-2]
		}
	}

	zstart, zend := deadZone(drive, rate)

	for r := 1; r < n-1; r++ {
		if rate[r] < 0 || rate[r] > cfg.GlitchCeiling {
			rate[r] = (rate[r-1] + rate[r+1]) / 2
		}
	}

	entries := make([]Entry, 0, n)
	for r := 0; r < n; r++ {
		switch {
		case r == zstart:
			entries = append(entries, Entry{Drive: (drive[zstart] + drive[zend-1]) / 2, Rate: rate[r]})
		case r > zstart && r < zend:
		default:
			entries = append(entries, Entry{Drive: drive[r], Rate: rate[r]})
		}
	}
	for r := 0; r < zstart; r++ {
		entries[r].Rate = -utils.AbsInt(entries[r].Rate)
	}
	for r := 1; r < len(entries); r++ {
		if entries[r].Rate < entries[r-1].Rate {
			entries[r].Rate = entries[r-1].Rate
		}
	}

	if len(entries) > MaxEntries {
		return nil, errors.Errorf("calibration produced %d entries, more than %d", len(entries), MaxEntries)
	}
	return &Table{Entries: entries, ZeroIndex: zstart}, nil
}

// deadZone returns the half open index range of the first run of zero rates. Without a zero
// the run is the single entry closest to the center drive value on the positive side.
func deadZone(drive, rate []int) (int, int) {
	zstart := -1
	for r := range rate {
		if rate[r] == 0 {
			zstart = r
			break
		}
	}
	if zstart < 0 {
		for r := range drive {
			if drive[r] >= 0 {
				return r, r + 1
			}
		}
		return len(drive) - 1, len(drive)
	}
	zend := len(rate)
	for r := zstart + 1; r < len(rate); r++ {
		if rate[r] != 0 {
			zend = r
			break
		}
	}
	return zstart, zend
}
