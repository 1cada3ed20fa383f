package calibration

import (
	"testing"

	"go.viam.com/test"

	"go.viam.com/abdrive/utils"
)

func samplesFrom(start, step int, rates ...int) []Sample {
	out := make([]Sample, len(rates))
	for i, r := range rates {
		out[i] = Sample{Drive: start + i*step, Rate: r}
	}
	return out
}

func TestProcess(t *testing.T) {
	cfg := DefaultProcessConfig()

	t.Run("dead zone collapse", func(t *testing.T) {
		table, err := Process(samplesFrom(-6, 2, 30, 20, 0, 0, 0, 20, 30), cfg)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, table.ZeroIndex, test.ShouldEqual, 2)
		test.That(t, table.Entries, test.ShouldResemble, []Entry{
			{-6, -30}, {-4, -20}, {0, 0}, {4, 20}, {6, 30},
		})
	})

	t.Run("spike", func(t *testing.T) {
		table, err := Process(samplesFrom(-8, 2, 30, 20, 90, 10, 0, 0, 10, 20, 30), cfg)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, table.ZeroIndex, test.ShouldEqual, 4)
		test.That(t, table.Entries[2], test.ShouldResemble, Entry{-4, -15})
		test.That(t, table.Entries[4], test.ShouldResemble, Entry{1, 0})
		test.That(t, table.Len(), test.ShouldEqual, 8)
	})

	t.Run("stray zero", func(t *testing.T) {
		table, err := Process(samplesFrom(-8, 2, 40, 30, 0, 0, 0, 10, 20, 0, 40), cfg)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, table.ZeroIndex, test.ShouldEqual, 2)
		test.That(t, table.Entries[len(table.Entries)-2], test.ShouldResemble, Entry{6, 30})
	})

	t.Run("glitch", func(t *testing.T) {
		table, err := Process(samplesFrom(-6, 2, 40, 20, -5, 0, 0, 20, 40), cfg)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, table.ZeroIndex, test.ShouldEqual, 3)
		test.That(t, table.Entries[2], test.ShouldResemble, Entry{-2, -10})
	})

	t.Run("monotonic enforcement", func(t *testing.T) {
		table, err := Process(samplesFrom(-8, 2, 40, 45, 20, 0, 0, 20, 15, 30, 28), cfg)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, table.Monotonic(), test.ShouldBeTrue)
		rates := make([]int, table.Len())
		for i, e := range table.Entries {
			rates[i] = e.Rate
		}
		test.That(t, rates, test.ShouldResemble, []int{-40, -40, -20, 0, 20, 20, 30, 30})
	})

	t.Run("zero at the sweep edges", func(t *testing.T) {
		var samples []Sample
		for d := -195; d <= 200; d += 5 {
			rate := 0
			if d < -10 || d > 10 {
				rate = utils.AbsInt(d) * 3 / 4
			}
			samples = append(samples, Sample{Drive: d, Rate: rate})
		}
		samples[0].Rate = 0
		samples[len(samples)-1].Rate = 0

		table, err := Process(samples, cfg)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, table.ZeroIndex, test.ShouldEqual, 37)
		test.That(t, table.Entries[table.ZeroIndex].Drive, test.ShouldEqual, 0)
		test.That(t, table.Entries[0], test.ShouldResemble, Entry{-195, -142})
		test.That(t, table.Entries[len(table.Entries)-1], test.ShouldResemble, Entry{200, 146})
		test.That(t, table.Monotonic(), test.ShouldBeTrue)

		loaded := table.WithSentinels()
		test.That(t, loaded.Interpolate(100), test.ShouldBeGreaterThan, 0)
		test.That(t, loaded.Interpolate(-100), test.ShouldBeLessThan, 0)
	})

	t.Run("no zero", func(t *testing.T) {
		table, err := Process(samplesFrom(-3, 2, 6, 2, 2, 6), cfg)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, table.ZeroIndex, test.ShouldEqual, 2)
		test.That(t, table.Entries, test.ShouldResemble, []Entry{{-3, -6}, {-1, -2}, {1, 2}, {3, 6}})
	})

	t.Run("monotonic for noisy sweeps", func(t *testing.T) {
		noise := []int{7, -3, 12, 0, -9, 4, 31, -14, 2, 5}
		var samples []Sample
		for i, d := 0, -200; d <= 200; i, d = i+1, d+5 {
			rate := 0
			if d < -10 || d > 10 {
				rate = d*3/4 + noise[i%len(noise)]
				if rate < 0 {
					rate = -rate
				}
			}
			samples = append(samples, Sample{Drive: d, Rate: rate})
		}
		table, err := Process(samples, cfg)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, table.Monotonic(), test.ShouldBeTrue)
		test.That(t, table.Entries[table.ZeroIndex].Rate, test.ShouldEqual, 0)
		test.That(t, table.Entries[table.ZeroIndex].Drive, test.ShouldEqual, 0)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := Process(nil, cfg)
		test.That(t, err, test.ShouldNotBeNil)
		_, err = Process([]Sample{{Drive: 2}, {Drive: 1}}, cfg)
		test.That(t, err, test.ShouldNotBeNil)
	})
}
