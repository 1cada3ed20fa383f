package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

// runSim runs the app against simulated wheels and a calibration image at path.
func runSim(t *testing.T, path string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	argv := []string{
		"abdrive", "--sim",
		"--set", "store.path=" + path,
		"--set", "calibration.settle_time=0",
		"--set", "drive.maneuver_timeout=20s",
	}
	err := NewApp(&out, &errOut).Run(append(argv, args...))
	return out.String(), err
}

func TestCalibrateAndDrive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.eeprom")

	out, err := runSim(t, path, "results")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "PROBLEMS FOUND")
	test.That(t, out, test.ShouldContainSubstring, "does not appear to have been completed")

	out, err = runSim(t, path, "calibrate")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "The calibration completed successfully.")

	out, err = runSim(t, path, "results")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "OK")
	test.That(t, out, test.ShouldNotContainSubstring, "PROBLEMS")

	out, err = runSim(t, path, "table", "--side", "left")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "left wheel")
	test.That(t, out, test.ShouldContainSubstring, "zero")
	test.That(t, out, test.ShouldNotContainSubstring, "right wheel")

	chart := filepath.Join(t.TempDir(), "calibration.png")
	out, err = runSim(t, path, "table", "--plot", chart)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "right wheel")
	test.That(t, out, test.ShouldContainSubstring, "chart saved to")
	_, err = os.Stat(chart)
	test.That(t, err, test.ShouldBeNil)

	out, err = runSim(t, path, "goto", "20", "20")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "ticks left 20 right 20")
}

func TestPins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.eeprom")

	out, err := runSim(t, path, "pins")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "servos   left 12  right 13  (default)")
	test.That(t, out, test.ShouldContainSubstring, "encoders left 14  right 15  (default)")

	out, err = runSim(t, path, "pins", "--servos", "16,17")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "pins saved")

	out, err = runSim(t, path, "pins")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "servos   left 16  right 17  (stored)")
	test.That(t, out, test.ShouldContainSubstring, "encoders left 14  right 15  (stored)")

	_, err = runSim(t, path, "pins", "--encoders", "1,2,3")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expected left and right pin")
}

func TestArgumentErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.eeprom")

	_, err := runSim(t, path, "goto", "20")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expected 2 arguments")

	_, err = runSim(t, path, "speed", "fast", "10")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "argument 1")

	_, err = runSim(t, path, "table", "--side", "middle")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown side")
}

func TestSchema(t *testing.T) {
	var out bytes.Buffer
	err := NewApp(&out, &out).Run([]string{"abdrive", "schema"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, `"goto_speed_limit"`)
	test.That(t, out.String(), test.ShouldContainSubstring, `"left_wheel"`)
	test.That(t, out.String(), test.ShouldNotContainSubstring, `"required"`)
}

func TestParseSides(t *testing.T) {
	sides, err := parseSides("Both")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sides, test.ShouldHaveLength, 2)

	sides, err = parseSides("right")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sides[0].String(), test.ShouldEqual, "right")
}
