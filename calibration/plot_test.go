package calibration

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestPlot(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "calibration.png")
	test.That(t, Plot([2]*Table{symmetricTable(), symmetricTable()}, "both", path), test.ShouldBeNil)
	info, err := os.Stat(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, int(info.Size()), test.ShouldBeGreaterThan, 0)

	path = filepath.Join(dir, "left.svg")
	test.That(t, Plot([2]*Table{symmetricTable(), {}}, "left only", path), test.ShouldBeNil)

	err = Plot([2]*Table{{}, nil}, "none", filepath.Join(dir, "none.png"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no calibrated table")
}
