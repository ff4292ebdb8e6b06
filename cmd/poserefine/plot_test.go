package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
)

func TestSaveLossPlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loss.png")
	test.That(t, saveLossPlot(path, [][]float64{{0.2, -0.1, -0.4}, nil, {0, -0.5}}), test.ShouldBeNil)
	info, err := os.Stat(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)
}

func TestPrintHistogram(t *testing.T) {
	var buf bytes.Buffer
	printHistogram(&buf, "shift", nil)
	test.That(t, buf.String(), test.ShouldEqual, "shift: no values\n")

	buf.Reset()
	printHistogram(&buf, "shift", []float64{0.01, 0.02, 0.02, 0.05})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	test.That(t, lines[0], test.ShouldEqual, "shift (4 values)")
	test.That(t, len(lines), test.ShouldBeGreaterThan, 1)
	test.That(t, buf.String(), test.ShouldContainSubstring, "#")
	test.That(t, lines[1], test.ShouldStartWith, "mean 0.0250 median 0.0200 p95 ")
}
