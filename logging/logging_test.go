package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
)

func TestObservedLevels(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)

	logger.Debugw("debug line", "iteration", 3)
	logger.Infof("info %d", 1)
	test.That(t, logs.Len(), test.ShouldEqual, 2)
	test.That(t, logs.All()[0].Message, test.ShouldEqual, "debug line")
	test.That(t, logs.All()[0].ContextMap()["iteration"], test.ShouldEqual, int64(3))
	test.That(t, logs.All()[1].Message, test.ShouldEqual, "info 1")

	logger.SetLevel(WARN)
	logger.Info("dropped")
	logger.Warn("kept")
	test.That(t, logs.Len(), test.ShouldEqual, 3)
	test.That(t, logs.All()[2].Message, test.ShouldEqual, "kept")
}

func TestSublogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.SetLevel(ERROR)

	sub := logger.Sublogger("refiner")
	test.That(t, sub.GetLevel(), test.ShouldEqual, ERROR)

	sub.SetLevel(DEBUG)
	sub.Debug("from sub")
	logger.Debug("from parent")
	test.That(t, logs.Len(), test.ShouldEqual, 1)
	test.That(t, logs.All()[0].LoggerName, test.ShouldEqual, "refiner")
	test.That(t, logger.GetLevel(), test.ShouldEqual, ERROR)
}

func TestLevelStrings(t *testing.T) {
	for _, level := range []Level{DEBUG, INFO, WARN, ERROR} {
		parsed, err := LevelFromString(level.String())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, level)

		data, err := json.Marshal(level)
		test.That(t, err, test.ShouldBeNil)
		var back Level
		test.That(t, json.Unmarshal(data, &back), test.ShouldBeNil)
		test.That(t, back, test.ShouldEqual, level)
	}

	_, err := LevelFromString("verbose")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poserefine.log")
	logger, closer := NewFileLogger("file", path, INFO)
	logger.Debugw("not written", "iteration", 1)
	logger.Infow("refinement progress", "iteration", 10)
	test.That(t, closer.Close(), test.ShouldBeNil)

	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	test.That(t, lines, test.ShouldHaveLength, 1)
	var entry map[string]interface{}
	test.That(t, json.Unmarshal([]byte(lines[0]), &entry), test.ShouldBeNil)
	test.That(t, entry["msg"], test.ShouldEqual, "refinement progress")
	test.That(t, entry["level"], test.ShouldEqual, "INFO")
	test.That(t, entry["logger"], test.ShouldEqual, "file")
	test.That(t, entry["iteration"], test.ShouldEqual, 10.)
}
