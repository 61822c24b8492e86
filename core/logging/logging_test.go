package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferedLogger(level logrus.Level) (*logrusLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return &logrusLogger{entry: logrus.NewEntry(l)}, &buf
}

func TestNew_Levels(t *testing.T) {
	require.NotNil(t, New("debug"))
	require.NotNil(t, New("warn"))
	require.NotNil(t, New("nonsense"), "unknown levels fall back to info instead of failing")
}

func TestLogger_FieldsInOutput(t *testing.T) {
	logger, buf := bufferedLogger(logrus.DebugLevel)

	logger.Info("Pipe bound", "pipe", "echo", "valves", 2)

	out := buf.String()
	assert.Contains(t, out, "Pipe bound")
	assert.Contains(t, out, "pipe=echo")
	assert.Contains(t, out, "valves=2")
}

func TestLogger_LevelFiltering(t *testing.T) {
	logger, buf := bufferedLogger(logrus.WarnLevel)

	logger.Debug("hidden")
	logger.Info("also hidden")
	logger.Warn("visible")
	logger.Error("very visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "very visible")
}

func TestLogger_WithCarriesFields(t *testing.T) {
	logger, buf := bufferedLogger(logrus.InfoLevel)

	scoped := logger.With("pipe", "openai")
	scoped.Info("Request sent", "model", "gpt-4")

	out := buf.String()
	assert.Contains(t, out, "pipe=openai")
	assert.Contains(t, out, "model=gpt-4")

	// The parent logger is unchanged
	buf.Reset()
	logger.Info("plain")
	assert.NotContains(t, buf.String(), "pipe=openai")
}

func TestNamed(t *testing.T) {
	logger, buf := bufferedLogger(logrus.InfoLevel)

	Named(logger, "registry").Info("ready")

	assert.Contains(t, buf.String(), "component=registry")
}

func TestFields_MalformedArgs(t *testing.T) {
	f := fields([]interface{}{"key", "value", 42, "dropped", "dangling"})

	assert.Equal(t, logrus.Fields{"key": "value"}, f)
}
